package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment override, e.g. CC_BF_DIM.
const EnvPrefix = "CC_"

// Sources of an environment override.
const (
	SourceEnv    = "env"
	SourceDotEnv = ".env"
)

// DotEnvPath returns the absolute path to the dotenv file (~/.cc-attack/.env).
func DotEnvPath() (string, error) {
	dir, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ".env"), nil
}

// LoadDotEnv reads ~/.cc-attack/.env. A missing file yields an empty map.
func LoadDotEnv() (map[string]string, error) {
	p, err := DotEnvPath()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("cannot open dotenv file %s: %w", p, err)
	}
	defer f.Close()

	m, err := parseDotEnv(f)
	if err != nil {
		return nil, fmt.Errorf("cannot read dotenv file %s: %w", p, err)
	}
	return m, nil
}

// parseDotEnv accepts KEY=VALUE lines with an optional "export " prefix.
// Blank lines, comments and lines without a key are skipped. Double-quoted
// values are unquoted with Go escape rules, single-quoted ones taken literally.
func parseDotEnv(r io.Reader) (map[string]string, error) {
	out := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}
		v = strings.TrimSpace(v)
		switch {
		case len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"':
			if u, err := strconv.Unquote(v); err == nil {
				v = u
			}
		case len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'':
			v = v[1 : len(v)-1]
		}
		out[k] = v
	}
	return out, scanner.Err()
}

// Override is one option taken from CC_<OPTION>.
type Override struct {
	Option string
	Var    string
	Value  string
	Source string
}

// EnvOverrides lists the options set by the process environment or, failing
// that, ~/.cc-attack/.env, in option-name order.
func EnvOverrides() ([]Override, error) {
	dotenv, err := LoadDotEnv()
	if err != nil {
		return nil, err
	}
	var out []Override
	for _, key := range OptionNames() {
		name := EnvPrefix + strings.ToUpper(key)
		if v := os.Getenv(name); v != "" {
			out = append(out, Override{Option: key, Var: name, Value: v, Source: SourceEnv})
		} else if v := dotenv[name]; v != "" {
			out = append(out, Override{Option: key, Var: name, Value: v, Source: SourceDotEnv})
		}
	}
	return out, nil
}

// ApplyEnv applies EnvOverrides to cfg.
func ApplyEnv(cfg *Config) error {
	ovs, err := EnvOverrides()
	if err != nil {
		return err
	}
	for _, o := range ovs {
		if err := cfg.Set(o.Option, o.Value); err != nil {
			return fmt.Errorf("%s (%s): %w", o.Var, o.Source, err)
		}
	}
	return nil
}
