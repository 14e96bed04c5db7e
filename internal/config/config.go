package config

import (
	"bytes"
	"errors"
	"fmt"
	"math/bits"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SecretType names the alphabet the secret coefficients are drawn from.
type SecretType string

const (
	SecretBinary  SecretType = "binary"
	SecretTernary SecretType = "ternary"
)

// Config is the in-memory representation of an attack configuration (cc.yaml).
//
// A Config is validated once by Load/Validate and must be treated as read-only
// afterwards; components receive it by pointer and never mutate it.
type Config struct {
	Path       string `yaml:"path"`
	ExpName    string `yaml:"exp_name"`
	DumpPath   string `yaml:"dump_path"`
	AFile      string `yaml:"a_file,omitempty"`
	BFile      string `yaml:"b_file,omitempty"`
	Artifact   string `yaml:"artifact,omitempty"`
	SecretFile string `yaml:"secret_file,omitempty"`

	N int    `yaml:"n"`
	Q uint64 `yaml:"q"`

	BFDim         int        `yaml:"bf_dim"`
	MinBFHW       int        `yaml:"min_bf_hw"`
	MaxBFHW       int        `yaml:"max_bf_hw"`
	SecretType    SecretType `yaml:"secret_type"`
	FullHW        int        `yaml:"full_hw"`
	GreedyMaxData int        `yaml:"greedy_max_data"`
	BatchSize     int        `yaml:"batch_size"`
	SecretWindow  int        `yaml:"secret_window"`
	MLWEK         int        `yaml:"mlwe_k"`
	CompileBF     int        `yaml:"compile_bf"`
	KeepNTops     int        `yaml:"keep_n_tops"`
	Seed          int64      `yaml:"seed"`

	Workers            int           `yaml:"workers"`
	CheckpointEvery    uint64        `yaml:"checkpoint_every"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
	Timeout            time.Duration `yaml:"timeout,omitempty"`
	Compression        string        `yaml:"compression"`
	ForceFresh         bool          `yaml:"force_fresh,omitempty"`
	MemoryLimit        int64         `yaml:"memory_limit,omitempty"`
}

// ErrInvalid is matched by every configuration validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Error reports an invalid or inconsistent option.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *Error) Is(target error) bool { return target == ErrInvalid }

func invalid(field, format string, args ...any) error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// HomeDir returns the absolute path to ~/.cc-attack/.
func HomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".cc-attack"), nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot expand ~: %w", err)
	}
	return filepath.Join(home, p[1:]), nil
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Path:               "data/n32_logq7/binary_secrets_h3_4/",
		ExpName:            "cc_n32_test",
		DumpPath:           "./cc_logs",
		N:                  32,
		Q:                  113,
		BFDim:              32,
		MinBFHW:            1,
		MaxBFHW:            3,
		SecretType:         SecretBinary,
		FullHW:             3,
		GreedyMaxData:      100000,
		BatchSize:          10000,
		SecretWindow:       40,
		MLWEK:              1,
		CompileBF:          0,
		KeepNTops:          1,
		Seed:               0,
		Workers:            runtime.NumCPU(),
		CheckpointEvery:    100000,
		CheckpointInterval: 5 * time.Minute,
		Compression:        "zstd",
	}
}

// Load reads a yaml configuration file on top of DefaultConfig, applies
// CC_* environment overrides and validates the result. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for callers that apply further overrides
// (command-line flags) before validating.
func Read(path string) (*Config, error) {
	cfg, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadFile decodes path on top of DefaultConfig and nothing else: no
// environment overrides, no ~ expansion. It is what gets written back to disk.
func ReadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, &Error{Field: path, Reason: fmt.Sprintf("invalid YAML: %v", err)}
	}
	return cfg, nil
}

// Save marshals cfg and writes it to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write config %s: %w", path, err)
	}
	return nil
}

// ExpandPaths expands ~ in every path option.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{&c.Path, &c.DumpPath, &c.AFile, &c.BFile, &c.Artifact, &c.SecretFile} {
		v, err := ExpandPath(*p)
		if err != nil {
			return err
		}
		*p = v
	}
	return nil
}

// Validate checks every option and the relations between them.
func (c *Config) Validate() error {
	switch {
	case c.N <= 0:
		return invalid("n", "must be positive, got %d", c.N)
	case c.Q < 2:
		return invalid("q", "must be at least 2, got %d", c.Q)
	case c.Q > 1<<62:
		return invalid("q", "must be below 2^62, got %d", c.Q)
	case c.BFDim <= 0 || c.BFDim > 64:
		return invalid("bf_dim", "must be in [1, 64], got %d", c.BFDim)
	case c.MinBFHW < 0:
		return invalid("min_bf_hw", "must not be negative, got %d", c.MinBFHW)
	case c.MinBFHW > c.MaxBFHW:
		return invalid("min_bf_hw", "%d exceeds max_bf_hw %d", c.MinBFHW, c.MaxBFHW)
	case c.MaxBFHW > c.BFDim:
		return invalid("max_bf_hw", "%d exceeds bf_dim %d", c.MaxBFHW, c.BFDim)
	case c.BFDim > c.SecretWindow:
		return invalid("bf_dim", "%d exceeds secret_window %d", c.BFDim, c.SecretWindow)
	case c.BFDim > c.N:
		return invalid("bf_dim", "%d exceeds sample dimension n=%d", c.BFDim, c.N)
	case c.SecretType != SecretBinary && c.SecretType != SecretTernary:
		return invalid("secret_type", "must be binary or ternary, got %q", c.SecretType)
	case c.FullHW < 0:
		return invalid("full_hw", "must not be negative, got %d", c.FullHW)
	case c.FullHW > 0 && c.MaxBFHW > c.FullHW:
		return invalid("max_bf_hw", "%d exceeds full_hw %d", c.MaxBFHW, c.FullHW)
	case c.BatchSize <= 0:
		return invalid("batch_size", "must be positive, got %d", c.BatchSize)
	case c.BatchSize > c.GreedyMaxData:
		return invalid("batch_size", "%d exceeds greedy_max_data %d", c.BatchSize, c.GreedyMaxData)
	case c.MLWEK <= 0:
		return invalid("mlwe_k", "must be positive, got %d", c.MLWEK)
	case c.N%c.MLWEK != 0:
		return invalid("mlwe_k", "n=%d is not a multiple of %d", c.N, c.MLWEK)
	case c.CompileBF != 0 && c.CompileBF != 1:
		return invalid("compile_bf", "must be 0 or 1, got %d", c.CompileBF)
	case c.KeepNTops <= 0:
		return invalid("keep_n_tops", "must be positive, got %d", c.KeepNTops)
	case c.Workers <= 0:
		return invalid("workers", "must be positive, got %d", c.Workers)
	case c.CheckpointEvery == 0:
		return invalid("checkpoint_every", "must be positive")
	case c.CheckpointInterval < 0:
		return invalid("checkpoint_interval", "must not be negative, got %s", c.CheckpointInterval)
	case c.Timeout < 0:
		return invalid("timeout", "must not be negative, got %s", c.Timeout)
	case c.MemoryLimit < 0:
		return invalid("memory_limit", "must not be negative, got %d", c.MemoryLimit)
	}
	switch c.Compression {
	case "zstd", "lz4", "none":
	default:
		return invalid("compression", "must be zstd, lz4 or none, got %q", c.Compression)
	}
	return nil
}

// AlphabetSize returns 1 for binary secrets and 2 for ternary secrets: the
// number of nonzero values a coordinate can take.
func (c *Config) AlphabetSize() int {
	if c.SecretType == SecretTernary {
		return 2
	}
	return 1
}

// LogQ returns ceil(log2 q), the exponent used in sample file names.
func (c *Config) LogQ() int {
	return bits.Len64(c.Q - 1)
}

// Window returns the number of secret coordinates that can be reconstructed
// from the samples: secret_window clamped to n.
func (c *Config) Window() int {
	if c.SecretWindow < c.N {
		return c.SecretWindow
	}
	return c.N
}

// RunDir returns dump_path/exp_name, where checkpoints and reports live.
func (c *Config) RunDir() string {
	return filepath.Join(c.DumpPath, c.ExpName)
}
