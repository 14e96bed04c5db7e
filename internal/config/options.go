package config

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

type setter func(c *Config, v string) error

func intOpt(dst func(*Config) *int) setter {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("not an integer: %q", v)
		}
		*dst(c) = n
		return nil
	}
}

func strOpt(dst func(*Config) *string) setter {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func durOpt(dst func(*Config) *time.Duration) setter {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("not a duration: %q", v)
		}
		*dst(c) = d
		return nil
	}
}

var options = map[string]setter{
	"path":        strOpt(func(c *Config) *string { return &c.Path }),
	"exp_name":    strOpt(func(c *Config) *string { return &c.ExpName }),
	"dump_path":   strOpt(func(c *Config) *string { return &c.DumpPath }),
	"a_file":      strOpt(func(c *Config) *string { return &c.AFile }),
	"b_file":      strOpt(func(c *Config) *string { return &c.BFile }),
	"artifact":    strOpt(func(c *Config) *string { return &c.Artifact }),
	"secret_file": strOpt(func(c *Config) *string { return &c.SecretFile }),
	"compression": strOpt(func(c *Config) *string { return &c.Compression }),

	"n":               intOpt(func(c *Config) *int { return &c.N }),
	"bf_dim":          intOpt(func(c *Config) *int { return &c.BFDim }),
	"min_bf_hw":       intOpt(func(c *Config) *int { return &c.MinBFHW }),
	"max_bf_hw":       intOpt(func(c *Config) *int { return &c.MaxBFHW }),
	"full_hw":         intOpt(func(c *Config) *int { return &c.FullHW }),
	"greedy_max_data": intOpt(func(c *Config) *int { return &c.GreedyMaxData }),
	"batch_size":      intOpt(func(c *Config) *int { return &c.BatchSize }),
	"secret_window":   intOpt(func(c *Config) *int { return &c.SecretWindow }),
	"mlwe_k":          intOpt(func(c *Config) *int { return &c.MLWEK }),
	"compile_bf":      intOpt(func(c *Config) *int { return &c.CompileBF }),
	"keep_n_tops":     intOpt(func(c *Config) *int { return &c.KeepNTops }),
	"workers":         intOpt(func(c *Config) *int { return &c.Workers }),

	"checkpoint_interval": durOpt(func(c *Config) *time.Duration { return &c.CheckpointInterval }),
	"timeout":             durOpt(func(c *Config) *time.Duration { return &c.Timeout }),

	"q": func(c *Config, v string) error {
		q, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("not an unsigned integer: %q", v)
		}
		c.Q = q
		return nil
	},
	"secret_type": func(c *Config, v string) error {
		c.SecretType = SecretType(v)
		return nil
	},
	"seed": func(c *Config, v string) error {
		s, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("not an integer: %q", v)
		}
		c.Seed = s
		return nil
	},
	"checkpoint_every": func(c *Config, v string) error {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("not an unsigned integer: %q", v)
		}
		c.CheckpointEvery = n
		return nil
	},
	"force_fresh": func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("not a boolean: %q", v)
		}
		c.ForceFresh = b
		return nil
	},
	"memory_limit": func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("not an integer: %q", v)
		}
		c.MemoryLimit = n
		return nil
	},
}

// OptionNames returns the recognized option keys in sorted order.
func OptionNames() []string {
	out := make([]string, 0, len(options))
	for k := range options {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Set assigns one option from its textual form. Unknown keys and unparsable
// values are configuration errors; relations are checked later by Validate.
func (c *Config) Set(key, value string) error {
	s, ok := options[key]
	if !ok {
		return invalid(key, "unknown option")
	}
	if err := s(c, value); err != nil {
		return invalid(key, "%v", err)
	}
	return nil
}
