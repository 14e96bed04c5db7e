package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kamusis/cc-attack/internal/config"
	"github.com/kamusis/cc-attack/internal/logging"
)

var (
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:          "cc-attack",
	Short:        "cc-attack: Cool-and-Cruel secret recovery for LWE samples",
	SilenceUsage: true, // don't print usage on operational errors
	Long: `cc-attack recovers sparse LWE/RLWE/MLWE secrets from reduced samples.
It brute-forces low-weight guesses on the first bf_dim ("cruel") coordinates,
scores every guess against the samples, and grows the best one greedily over
the reduced ("cool") coordinates.

Options come from a yaml file (--config), then CC_<OPTION> environment
variables or ~/.cc-attack/.env, then command-line flags.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Path to cc.yaml")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format: text or json")
}

// Execute is called by main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger builds the process logger from the persistent flags.
func newLogger() *logging.Logger {
	return logging.NewWriter(os.Stderr, flagLogFormat, flagLogLevel)
}

// optionFlag maps an option key such as bf_dim to its flag name bf-dim.
func optionFlag(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// addOptionFlags registers one string flag per configuration option.
func addOptionFlags(cmd *cobra.Command) {
	for _, key := range config.OptionNames() {
		cmd.Flags().String(optionFlag(key), "", fmt.Sprintf("Override option %s", key))
	}
}

// loadConfig reads --config, applies environment and explicit option flags,
// and validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Read(flagConfig)
	if err != nil {
		return nil, err
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}
	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFlags sets every option flag given on the command line.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	for _, key := range config.OptionNames() {
		f := cmd.Flags().Lookup(optionFlag(key))
		if f == nil || !f.Changed {
			continue
		}
		if err := cfg.Set(key, f.Value.String()); err != nil {
			return fmt.Errorf("--%s: %w", f.Name, err)
		}
	}
	return nil
}
