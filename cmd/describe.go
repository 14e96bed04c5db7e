package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/kamusis/cc-attack/internal/config"
	"github.com/kamusis/cc-attack/internal/enum"
)

var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Show how many candidates the brute force will enumerate",
	Long: `Print the number of cruel-part candidates per Hamming weight for the
configured bf_dim, min_bf_hw, max_bf_hw and secret_type. Use it to choose
bf_dim before starting a long attack.

Example:
  cc-attack describe --bf-dim 40 --min-bf-hw 1 --max-bf-hw 4 --secret-type ternary`,
	Args: cobra.NoArgs,
	RunE: runDescribe,
}

func init() {
	addOptionFlags(describeCmd)
	rootCmd.AddCommand(describeCmd)
}

func runDescribe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("cannot load config: %w", err)
	}
	return describe(os.Stdout, cfg)
}

func describe(w io.Writer, cfg *config.Config) error {
	alphabet := alphabetOf(cfg)
	space, err := enum.NewSpace(enum.Params{Dim: cfg.BFDim, MinHW: cfg.MinBFHW, MaxHW: cfg.MaxBFHW, Alphabet: alphabet})
	if err != nil {
		return err
	}

	p := message.NewPrinter(language.English)
	p.Fprintf(w, "bf_dim=%d, weights %d..%d, %s alphabet\n", cfg.BFDim, cfg.MinBFHW, cfg.MaxBFHW, alphabet)
	for _, wc := range space.Weights() {
		p.Fprintf(w, "  weight %2d: %16d candidates (from index %d)\n", wc.Weight, wc.Count, wc.Offset)
	}
	p.Fprintf(w, "  total    : %16d candidates\n", space.Total())
	rounds := (space.Total() + cfg.CheckpointEvery - 1) / cfg.CheckpointEvery
	p.Fprintf(w, "  %d checkpoint rounds of %d candidates over %d workers\n", rounds, cfg.CheckpointEvery, cfg.Workers)
	return nil
}
