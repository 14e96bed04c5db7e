package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/kamusis/cc-attack/internal/checkpoint"
)

var flagInspectTop int

var inspectCmd = &cobra.Command{
	Use:     "inspect <checkpoint | run-dir>",
	Aliases: []string{"checkpoint"},
	Short:   "Show the content of a checkpoint",
	Long: `Decode a checkpoint and print its fingerprint, progress and kept candidates.

The argument is either a checkpoint file or a run directory
(dump_path/exp_name) containing checkpoint.ckpt.

Example:
  cc-attack inspect cc_logs/cc_n32_test
  cc-attack checkpoint cc_logs/cc_n32_test/checkpoint.ckpt --top 10`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().IntVar(&flagInspectTop, "top", 5, "Number of kept candidates to print (0 = all)")
	rootCmd.AddCommand(inspectCmd)
}

// resolveCheckpoint accepts a run directory or a checkpoint file.
func resolveCheckpoint(arg string) string {
	if info, err := os.Stat(arg); err == nil && info.IsDir() {
		return filepath.Join(arg, checkpoint.FileName)
	}
	return arg
}

func runInspect(_ *cobra.Command, args []string) error {
	path := resolveCheckpoint(args[0])
	cp, err := checkpoint.Load(path)
	if err != nil {
		return err
	}

	printSection("Checkpoint")
	printInfo("", path)
	fp := cp.Fingerprint
	printInfo("fingerprint", fmt.Sprintf("n=%d q=%d bf_dim=%d hw %d..%d %s", fp.N, fp.Q, fp.BFDim, fp.MinHW, fp.MaxHW, fp.Alphabet))
	printInfo("samples", fp.Samples)
	if fp.Artifact != "" {
		printInfo("artifact", fp.Artifact)
	} else {
		printSkip("artifact", "none")
	}

	printBullet("Progress")
	pct := 0.0
	if cp.Total > 0 {
		pct = 100 * float64(cp.Processed) / float64(cp.Total)
	}
	printInfo("", fmt.Sprintf("%s %d/%d candidates (%.2f%%), cursor %d, %d samples",
		progressBar(cp.Processed, cp.Total, 20), cp.Processed, cp.Total, pct, cp.Cursor, cp.Consumed))
	printInfo("", fmt.Sprintf("created %s, updated %s", cp.CreatedAt.Format(time.RFC3339), cp.UpdatedAt.Format(time.RFC3339)))
	switch {
	case cp.Complete():
		printOK("", "search complete")
	case cp.Done():
		printWarn("", fmt.Sprintf("search finished with %d failed ranges; run attack again to retry them", len(cp.Failed)))
	default:
		for _, r := range cp.Remaining {
			printInfo("remaining", fmt.Sprintf("[%d, %d)", r.Lo, r.Hi))
		}
	}
	for _, r := range cp.Failed {
		printWarn("failed", fmt.Sprintf("[%d, %d)", r.Lo, r.Hi))
	}

	printBullet("Kept candidates")
	if len(cp.Top) == 0 {
		printMiss("", "none yet")
	}
	for i, e := range cp.Top {
		if flagInspectTop > 0 && i >= flagInspectTop {
			printInfo("", fmt.Sprintf("... %d more", len(cp.Top)-i))
			break
		}
		printOK(fmt.Sprintf("#%d", i+1), fmt.Sprintf("%s score %.6f (index %d)", e.Candidate, e.Score, e.Candidate.Index))
	}
	return nil
}
