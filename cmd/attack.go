package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kamusis/cc-attack/internal/attack"
	"github.com/kamusis/cc-attack/internal/config"
	"github.com/kamusis/cc-attack/internal/report"
)

var flagNoHTML bool

var attackCmd = &cobra.Command{
	Use:   "attack",
	Short: "Run the Cool-and-Cruel attack",
	Long: `Run the attack described by --config, CC_* variables and option flags.

Progress is checkpointed under dump_path/exp_name. Interrupting the run
(Ctrl-C) saves a final checkpoint; running the same command again resumes
from it. Use --force-fresh=true to discard an existing checkpoint.

Example:
  cc-attack attack -c cc.yaml
  cc-attack attack -c cc.yaml --bf-dim 24 --max-bf-hw 3 --workers 8`,
	Args: cobra.NoArgs,
	RunE: runAttack,
}

func init() {
	addOptionFlags(attackCmd)
	attackCmd.Flags().BoolVar(&flagNoHTML, "no-html", false, "Do not render report.html")
	rootCmd.AddCommand(attackCmd)
}

func runAttack(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("cannot load config: %w", err)
	}
	log := newLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := attack.New(cfg, log)
	if err != nil {
		return err
	}

	printSection("Attack")
	printInfo("", fmt.Sprintf("experiment %s, n=%d, q=%d, bf_dim=%d, hw %d..%d (%s)",
		cfg.ExpName, cfg.N, cfg.Q, cfg.BFDim, cfg.MinBFHW, cfg.MaxBFHW, cfg.SecretType))

	res, runErr := c.Run(ctx)
	if res == nil {
		return runErr
	}
	printResult(cfg, res)

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			printWarn("", fmt.Sprintf("stopped early; resume with the same command (checkpoint %s)", res.Checkpoint))
		}
		return runErr
	}
	return writeReport(cfg, res)
}

func printResult(cfg *config.Config, res *attack.Result) {
	printBullet("Search")
	printInfo("", fmt.Sprintf("state %s, %d/%d candidates, %d samples in %d batches, %s scorer",
		res.State, res.Processed, res.Total, res.Consumed, res.Batches, res.Scorer))
	if res.Resumed {
		printInfo("", "resumed from checkpoint")
	}
	if res.Skipped > 0 {
		printWarn("", fmt.Sprintf("%d sample batches skipped, values out of range", res.Skipped))
	}
	for _, r := range res.Failed {
		printWarn("", fmt.Sprintf("range [%d, %d) failed and will be retried on resume", r.Lo, r.Hi))
	}

	printBullet("Ranking")
	if len(res.Ranking) == 0 {
		printMiss("", "no candidate scored")
	}
	for i, e := range res.Ranking {
		printOK(fmt.Sprintf("#%d", i+1), fmt.Sprintf("%s score %.6f", e.Candidate, e.Score))
	}

	if rec := res.Reconstruction; rec != nil {
		printBullet("Reconstruction")
		printInfo("", fmt.Sprintf("support %v over window %d, score %.6f", rec.Support, cfg.Window(), rec.Score))
		for b, block := range rec.Blocks {
			printInfo(fmt.Sprintf("block %d", b), fmt.Sprint(block))
		}
	}
	if v := res.Verification; v != nil {
		printBullet("Verification")
		if v.CruelMatch {
			printOK("", "cruel part matches secret")
		} else {
			printErr("", "cruel part does not match secret")
		}
		if v.FullMatch {
			printOK("", "full secret recovered")
		} else {
			printWarn("", fmt.Sprintf("reconstruction differs at %v", v.Mismatches))
		}
	}
}

func writeReport(cfg *config.Config, res *attack.Result) error {
	r := report.Build(cfg, res)
	path, err := report.Write(cfg.RunDir(), r)
	if err != nil {
		return err
	}
	printOK("", fmt.Sprintf("report written to %s", path))
	if flagNoHTML {
		return nil
	}
	html := filepath.Join(cfg.RunDir(), report.HTMLName)
	if err := report.WriteHTML(html, r); err != nil {
		return err
	}
	printOK("", fmt.Sprintf("chart written to %s", html))
	return nil
}
