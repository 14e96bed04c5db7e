package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kamusis/cc-attack/internal/checkpoint"
	"github.com/kamusis/cc-attack/internal/report"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the progress of every experiment under dump_path",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	addOptionFlags(statusCmd)
	rootCmd.AddCommand(statusCmd)
}

// runState is one experiment directory as seen by status.
type runState struct {
	name   string
	cp     *checkpoint.Checkpoint
	report bool
	err    error
}

// Status groups, in display order.
const (
	groupComplete  = "complete"
	groupResumable = "resumable"
	groupFailed    = "failed"
	groupBroken    = "broken"
)

// group classifies a run. A run with failed ranges is never complete, even
// when nothing is left to schedule.
func (r runState) group() string {
	switch {
	case r.err != nil:
		return groupBroken
	case r.cp == nil || r.cp.Complete():
		return groupComplete
	case len(r.cp.Failed) > 0:
		return groupFailed
	default:
		return groupResumable
	}
}

func scanRuns(dumpPath string) ([]runState, error) {
	entries, err := os.ReadDir(dumpPath)
	if err != nil {
		return nil, err
	}
	var runs []runState
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(dumpPath, e.Name())
		rs := runState{name: e.Name()}
		if _, err := os.Stat(filepath.Join(dir, report.FileName)); err == nil {
			rs.report = true
		}
		cp, err := checkpoint.Load(filepath.Join(dir, checkpoint.FileName))
		switch {
		case errors.Is(err, checkpoint.ErrNotFound):
			if !rs.report {
				continue
			}
		case err != nil:
			rs.err = err
		default:
			rs.cp = cp
		}
		runs = append(runs, rs)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].name < runs[j].name })
	return runs, nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("cannot load config: %w\nRun 'cc-attack init' first.", err)
	}

	fmt.Printf("=== Experiments in %s ===\n", cfg.DumpPath)
	runs, err := scanRuns(cfg.DumpPath)
	if errors.Is(err, os.ErrNotExist) {
		printMiss("", "dump_path does not exist yet")
		return nil
	}
	if err != nil {
		return err
	}

	var done, running, failed, broken []string
	for _, r := range runs {
		marker := ""
		if r.name == cfg.ExpName {
			marker = "  (current config)"
		}
		switch r.group() {
		case groupBroken:
			broken = append(broken, fmt.Sprintf("  ✗  [%s] %v%s", r.name, r.err, marker))
		case groupComplete:
			line := fmt.Sprintf("  ✓  [%s]", r.name)
			if r.report {
				line += " report.json"
			}
			done = append(done, line+marker)
		case groupFailed:
			failed = append(failed, fmt.Sprintf("  !  [%s] %d failed ranges, %s%s", r.name, len(r.cp.Failed), progress(r.cp), marker))
		default:
			running = append(running, fmt.Sprintf("  -  [%s] %s%s", r.name, progress(r.cp), marker))
		}
	}

	if len(done) > 0 {
		fmt.Println("\n● Complete:")
		for _, s := range done {
			fmt.Println(s)
		}
	}
	if len(running) > 0 {
		fmt.Println("\n● Resumable:")
		for _, s := range running {
			fmt.Println(s)
		}
	}
	if len(failed) > 0 {
		fmt.Println("\n● Resumable with failed ranges (retried on resume):")
		for _, s := range failed {
			fmt.Println(s)
		}
	}
	if len(broken) > 0 {
		fmt.Println("\n● Unreadable checkpoints:")
		for _, s := range broken {
			fmt.Println(s)
		}
	}

	fmt.Printf("\n  %d complete / %d resumable / %d with failures / %d unreadable  (total: %d experiments)\n",
		len(done), len(running), len(failed), len(broken), len(runs))
	return nil
}

func progress(cp *checkpoint.Checkpoint) string {
	pct := 0.0
	if cp.Total > 0 {
		pct = 100 * float64(cp.Processed) / float64(cp.Total)
	}
	best := "no candidate yet"
	if len(cp.Top) > 0 {
		best = fmt.Sprintf("best %.4f", cp.Top[0].Score)
	}
	return fmt.Sprintf("%s %d/%d (%.1f%%), %s", progressBar(cp.Processed, cp.Total, 10), cp.Processed, cp.Total, pct, best)
}
