package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kamusis/cc-attack/internal/report"
)

var flagReportOut string

var reportCmd = &cobra.Command{
	Use:   "report <report.json>",
	Short: "Summarize a finished run and render its chart",
	Long: `Read a report.json written by 'cc-attack attack', print its summary and
render the HTML chart next to it (or to --out).

Example:
  cc-attack report cc_logs/cc_n32_test/report.json`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVarP(&flagReportOut, "out", "o", "", "HTML output path (default: report.html next to the input)")
	rootCmd.AddCommand(reportCmd)
}

func runReport(_ *cobra.Command, args []string) error {
	r, err := report.Load(args[0])
	if err != nil {
		return err
	}

	printSection("Report " + r.Experiment)
	p := r.Params
	printInfo("", fmt.Sprintf("n=%d q=%d bf_dim=%d hw %d..%d %s, generated %s",
		p.N, p.Q, p.BFDim, p.MinBFHW, p.MaxBFHW, p.SecretType, r.GeneratedAt.Format("2006-01-02 15:04:05")))
	res := r.Result
	printInfo("", fmt.Sprintf("state %s, %d/%d candidates", res.State, res.Processed, res.Total))
	s := r.Summary
	printInfo("", fmt.Sprintf("scores: best %.6f, median %.6f, std %.6f, gap %.2fσ", s.Max, s.Median, s.StdDev, s.Gap))
	if res.Best != nil {
		printOK("best", res.Best.Candidate.String())
	} else {
		printMiss("best", "no candidate")
	}
	if v := res.Verification; v != nil {
		if v.FullMatch {
			printOK("", "verified against secret")
		} else {
			printWarn("", "does not match secret")
		}
	} else {
		printSkip("", "no secret_file, verification skipped")
	}

	out := flagReportOut
	if out == "" {
		out = filepath.Join(filepath.Dir(args[0]), report.HTMLName)
	}
	if err := report.WriteHTML(out, r); err != nil {
		return err
	}
	printOK("", fmt.Sprintf("chart written to %s", out))
	return nil
}
