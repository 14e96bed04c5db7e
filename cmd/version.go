package cmd

import (
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/kamusis/cc-attack/internal/enum"
	"github.com/kamusis/cc-attack/internal/score"
)

// Set with -ldflags "-X github.com/kamusis/cc-attack/cmd.version=...".
var (
	version   = "dev"
	commit    = ""
	buildDate = ""
)

var flagVersionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show cc-attack version and build information",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func init() {
	versionCmd.Flags().BoolVar(&flagVersionJSON, "json", false, "Print as JSON")
	rootCmd.AddCommand(versionCmd)
}

type buildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	Go        string `json:"go"`
	Platform  string `json:"platform"`
	Unroll    int    `json:"scorer_unroll"`
	MaxBFDim  int    `json:"max_bf_dim"`
}

// currentBuild fills commit and date from the embedded VCS stamp when the
// linker flags were not set.
func currentBuild() buildInfo {
	b := buildInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		Go:        runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Unroll:    score.NewCompiled().Unroll(),
		MaxBFDim:  enum.MaxDim,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch {
			case s.Key == "vcs.revision" && b.Commit == "":
				b.Commit = s.Value
			case s.Key == "vcs.time" && b.BuildDate == "":
				b.BuildDate = s.Value
			}
		}
	}
	return b
}

func runVersion(_ *cobra.Command, _ []string) error {
	b := currentBuild()
	if flagVersionJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(b)
	}
	fmt.Fprintf(stdout, "Version:    %s\n", b.Version)
	fmt.Fprintf(stdout, "Commit:     %s\n", emptyAsNA(b.Commit))
	fmt.Fprintf(stdout, "Build Date: %s\n", emptyAsNA(b.BuildDate))
	fmt.Fprintf(stdout, "Go Version: %s\n", b.Go)
	fmt.Fprintf(stdout, "OS/Arch:    %s\n", b.Platform)
	fmt.Fprintf(stdout, "Scorer:     compiled backend, unroll %d\n", b.Unroll)
	fmt.Fprintf(stdout, "Max bf_dim: %d\n", b.MaxBFDim)
	return nil
}

func emptyAsNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}
