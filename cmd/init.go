package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kamusis/cc-attack/internal/config"
	"github.com/kamusis/cc-attack/internal/samples"
)

// defaultDotEnv is written into ~/.cc-attack/.env on first init.
const defaultDotEnv = `# CC_<OPTION>=value overrides cc.yaml; real environment variables win.
# CC_WORKERS=8
# CC_DUMP_PATH=~/cc_logs
`

var initCmd = &cobra.Command{
	Use:   "init [cc.yaml]",
	Short: "Write a starter configuration",
	Long: `Write a cc.yaml with default options (or the given option flags) and
create ~/.cc-attack/.env for per-machine overrides.

Example:
  cc-attack init
  cc-attack init experiments/n64.yaml --n 64 --q 3329 --bf-dim 24
  cc-attack init -c base.yaml experiments/variant.yaml --seed 7`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

var flagInitForce bool

func init() {
	addOptionFlags(initCmd)
	initCmd.Flags().BoolVar(&flagInitForce, "force", false, "Overwrite an existing file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	// ── 1. Resolve ~/.cc-attack directory ────────────────────────────────────
	home, err := config.HomeDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(home, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", home, err)
	}
	printOK("", fmt.Sprintf("Home directory ready: %s", home))

	// ── 2. Write .env if missing ─────────────────────────────────────────────
	envPath, err := config.DotEnvPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		if err := os.WriteFile(envPath, []byte(defaultDotEnv), 0o600); err != nil {
			return fmt.Errorf("cannot write %s: %w", envPath, err)
		}
		printOK("", fmt.Sprintf("Overrides file written: %s", envPath))
	} else {
		printSkip("", fmt.Sprintf("Overrides file already exists: %s", envPath))
	}

	// ── 3. Write cc.yaml ─────────────────────────────────────────────────────
	target := "cc.yaml"
	if len(args) == 1 {
		target = args[0]
	}
	if _, err := os.Stat(target); err == nil && !flagInitForce {
		printSkip("", fmt.Sprintf("Config already exists: %s (use --force to overwrite)", target))
		return nil
	}
	// Only the file and explicit flags are persisted. Environment overrides
	// stay per-machine and ~ stays unexpanded.
	cfg, err := config.ReadFile(flagConfig)
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if dir := filepath.Dir(target); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cannot create %s: %w", dir, err)
		}
	}
	if err := config.Save(target, cfg); err != nil {
		return err
	}
	printOK("", fmt.Sprintf("Config written: %s", target))

	aName, bName := samples.FileNames(cfg.N, cfg.LogQ())
	printInfo("", fmt.Sprintf("place %s and %s under %s, then run 'cc-attack doctor -c %s'", aName, bName, cfg.Path, target))
	return nil
}
