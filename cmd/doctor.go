package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sys/cpu"

	"github.com/kamusis/cc-attack/internal/attack"
	"github.com/kamusis/cc-attack/internal/checkpoint"
	"github.com/kamusis/cc-attack/internal/config"
	"github.com/kamusis/cc-attack/internal/enum"
	"github.com/kamusis/cc-attack/internal/samples"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run pre-flight checks for an attack",
	Long: `Check that the configuration is valid, the sample files load, the optional
artifact and secret match, and the run directory is usable. Run this command
before starting a long attack.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	addOptionFlags(doctorCmd)
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	allOK := true
	failD := func(format string, args ...any) {
		printErr("", fmt.Sprintf(format, args...))
		allOK = false
	}

	printSection("cc-attack doctor")
	fmt.Println()

	// ── Check 1: configuration ───────────────────────────────────────────────
	fmt.Println("[ Configuration ]")
	cfg, loadErr := loadConfig(cmd)
	if loadErr != nil {
		failD("%v", loadErr)
		fmt.Println()
		return fmt.Errorf("doctor found issues")
	}
	printOK("", fmt.Sprintf("valid: n=%d q=%d (logq %d), bf_dim=%d, %s", cfg.N, cfg.Q, cfg.LogQ(), cfg.BFDim, cfg.SecretType))
	if ovs, err := config.EnvOverrides(); err == nil {
		for _, o := range ovs {
			printInfo(o.Source, fmt.Sprintf("%s=%s", o.Var, o.Value))
		}
	}
	if cfg.SecretWindow < cfg.N {
		printWarn("", fmt.Sprintf("secret_window %d < n=%d: coordinates past the window are not reconstructed", cfg.SecretWindow, cfg.N))
	}
	fmt.Println()

	// ── Check 2: enumeration space ───────────────────────────────────────────
	fmt.Println("[ Candidates ]")
	total, err := enum.TotalCount(cfg.BFDim, cfg.MinBFHW, cfg.MaxBFHW, alphabetOf(cfg))
	if err != nil {
		failD("%v", err)
	} else {
		printOK("", fmt.Sprintf("%d candidates", total))
	}
	fmt.Println()

	// ── Check 3: samples ─────────────────────────────────────────────────────
	fmt.Println("[ Samples ]")
	var batch *samples.Batch
	if cfg.AFile != "" || cfg.BFile != "" {
		batch, err = samples.LoadFilesUnchecked(cfg.AFile, cfg.BFile, cfg.N, cfg.Q)
	} else {
		batch, err = samples.LoadUnchecked(cfg.Path, cfg.N, cfg.Q)
	}
	switch {
	case errors.Is(err, samples.ErrNotFound):
		aName, bName := samples.FileNames(cfg.N, cfg.LogQ())
		failD("sample files not found: %v (expected %s and %s)", err, aName, bName)
	case err != nil:
		failD("%v", err)
	default:
		printOK("", fmt.Sprintf("%d samples of dimension %d", batch.Rows, batch.N))
		if batch.Rows < cfg.GreedyMaxData {
			printInfo("", fmt.Sprintf("greedy_max_data %d exceeds the %d available samples; all are used", cfg.GreedyMaxData, batch.Rows))
		}
		perm, err := batch.Permute(cfg.Seed)
		if err != nil {
			failD("%v", err)
			break
		}
		batches := perm.Split(cfg.BatchSize, cfg.GreedyMaxData)
		bad := 0
		for i, b := range batches {
			if err := b.Validate(); err != nil {
				printWarn("", fmt.Sprintf("batch %d will be skipped: %v", i, err))
				bad++
			}
		}
		if bad > 0 && bad == len(batches) {
			failD("every sample batch is invalid")
		}
	}
	fmt.Println()

	// ── Check 4: artifact and ground truth ───────────────────────────────────
	fmt.Println("[ Artifact / secret ]")
	if cfg.Artifact == "" {
		printSkip("artifact", "not configured")
	} else if art, err := samples.LoadArtifact(cfg.Artifact, cfg.N, cfg.Q); err != nil {
		failD("[artifact] %v", err)
	} else {
		printOK("artifact", fmt.Sprintf("threshold %s, %d bytes", art.Threshold, len(art.Blob)))
	}
	if cfg.SecretFile == "" {
		printSkip("secret", "not configured, results will not be verified")
	} else if s, err := samples.LoadSecret(cfg.SecretFile, cfg.N); err != nil {
		failD("[secret] %v", err)
	} else {
		hw := 0
		for _, v := range s {
			if v != 0 {
				hw++
			}
		}
		printOK("secret", fmt.Sprintf("Hamming weight %d", hw))
	}
	fmt.Println()

	// ── Check 5: run directory and checkpoint ────────────────────────────────
	fmt.Println("[ Run directory ]")
	runDir := cfg.RunDir()
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		failD("cannot create %s: %v", runDir, err)
	} else {
		printOK("", runDir)
		path := filepath.Join(runDir, checkpoint.FileName)
		codec, _ := checkpoint.ParseCodec(cfg.Compression)
		m, err := checkpoint.Open(path, codec, 0)
		if err != nil {
			failD("%v", err)
		} else {
			cp, err := m.Load()
			switch {
			case errors.Is(err, checkpoint.ErrNotFound):
				printMiss("checkpoint", "none, the attack will start fresh")
			case err != nil:
				failD("[checkpoint] %v", err)
			case cfg.ForceFresh:
				printInfo("checkpoint", "present, will be discarded (force_fresh)")
			default:
				fp, err := attack.Fingerprint(cfg)
				if err == nil {
					err = cp.Validate(fp)
				}
				if err != nil {
					failD("[checkpoint] %v; set force_fresh to discard it", err)
				} else {
					printOK("checkpoint", fmt.Sprintf("resumable at %d/%d candidates", cp.Processed, cp.Total))
				}
			}
			_ = m.Close()
		}
	}
	fmt.Println()

	// ── Check 6: CPU ─────────────────────────────────────────────────────────
	fmt.Println("[ CPU ]")
	switch {
	case cpu.X86.HasAVX2:
		printOK("", "AVX2 available")
	case cpu.ARM64.HasASIMD:
		printOK("", "ASIMD available")
	default:
		printInfo("", "no wide vector unit detected; compile_bf still works")
	}
	fmt.Println()

	// ── Summary ──────────────────────────────────────────────────────────────
	fmt.Println("===================")
	if allOK {
		fmt.Println("✓  All checks passed. Ready to attack.")
	} else {
		fmt.Fprintln(os.Stderr, "✗  One or more checks failed. See details above.")
		return fmt.Errorf("doctor found issues")
	}
	return nil
}

func alphabetOf(cfg *config.Config) enum.Alphabet {
	if cfg.SecretType == config.SecretTernary {
		return enum.Ternary
	}
	return enum.Binary
}
