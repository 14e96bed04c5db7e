package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Line icons shared by every command:
//
//	✓ success   ✗ failure (stderr)   ⚠ warning
//	○ skipped   - missing            ~ info
const (
	iconOK   = "✓"
	iconErr  = "✗"
	iconWarn = "⚠"
	iconSkip = "○"
	iconMiss = "-"
	iconInfo = "~"
)

// Swapped by tests to capture output.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// emit writes "  <icon>  msg" or "  <icon>  [name] msg".
func emit(w io.Writer, icon, name, msg string) {
	if name == "" {
		fmt.Fprintf(w, "  %s  %s\n", icon, msg)
		return
	}
	fmt.Fprintf(w, "  %s  [%s] %s\n", icon, name, msg)
}

// printSection prints a top-level header, e.g. "=== Attack ===".
func printSection(title string) {
	fmt.Fprintf(stdout, "\n=== %s ===\n", title)
}

// printBullet prints a group header, e.g. "● Ranking".
func printBullet(title string) {
	fmt.Fprintf(stdout, "\n● %s\n", title)
}

func printOK(name, msg string)   { emit(stdout, iconOK, name, msg) }
func printErr(name, msg string)  { emit(stderr, iconErr, name, msg) }
func printWarn(name, msg string) { emit(stdout, iconWarn, name, msg) }
func printSkip(name, msg string) { emit(stdout, iconSkip, name, msg) }
func printMiss(name, msg string) { emit(stdout, iconMiss, name, msg) }
func printInfo(name, msg string) { emit(stdout, iconInfo, name, msg) }

// progressBar renders done/total as a fixed-width bar, e.g. "[#####.....]".
func progressBar(done, total uint64, width int) string {
	filled := width
	if total > 0 && done < total {
		filled = int(float64(width) * float64(done) / float64(total))
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}
