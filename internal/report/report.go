// Package report turns an attack result into report.json and an HTML chart.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/montanaflynn/stats"

	"github.com/kamusis/cc-attack/internal/attack"
	"github.com/kamusis/cc-attack/internal/config"
)

const (
	// FileName is the report name inside a run directory.
	FileName = "report.json"
	// HTMLName is the chart name inside a run directory.
	HTMLName = "report.html"
)

// Summary describes the scores kept in the ranking.
type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"std"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	P90    float64 `json:"p90"`
	// Gap is how many standard deviations the best score lies above the
	// mean of the others. Zero when fewer than three entries are kept.
	Gap float64 `json:"gap"`
}

// Params echoes the options that define the search.
type Params struct {
	N            int    `json:"n"`
	Q            uint64 `json:"q"`
	BFDim        int    `json:"bf_dim"`
	MinBFHW      int    `json:"min_bf_hw"`
	MaxBFHW      int    `json:"max_bf_hw"`
	SecretType   string `json:"secret_type"`
	FullHW       int    `json:"full_hw"`
	SecretWindow int    `json:"secret_window"`
	MLWEK        int    `json:"mlwe_k"`
	Seed         int64  `json:"seed"`
}

// Report is the content of report.json.
type Report struct {
	Experiment  string         `json:"exp_name"`
	GeneratedAt time.Time      `json:"generated_at"`
	Params      Params         `json:"params"`
	Result      *attack.Result `json:"result"`
	Summary     Summary        `json:"summary"`
}

// Build assembles a report for res.
func Build(cfg *config.Config, res *attack.Result) *Report {
	return &Report{
		Experiment:  cfg.ExpName,
		GeneratedAt: time.Now().UTC(),
		Params: Params{
			N:            cfg.N,
			Q:            cfg.Q,
			BFDim:        cfg.BFDim,
			MinBFHW:      cfg.MinBFHW,
			MaxBFHW:      cfg.MaxBFHW,
			SecretType:   string(cfg.SecretType),
			FullHW:       cfg.FullHW,
			SecretWindow: cfg.SecretWindow,
			MLWEK:        cfg.MLWEK,
			Seed:         cfg.Seed,
		},
		Result:  res,
		Summary: Summarize(scores(res)),
	}
}

func scores(res *attack.Result) []float64 {
	if res == nil {
		return nil
	}
	out := make([]float64, len(res.Ranking))
	for i, e := range res.Ranking {
		out[i] = e.Score
	}
	return out
}

// Summarize computes descriptive statistics of scores given best first.
func Summarize(scores []float64) Summary {
	s := Summary{Count: len(scores)}
	if len(scores) == 0 {
		return s
	}
	data := stats.Float64Data(scores)
	s.Mean, _ = data.Mean()
	s.Median, _ = data.Median()
	s.StdDev, _ = data.StandardDeviation()
	s.Min, _ = data.Min()
	s.Max, _ = data.Max()
	s.P90, _ = data.Percentile(90)

	if len(scores) >= 3 {
		rest := stats.Float64Data(scores[1:])
		mean, _ := rest.Mean()
		sd, _ := rest.StandardDeviation()
		if sd > 0 {
			s.Gap = (scores[0] - mean) / sd
		}
	}
	return s
}

// Write stores r as dir/report.json and returns the path.
func Write(dir string, r *Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("cannot create report dir: %w", err)
	}
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("cannot encode report: %w", err)
	}
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", fmt.Errorf("cannot write report: %w", err)
	}
	return path, nil
}

// Load reads a report.json.
func Load(path string) (*Report, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("cannot parse report %s: %w", path, err)
	}
	if r.Result == nil {
		return nil, errors.New("report has no result")
	}
	return &r, nil
}

// RenderHTML writes a page with the ranking scores and, when present, the
// score after each greedy reconstruction step.
func RenderHTML(w io.Writer, r *Report) error {
	page := components.NewPage()
	page.AddCharts(rankingChart(r))
	if rec := r.Result.Reconstruction; rec != nil && len(rec.Steps) > 0 {
		page.AddCharts(greedyChart(rec.Steps))
	}
	return page.Render(w)
}

// WriteHTML renders r to path.
func WriteHTML(path string, r *Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create chart: %w", err)
	}
	if err := RenderHTML(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("cannot render chart: %w", err)
	}
	return f.Close()
}

func rankingChart(r *Report) *charts.Bar {
	s := r.Summary
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Top candidates",
			Subtitle: fmt.Sprintf("n=%d, mean=%.4f, std=%.4f, gap=%.2fσ", s.Count, s.Mean, s.StdDev, s.Gap),
		}),
		charts.WithInitializationOpts(opts.Initialization{PageTitle: r.Experiment, Width: "1200px", Height: "500px"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	labels := make([]string, len(r.Result.Ranking))
	items := make([]opts.BarData, len(r.Result.Ranking))
	for i, e := range r.Result.Ranking {
		labels[i] = e.Candidate.String()
		items[i] = opts.BarData{Value: e.Score}
	}
	bar.SetXAxis(labels).
		AddSeries("score", items).
		SetSeriesOptions(charts.WithLabelOpts(opts.Label{Show: opts.Bool(false)}))
	return bar
}

func greedyChart(steps []attack.Step) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Greedy reconstruction"}),
		charts.WithInitializationOpts(opts.Initialization{Width: "1200px", Height: "400px"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	labels := make([]string, len(steps))
	items := make([]opts.LineData, len(steps))
	for i, st := range steps {
		sign := "+"
		if st.Sign < 0 {
			sign = "-"
		}
		labels[i] = fmt.Sprintf("%s%d", sign, st.Coord)
		items[i] = opts.LineData{Value: st.Score}
	}
	line.SetXAxis(labels).AddSeries("score", items)
	return line
}
