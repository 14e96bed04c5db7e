// Package attack runs the Cool-and-Cruel search: it enumerates low-weight
// guesses for the brute-forced ("cruel") coordinates, scores each guess
// against the reduced samples, keeps the best ones, checkpoints progress and
// finally grows the best guess into a full secret.
package attack

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kamusis/cc-attack/internal/checkpoint"
	"github.com/kamusis/cc-attack/internal/config"
	"github.com/kamusis/cc-attack/internal/enum"
	"github.com/kamusis/cc-attack/internal/logging"
	"github.com/kamusis/cc-attack/internal/samples"
	"github.com/kamusis/cc-attack/internal/score"
	"github.com/kamusis/cc-attack/internal/topk"
)

// State is a coordinator lifecycle state.
type State int

const (
	StateInit State = iota
	StateEnumerating
	StateScoring
	StateCheckpointing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateEnumerating:
		return "ENUMERATING"
	case StateScoring:
		return "SCORING"
	case StateCheckpointing:
		return "CHECKPOINTING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for v := StateInit; v <= StateFailed; v++ {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// lockWait bounds how long Run waits for another process to release the
// checkpoint.
var lockWait = 2 * time.Second

// progressEvery is the minimum delay between two progress records.
var progressEvery = 10 * time.Second

// Result is the outcome of a run.
type Result struct {
	State          State           `json:"state"`
	Ranking        []topk.Entry    `json:"ranking"`
	Best           *topk.Entry     `json:"best,omitempty"`
	Processed      uint64          `json:"processed"`
	Total          uint64          `json:"total"`
	Consumed       int             `json:"consumed_samples"`
	Batches        int             `json:"batches"`
	Skipped        int             `json:"skipped_batches,omitempty"`
	Scorer         string          `json:"scorer"`
	Failed         []enum.Range    `json:"failed_ranges,omitempty"`
	Resumed        bool            `json:"resumed"`
	Reconstruction *Reconstruction `json:"reconstruction,omitempty"`
	Verification   *Verification   `json:"verification,omitempty"`
	Checkpoint     string          `json:"checkpoint"`
	Elapsed        time.Duration   `json:"elapsed"`
}

// RunError is returned when a run stops early. It carries the progress made so
// far; the last checkpoint stays on disk.
type RunError struct {
	Processed uint64
	BestScore float64
	Err       error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("attack stopped after %d candidates (best score %.4f): %v", e.Processed, e.BestScore, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// RangeError reports a candidate range aborted by a failure while scoring.
type RangeError struct {
	Range enum.Range
	Cause any
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range [%d, %d) aborted: %v", e.Range.Lo, e.Range.Hi, e.Cause)
}

// Coordinator drives one run. It is not reusable.
type Coordinator struct {
	cfg *config.Config
	log *logging.Logger

	mu    sync.Mutex
	state State

	space    *enum.Space
	batches  []*samples.Batch
	consumed int
	skipped  int
	scorer   score.Scorer
	tracker  *topk.Tracker
	ckpt     *checkpoint.Manager
	cp       *checkpoint.Checkpoint
	resumed  bool
	truth    []int64

	res         *controller
	workerBytes int64
	progress    *rate.Limiter
	processed   atomic.Uint64
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithScorer overrides the backend selected by compile_bf.
func WithScorer(s score.Scorer) Option {
	return func(c *Coordinator) { c.scorer = s }
}

// New prepares a coordinator for cfg. The configuration is validated here and
// not modified afterwards.
func New(cfg *config.Config, log *logging.Logger, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Nop()
	}
	c := &Coordinator{
		cfg:      cfg,
		log:      log.WithRun(cfg.ExpName),
		scorer:   score.New(cfg.CompileBF == 1),
		tracker:  topk.New(cfg.KeepNTops),
		res:      newController(cfg.Workers, cfg.MemoryLimit),
		progress: rate.NewLimiter(rate.Every(progressEvery), 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) transition(ctx context.Context, to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	if from != to {
		c.log.LogTransition(ctx, from.String(), to.String())
	}
}

// Run executes the attack until every candidate is processed, ctx is
// cancelled, the configured timeout elapses or a fatal error occurs. On early
// stop the remaining work is checkpointed and a *RunError is returned along
// with the partial result.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	c.transition(ctx, StateInit)
	if err := c.init(ctx); err != nil {
		c.transition(ctx, StateFailed)
		return nil, err
	}
	defer func() { _ = c.ckpt.Close() }()

	err := c.search(ctx)
	res := c.result(start)
	if err != nil {
		c.transition(ctx, StateFailed)
		res.State = StateFailed
		best := 0.0
		if res.Best != nil {
			best = res.Best.Score
		}
		return res, &RunError{Processed: res.Processed, BestScore: best, Err: err}
	}

	if res.Best != nil {
		g := Greedy{
			Scorer:  c.scorer,
			Batches: c.batches,
			BFDim:   c.cfg.BFDim,
			Window:  c.cfg.Window(),
			FullHW:  c.cfg.FullHW,
			Ternary: c.cfg.SecretType == config.SecretTernary,
			Blocks:  c.cfg.MLWEK,
			N:       c.cfg.N,
		}
		rec := g.Reconstruct(res.Best.Candidate)
		res.Reconstruction = &rec
		if c.truth != nil {
			v := Verify(c.truth, res.Best.Candidate, rec, c.cfg.BFDim)
			res.Verification = &v
		}
	}
	c.transition(ctx, StateDone)
	res.State = StateDone
	res.Elapsed = time.Since(start)
	return res, nil
}

func (c *Coordinator) init(ctx context.Context) error {
	cfg := c.cfg
	all, err := loadSamples(cfg)
	if err != nil {
		return err
	}
	if err := c.keepValidBatches(ctx, all.Split(cfg.BatchSize, cfg.GreedyMaxData)); err != nil {
		return err
	}
	c.workerBytes = int64(cfg.BatchSize)*8 + int64(cfg.BFDim)*16

	fp, err := fingerprint(cfg, all)
	if err != nil {
		return err
	}
	if cfg.SecretFile != "" {
		c.truth, err = samples.LoadSecret(cfg.SecretFile, cfg.N)
		if err != nil {
			return fmt.Errorf("cannot load secret: %w", err)
		}
	}

	alphabet := enum.Binary
	if cfg.SecretType == config.SecretTernary {
		alphabet = enum.Ternary
	}
	c.space, err = enum.NewSpace(enum.Params{Dim: cfg.BFDim, MinHW: cfg.MinBFHW, MaxHW: cfg.MaxBFHW, Alphabet: alphabet})
	if err != nil {
		return &config.Error{Field: "bf_dim", Reason: err.Error()}
	}

	codec, err := checkpoint.ParseCodec(cfg.Compression)
	if err != nil {
		return &config.Error{Field: "compression", Reason: err.Error()}
	}
	c.ckpt, err = checkpoint.Open(filepath.Join(cfg.RunDir(), checkpoint.FileName), codec, lockWait)
	if err != nil {
		return err
	}

	if cfg.ForceFresh {
		if err := c.ckpt.Remove(); err != nil {
			_ = c.ckpt.Close()
			return err
		}
	}
	cp, err := c.ckpt.Load()
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		c.cp = checkpoint.Fresh(fp, c.space.Total())
	case err != nil:
		_ = c.ckpt.Close()
		return err
	default:
		if err := cp.Validate(fp); err != nil {
			_ = c.ckpt.Close()
			return err
		}
		// Ranges that failed last time get another chance.
		cp.Remaining = normalize(append(cp.Remaining, cp.Failed...))
		cp.Failed = nil
		c.cp = cp
		c.resumed = true
		c.tracker.Restore(cp.Top)
		c.processed.Store(cp.Processed)
		c.log.LogResume(ctx, cp.Cursor, cp.Processed, len(cp.Top))
	}

	c.log.InfoContext(ctx, "attack initialized",
		"candidates", c.space.Total(),
		"samples", c.consumed,
		"batches", len(c.batches),
		"skipped_batches", c.skipped,
		"scorer", c.scorer.Name(),
		"workers", cfg.Workers,
	)
	return nil
}

// loadSamples reads the configured samples without range checks and applies
// the seeded permutation.
func loadSamples(cfg *config.Config) (*samples.Batch, error) {
	var (
		all *samples.Batch
		err error
	)
	if cfg.AFile != "" || cfg.BFile != "" {
		all, err = samples.LoadFilesUnchecked(cfg.AFile, cfg.BFile, cfg.N, cfg.Q)
	} else {
		all, err = samples.LoadUnchecked(cfg.Path, cfg.N, cfg.Q)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot load samples: %w", err)
	}
	return all.Permute(cfg.Seed)
}

// fingerprint binds the search space, the permuted rows in use and the
// artifact digest.
func fingerprint(cfg *config.Config, all *samples.Batch) (checkpoint.Fingerprint, error) {
	used, err := all.Slice(0, min(all.Rows, cfg.GreedyMaxData))
	if err != nil {
		return checkpoint.Fingerprint{}, err
	}
	fp := checkpoint.Fingerprint{
		BFDim:    cfg.BFDim,
		MinHW:    cfg.MinBFHW,
		MaxHW:    cfg.MaxBFHW,
		Alphabet: string(cfg.SecretType),
		N:        cfg.N,
		Q:        cfg.Q,
		Samples:  used.Fingerprint(),
	}
	if cfg.Artifact != "" {
		art, err := samples.LoadArtifact(cfg.Artifact, cfg.N, cfg.Q)
		if err != nil {
			return fp, fmt.Errorf("cannot load artifact: %w", err)
		}
		fp.Artifact = art.Digest()
	}
	return fp, nil
}

// Fingerprint returns the checkpoint fingerprint a run of cfg would use, so a
// checkpoint can be checked for compatibility without starting the run.
func Fingerprint(cfg *config.Config) (checkpoint.Fingerprint, error) {
	all, err := loadSamples(cfg)
	if err != nil {
		return checkpoint.Fingerprint{}, err
	}
	return fingerprint(cfg, all)
}

// keepValidBatches keeps the batches whose values all lie in [0, q). A bad
// batch is logged and dropped; the run fails only when none is left.
func (c *Coordinator) keepValidBatches(ctx context.Context, batches []*samples.Batch) error {
	c.batches, c.consumed, c.skipped = nil, 0, 0
	var first error
	for i, b := range batches {
		if err := b.Validate(); err != nil {
			c.log.LogBatchSkipped(ctx, i, b.Rows, err)
			c.skipped++
			if first == nil {
				first = fmt.Errorf("batch %d: %w", i, err)
			}
			continue
		}
		c.batches = append(c.batches, b)
		c.consumed += b.Rows
	}
	switch {
	case len(c.batches) > 0:
		return nil
	case first != nil:
		return fmt.Errorf("cannot run, every sample batch is invalid: %w", first)
	default:
		return fmt.Errorf("cannot run without samples: %w", samples.ErrFormat)
	}
}

// search processes the remaining ranges round by round, checkpointing after
// each round.
func (c *Coordinator) search(ctx context.Context) error {
	for !c.cp.Done() {
		if err := ctx.Err(); err != nil {
			return c.save(ctx, err)
		}
		c.transition(ctx, StateEnumerating)
		round, rest := takeRound(c.cp.Remaining, c.cfg.CheckpointEvery)

		c.transition(ctx, StateScoring)
		var deadline time.Time
		if c.cfg.CheckpointInterval > 0 {
			deadline = time.Now().Add(c.cfg.CheckpointInterval)
		}
		left, failed, err := c.runRound(ctx, round, deadline)

		c.cp.Remaining = normalize(append(left, rest...))
		c.cp.Failed = normalize(append(c.cp.Failed, failed...))
		if err == nil {
			err = ctx.Err()
		}
		if serr := c.save(ctx, err); serr != nil {
			return serr
		}
	}
	return nil
}

// save writes the checkpoint and returns cause, or the save error when the
// run was otherwise healthy.
func (c *Coordinator) save(ctx context.Context, cause error) error {
	c.transition(ctx, StateCheckpointing)
	cp := c.cp
	cp.Processed = c.processed.Load()
	cp.Consumed = c.consumed
	cp.Top = c.tracker.Snapshot()
	cp.Cursor = lowWater(cp.Total, cp.Remaining, cp.Failed)
	err := c.ckpt.Save(cp)
	c.log.LogCheckpoint(context.WithoutCancel(ctx), c.ckpt.Path(), cp.Cursor, err)
	if cause != nil {
		return cause
	}
	if err != nil {
		return fmt.Errorf("cannot save checkpoint: %w", err)
	}
	return nil
}

type outcome struct {
	part   enum.Range
	next   uint64 // first unprocessed index in part
	failed *RangeError
	err    error
}

// runRound scores round across the worker pool until it is exhausted, ctx is
// done or deadline (when set) passes. It returns the unprocessed parts and the
// parts aborted by scoring failures.
func (c *Coordinator) runRound(ctx context.Context, round []enum.Range, deadline time.Time) (left, failed []enum.Range, err error) {
	parallel := c.cfg.Workers
	parts := splitRanges(round, parallel)
	for attempt := 0; len(parts) > 0; attempt++ {
		outs := c.runParts(ctx, parts, parallel, deadline)
		var exhausted []enum.Range
		for _, o := range outs {
			switch {
			case errors.Is(o.err, ErrResourceExhausted):
				exhausted = append(exhausted, o.part)
			case o.err != nil:
				// Cancelled before the worker got a slot.
				left = append(left, o.part)
			case o.failed != nil:
				c.log.LogRangeFailure(ctx, o.failed.Range.Lo, o.failed.Range.Hi, o.failed)
				failed = append(failed, o.failed.Range)
			case o.next < o.part.Hi:
				left = append(left, enum.Range{Lo: o.next, Hi: o.part.Hi})
			}
		}
		if len(exhausted) == 0 {
			return left, failed, nil
		}
		if attempt == 1 || parallel == 1 {
			left = append(left, exhausted...)
			return left, failed, fmt.Errorf("%w: %d bytes per worker, limit %d", ErrResourceExhausted, c.workerBytes, c.cfg.MemoryLimit)
		}
		parallel = max(1, parallel/2)
		c.log.WarnContext(ctx, "resources exhausted, retrying with fewer workers",
			"workers", parallel,
			"reserved", c.res.usage(),
		)
		parts = splitRanges(exhausted, parallel)
	}
	return left, failed, nil
}

func (c *Coordinator) runParts(ctx context.Context, parts []enum.Range, parallel int, deadline time.Time) []outcome {
	outs := make([]outcome, len(parts))
	var g errgroup.Group
	g.SetLimit(parallel)
	for i, p := range parts {
		g.Go(func() error {
			outs[i] = c.work(ctx, i, p, deadline)
			return nil
		})
	}
	_ = g.Wait()
	return outs
}

// work scores part until it is exhausted, ctx is done or deadline passes.
// Both are observed between candidates only, and the deadline only after the
// first candidate, so every round makes progress however short the interval.
func (c *Coordinator) work(ctx context.Context, id int, part enum.Range, deadline time.Time) (o outcome) {
	o = outcome{part: part, next: part.Lo}
	release, err := c.res.acquire(ctx, c.workerBytes)
	if err != nil {
		o.err = err
		return o
	}
	defer release()

	it := c.space.Iterator(part.Lo, part.Hi)
	defer func() {
		if r := recover(); r != nil {
			o.failed = &RangeError{Range: enum.Range{Lo: o.next, Hi: part.Hi}, Cause: r}
		}
	}()
	for first := true; ; first = false {
		if ctx.Err() != nil {
			return o
		}
		if !first && !deadline.IsZero() && time.Now().After(deadline) {
			return o
		}
		cand, ok := it.Next()
		if !ok {
			o.next = part.Hi
			return o
		}
		_, s := score.ScoreAll(c.scorer, cand, c.batches)
		c.tracker.Offer(cand, s)
		o.next = cand.Index + 1
		n := c.processed.Add(1)
		if c.progress.Allow() {
			best := 0.0
			if e, ok := c.tracker.Best(); ok {
				best = e.Score
			}
			c.log.WithWorker(id).LogProgress(ctx, n, c.space.Total(), best)
		}
	}
}

func (c *Coordinator) result(start time.Time) *Result {
	res := &Result{
		Ranking:    c.tracker.Snapshot(),
		Processed:  c.processed.Load(),
		Total:      c.space.Total(),
		Consumed:   c.consumed,
		Batches:    len(c.batches),
		Skipped:    c.skipped,
		Scorer:     c.scorer.Name(),
		Failed:     c.cp.Failed,
		Resumed:    c.resumed,
		Checkpoint: c.ckpt.Path(),
		Elapsed:    time.Since(start),
	}
	if len(res.Ranking) > 0 {
		best := res.Ranking[0]
		res.Best = &best
	}
	return res
}
