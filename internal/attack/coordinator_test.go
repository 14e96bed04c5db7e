package attack

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamusis/cc-attack/internal/checkpoint"
	"github.com/kamusis/cc-attack/internal/config"
	"github.com/kamusis/cc-attack/internal/enum"
	"github.com/kamusis/cc-attack/internal/samples"
	"github.com/kamusis/cc-attack/internal/score"
	"github.com/kamusis/cc-attack/internal/testutil"
)

// smallInstance yields a bf_dim=4, min=1, max=2 binary space of 10 candidates.
var smallInstance = testutil.Instance{N: 8, Q: 3329, Rows: 200, Cruel: 4, CoolBound: 1, ErrBound: 2, Seed: 11, Weight: 3, CruelHW: 2}

func newConfig(t *testing.T, in testutil.Instance) (*config.Config, []int64) {
	t.Helper()
	dir := t.TempDir()
	_, secret, err := in.WriteDir(dir)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Path = dir
	cfg.ExpName = "test"
	cfg.DumpPath = filepath.Join(t.TempDir(), "runs")
	cfg.N = in.N
	cfg.Q = in.Q
	cfg.BFDim = in.Cruel
	cfg.MinBFHW = 1
	cfg.MaxBFHW = 2
	cfg.FullHW = in.Weight
	cfg.GreedyMaxData = in.Rows
	cfg.BatchSize = in.Rows / 3
	cfg.SecretWindow = in.N
	cfg.KeepNTops = 2
	cfg.Workers = 2
	cfg.CheckpointEvery = 5
	cfg.SecretFile = filepath.Join(dir, "secret.npy")
	return cfg, secret
}

func run(t *testing.T, cfg *config.Config, opts ...Option) (*Result, error) {
	t.Helper()
	c, err := New(cfg, nil, opts...)
	require.NoError(t, err)
	return c.Run(context.Background())
}

// hook calls fn before scoring each candidate.
type hook struct {
	score.Scorer
	fn func(c enum.Candidate)
}

func (h hook) Accumulate(c enum.Candidate, b *samples.Batch) score.Moments {
	h.fn(c)
	return h.Scorer.Accumulate(c, b)
}

func TestRun_RecoversSecret(t *testing.T) {
	in := testutil.Instance{N: 16, Q: 3329, Rows: 600, Cruel: 6, CoolBound: 1, ErrBound: 2, Seed: 7, Weight: 4, CruelHW: 2}
	cfg, secret := newConfig(t, in)
	cfg.Workers = 3
	cfg.CheckpointEvery = 7
	cfg.CompileBF = 1

	res, err := run(t, cfg)
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, res.Total, res.Processed)
	assert.Equal(t, in.Rows, res.Consumed)
	assert.Equal(t, 3, res.Batches)
	assert.Equal(t, "compiled", res.Scorer)
	require.NotNil(t, res.Best)
	assert.Greater(t, res.Best.Score, 0.9)

	require.NotNil(t, res.Verification)
	assert.True(t, res.Verification.CruelMatch)
	assert.True(t, res.Verification.FullMatch, "mismatches at %v", res.Verification.Mismatches)
	require.NotNil(t, res.Reconstruction)
	for j, v := range secret {
		assert.Equal(t, int8(v), res.Reconstruction.Secret[j], "coordinate %d", j)
	}

	cp, err := checkpoint.Load(res.Checkpoint)
	require.NoError(t, err)
	assert.True(t, cp.Done())
	assert.Equal(t, res.Total, cp.Cursor)
}

func TestRun_ScorersAgree(t *testing.T) {
	cfgRef, _ := newConfig(t, smallInstance)
	cfgFast, _ := newConfig(t, smallInstance)
	cfgFast.CompileBF = 1
	ref, err := run(t, cfgRef)
	require.NoError(t, err)
	fast, err := run(t, cfgFast)
	require.NoError(t, err)
	if diff := cmp.Diff(ref.Ranking, fast.Ranking); diff != "" {
		t.Fatalf("rankings differ (-reference +compiled):\n%s", diff)
	}
}

func TestRun_ResumeMatchesUninterrupted(t *testing.T) {
	full, _ := newConfig(t, smallInstance)
	want, err := run(t, full)
	require.NoError(t, err)
	require.Equal(t, uint64(10), want.Total)

	cfg, _ := newConfig(t, smallInstance)
	cfg.Workers = 1
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := hook{Scorer: score.Reference{}, fn: func(c enum.Candidate) {
		if c.Index == 4 {
			cancel()
		}
	}}
	c, err := New(cfg, nil, WithScorer(stop))
	require.NoError(t, err)
	partial, err := c.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	var re *RunError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, uint64(5), re.Processed)
	assert.Equal(t, StateFailed, partial.State)

	cp, err := checkpoint.Load(partial.Checkpoint)
	require.NoError(t, err)
	assert.Equal(t, []enum.Range{{Lo: 5, Hi: 10}}, cp.Remaining)
	assert.Equal(t, uint64(5), cp.Cursor)

	got, err := run(t, cfg)
	require.NoError(t, err)
	assert.True(t, got.Resumed)
	assert.Equal(t, uint64(10), got.Processed)
	if diff := cmp.Diff(want.Ranking, got.Ranking); diff != "" {
		t.Fatalf("resumed ranking differs (-uninterrupted +resumed):\n%s", diff)
	}
}

func TestRun_ConfigMismatch(t *testing.T) {
	cfg, _ := newConfig(t, smallInstance)
	_, err := run(t, cfg)
	require.NoError(t, err)

	changed := *cfg
	changed.MaxBFHW = 1
	_, err = run(t, &changed)
	assert.ErrorIs(t, err, checkpoint.ErrConfigMismatch)

	changed.ForceFresh = true
	res, err := run(t, &changed)
	require.NoError(t, err)
	assert.False(t, res.Resumed)
	assert.Equal(t, uint64(4), res.Total)
}

func TestFingerprint_MatchesRunCheckpoint(t *testing.T) {
	cfg, _ := newConfig(t, smallInstance)
	_, err := run(t, cfg)
	require.NoError(t, err)
	cp, err := checkpoint.Load(filepath.Join(cfg.RunDir(), checkpoint.FileName))
	require.NoError(t, err)

	fp, err := Fingerprint(cfg)
	require.NoError(t, err)
	assert.NoError(t, cp.Validate(fp))

	changed := *cfg
	changed.SecretType = config.SecretTernary
	fp, err = Fingerprint(&changed)
	require.NoError(t, err)
	assert.ErrorIs(t, cp.Validate(fp), checkpoint.ErrConfigMismatch)
}

func TestRun_Timeout(t *testing.T) {
	cfg, _ := newConfig(t, smallInstance)
	cfg.Timeout = 1
	res, err := run(t, cfg)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, res)

	cp, err := checkpoint.Load(res.Checkpoint)
	require.NoError(t, err)
	assert.Equal(t, res.Total-res.Processed, countRanges(cp.Remaining))
}

func TestRun_ShortCheckpointIntervalStillProgresses(t *testing.T) {
	cfg, _ := newConfig(t, smallInstance)
	cfg.CheckpointInterval = time.Nanosecond
	cfg.Timeout = 30 * time.Second

	res, err := run(t, cfg)
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, res.Total, res.Processed)
}

func TestRun_RangeFailureIsRecordedAndRetried(t *testing.T) {
	cfg, _ := newConfig(t, smallInstance)
	cfg.Workers = 1
	cfg.CheckpointEvery = 100
	boom := hook{Scorer: score.Reference{}, fn: func(c enum.Candidate) {
		if c.Index == 3 {
			panic("scoring failed")
		}
	}}
	res, err := run(t, cfg, WithScorer(boom))
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, []enum.Range{{Lo: 3, Hi: 10}}, res.Failed)
	assert.Equal(t, uint64(3), res.Processed)

	res, err = run(t, cfg)
	require.NoError(t, err)
	assert.Empty(t, res.Failed)
	assert.Equal(t, uint64(10), res.Processed)
}

func TestRun_ResourceExhausted(t *testing.T) {
	cfg, _ := newConfig(t, smallInstance)
	cfg.MemoryLimit = 1
	_, err := run(t, cfg)
	assert.ErrorIs(t, err, ErrResourceExhausted)

	cfg, _ = newConfig(t, smallInstance)
	cfg.Workers = 4
	cfg.CheckpointEvery = 10
	cfg.MemoryLimit = 2 * (int64(cfg.BatchSize)*8 + int64(cfg.BFDim)*16)
	res, err := run(t, cfg)
	require.NoError(t, err)
	assert.Equal(t, res.Total, res.Processed)
}

// corruptB rewrites the b file of cfg, replacing the values at rows with v.
func corruptB(t *testing.T, cfg *config.Config, in testutil.Instance, v int64, rows ...int) {
	t.Helper()
	batch, _ := in.Build()
	bv := make([]int64, batch.Rows)
	for i, x := range batch.B() {
		bv[i] = int64(x)
	}
	for _, r := range rows {
		bv[r] = v
	}
	_, bName := samples.FileNames(cfg.N, cfg.LogQ())
	require.NoError(t, samples.WriteNPYFile(filepath.Join(cfg.Path, bName), []int{batch.Rows}, bv))
}

func TestRun_SkipsInvalidBatch(t *testing.T) {
	cfg, _ := newConfig(t, smallInstance)
	corruptB(t, cfg, smallInstance, -1, 17)

	res, err := run(t, cfg)
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, res.Total, res.Processed)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 3, res.Batches, "four batches of 66, 66, 66 and 2 rows, one dropped")
	assert.Less(t, res.Consumed, smallInstance.Rows)
}

func TestRun_FailsWhenEveryBatchIsInvalid(t *testing.T) {
	cfg, _ := newConfig(t, smallInstance)
	rows := make([]int, smallInstance.Rows)
	for i := range rows {
		rows[i] = i
	}
	corruptB(t, cfg, smallInstance, int64(smallInstance.Q), rows...)

	_, err := run(t, cfg)
	assert.ErrorIs(t, err, samples.ErrRange)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg, _ := newConfig(t, smallInstance)
	cfg.MaxBFHW = 9
	_, err := New(cfg, nil)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestRun_MissingSamples(t *testing.T) {
	cfg, _ := newConfig(t, smallInstance)
	cfg.Path = t.TempDir()
	c, err := New(cfg, nil)
	require.NoError(t, err)
	_, err = c.Run(context.Background())
	assert.ErrorIs(t, err, samples.ErrNotFound)
	assert.Equal(t, StateFailed, c.State())
}
