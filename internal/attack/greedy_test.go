package attack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamusis/cc-attack/internal/enum"
	"github.com/kamusis/cc-attack/internal/score"
	"github.com/kamusis/cc-attack/internal/testutil"
)

func cruelPart(secret []int64, dim int) enum.Candidate {
	var c enum.Candidate
	for j := 0; j < dim; j++ {
		if secret[j] != 0 {
			c.Support = append(c.Support, j)
			c.Signs = append(c.Signs, int8(secret[j]))
		}
	}
	return c
}

func TestGreedy_Ternary(t *testing.T) {
	in := testutil.Instance{N: 12, Q: 7681, Rows: 800, Cruel: 4, CoolBound: 1, ErrBound: 1, Seed: 21, Weight: 5, CruelHW: 2, Ternary: true}
	batch, secret := in.Build()
	g := Greedy{
		Scorer:  score.NewCompiled(),
		Batches: batch.Split(300, 0),
		BFDim:   in.Cruel,
		Window:  in.N,
		FullHW:  in.Weight,
		Ternary: true,
		Blocks:  2,
		N:       in.N,
	}
	rec := g.Reconstruct(cruelPart(secret, in.Cruel))
	require.Len(t, rec.Secret, in.N)
	for j, v := range secret {
		assert.Equal(t, int8(v), rec.Secret[j], "coordinate %d", j)
	}
	assert.Len(t, rec.Steps, in.Weight-in.CruelHW)
	require.Len(t, rec.Blocks, 2)
	assert.Equal(t, rec.Secret[6:], rec.Blocks[1])

	v := Verify(secret, cruelPart(secret, in.Cruel), rec, in.Cruel)
	assert.True(t, v.CruelMatch)
	assert.True(t, v.FullMatch)
}

func TestGreedy_StopsWithoutGain(t *testing.T) {
	in := testutil.Instance{N: 10, Q: 3329, Rows: 500, Cruel: 4, CoolBound: 1, ErrBound: 1, Seed: 5, Weight: 4, CruelHW: 2}
	batch, secret := in.Build()
	g := Greedy{Scorer: score.Reference{}, Batches: batch.Split(500, 0), BFDim: 4, Window: 10, N: 10, Blocks: 1}
	rec := g.Reconstruct(cruelPart(secret, 4))
	assert.Len(t, rec.Support, 4)
	assert.Nil(t, rec.Blocks)
	for i := 1; i < len(rec.Steps); i++ {
		assert.Greater(t, rec.Steps[i].Score, rec.Steps[i-1].Score)
	}
}

func TestVerify_Mismatch(t *testing.T) {
	truth := []int64{1, 0, 0, 1, 0, 1}
	cruel := enum.Candidate{Support: []int{0}, Signs: []int8{1}}
	rec := Reconstruction{Secret: []int8{1, 0, 0, 1, 1, 0}}
	v := Verify(truth, cruel, rec, 3)
	assert.True(t, v.CruelMatch)
	assert.False(t, v.FullMatch)
	assert.Equal(t, []int{4, 5}, v.Mismatches)
}

func TestWithCoordsSorts(t *testing.T) {
	c := withCoords([]int{9, 2, 5}, []int8{-1, 1, -1})
	assert.Equal(t, []int{2, 5, 9}, c.Support)
	assert.Equal(t, []int8{1, -1, -1}, c.Signs)
}

func TestVerify_CoordinatesPastWindow(t *testing.T) {
	truth := []int64{1, 0, 0, 0, 1, 0, 0, 1}
	cruel := enum.Candidate{Support: []int{0}, Signs: []int8{1}}
	rec := Reconstruction{Secret: []int8{1, 0, 0, 0, 1, 0}}

	v := Verify(truth, cruel, rec, 4)
	assert.True(t, v.CruelMatch)
	assert.False(t, v.FullMatch, "truth[7] lies outside the window and was not recovered")
	assert.Equal(t, []int{7}, v.Mismatches)

	v = Verify([]int64{1, 0, 0, 0, 1, 0, 0, 0}, cruel, rec, 4)
	assert.True(t, v.FullMatch, "zeros past the window match")
}
