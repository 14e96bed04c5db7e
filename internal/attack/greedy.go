package attack

import (
	"sort"

	"github.com/kamusis/cc-attack/internal/enum"
	"github.com/kamusis/cc-attack/internal/samples"
	"github.com/kamusis/cc-attack/internal/score"
)

// Reconstruction is a full secret guess over the secret window, grown from a
// cruel-part candidate by adding reduced coordinates one at a time.
type Reconstruction struct {
	Secret  []int8   `json:"secret"`
	Support []int    `json:"support"`
	Score   float64  `json:"score"`
	Steps   []Step   `json:"steps,omitempty"`
	Blocks  [][]int8 `json:"blocks,omitempty"`
}

// Step records one coordinate added by the greedy search.
type Step struct {
	Coord int     `json:"coord"`
	Sign  int8    `json:"sign"`
	Score float64 `json:"score"`
}

// Greedy extends candidates on [0, BFDim) to the whole window.
type Greedy struct {
	Scorer  score.Scorer
	Batches []*samples.Batch
	BFDim   int
	Window  int
	// FullHW is the target Hamming weight. Zero means: stop once no
	// coordinate improves the score.
	FullHW  int
	Ternary bool
	// Blocks is the MLWE module rank used to lay out the result; N is the
	// total secret dimension.
	Blocks int
	N      int
}

// Reconstruct grows start coordinate by coordinate. At each step every free
// coordinate in [BFDim, Window) is tried with every nonzero sign, and the one
// with the best resulting score is kept. Ties go to the lower coordinate,
// then to +1.
func (g Greedy) Reconstruct(start enum.Candidate) Reconstruction {
	cur := withCoords(start.Support, start.Signs)
	_, curScore := score.ScoreAll(g.Scorer, cur, g.Batches)

	used := make(map[int]bool, len(cur.Support))
	for _, j := range cur.Support {
		used[j] = true
	}
	signs := []int8{1}
	if g.Ternary {
		signs = append(signs, -1)
	}

	var steps []Step
	for g.FullHW == 0 || cur.Weight() < g.FullHW {
		bestCoord, bestSign, bestScore := -1, int8(0), 0.0
		for j := g.BFDim; j < g.Window; j++ {
			if used[j] {
				continue
			}
			for _, s := range signs {
				trial := withCoords(append(cur.Support[:len(cur.Support):len(cur.Support)], j), append(cur.Signs[:len(cur.Signs):len(cur.Signs)], s))
				_, v := score.ScoreAll(g.Scorer, trial, g.Batches)
				if bestCoord < 0 || v > bestScore {
					bestCoord, bestSign, bestScore = j, s, v
				}
			}
		}
		if bestCoord < 0 {
			break
		}
		if g.FullHW == 0 && bestScore <= curScore {
			break
		}
		cur = withCoords(append(cur.Support, bestCoord), append(cur.Signs, bestSign))
		used[bestCoord] = true
		curScore = bestScore
		steps = append(steps, Step{Coord: bestCoord, Sign: bestSign, Score: bestScore})
	}

	secret := make([]int8, g.Window)
	for k, j := range cur.Support {
		if j < g.Window {
			secret[j] = cur.Signs[k]
		}
	}
	return Reconstruction{
		Secret:  secret,
		Support: append([]int(nil), cur.Support...),
		Score:   curScore,
		Steps:   steps,
		Blocks:  layoutBlocks(secret, g.N, g.Blocks),
	}
}

// withCoords returns a candidate over arbitrary coordinates with its support
// sorted ascending. The inputs are copied.
func withCoords(support []int, signs []int8) enum.Candidate {
	idx := make([]int, len(support))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return support[idx[a]] < support[idx[b]] })
	c := enum.Candidate{Support: make([]int, len(support)), Signs: make([]int8, len(signs))}
	for i, k := range idx {
		c.Support[i] = support[k]
		c.Signs[i] = signs[k]
	}
	return c
}

// layoutBlocks splits a secret of dimension n, zero-padded past the window,
// into k module blocks of n/k coefficients.
func layoutBlocks(secret []int8, n, k int) [][]int8 {
	if k <= 1 || n <= 0 || n%k != 0 {
		return nil
	}
	full := make([]int8, n)
	copy(full, secret)
	size := n / k
	out := make([][]int8, k)
	for b := range out {
		out[b] = full[b*size : (b+1)*size]
	}
	return out
}

// Verification compares the recovered secret against the ground truth.
type Verification struct {
	CruelMatch bool  `json:"cruel_match"`
	FullMatch  bool  `json:"full_match"`
	Mismatches []int `json:"mismatches,omitempty"`
}

// Verify checks the best cruel candidate against truth[:bfDim] and the
// reconstruction against the whole of truth. Coordinates past the
// reconstructed window count as 0.
func Verify(truth []int64, cruel enum.Candidate, rec Reconstruction, bfDim int) Verification {
	v := Verification{CruelMatch: true, FullMatch: true}
	cv := cruel.Vector(bfDim)
	for j := 0; j < bfDim && j < len(truth); j++ {
		if int64(cv[j]) != truth[j] {
			v.CruelMatch = false
		}
	}
	for j, want := range truth {
		var got int64
		if j < len(rec.Secret) {
			got = int64(rec.Secret[j])
		}
		if got != want {
			v.FullMatch = false
			v.Mismatches = append(v.Mismatches, j)
		}
	}
	return v
}
