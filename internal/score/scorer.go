// Package score evaluates cruel-part candidates against LWE samples.
//
// For a candidate s' on the brute-forced coordinates the residual of row i is
//
//	r_i = (b_i - Σ_{j ∈ supp(s')} s'_j · a_ij) mod q, centered into (-q/2, q/2].
//
// When s' matches the secret on those coordinates, r_i is the contribution of
// the reduced ("cool") coordinates plus the LWE error, which is narrow after
// lattice reduction. Otherwise r_i is close to uniform. The score is
// 1 - σ(r)/σ_U with σ_U = sqrt((q²-1)/12); see Moments.Value.
package score

import (
	"sync"

	"golang.org/x/sys/cpu"

	"github.com/kamusis/cc-attack/internal/enum"
	"github.com/kamusis/cc-attack/internal/samples"
)

// Scorer accumulates the residual moments of a candidate over one batch.
// Implementations are deterministic, side-effect free and safe for
// concurrent use.
type Scorer interface {
	Name() string
	Accumulate(c enum.Candidate, b *samples.Batch) Moments
}

// New returns the compiled backend when compiled is true, the reference
// backend otherwise. Both return identical moments.
func New(compiled bool) Scorer {
	if compiled {
		return NewCompiled()
	}
	return Reference{}
}

// Score returns the score of c over a single batch.
func Score(s Scorer, c enum.Candidate, b *samples.Batch) float64 {
	m := s.Accumulate(c, b)
	return m.Value(b.Q)
}

// ScoreAll streams c over every batch and returns the merged moments and score.
func ScoreAll(s Scorer, c enum.Candidate, batches []*samples.Batch) (Moments, float64) {
	var m Moments
	if len(batches) == 0 {
		return m, 0
	}
	for _, b := range batches {
		m.Merge(s.Accumulate(c, b))
	}
	return m, m.Value(batches[0].Q)
}

// Reference walks the batch row by row with a modular reduction per term.
type Reference struct{}

func (Reference) Name() string { return "reference" }

func (Reference) Accumulate(c enum.Candidate, b *samples.Batch) Moments {
	var m Moments
	q := b.Q
	bv := b.B()
	for i := 0; i < b.Rows; i++ {
		acc := bv[i]
		for k, j := range c.Support {
			a := b.A(i, j)
			if c.Signs[k] > 0 {
				acc = subMod(acc, a, q)
			} else {
				acc = addMod(acc, a, q)
			}
		}
		m.Add(Center(acc, q))
	}
	return m
}

func addMod(x, y, q uint64) uint64 {
	s := x + y
	if s >= q {
		s -= q
	}
	return s
}

func subMod(x, y, q uint64) uint64 {
	if x >= y {
		return x - y
	}
	return x + q - y
}

// Compiled works column by column on the batch's shared A^T, keeps the
// residual vector in a pooled buffer, and postpones the modular reduction to
// the end of the row sum whenever the partial sums cannot overflow.
type Compiled struct {
	unroll int
	pool   sync.Pool
}

// NewCompiled returns a compiled scorer whose unroll width follows the CPU's
// vector capabilities.
func NewCompiled() *Compiled {
	unroll := 4
	if cpu.X86.HasAVX2 || cpu.ARM64.HasASIMD {
		unroll = 8
	}
	return &Compiled{unroll: unroll}
}

func (*Compiled) Name() string { return "compiled" }

// Unroll returns the inner-loop unroll width chosen for this CPU.
func (s *Compiled) Unroll() int { return s.unroll }

func (s *Compiled) buffer(n int) *[]int64 {
	if v, ok := s.pool.Get().(*[]int64); ok && cap(*v) >= n {
		*v = (*v)[:n]
		return v
	}
	buf := make([]int64, n)
	return &buf
}

func (s *Compiled) Accumulate(c enum.Candidate, b *samples.Batch) Moments {
	q := b.Q
	rows := b.Rows
	bufp := s.buffer(rows)
	defer s.pool.Put(bufp)
	r := *bufp

	for i, v := range b.B() {
		r[i] = int64(v)
	}
	// |partial sum| < (w+1)·q must stay below 2^63 to defer reduction.
	delayed := uint64(len(c.Support)+1) <= uint64(1<<63-1)/q
	iq := int64(q)
	for k, j := range c.Support {
		col := b.Column(j)
		neg := c.Signs[k] > 0
		if delayed {
			s.apply(r, col, neg)
			continue
		}
		for i, a := range col {
			if neg {
				r[i] -= int64(a)
				if r[i] < 0 {
					r[i] += iq
				}
			} else {
				r[i] += int64(a)
				if r[i] >= iq {
					r[i] -= iq
				}
			}
		}
	}

	var m Moments
	for _, v := range r {
		v %= iq
		if v < 0 {
			v += iq
		}
		m.Add(Center(uint64(v), q))
	}
	return m
}

// apply adds (or subtracts when neg) col into r without reduction.
func (s *Compiled) apply(r []int64, col []uint64, neg bool) {
	n := len(r)
	i := 0
	if neg {
		for ; i+s.unroll <= n; i += s.unroll {
			for u := 0; u < s.unroll; u++ {
				r[i+u] -= int64(col[i+u])
			}
		}
		for ; i < n; i++ {
			r[i] -= int64(col[i])
		}
		return
	}
	for ; i+s.unroll <= n; i += s.unroll {
		for u := 0; u < s.unroll; u++ {
			r[i+u] += int64(col[i+u])
		}
	}
	for ; i < n; i++ {
		r[i] += int64(col[i])
	}
}

// Residuals returns the uncentered residues (b_i - <s', a_i>) mod q of c over b.
func Residuals(c enum.Candidate, b *samples.Batch) []uint64 {
	out := make([]uint64, b.Rows)
	q := b.Q
	bv := b.B()
	for i := range out {
		acc := bv[i]
		for k, j := range c.Support {
			if c.Signs[k] > 0 {
				acc = subMod(acc, b.A(i, j), q)
			} else {
				acc = addMod(acc, b.A(i, j), q)
			}
		}
		out[i] = acc
	}
	return out
}
