// Package enum enumerates low-Hamming-weight secret candidates in a canonical,
// resumable order.
//
// Order: increasing Hamming weight; within a weight, supports in lexicographic
// order; within a support, sign patterns counted as a w-bit integer where bit i
// set means coordinate Support[i] is -1 (ternary only). Every candidate has a
// stable index in [0, Total()).
package enum

import (
	"errors"
	"fmt"
	"math/bits"
)

// Alphabet is the number of nonzero values a secret coordinate can take.
type Alphabet int

const (
	Binary  Alphabet = 1 // {0, 1}
	Ternary Alphabet = 2 // {-1, 0, 1}
)

func (a Alphabet) String() string {
	switch a {
	case Binary:
		return "binary"
	case Ternary:
		return "ternary"
	default:
		return fmt.Sprintf("alphabet(%d)", int(a))
	}
}

// MaxDim is the largest supported brute-force dimension.
const MaxDim = 64

var (
	// ErrTooLarge is returned when the candidate count does not fit in 64 bits.
	ErrTooLarge = errors.New("candidate space exceeds 2^64")
	// ErrIndex is returned for indices outside [0, Total()).
	ErrIndex = errors.New("candidate index out of range")
)

// Params describes a candidate space.
type Params struct {
	Dim      int
	MinHW    int
	MaxHW    int
	Alphabet Alphabet
}

func (p Params) validate() error {
	switch {
	case p.Dim <= 0 || p.Dim > MaxDim:
		return fmt.Errorf("dimension %d outside [1, %d]", p.Dim, MaxDim)
	case p.MinHW < 0 || p.MinHW > p.MaxHW || p.MaxHW > p.Dim:
		return fmt.Errorf("weights [%d, %d] invalid for dimension %d", p.MinHW, p.MaxHW, p.Dim)
	case p.Alphabet != Binary && p.Alphabet != Ternary:
		return fmt.Errorf("unsupported alphabet %d", int(p.Alphabet))
	}
	return nil
}

// binom holds C(n, k) for n <= MaxDim; every entry fits in a uint64.
var binom [MaxDim + 1][MaxDim + 1]uint64

func init() {
	for n := 0; n <= MaxDim; n++ {
		binom[n][0] = 1
		for k := 1; k <= n; k++ {
			binom[n][k] = binom[n-1][k-1] + binom[n-1][k]
		}
	}
}

// Binomial returns C(n, k) for 0 <= n <= MaxDim, and 0 when k is out of range.
func Binomial(n, k int) uint64 {
	if k < 0 || k > n || n < 0 || n > MaxDim {
		return 0
	}
	return binom[n][k]
}

// WeightCount is the number of candidates of one Hamming weight.
type WeightCount struct {
	Weight int
	Count  uint64
	Offset uint64 // index of the first candidate of this weight
}

// Space is an immutable candidate space with precomputed per-weight offsets.
type Space struct {
	p       Params
	weights []WeightCount
	total   uint64
}

// NewSpace validates p and computes the per-weight layout.
func NewSpace(p Params) (*Space, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	s := &Space{p: p}
	for w := p.MinHW; w <= p.MaxHW; w++ {
		c, err := weightCount(p.Dim, w, p.Alphabet)
		if err != nil {
			return nil, err
		}
		s.weights = append(s.weights, WeightCount{Weight: w, Count: c, Offset: s.total})
		sum, carry := bits.Add64(s.total, c, 0)
		if carry != 0 {
			return nil, ErrTooLarge
		}
		s.total = sum
	}
	return s, nil
}

func weightCount(dim, w int, a Alphabet) (uint64, error) {
	c := Binomial(dim, w)
	if a == Binary {
		return c, nil
	}
	if w >= 64 {
		return 0, ErrTooLarge
	}
	hi, lo := bits.Mul64(c, uint64(1)<<uint(w))
	if hi != 0 {
		return 0, ErrTooLarge
	}
	return lo, nil
}

// TotalCount returns the number of candidates of length dim over the given
// alphabet with Hamming weight in [minHW, maxHW], computed without enumeration.
func TotalCount(dim, minHW, maxHW int, a Alphabet) (uint64, error) {
	s, err := NewSpace(Params{Dim: dim, MinHW: minHW, MaxHW: maxHW, Alphabet: a})
	if err != nil {
		return 0, err
	}
	return s.Total(), nil
}

// Params returns the parameters of the space.
func (s *Space) Params() Params { return s.p }

// Total returns the number of candidates.
func (s *Space) Total() uint64 { return s.total }

// Weights returns the per-weight layout in enumeration order.
func (s *Space) Weights() []WeightCount {
	out := make([]WeightCount, len(s.weights))
	copy(out, s.weights)
	return out
}

func (s *Space) signPatterns(w int) uint64 {
	if s.p.Alphabet == Binary {
		return 1
	}
	return uint64(1) << uint(w)
}

// locate maps a global index to (weight, support rank, sign pattern).
func (s *Space) locate(index uint64) (w int, supportRank, signs uint64, err error) {
	if index >= s.total {
		return 0, 0, 0, fmt.Errorf("%w: %d not in [0, %d)", ErrIndex, index, s.total)
	}
	for _, wc := range s.weights {
		if index < wc.Offset+wc.Count {
			off := index - wc.Offset
			per := s.signPatterns(wc.Weight)
			return wc.Weight, off / per, off % per, nil
		}
	}
	return 0, 0, 0, fmt.Errorf("%w: %d", ErrIndex, index)
}

// unrankSupport writes into dst the rank-th k-subset of {0..n-1} in
// lexicographic order.
func unrankSupport(dst []int, n int, rank uint64) {
	k := len(dst)
	x := 0
	for i := 0; i < k; i++ {
		for {
			c := Binomial(n-1-x, k-1-i)
			if rank < c {
				break
			}
			rank -= c
			x++
		}
		dst[i] = x
		x++
	}
}

// At returns the candidate at index.
func (s *Space) At(index uint64) (Candidate, error) {
	w, sr, signs, err := s.locate(index)
	if err != nil {
		return Candidate{}, err
	}
	support := make([]int, w)
	unrankSupport(support, s.p.Dim, sr)
	return newCandidate(index, support, signs), nil
}

// Range is a half-open interval [Lo, Hi) of candidate indices.
type Range struct {
	Lo uint64 `json:"lo"`
	Hi uint64 `json:"hi"`
}

// Len returns Hi-Lo, or 0 for an empty range.
func (r Range) Len() uint64 {
	if r.Hi <= r.Lo {
		return 0
	}
	return r.Hi - r.Lo
}

// Split partitions [lo, hi) into at most parts contiguous, disjoint, non-empty
// ranges whose sizes differ by at most one.
func Split(lo, hi uint64, parts int) []Range {
	if hi <= lo || parts <= 0 {
		return nil
	}
	n := hi - lo
	if uint64(parts) > n {
		parts = int(n)
	}
	size := n / uint64(parts)
	extra := n % uint64(parts)
	out := make([]Range, 0, parts)
	start := lo
	for i := 0; i < parts; i++ {
		l := size
		if uint64(i) < extra {
			l++
		}
		out = append(out, Range{Lo: start, Hi: start + l})
		start += l
	}
	return out
}
