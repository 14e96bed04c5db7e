package enum

import (
	"strconv"
	"strings"
)

// Candidate is a low-weight secret guess for the brute-forced coordinates.
// It is a value object and must not be modified after creation.
type Candidate struct {
	Index   uint64 `json:"index"`   // position in the canonical order
	Support []int  `json:"support"` // nonzero coordinates, ascending
	Signs   []int8 `json:"signs"`   // +1 or -1 per support entry
}

func newCandidate(index uint64, support []int, pattern uint64) Candidate {
	signs := make([]int8, len(support))
	for i := range signs {
		if pattern>>uint(i)&1 == 1 {
			signs[i] = -1
		} else {
			signs[i] = 1
		}
	}
	return Candidate{Index: index, Support: support, Signs: signs}
}

// Weight returns the Hamming weight.
func (c Candidate) Weight() int { return len(c.Support) }

// Vector expands the candidate to a dense vector of length dim.
func (c Candidate) Vector(dim int) []int8 {
	v := make([]int8, dim)
	for i, j := range c.Support {
		v[j] = c.Signs[i]
	}
	return v
}

// Equal reports whether c and o describe the same secret guess.
func (c Candidate) Equal(o Candidate) bool {
	if len(c.Support) != len(o.Support) {
		return false
	}
	for i := range c.Support {
		if c.Support[i] != o.Support[i] || c.Signs[i] != o.Signs[i] {
			return false
		}
	}
	return true
}

// String renders the candidate as "{+3,-7}" (empty support: "{}").
func (c Candidate) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, j := range c.Support {
		if i > 0 {
			sb.WriteByte(',')
		}
		if c.Signs[i] < 0 {
			sb.WriteByte('-')
		} else {
			sb.WriteByte('+')
		}
		sb.WriteString(strconv.Itoa(j))
	}
	sb.WriteByte('}')
	return sb.String()
}
