package score

import (
	"math"
	"math/bits"
)

// u128 is an unsigned 128-bit accumulator.
type u128 struct {
	Hi uint64 `json:"hi"`
	Lo uint64 `json:"lo"`
}

func (a u128) add(b u128) u128 {
	lo, c := bits.Add64(a.Lo, b.Lo, 0)
	hi, _ := bits.Add64(a.Hi, b.Hi, c)
	return u128{Hi: hi, Lo: lo}
}

func (a u128) float() float64 {
	return float64(a.Hi)*0x1p64 + float64(a.Lo)
}

// Moments are exact integer sums over centered residues r_i:
// Count = m, Pos - Neg = Σ r_i, Sq = Σ r_i². Moments from disjoint batches
// merge by addition, so the statistic over many batches equals the statistic
// over their concatenation.
type Moments struct {
	Count uint64 `json:"count"`
	Pos   u128   `json:"pos"`
	Neg   u128   `json:"neg"`
	Sq    u128   `json:"sq"`
}

// Add accumulates one centered residue.
func (m *Moments) Add(r int64) {
	m.Count++
	var mag uint64
	if r < 0 {
		mag = uint64(-r)
		m.Neg = m.Neg.add(u128{Lo: mag})
	} else {
		mag = uint64(r)
		m.Pos = m.Pos.add(u128{Lo: mag})
	}
	hi, lo := bits.Mul64(mag, mag)
	m.Sq = m.Sq.add(u128{Hi: hi, Lo: lo})
}

// Merge adds o into m.
func (m *Moments) Merge(o Moments) {
	m.Count += o.Count
	m.Pos = m.Pos.add(o.Pos)
	m.Neg = m.Neg.add(o.Neg)
	m.Sq = m.Sq.add(o.Sq)
}

// StdDev returns the population standard deviation of the residues.
func (m Moments) StdDev() float64 {
	if m.Count == 0 {
		return 0
	}
	n := float64(m.Count)
	mean := (m.Pos.float() - m.Neg.float()) / n
	v := m.Sq.float()/n - mean*mean
	if v < 0 {
		v = 0
	}
	return math.Sqrt(v)
}

// UniformStdDev returns sqrt((q²-1)/12), the standard deviation of a uniform
// residue centered into (-q/2, q/2].
func UniformStdDev(q uint64) float64 {
	f := float64(q)
	return math.Sqrt((f*f - 1) / 12)
}

// Value turns moments into the distinguishing score 1 - σ/σ_U.
// Uniform residues score about 0; a correct guess, which leaves only the small
// reduced-coordinate contribution and the error, scores close to 1.
// Empty moments score 0.
func (m Moments) Value(q uint64) float64 {
	if m.Count == 0 {
		return 0
	}
	return 1 - m.StdDev()/UniformStdDev(q)
}

// Center maps a residue in [0, q) into (-q/2, q/2].
func Center(v, q uint64) int64 {
	if 2*v > q {
		return int64(v) - int64(q)
	}
	return int64(v)
}
