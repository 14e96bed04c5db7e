package enum

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, s *Space, lo, hi uint64) []Candidate {
	t.Helper()
	var out []Candidate
	it := s.Iterator(lo, hi)
	for {
		c, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, c)
	}
}

func TestTotalCount_Scenario(t *testing.T) {
	n, err := TotalCount(4, 1, 2, Binary)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), n)

	s, err := NewSpace(Params{Dim: 4, MinHW: 1, MaxHW: 2, Alphabet: Binary})
	require.NoError(t, err)
	assert.Len(t, collect(t, s, 0, s.Total()), 10)
}

func TestTotalCount_MatchesEnumeration(t *testing.T) {
	for _, p := range []Params{
		{Dim: 6, MinHW: 0, MaxHW: 3, Alphabet: Binary},
		{Dim: 5, MinHW: 1, MaxHW: 5, Alphabet: Binary},
		{Dim: 5, MinHW: 1, MaxHW: 3, Alphabet: Ternary},
		{Dim: 7, MinHW: 2, MaxHW: 2, Alphabet: Ternary},
	} {
		s, err := NewSpace(p)
		require.NoError(t, err)
		got := collect(t, s, 0, s.Total())
		assert.Equal(t, int(s.Total()), len(got), "params %+v", p)

		seen := map[string]bool{}
		for i, c := range got {
			assert.Equal(t, uint64(i), c.Index)
			assert.False(t, seen[c.String()], "duplicate %s", c)
			seen[c.String()] = true
			assert.GreaterOrEqual(t, c.Weight(), p.MinHW)
			assert.LessOrEqual(t, c.Weight(), p.MaxHW)
		}
	}
}

func TestTernaryCount(t *testing.T) {
	// C(5,1)*2 + C(5,2)*4 = 10 + 40
	n, err := TotalCount(5, 1, 2, Ternary)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), n)

	_, err = TotalCount(64, 0, 64, Ternary)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestCanonicalOrder(t *testing.T) {
	s, err := NewSpace(Params{Dim: 4, MinHW: 1, MaxHW: 2, Alphabet: Binary})
	require.NoError(t, err)
	var got []string
	for _, c := range collect(t, s, 0, s.Total()) {
		got = append(got, c.String())
	}
	want := []string{
		"{+0}", "{+1}", "{+2}", "{+3}",
		"{+0,+1}", "{+0,+2}", "{+0,+3}", "{+1,+2}", "{+1,+3}", "{+2,+3}",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestTernarySignOrder(t *testing.T) {
	s, err := NewSpace(Params{Dim: 3, MinHW: 2, MaxHW: 2, Alphabet: Ternary})
	require.NoError(t, err)
	var got []string
	for _, c := range collect(t, s, 0, 4) {
		got = append(got, c.String())
	}
	assert.Equal(t, []string{"{+0,+1}", "{-0,+1}", "{+0,-1}", "{-0,-1}"}, got)
}

func TestSplitRangesMatchFullRun(t *testing.T) {
	s, err := NewSpace(Params{Dim: 8, MinHW: 1, MaxHW: 3, Alphabet: Ternary})
	require.NoError(t, err)
	full := collect(t, s, 0, s.Total())

	mid := s.Total() / 3
	joined := append(collect(t, s, 0, mid), collect(t, s, mid, s.Total())...)
	if diff := cmp.Diff(full, joined); diff != "" {
		t.Fatalf("adjacent ranges differ from full run (-full +joined):\n%s", diff)
	}

	var parts []Candidate
	for _, r := range Split(0, s.Total(), 7) {
		parts = append(parts, collect(t, s, r.Lo, r.Hi)...)
	}
	assert.Equal(t, full, parts)
}

func TestDeterministicAcrossRuns(t *testing.T) {
	p := Params{Dim: 6, MinHW: 1, MaxHW: 3, Alphabet: Ternary}
	s1, err := NewSpace(p)
	require.NoError(t, err)
	s2, err := NewSpace(p)
	require.NoError(t, err)
	assert.Equal(t, collect(t, s1, 0, s1.Total()), collect(t, s2, 0, s2.Total()))
}

func TestAtMatchesIterator(t *testing.T) {
	s, err := NewSpace(Params{Dim: 7, MinHW: 0, MaxHW: 3, Alphabet: Ternary})
	require.NoError(t, err)
	for i, c := range collect(t, s, 0, s.Total()) {
		at, err := s.At(uint64(i))
		require.NoError(t, err)
		assert.True(t, at.Equal(c), "index %d: %s vs %s", i, at, c)
	}
	_, err = s.At(s.Total())
	assert.ErrorIs(t, err, ErrIndex)
}

func TestSkipTo(t *testing.T) {
	s, err := NewSpace(Params{Dim: 10, MinHW: 1, MaxHW: 4, Alphabet: Binary})
	require.NoError(t, err)
	it := s.Iterator(0, s.Total())
	it.SkipTo(300)
	c, ok := it.Next()
	require.True(t, ok)
	want, err := s.At(300)
	require.NoError(t, err)
	assert.True(t, want.Equal(c))
	assert.Equal(t, uint64(301), it.Pos())
	assert.Equal(t, s.Total()-301, it.Remaining())
}

func TestSplit(t *testing.T) {
	rs := Split(3, 13, 4)
	assert.Equal(t, []Range{{3, 6}, {6, 9}, {9, 11}, {11, 13}}, rs)
	assert.Len(t, Split(0, 2, 5), 2)
	assert.Nil(t, Split(5, 5, 3))
}

func TestCandidateVector(t *testing.T) {
	c := newCandidate(0, []int{1, 3}, 0b10)
	assert.Equal(t, []int8{0, 1, 0, -1}, c.Vector(4))
	assert.Equal(t, "{+1,-3}", c.String())
}
