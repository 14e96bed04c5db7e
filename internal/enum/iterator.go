package enum

// Iterator walks a contiguous index range of a Space in canonical order.
// It is not safe for concurrent use; each worker owns its own Iterator.
type Iterator struct {
	s       *Space
	next    uint64
	end     uint64
	w       int
	support []int
	signs   uint64
}

// Iterator returns an iterator over [lo, hi), clamped to the space.
func (s *Space) Iterator(lo, hi uint64) *Iterator {
	if hi > s.total {
		hi = s.total
	}
	it := &Iterator{s: s, end: hi}
	it.SkipTo(lo)
	return it
}

// SkipTo positions the iterator so that the next candidate has the given
// index. It unranks the position directly instead of replaying the sequence.
func (it *Iterator) SkipTo(index uint64) {
	it.next = index
	if index >= it.end {
		return
	}
	w, sr, signs, err := it.s.locate(index)
	if err != nil {
		it.next = it.end
		return
	}
	it.w = w
	it.support = make([]int, w)
	unrankSupport(it.support, it.s.p.Dim, sr)
	it.signs = signs
}

// Pos returns the index of the next candidate Next would return.
func (it *Iterator) Pos() uint64 { return it.next }

// Remaining returns how many candidates are left.
func (it *Iterator) Remaining() uint64 {
	if it.next >= it.end {
		return 0
	}
	return it.end - it.next
}

// Next returns the next candidate, or false once the range is exhausted.
func (it *Iterator) Next() (Candidate, bool) {
	if it.next >= it.end {
		return Candidate{}, false
	}
	support := make([]int, len(it.support))
	copy(support, it.support)
	c := newCandidate(it.next, support, it.signs)
	it.next++
	if it.next < it.end {
		it.advance()
	}
	return c, true
}

func (it *Iterator) advance() {
	it.signs++
	if it.signs < it.s.signPatterns(it.w) {
		return
	}
	it.signs = 0
	if nextCombination(it.support, it.s.p.Dim) {
		return
	}
	it.w++
	it.support = make([]int, it.w)
	for i := range it.support {
		it.support[i] = i
	}
}

// nextCombination advances c to the lexicographically next k-subset of
// {0..n-1}, reporting false when c was the last one.
func nextCombination(c []int, n int) bool {
	k := len(c)
	i := k - 1
	for i >= 0 && c[i] == n-k+i {
		i--
	}
	if i < 0 {
		return false
	}
	c[i]++
	for j := i + 1; j < k; j++ {
		c[j] = c[j-1] + 1
	}
	return true
}
