package transdata

// side is one transfer direction of a split axis. inner is the contiguous
// extent inside the split axis; fullRows multiplies the burst when the
// whole axis is resident.
type side struct {
	inner    int64
	fullRows int64
}

// factorSearch finds a UB factor for one split axis.
type factorSearch struct {
	extent int64
	sides  []side
	align  int64
	good   int64
	fits   func(f int64) bool
	units  func(f int64) int64
}

// realLen returns the contiguous elements moved for n entries of the
// split axis on sd.
func (s *factorSearch) realLen(sd side, n int64) int64 {
	l := n * sd.inner
	if n == s.extent {
		l *= sd.fullRows
	}

	return l
}

// legal reports whether f leaves a tail that is zero or at least one
// block, and a main transfer of at least one block unless a single
// iteration covers the whole tensor.
func (s *factorSearch) legal(f int64) bool {
	tail := s.extent % f
	single := s.units(f) == 1

	for _, sd := range s.sides {
		if tail != 0 && s.realLen(sd, tail) < s.align {
			return false
		}

		if !single && s.realLen(sd, f) < s.align {
			return false
		}
	}

	return true
}

// mainLen returns the shortest main transfer over all sides.
func (s *factorSearch) mainLen(f int64) int64 {
	shortest := int64(-1)
	for _, sd := range s.sides {
		if l := s.realLen(sd, f); shortest < 0 || l < shortest {
			shortest = l
		}
	}

	return shortest
}

// first returns the smallest legal factor that reaches a good burst, or
// the largest legal factor that fits when none does.
func (s *factorSearch) first() (int64, bool) {
	best := int64(0)

	for f := int64(1); f <= s.extent && s.fits(f); f++ {
		if !s.legal(f) {
			continue
		}

		best = f
		if s.mainLen(f) >= s.good {
			return f, true
		}
	}

	return best, best > 0
}

// grow enlarges f while it still fits and the iteration count stays at or
// above coreNum.
func (s *factorSearch) grow(f, coreNum int64) int64 {
	for g := f + 1; g <= s.extent && s.fits(g) && s.units(g) >= coreNum; g++ {
		if s.legal(g) {
			f = g
		}
	}

	return f
}

// fineTune spreads a short tail evenly over the same number of loops.
func (s *factorSearch) fineTune(f int64) int64 {
	tail := s.extent % f
	if tail == 0 || float64(tail)/float64(f) >= TailRatio {
		return f
	}

	g := ceilDiv(s.extent, ceilDiv(s.extent, f))
	if g < f && s.legal(g) {
		return g
	}

	return f
}
