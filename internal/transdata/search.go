package transdata

import "fmt"

// TilingInfo is the chosen UB and block split.
type TilingInfo struct {
	UB0Idx    int   `json:"ub_0_idx"` // split position in the input order
	UB1Idx    int   `json:"ub_1_idx"` // split position in the output order
	UBAxisIn  int   `json:"ub_axis_in"`
	UBAxisOut int   `json:"ub_axis_out"`
	UBFactor0 int64 `json:"ub_factor_0"`
	UBFactor1 int64 `json:"ub_factor_1"`
	Once      bool  `json:"once"`

	Core    int64   `json:"core"`       // UB iterations over the whole tensor
	Percent float64 `json:"ub_percent"` // UB occupancy of one tile
	MainLen int64   `json:"main_len"`   // shortest main transfer, in elements
	Rows    int64   `json:"rows,omitempty"`

	BlockIdx    int   `json:"blk_idx"` // position in the output order
	BlockAxis   int   `json:"blk_axis"`
	BlockFactor int64 `json:"blk_factor"`
	BlockDim    int64 `json:"blk_dim"`
}

// evaluated is a candidate with its factors chosen.
type evaluated struct {
	cand    candidate
	fa, fb  int64
	units   int64
	size    int64
	percent float64
	mainLen int64
	search  *factorSearch // split-once search, kept for fine tuning
}

func (p *problem) evaluate(c candidate) (evaluated, bool) {
	if c.once() {
		return p.evaluateOnce(c)
	}

	return p.evaluateTwice(c)
}

func (p *problem) evaluateOnce(c candidate) (evaluated, bool) {
	in := side{inner: c.innerIn, fullRows: 1}
	out := side{inner: c.innerOut, fullRows: 1}

	if p.denseIsIn {
		in.fullRows = p.fullRows(c.a)
	} else {
		out.fullRows = p.fullRows(c.a)
	}

	s := &factorSearch{
		extent: p.dims[c.a],
		sides:  []side{in, out},
		align:  p.align,
		good:   p.good,
		fits:   func(f int64) bool { return p.tileSize(&c, f, f) <= p.ubCap },
		units:  func(f int64) int64 { return p.units(&c, f, f) },
	}

	f, ok := s.first()
	if !ok {
		return evaluated{}, false
	}

	f = s.grow(f, p.coreNum)

	return p.result(c, f, f, s), true
}

// evaluateTwice searches the load factor with the store factor at one,
// then the store factor, then enlarges each in turn while the other is
// fixed.
func (p *problem) evaluateTwice(c candidate) (evaluated, bool) {
	fa, fb := int64(1), int64(1)

	load := &factorSearch{
		extent: p.dims[c.a],
		sides:  []side{{inner: c.innerIn, fullRows: 1}},
		align:  p.align,
		good:   p.good,
		fits:   func(f int64) bool { return p.tileSize(&c, f, fb) <= p.ubCap },
		units:  func(f int64) int64 { return p.units(&c, f, fb) },
	}
	store := &factorSearch{
		extent: p.dims[c.b],
		sides:  []side{{inner: c.innerOut, fullRows: 1}},
		align:  p.align,
		good:   p.good,
		fits:   func(f int64) bool { return p.tileSize(&c, fa, f) <= p.ubCap },
		units:  func(f int64) int64 { return p.units(&c, fa, f) },
	}

	var ok bool
	if fa, ok = load.first(); !ok {
		return evaluated{}, false
	}

	if fb, ok = store.first(); !ok {
		return evaluated{}, false
	}

	fa = load.grow(fa, p.coreNum)
	fb = store.grow(fb, p.coreNum)

	return p.result(c, fa, fb, nil), true
}

func (p *problem) result(c candidate, fa, fb int64, s *factorSearch) evaluated {
	e := evaluated{
		cand:   c,
		fa:     fa,
		fb:     fb,
		units:  p.units(&c, fa, fb),
		size:   p.tileSize(&c, fa, fb),
		search: s,
	}

	e.percent = 100 * float64(e.size) / float64(p.ubCap)

	if s != nil {
		e.mainLen = s.mainLen(fa)
	} else {
		e.mainLen = min(fa*c.innerIn, fb*c.innerOut)
	}

	return e
}

// distance is how far the candidate lands from the core count. Once the
// UB is nearly full, extra iterations beyond the core count are not
// counted against it.
func (p *problem) distance(e *evaluated) int64 {
	eff := e.units
	if e.percent > UBFullPercent {
		eff = min(eff, p.coreNum)
	}

	d := eff - p.coreNum
	if d < 0 {
		return -d
	}

	return d
}

func (p *problem) better(x, y *evaluated) bool {
	dx, dy := p.distance(x), p.distance(y)
	if dx != dy {
		return dx < dy
	}

	xOnce, yOnce := x.cand.once(), y.cand.once()
	if xOnce != yOnce {
		return xOnce
	}

	return xOnce && x.mainLen > y.mainLen
}

// searchUB enumerates every (input, output) split pair and keeps the best.
func (p *problem) searchUB() (evaluated, error) {
	var (
		best  evaluated
		found bool
	)

	for ub0 := range p.in {
		for ub1 := range p.out {
			c, ok := p.filter(ub0, ub1)
			if !ok {
				continue
			}

			e, ok := p.evaluate(c)
			if !ok {
				continue
			}

			if !found || p.better(&e, &best) {
				best, found = e, true
			}
		}
	}

	if !found {
		return evaluated{}, fmt.Errorf("%w: %s/%s has no axis pair within %d UB elements", ErrInfeasible, p.strategy, p.branch, p.ubCap)
	}

	if best.search != nil {
		if f := best.search.fineTune(best.fa); f != best.fa {
			best = p.result(best.cand, f, f, best.search)
		}
	}

	return best, nil
}

// blockTiling spreads the iterations outside the UB over the cores, walking
// the output order from the outermost axis.
func (p *problem) blockTiling(e *evaluated) (idx int, factor, dim int64) {
	factor, dim = 1, 1

	for pos, x := range p.out {
		if dim >= p.coreNum {
			break
		}

		n := p.loops(e, x)
		if n == 1 {
			continue
		}

		idx = pos

		if dim*n <= p.coreNum {
			dim *= n
			factor = 1

			continue
		}

		// Smallest factor whose chunk count keeps the product within the
		// core count.
		factor = ceilDiv(n, p.coreNum/dim)
		dim *= ceilDiv(n, factor)

		break
	}

	return idx, factor, dim
}

func (p *problem) tilingInfo(e *evaluated) TilingInfo {
	c := &e.cand
	ti := TilingInfo{
		UB0Idx:    c.ub0,
		UB1Idx:    c.ub1,
		UBAxisIn:  c.a,
		UBAxisOut: c.b,
		UBFactor0: e.fa,
		UBFactor1: e.fb,
		Once:      c.once(),
		Core:      e.units,
		Percent:   e.percent,
		MainLen:   e.mainLen,
	}

	if p.borrow >= 0 {
		ti.Rows = p.rows
	}

	ti.BlockIdx, ti.BlockFactor, ti.BlockDim = p.blockTiling(e)
	ti.BlockAxis = p.out[ti.BlockIdx]

	return ti
}
