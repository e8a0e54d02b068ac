package transdata

// Hardware tunables. The values are empirical and carry no derivation.
const (
	// BlockBytes is the size of one aligned UB block.
	BlockBytes = 32
	// GoodBurstBytes is the transfer length beyond which a longer burst
	// stops paying off.
	GoodBurstBytes = 256
	// TransposeBlock is the row and column granule of the vector transpose.
	TransposeBlock = 16
	// UBFullPercent is the UB occupancy above which core balance is no
	// longer chased.
	UBFullPercent = 95.0
	// TailRatio is the tail/factor fraction below which the split-once
	// factor is rebalanced.
	TailRatio = 0.8

	bankStrideBlocks = 16
)

// axisSet is a bit set of tiling axis ids.
type axisSet uint16

func (s axisSet) has(axis int) bool { return s&(1<<axis) != 0 }

func setOf(axes []int) axisSet {
	var s axisSet
	for _, a := range axes {
		s |= 1 << a
	}

	return s
}

// problem is the working set of one UB search.
type problem struct {
	strategy Strategy
	branch   Branch

	dims []int64 // extent of each tiling axis
	in   []int   // input order, outermost first
	out  []int   // output order, outermost first

	denseIsIn  bool
	denseInner int // dense innermost axis

	reserved axisSet // axes never chosen as a split point
	onceOnly bool    // only split-once candidates

	align   int64
	granule int64 // rounding of the innermost axis of a UB tile
	good    int64 // good burst length in elements
	ubCap   int64
	coreNum int64

	borrow int   // borrowed axis, -1 when nothing is borrowed
	rows   int64 // resident borrowed rows, 1 when nothing is borrowed
}

// candidate is an (input axis, output axis) split pair that passed Filter.
type candidate struct {
	ub0, ub1 int // positions in the input and output order
	a, b     int // split axes on the input and output side

	tile     axisSet // axes resident in UB, split axes included
	innerIn  int64   // full extent inside a on the input side
	innerOut int64   // full extent inside b on the output side
	outer    int64   // extent of the axes outside the tile
}

func (c *candidate) once() bool { return c.a == c.b }

func (p *problem) product(s axisSet) int64 {
	prod := int64(1)
	for x, d := range p.dims {
		if s.has(x) {
			prod *= d
		}
	}

	return prod
}

// filter builds the candidate for (ub0, ub1) or rejects it.
func (p *problem) filter(ub0, ub1 int) (candidate, bool) {
	a, b := p.in[ub0], p.out[ub1]
	if p.reserved.has(a) || p.reserved.has(b) {
		return candidate{}, false
	}

	if p.onceOnly && a != b {
		return candidate{}, false
	}

	innerIn := setOf(p.in[ub0+1:])
	innerOut := setOf(p.out[ub1+1:])

	// A split axis cannot be fully resident on the other side.
	if a != b && (innerOut.has(a) || innerIn.has(b)) {
		return candidate{}, false
	}

	tile := innerIn | innerOut | 1<<a | 1<<b
	if p.borrow >= 0 && tile.has(p.borrow) {
		return candidate{}, false
	}

	// Common-align rows are padded one by one, so the dense innermost
	// axis stays whole. A single-axis tensor is one row.
	if p.branch == CommonAlign && len(p.dims) > 1 && (a == p.denseInner || b == p.denseInner) {
		return candidate{}, false
	}

	all := axisSet(1<<len(p.dims) - 1)
	c := candidate{
		ub0:      ub0,
		ub1:      ub1,
		a:        a,
		b:        b,
		tile:     tile,
		innerIn:  p.product(innerIn),
		innerOut: p.product(innerOut),
		outer:    p.product(all &^ tile),
	}

	if p.tileSize(&c, 1, 1) > p.ubCap {
		return candidate{}, false
	}

	return c, true
}

func (p *problem) extent(c *candidate, x int, fa, fb int64) int64 {
	switch x {
	case c.a:
		return fa
	case c.b:
		return fb
	default:
		return p.dims[x]
	}
}

// tileSize returns the UB elements one tile occupies, with the innermost
// axis of each layout rounded up to the granule.
func (p *problem) tileSize(c *candidate, fa, fb int64) int64 {
	side := func(order []int) int64 {
		size := int64(1)
		last := order[len(order)-1]

		for _, x := range order {
			if !c.tile.has(x) {
				continue
			}

			e := p.extent(c, x, fa, fb)
			if x == last {
				e = roundUp(e, p.granule)
			}

			size *= e
		}

		return size
	}

	return p.rows * max(side(p.in), side(p.out))
}

// units returns the number of UB iterations over the whole tensor.
func (p *problem) units(c *candidate, fa, fb int64) int64 {
	n := c.outer * ceilDiv(p.dims[c.a], fa)
	if !c.once() {
		n *= ceilDiv(p.dims[c.b], fb)
	}

	return n
}

// loops returns the iteration count of axis x outside the UB.
func (p *problem) loops(e *evaluated, x int) int64 {
	c := &e.cand

	switch {
	case !c.tile.has(x):
		return p.dims[x]
	case x == c.a:
		return ceilDiv(p.dims[x], e.fa)
	case x == c.b:
		return ceilDiv(p.dims[x], e.fb)
	default:
		return 1
	}
}

// fullRows returns the burst multiplier when axis a is moved whole: the
// borrowed rows are contiguous on the dense side if nothing but unit axes
// sits between the borrowed axis and a.
func (p *problem) fullRows(a int) int64 {
	if p.borrow < 0 || p.borrow > a {
		return 1
	}

	for x := p.borrow + 1; x < a; x++ {
		if p.dims[x] != 1 {
			return 1
		}
	}

	return p.rows
}

// position returns the index of axis x in order.
func position(order []int, x int) int {
	for i, o := range order {
		if o == x {
			return i
		}
	}

	return -1
}
