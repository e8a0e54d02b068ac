package transdata

import "fmt"

// tilingStrategy builds the UB search problem for one strategy. The search
// itself is shared; strategies differ in which axes they borrow, reserve
// and allow to split.
type tilingStrategy interface {
	Kind() Strategy
	problem(cls *Classification, ci *CompileInfo, branch Branch) (*problem, error)
}

func newStrategy(kind Strategy, ci *CompileInfo) (tilingStrategy, error) {
	switch kind {
	case General:
		return generalStrategy{}, nil
	case BorrowN:
		if ci.BorrowN == nil {
			return nil, fmt.Errorf("%w: %s requires the bn table", ErrConfig, kind)
		}

		return borrowStrategy{kind: kind, table: ci.BorrowN}, nil
	case BorrowH:
		if ci.BorrowH == nil {
			return nil, fmt.Errorf("%w: %s requires the bh table", ErrConfig, kind)
		}

		return borrowStrategy{kind: kind, table: ci.BorrowH}, nil
	default:
		return nil, fmt.Errorf("%w: unknown strategy %d", ErrConfig, int(kind))
	}
}

// baseProblem fills the fields every strategy shares.
func baseProblem(kind Strategy, cls *Classification, ci *CompileInfo, branch Branch) (*problem, error) {
	ubCap, err := ci.ubCapacity(kind, branch)
	if err != nil {
		return nil, err
	}

	lay := cls.Layout
	in, out := lay.orders(ci.IsForward)

	p := &problem{
		strategy:   kind,
		branch:     branch,
		dims:       lay.Reshape.Dims(),
		in:         in,
		out:        out,
		denseIsIn:  ci.IsForward,
		denseInner: lay.Reshape.Rank() - 1,
		align:      ci.AlignSize,
		granule:    ci.AlignSize,
		good:       GoodBurstBytes * ci.AlignSize / BlockBytes,
		ubCap:      ubCap,
		coreNum:    ci.CoreNum,
		borrow:     -1,
		rows:       1,
	}

	if lay.C1 >= 0 {
		p.reserved = setOf([]int{lay.C1, lay.C0})
	}

	return p, nil
}

type generalStrategy struct{}

func (generalStrategy) Kind() Strategy { return General }

func (generalStrategy) problem(cls *Classification, ci *CompileInfo, branch Branch) (*problem, error) {
	p, err := baseProblem(General, cls, ci, branch)
	if err != nil {
		return nil, err
	}

	if cls.Transpose {
		p.granule = max(p.align, TransposeBlock)
	}

	return p, nil
}

// borrowStrategy folds x0 rows of one outer axis into the vector
// transpose. The borrowed axis keeps only its x1 extent in the search and
// every tile carries x0 rows.
type borrowStrategy struct {
	kind  Strategy
	table *BorrowTable
}

func (s borrowStrategy) Kind() Strategy { return s.kind }

func (s borrowStrategy) problem(cls *Classification, ci *CompileInfo, branch Branch) (*problem, error) {
	p, err := baseProblem(s.kind, cls, ci, branch)
	if err != nil {
		return nil, err
	}

	x := s.table.X1X0
	if x < 0 || x >= len(p.dims) {
		return nil, fmt.Errorf("%w: %s axis %d out of range", ErrConfig, s.kind, x)
	}

	x0 := min(p.dims[x], borrowRows(ci.AlignSize))
	p.dims[x] = ceilDiv(p.dims[x], x0)
	p.rows = x0
	p.borrow = x
	p.reserved |= 1 << x
	p.onceOnly = true
	p.granule = max(p.align, TransposeBlock)

	if len(s.table.Permute) > 0 {
		perm := append([]int(nil), s.table.Permute...)
		if ci.IsForward {
			p.out = perm
		} else {
			p.in = perm
		}
	}

	return p, nil
}

// borrowRows is the number of rows one vector transpose takes. Types
// narrower than 16 bits are reinterpreted so a block still holds whole rows.
func borrowRows(align int64) int64 {
	return max(TransposeBlock, align)
}
