package transdata

// Decimal weights of the tiling key fields, so a key reads digit by digit:
// strategy, branch, block axis, UB input axis, UB output axis, extra.
const (
	strategyWeight = 100000
	branchWeight   = 10000
	blockWeight    = 1000
	ub0Weight      = 100
	ub1Weight      = 10
)

// UnknownRankKey is the key of the record emitted for unknown-rank shapes.
const UnknownRankKey = 0

// Extra bits of the last key digit.
const (
	extraDataMove      = 1 // general: plain copy, no pad or transpose
	extraBankConflict  = 1 // borrow: pad rows to avoid bank conflicts
	extraLastTranspose = 2 // borrow: innermost axis is transposed
)

// RunInfo is the plan handed to the kernel dispatcher.
type RunInfo struct {
	TilingKey int64   `json:"tiling_key"`
	BlockDim  int64   `json:"block_dim"`
	Params    []int64 `json:"params"`

	Strategy Strategy    `json:"strategy"`
	Branch   Branch      `json:"branch"`
	Tiling   *TilingInfo `json:"tiling,omitempty"`
}

// tilingKey packs the decision fields into one decimal key.
func tilingKey(s Strategy, b Branch, blockIdx, ub0, ub1, extra int) int64 {
	return int64(int(s)+1)*strategyWeight +
		int64(b)*branchWeight +
		int64(blockIdx)*blockWeight +
		int64(ub0)*ub0Weight +
		int64(ub1)*ub1Weight +
		int64(extra)
}

// bankConflict reports whether rows of mainLen elements land on the same
// UB bank.
func bankConflict(mainLen, align int64) bool {
	return ceilDiv(mainLen, align)%bankStrideBlocks == 0
}

func (p *problem) extraBits(cls *Classification, ti *TilingInfo) int {
	if p.borrow < 0 {
		if cls.DataMove {
			return extraDataMove
		}

		return 0
	}

	extra := 0
	if cls.Transpose {
		extra |= extraLastTranspose
	}

	if bankConflict(ti.MainLen, p.align) {
		extra |= extraBankConflict
	}

	return extra
}

// encode builds the run info. The input-side UB axis is expressed by its
// position in the output order.
func (p *problem) encode(cls *Classification, ci *CompileInfo, ti TilingInfo) RunInfo {
	key := tilingKey(
		p.strategy,
		p.branch,
		ti.BlockIdx,
		position(p.out, ti.UBAxisIn),
		ti.UB1Idx,
		p.extraBits(cls, &ti),
	)

	params := []int64{ti.BlockFactor, ti.UBFactor0}
	if !ti.Once {
		params = append(params, ti.UBFactor1)
	}

	if p.borrow >= 0 {
		params = append(params, p.rows)
	}

	if !ci.IsConst {
		for _, x := range p.out {
			params = append(params, p.dims[x])
		}
	}

	return RunInfo{
		TilingKey: key,
		BlockDim:  ti.BlockDim,
		Params:    params,
		Strategy:  p.strategy,
		Branch:    p.branch,
		Tiling:    &ti,
	}
}
