package transdata

import (
	"fmt"

	"github.com/example/go-transdata/internal/shape"
)

// Strategy selects one of the UB tiling engines.
type Strategy int

const (
	General Strategy = iota
	BorrowN
	BorrowH
)

var strategyNames = map[Strategy]string{
	General: "general",
	BorrowN: "borrow-n",
	BorrowH: "borrow-h",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}

	return fmt.Sprintf("strategy(%d)", int(s))
}

func (s Strategy) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Branch is the shape-alignment branch of the dense innermost axis.
type Branch int

const (
	// StorageAlign: the dense innermost dim is a multiple of the alignment.
	StorageAlign Branch = iota
	// CommonAlign: the dense innermost dim is unaligned and short; every
	// row is padded in UB.
	CommonAlign
	// RollbackAlign: the dense innermost dim is unaligned and long; the
	// last block of a row is moved back to stay aligned.
	RollbackAlign
)

var branchNames = map[Branch]string{
	StorageAlign:  "storage-align",
	CommonAlign:   "common-align",
	RollbackAlign: "rollback-align",
}

func (b Branch) String() string {
	if name, ok := branchNames[b]; ok {
		return name
	}

	return fmt.Sprintf("branch(%d)", int(b))
}

func (b Branch) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

// commonAlignBlocks bounds, in alignment blocks, the unaligned innermost
// length handled by CommonAlign.
const commonAlignBlocks = 8

// Classification is the plan selector produced by Classify.
type Classification struct {
	Strategy Strategy
	Branch   Branch
	// DataMove is set when there is neither padding nor transpose.
	DataMove bool
	// Transpose is set when the innermost axis differs between input and
	// output.
	Transpose bool
	Layout    Layout
}

// Classify decides the strategy, shape branch and transpose mode for the
// live shapes. The side that is not dense may be a rank-0 shape, in which
// case it is derived; otherwise it must match the derived shape.
func Classify(in, out shape.Shape, ci *CompileInfo) (Classification, error) {
	dense, packed := in, out
	if !ci.IsForward {
		dense, packed = out, in
	}

	if dense.IsUnknownRank() || packed.IsUnknownRank() {
		return Classification{}, ErrUnknownRank
	}

	if dense.Rank() == 0 {
		return Classification{}, fmt.Errorf("%w: dense shape is required", ErrConfig)
	}

	if err := ci.Validate(dense.Rank()); err != nil {
		return Classification{}, err
	}

	lay, err := Infer(ci, dense)
	if err != nil {
		return Classification{}, err
	}

	if packed.Rank() > 0 && !packed.Equal(lay.Packed) {
		return Classification{}, fmt.Errorf("%w: shape %v does not match derived shape %v", ErrConfig, packed, lay.Packed)
	}

	rank := lay.Reshape.Rank()
	cls := Classification{
		Layout:    lay,
		Transpose: ci.Permute[rank-1] != rank-1,
		DataMove:  shape.IsIdentity(ci.Permute) && !hasPad(ci.padModes(lay.Fused.Rank())),
	}

	inner := dense.Dim(-1)
	switch {
	case inner%ci.AlignSize == 0:
		cls.Branch = StorageAlign
	case inner <= commonAlignBlocks*ci.AlignSize:
		cls.Branch = CommonAlign
	default:
		cls.Branch = RollbackAlign
	}

	cls.Strategy = General

	// Borrowing only pays off when the dense innermost axis is a short,
	// unaligned channel.
	if cls.DataMove || cls.Branch != CommonAlign || lay.C0 != rank-1 {
		return cls, nil
	}

	switch {
	case ci.BorrowN != nil && lay.Reshape.Dim(ci.BorrowN.X1X0) > 1:
		cls.Strategy = BorrowN
	case ci.BorrowH != nil && lay.Reshape.Dim(ci.BorrowH.X1X0) > 1:
		cls.Strategy = BorrowH
	}

	return cls, nil
}

func hasPad(modes []int) bool {
	for _, m := range modes {
		if m != PadNone {
			return true
		}
	}

	return false
}
