package transdata

import (
	"fmt"

	"github.com/example/go-transdata/internal/shape"
)

// Layout is the result of fusion and reshape inference.
//
// Dense is the unpadded tensor (the input when packing, the output when
// unpacking). Reshape is Dense after fusing and padding, in Dense axis
// order. Packed is Reshape permuted by CompileInfo.Permute.
type Layout struct {
	Dense   shape.Shape
	Fused   shape.Shape
	Reshape shape.Shape
	Packed  shape.Shape
	Permute []int

	// C1 and C0 are the reshape positions of a split channel axis, or -1.
	C1, C0 int
}

// Infer applies src_fuse, src_pad and permute to the dense shape.
func Infer(ci *CompileInfo, dense shape.Shape) (Layout, error) {
	if dense.IsUnknownRank() {
		return Layout{}, ErrUnknownRank
	}

	groups := ci.fuseGroups(dense.Rank())
	if err := checkFuse(groups, dense.Rank()); err != nil {
		return Layout{}, err
	}

	var (
		fused shape.Shape
		err   error
	)

	for _, g := range groups {
		fused, err = fused.Append(dense.ProductRange(g[0], g[len(g)-1]+1))
		if err != nil {
			return Layout{}, fmt.Errorf("%w: fuse: %w", ErrConfig, err)
		}
	}

	modes := ci.padModes(fused.Rank())
	if len(modes) != fused.Rank() {
		return Layout{}, fmt.Errorf("%w: src_pad has %d entries for %d fused axes", ErrConfig, len(modes), fused.Rank())
	}

	lay := Layout{Dense: dense, Fused: fused, Permute: ci.Permute, C1: -1, C0: -1}

	for i, m := range modes {
		d := fused.Dim(i)

		if (m == PadAlign || m == PadSplit) && ci.PadAlignSize <= 0 {
			return Layout{}, fmt.Errorf("%w: src_pad[%d]=%d needs a positive pad_align_size", ErrConfig, i, m)
		}

		switch m {
		case PadNone:
			lay.Reshape, err = lay.Reshape.Append(d)
		case PadAlign:
			lay.Reshape, err = lay.Reshape.Append(roundUp(d, ci.PadAlignSize))
		case PadSplit:
			lay.C1 = lay.Reshape.Rank()
			lay.C0 = lay.C1 + 1

			lay.Reshape, err = lay.Reshape.Append(ceilDiv(d, ci.PadAlignSize))
			if err == nil {
				lay.Reshape, err = lay.Reshape.Append(ci.PadAlignSize)
			}
		default:
			err = fmt.Errorf("unknown pad mode %d", m)
		}

		if err != nil {
			return Layout{}, fmt.Errorf("%w: pad axis %d: %w", ErrConfig, i, err)
		}
	}

	lay.Packed, err = lay.Reshape.Permute(ci.Permute)
	if err != nil {
		return Layout{}, fmt.Errorf("%w: permute: %w", ErrConfig, err)
	}

	return lay, nil
}

// Unpermute applies the inverse permutation to Packed, which yields
// Reshape again.
func (l Layout) Unpermute() (shape.Shape, error) {
	return l.Packed.Permute(shape.InversePermute(l.Permute))
}

// orders returns the reshape axis order of the input and output tensors,
// outermost first. The dense side is always in reshape order.
func (l Layout) orders(forward bool) (in, out []int) {
	identity := make([]int, l.Reshape.Rank())
	for i := range identity {
		identity[i] = i
	}

	packed := append([]int(nil), l.Permute...)
	if forward {
		return identity, packed
	}

	return packed, identity
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

func roundUp(a, b int64) int64 {
	return ceilDiv(a, b) * b
}
