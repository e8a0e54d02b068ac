// Package testutil provides shared compile-info fixtures and file helpers
// for tests.
//
// The fixtures mirror the layout transforms used across the test suites:
//
//	ci := testutil.NCHWToNC1HWC0(16)
//	ri, err := transdata.Tile(ci, shape.MustNew(16, 192, 3136), shape.Shape{})
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-transdata/internal/transdata"
)

// DefaultCoreNum is the core count used by the fixtures.
const DefaultCoreNum = 32

// DefaultUBElems is the UB capacity, in elements, used by the fixtures.
const DefaultUBElems = 8192

// UBInfo returns a full [strategy][branch] table holding elems everywhere.
func UBInfo(elems int64) [][]int64 {
	table := make([][]int64, 3)
	for i := range table {
		table[i] = []int64{elems, elems, elems}
	}

	return table
}

// NCHWToNC1HWC0 packs a {N, C, H*W} tensor into {N, C1, H*W, C0}.
func NCHWToNC1HWC0(align int64) *transdata.CompileInfo {
	return &transdata.CompileInfo{
		IsForward:    true,
		AlignSize:    align,
		PadAlignSize: 16,
		CoreNum:      DefaultCoreNum,
		SrcPad:       []int{0, 2, 0},
		Permute:      []int{0, 1, 3, 2},
		UBInfo:       UBInfo(DefaultUBElems),
	}
}

// NC1HWC0ToNHWC unpacks a {N, C1, H, W, C0} tensor into {N, H, W, C}, with
// a Borrow-N table on the batch axis and a Borrow-H table on H.
func NC1HWC0ToNHWC(align int64) *transdata.CompileInfo {
	return &transdata.CompileInfo{
		IsForward:    false,
		AlignSize:    align,
		PadAlignSize: 16,
		CoreNum:      DefaultCoreNum,
		SrcPad:       []int{0, 0, 0, 2},
		Permute:      []int{0, 3, 1, 2, 4},
		UBInfo:       UBInfo(DefaultUBElems),
		BorrowN:      &transdata.BorrowTable{X1X0: 0, C1C0: [2]int{3, 4}},
		BorrowH:      &transdata.BorrowTable{X1X0: 1, C1C0: [2]int{3, 4}},
	}
}

// Copy2D moves a {rows, cols} tensor unchanged.
func Copy2D(align int64) *transdata.CompileInfo {
	return &transdata.CompileInfo{
		IsForward: true,
		AlignSize: align,
		CoreNum:   DefaultCoreNum,
		SrcPad:    []int{0, 0},
		Permute:   []int{0, 1},
		UBInfo:    UBInfo(DefaultUBElems),
	}
}

// Transpose2D swaps the two axes of a {rows, cols} tensor.
func Transpose2D(align int64) *transdata.CompileInfo {
	return &transdata.CompileInfo{
		IsForward: true,
		AlignSize: align,
		CoreNum:   DefaultCoreNum,
		SrcPad:    []int{0, 0},
		Permute:   []int{1, 0},
		UBInfo:    UBInfo(DefaultUBElems),
	}
}

// ConstReplay returns a compile info that replays a cached const tiling.
func ConstReplay(blockDim int64) *transdata.CompileInfo {
	return &transdata.CompileInfo{
		IsConst:        true,
		IsConstCompile: false,
		ConstBlockDims: map[string]int64{"123": blockDim},
	}
}

// WriteCompileInfo writes ci as JSON under dir and returns the path.
func WriteCompileInfo(tb testing.TB, dir, name string, ci *transdata.CompileInfo) string {
	tb.Helper()

	data, err := json.MarshalIndent(ci, "", "  ")
	if err != nil {
		tb.Fatalf("marshal compile info: %v", err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		tb.Fatalf("write compile info: %v", err)
	}

	return path
}

// WriteFile writes data to dir/name and returns the path.
func WriteFile(tb testing.TB, dir, name, data string) string {
	tb.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		tb.Fatalf("write %s: %v", name, err)
	}

	return path
}
