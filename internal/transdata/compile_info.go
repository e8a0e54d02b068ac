package transdata

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/example/go-transdata/internal/shape"
)

// Pad modes for CompileInfo.SrcPad.
const (
	PadNone  = 0 // copy the axis through
	PadAlign = 1 // round the axis up to PadAlignSize
	PadSplit = 2 // split the axis into (C1, C0) with C0 = PadAlignSize
)

// ConstKey is the tiling key replayed for shapes known at compile time.
const ConstKey = 123

// BorrowTable names the axes a borrow strategy works with. Axis indices
// refer to the reshape (fused and padded) axis list.
type BorrowTable struct {
	// X1X0 is the axis split into (x1, x0) so x0 rows feed one vector
	// transpose.
	X1X0 int `json:"x1x0"`
	// C1C0 are the channel split axes; they must match the PadSplit axis.
	C1C0 [2]int `json:"c1c0"`
	// Permute optionally overrides the output order of the tiling axes.
	Permute []int `json:"permute,omitempty"`
}

// CompileInfo holds the static layout-transform parameters produced once
// per operator instance. It is read-only once validated.
type CompileInfo struct {
	IsForward    bool  `json:"is_forward"`
	AlignSize    int64 `json:"align_size"`
	PadAlignSize int64 `json:"pad_align_size"`
	CoreNum      int64 `json:"core_num"`

	SrcPad  []int   `json:"src_pad"`
	SrcFuse [][]int `json:"src_fuse,omitempty"`
	Permute []int   `json:"permute"`

	// UBInfo is the UB capacity in elements indexed by [Strategy][Branch].
	UBInfo [][]int64 `json:"ub_info"`

	BorrowN *BorrowTable `json:"bn,omitempty"`
	BorrowH *BorrowTable `json:"bh,omitempty"`

	IsConst        bool             `json:"is_const"`
	IsConstCompile bool             `json:"is_const_compile"`
	ConstBlockDims map[string]int64 `json:"const_block_dims,omitempty"`
}

// ParseCompileInfo decodes a JSON compile info.
func ParseCompileInfo(data []byte) (*CompileInfo, error) {
	var ci CompileInfo
	if err := json.Unmarshal(data, &ci); err != nil {
		return nil, fmt.Errorf("decode compile info: %w", err)
	}

	return &ci, nil
}

// LoadCompileInfo reads and decodes a JSON compile info file.
func LoadCompileInfo(path string) (*CompileInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read compile info: %w", err)
	}

	return ParseCompileInfo(data)
}

// constReplay reports whether tiling is replayed from ConstBlockDims.
func (ci *CompileInfo) constReplay() bool {
	return ci.IsConst && !ci.IsConstCompile
}

// fuseGroups returns the fuse plan for a dense shape of the given rank.
// An empty SrcFuse keeps every axis on its own.
func (ci *CompileInfo) fuseGroups(rank int) [][]int {
	if len(ci.SrcFuse) > 0 {
		return ci.SrcFuse
	}

	groups := make([][]int, rank)
	for i := range groups {
		groups[i] = []int{i}
	}

	return groups
}

// padModes returns the pad mode of each fused axis.
func (ci *CompileInfo) padModes(fusedRank int) []int {
	if len(ci.SrcPad) > 0 {
		return ci.SrcPad
	}

	return make([]int, fusedRank)
}

// reshapeRank returns the rank after fusing and padding.
func (ci *CompileInfo) reshapeRank(denseRank int) int {
	fused := len(ci.fuseGroups(denseRank))

	r := fused
	for _, m := range ci.padModes(fused) {
		if m == PadSplit {
			r++
		}
	}

	return r
}

// Validate checks the tables against a dense shape of rank denseRank.
func (ci *CompileInfo) Validate(denseRank int) error {
	if ci.AlignSize <= 0 {
		return fmt.Errorf("%w: align_size must be positive, got %d", ErrConfig, ci.AlignSize)
	}

	if ci.CoreNum < 1 {
		return fmt.Errorf("%w: core_num must be at least 1, got %d", ErrConfig, ci.CoreNum)
	}

	groups := ci.fuseGroups(denseRank)
	if err := checkFuse(groups, denseRank); err != nil {
		return err
	}

	modes := ci.padModes(len(groups))
	if len(modes) != len(groups) {
		return fmt.Errorf("%w: src_pad has %d entries for %d fused axes", ErrConfig, len(modes), len(groups))
	}

	splits := 0
	for i, m := range modes {
		switch m {
		case PadNone:
		case PadAlign, PadSplit:
			if ci.PadAlignSize <= 0 {
				return fmt.Errorf("%w: src_pad[%d]=%d needs a positive pad_align_size", ErrConfig, i, m)
			}

			if m == PadSplit {
				splits++
			}
		default:
			return fmt.Errorf("%w: src_pad[%d] has unknown mode %d", ErrConfig, i, m)
		}
	}

	if splits > 1 {
		return fmt.Errorf("%w: at most one axis may be split into C1/C0, got %d", ErrConfig, splits)
	}

	rank := ci.reshapeRank(denseRank)
	if rank > shape.MaxDim {
		return fmt.Errorf("%w: reshape rank %d exceeds %d", ErrConfig, rank, shape.MaxDim)
	}

	if err := shape.CheckPermutation(ci.Permute, rank); err != nil {
		return fmt.Errorf("%w: permute: %w", ErrConfig, err)
	}

	if _, err := ci.ubCapacity(General, StorageAlign); err != nil {
		return err
	}

	c1, c0 := splitAxes(modes)
	for _, b := range []struct {
		name  string
		kind  Strategy
		table *BorrowTable
	}{
		{"bn", BorrowN, ci.BorrowN},
		{"bh", BorrowH, ci.BorrowH},
	} {
		if b.table == nil {
			continue
		}

		if err := b.table.check(b.name, rank, c1, c0); err != nil {
			return err
		}

		if _, err := ci.ubCapacity(b.kind, CommonAlign); err != nil {
			return err
		}
	}

	return nil
}

func checkFuse(groups [][]int, denseRank int) error {
	next := 0
	for gi, g := range groups {
		if len(g) == 0 {
			return fmt.Errorf("%w: src_fuse group %d is empty", ErrConfig, gi)
		}

		for _, axis := range g {
			if axis != next {
				return fmt.Errorf("%w: src_fuse group %d is not a contiguous run (axis %d, want %d)", ErrConfig, gi, axis, next)
			}

			next++
		}
	}

	if next != denseRank {
		return fmt.Errorf("%w: src_fuse covers %d axes, shape has %d", ErrConfig, next, denseRank)
	}

	return nil
}

func (b *BorrowTable) check(name string, rank, c1, c0 int) error {
	if c1 < 0 {
		return fmt.Errorf("%w: %s table needs a C1/C0 split axis", ErrConfig, name)
	}

	if b.X1X0 < 0 || b.X1X0 >= rank {
		return fmt.Errorf("%w: %s x1x0 axis %d out of range for rank %d", ErrConfig, name, b.X1X0, rank)
	}

	if b.C1C0 != [2]int{c1, c0} {
		return fmt.Errorf("%w: %s c1c0 %v does not match split axes [%d %d]", ErrConfig, name, b.C1C0, c1, c0)
	}

	if b.X1X0 == c1 || b.X1X0 == c0 {
		return fmt.Errorf("%w: %s borrows channel axis %d", ErrConfig, name, b.X1X0)
	}

	if len(b.Permute) > 0 {
		if err := shape.CheckPermutation(b.Permute, rank); err != nil {
			return fmt.Errorf("%w: %s permute: %w", ErrConfig, name, err)
		}
	}

	return nil
}

// splitAxes returns the reshape positions of C1 and C0, or -1, -1.
func splitAxes(modes []int) (c1, c0 int) {
	pos := 0
	for _, m := range modes {
		if m == PadSplit {
			return pos, pos + 1
		}

		pos++
	}

	return -1, -1
}

func (ci *CompileInfo) ubCapacity(s Strategy, b Branch) (int64, error) {
	if int(s) >= len(ci.UBInfo) || int(b) >= len(ci.UBInfo[s]) {
		return 0, fmt.Errorf("%w: ub_info has no entry for %s/%s", ErrConfig, s, b)
	}

	capacity := ci.UBInfo[s][b]
	if capacity <= 0 {
		return 0, fmt.Errorf("%w: ub_info[%s][%s] must be positive, got %d", ErrConfig, s, b, capacity)
	}

	return capacity, nil
}

// withCoreNum returns a copy of ci using n cores.
func (ci *CompileInfo) withCoreNum(n int64) *CompileInfo {
	dup := *ci
	dup.CoreNum = n

	return &dup
}

// ConstRecord returns the const_block_dims entry a compile-time run records
// so later runs can replay it.
func ConstRecord(ri RunInfo) map[string]int64 {
	return map[string]int64{strconv.Itoa(ConstKey): ri.BlockDim}
}

func (ci *CompileInfo) replayConst() (RunInfo, error) {
	dim, ok := ci.ConstBlockDims[strconv.Itoa(ConstKey)]
	if !ok {
		return RunInfo{}, fmt.Errorf("%w: no block dim recorded for key %d", ErrConstTiling, ConstKey)
	}

	// A core override at run time does not invalidate the record.
	if dim < 1 {
		return RunInfo{}, fmt.Errorf("%w: recorded block dim %d out of range", ErrConstTiling, dim)
	}

	return RunInfo{TilingKey: ConstKey, BlockDim: dim}, nil
}
