package transdata

import (
	"fmt"
	"testing"

	"github.com/example/go-transdata/internal/shape"
)

func packInfo() *CompileInfo {
	ub := make([][]int64, 3)
	for i := range ub {
		ub[i] = []int64{8192, 8192, 8192}
	}

	return &CompileInfo{
		IsForward:    true,
		AlignSize:    16,
		PadAlignSize: 16,
		CoreNum:      32,
		SrcPad:       []int{0, 2, 0},
		Permute:      []int{0, 1, 3, 2},
		UBInfo:       ub,
	}
}

func TestFactorSearchFirst(t *testing.T) {
	tests := []struct {
		name   string
		extent int64
		inner  int64
		limit  int64
		want   int64
		ok     bool
	}{
		// 3*43 is the first burst of at least 128 with a tail of 11 rows.
		{"good burst", 1000, 3, 1000, 43, true},
		// Nothing reaches 128; 64 is the largest legal factor.
		{"largest legal", 64, 1, 64, 64, true},
		// Only factors below one block fit.
		{"no legal factor", 1024, 1, 15, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &factorSearch{
				extent: tt.extent,
				sides:  []side{{inner: tt.inner, fullRows: 1}},
				align:  16,
				good:   128,
				fits:   func(f int64) bool { return f <= tt.limit },
				units:  func(f int64) int64 { return ceilDiv(tt.extent, f) },
			}

			got, ok := s.first()
			if got != tt.want || ok != tt.ok {
				t.Errorf("first() = %d, %v; want %d, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestFactorSearchLegal(t *testing.T) {
	s := &factorSearch{
		extent: 100,
		sides:  []side{{inner: 1, fullRows: 1}},
		align:  16,
		units:  func(f int64) int64 { return ceilDiv(100, f) },
	}

	tests := []struct {
		f    int64
		want bool
	}{
		{f: 8, want: false},  // main below one block
		{f: 20, want: true},  // no tail
		{f: 30, want: false}, // tail 10
		{f: 42, want: true},  // tail 16
		{f: 100, want: true}, // single iteration
	}

	for _, tt := range tests {
		if got := s.legal(tt.f); got != tt.want {
			t.Errorf("legal(%d) = %v; want %v", tt.f, got, tt.want)
		}
	}
}

func TestFactorSearchGrowStopsAtCoreNum(t *testing.T) {
	s := &factorSearch{
		extent: 1000,
		sides:  []side{{inner: 3, fullRows: 1}},
		align:  16,
		good:   128,
		fits:   func(f int64) bool { return f <= 512 },
		units:  func(f int64) int64 { return ceilDiv(1000, f) },
	}

	if got := s.grow(43, 32); got != 43 {
		t.Errorf("grow(43, 32) = %d; want 43", got)
	}

	// With 8 cores the factor may reach 142 (8 iterations, tail 6 rows).
	if got := s.grow(43, 8); got != 142 {
		t.Errorf("grow(43, 8) = %d; want 142", got)
	}
}

func TestFactorSearchFineTune(t *testing.T) {
	s := &factorSearch{
		extent: 1000,
		sides:  []side{{inner: 3, fullRows: 1}},
		align:  16,
		units:  func(f int64) int64 { return ceilDiv(1000, f) },
	}

	tests := []struct {
		f, want int64
	}{
		{f: 43, want: 42},   // tail 11 spread over 24 loops
		{f: 500, want: 500}, // no tail
		{f: 300, want: 250}, // tail 100 over 4 loops
		{f: 550, want: 550}, // tail 450 is above the ratio
	}

	for _, tt := range tests {
		if got := s.fineTune(tt.f); got != tt.want {
			t.Errorf("fineTune(%d) = %d; want %d", tt.f, got, tt.want)
		}
	}
}

func TestFullRows(t *testing.T) {
	p := &problem{dims: []int64{1, 1, 56, 1, 16}, borrow: 0, rows: 2}

	if got := p.fullRows(2); got != 2 {
		t.Errorf("fullRows(2) = %d; want 2", got)
	}

	p.dims[1] = 4
	if got := p.fullRows(2); got != 1 {
		t.Errorf("fullRows(2) with a wide axis between = %d; want 1", got)
	}

	p.borrow = -1
	if got := p.fullRows(2); got != 1 {
		t.Errorf("fullRows without borrow = %d; want 1", got)
	}
}

func TestBlockTiling(t *testing.T) {
	tests := []struct {
		name    string
		dims    []int64
		coreNum int64
		wantIdx int
		wantFac int64
		wantDim int64
	}{
		{"fits outer axis", []int64{16, 12, 7, 1}, 32, 1, 6, 32},
		{"fewer cores", []int64{16, 12, 7, 1}, 8, 0, 2, 8},
		{"every axis fits", []int64{2, 3, 4, 1}, 32, 2, 1, 24},
		{"single core", []int64{16, 12, 7, 1}, 1, 0, 1, 1},
		{"unit outer axes", []int64{1, 1, 40, 1}, 32, 2, 2, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &problem{dims: tt.dims, out: []int{0, 1, 2, 3}, coreNum: tt.coreNum}
			e := &evaluated{
				cand: candidate{a: 3, b: 3, tile: 1 << 3},
				fa:   1,
				fb:   1,
			}

			idx, factor, dim := p.blockTiling(e)
			if idx != tt.wantIdx || factor != tt.wantFac || dim != tt.wantDim {
				t.Errorf("blockTiling = (%d, %d, %d); want (%d, %d, %d)", idx, factor, dim, tt.wantIdx, tt.wantFac, tt.wantDim)
			}

			if dim > tt.coreNum {
				t.Errorf("dim %d exceeds %d cores", dim, tt.coreNum)
			}
		})
	}
}

func TestTilingKey(t *testing.T) {
	tests := []struct {
		s                    Strategy
		b                    Branch
		blk, ub0, ub1, extra int
		want                 int64
	}{
		{General, StorageAlign, 1, 2, 2, 0, 101220},
		{BorrowN, CommonAlign, 2, 2, 2, 0, 212220},
		{BorrowH, CommonAlign, 0, 3, 1, 3, 310313},
		{General, RollbackAlign, 0, 0, 0, 1, 120001},
	}

	for _, tt := range tests {
		if got := tilingKey(tt.s, tt.b, tt.blk, tt.ub0, tt.ub1, tt.extra); got != tt.want {
			t.Errorf("tilingKey(%s, %s, %d, %d, %d, %d) = %d; want %d", tt.s, tt.b, tt.blk, tt.ub0, tt.ub1, tt.extra, got, tt.want)
		}
	}
}

func TestBankConflict(t *testing.T) {
	if !bankConflict(256, 16) {
		t.Error("bankConflict(256, 16) = false; want true")
	}

	if bankConflict(128, 16) {
		t.Error("bankConflict(128, 16) = true; want false")
	}
}

func TestFallbackChain(t *testing.T) {
	tests := []struct {
		name  string
		cls   Classification
		dense shape.Shape
		want  []attempt
	}{
		{
			"borrow falls back to general",
			Classification{Strategy: BorrowN, Branch: CommonAlign},
			shape.MustNew(2, 1, 56, 3),
			[]attempt{{BorrowN, CommonAlign}, {General, CommonAlign}},
		},
		{
			"rollback",
			Classification{Strategy: General, Branch: RollbackAlign},
			shape.MustNew(2, 32, 1001),
			[]attempt{{General, RollbackAlign}, {General, CommonAlign}},
		},
		{
			"short row",
			Classification{Strategy: General, Branch: CommonAlign},
			shape.MustNew(2, 32, 7),
			[]attempt{{General, CommonAlign}},
		},
		{
			"row longer than a block",
			Classification{Strategy: General, Branch: CommonAlign},
			shape.MustNew(16, 512, 49),
			[]attempt{{General, CommonAlign}, {General, RollbackAlign}},
		},
		{
			"aligned row",
			Classification{Strategy: General, Branch: StorageAlign},
			shape.MustNew(4, 128),
			[]attempt{{General, StorageAlign}, {General, CommonAlign}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cls.Layout.Dense = tt.dense

			got := fallbackChain(tt.cls, 16)
			if len(got) != len(tt.want) {
				t.Fatalf("fallbackChain = %v; want %v", got, tt.want)
			}

			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("fallbackChain[%d] = %v; want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func onceAt(units int64, percent float64, mainLen int64) evaluated {
	return evaluated{cand: candidate{a: 0, b: 0}, units: units, percent: percent, mainLen: mainLen}
}

func twiceAt(units int64, percent float64) evaluated {
	return evaluated{cand: candidate{a: 1, b: 0}, units: units, percent: percent}
}

func TestDistance(t *testing.T) {
	p := &problem{coreNum: 32}

	tests := []struct {
		name string
		e    evaluated
		want int64
	}{
		{"below cores", onceAt(16, 50, 0), 16},
		{"above cores", onceAt(40, 50, 0), 8},
		{"ub full caps units", onceAt(40, 96, 0), 0},
		{"cap needs more than 95 percent", onceAt(40, UBFullPercent, 0), 8},
		{"cap does not lift short counts", onceAt(16, 99, 0), 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.distance(&tt.e); got != tt.want {
				t.Errorf("distance = %d; want %d", got, tt.want)
			}
		})
	}
}

func TestBetter(t *testing.T) {
	p := &problem{coreNum: 32}

	tests := []struct {
		name string
		x, y evaluated
		want bool
	}{
		{"closer to cores wins", twiceAt(32, 50), onceAt(30, 50, 512), true},
		{"farther from cores loses", onceAt(30, 50, 512), twiceAt(32, 50), false},
		{"full ub once ties and wins", onceAt(40, 96, 16), twiceAt(32, 50), true},
		{"unfilled ub once loses", onceAt(40, 90, 16), twiceAt(32, 50), false},
		{"once beats twice on a tie", onceAt(32, 50, 16), twiceAt(32, 50), true},
		{"twice loses to once on a tie", twiceAt(32, 50), onceAt(32, 50, 16), false},
		{"longer main length wins", onceAt(32, 50, 20), onceAt(32, 50, 10), true},
		{"shorter main length loses", onceAt(32, 50, 10), onceAt(32, 50, 20), false},
		{"equal once keeps the first", onceAt(32, 50, 10), onceAt(32, 50, 10), false},
		{"twice ties keep the first", twiceAt(32, 50), twiceAt(32, 80), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.better(&tt.x, &tt.y); got != tt.want {
				t.Errorf("better = %v; want %v", got, tt.want)
			}
		})
	}
}

// transposeProblem swaps the two axes of a 64x64 tensor.
func transposeProblem(ubCap int64) *problem {
	return &problem{
		strategy:   General,
		branch:     StorageAlign,
		dims:       []int64{64, 64},
		in:         []int{0, 1},
		out:        []int{1, 0},
		denseIsIn:  true,
		denseInner: 1,
		align:      16,
		granule:    16,
		good:       128,
		ubCap:      ubCap,
		coreNum:    4,
		borrow:     -1,
		rows:       1,
	}
}

func TestEvaluateTwice(t *testing.T) {
	tests := []struct {
		name          string
		ubCap         int64
		fa, fb, units int64
		size          int64
		mainLen       int64
	}{
		// The whole tensor fits in one tile.
		{"roomy ub", 8192, 64, 64, 1, 4096, 64},
		// The load factor takes the whole row first; the store factor
		// then shrinks to one block of rows to fit.
		{"tight ub", 1024, 64, 16, 4, 1024, 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := transposeProblem(tt.ubCap)

			c, ok := p.filter(1, 1)
			if !ok {
				t.Fatal("filter rejected the two-sided split")
			}

			if c.once() || c.a != 1 || c.b != 0 {
				t.Fatalf("split axes = (%d, %d); want (1, 0)", c.a, c.b)
			}

			e, ok := p.evaluate(c)
			if !ok {
				t.Fatal("evaluate found no factors")
			}

			if e.fa != tt.fa || e.fb != tt.fb {
				t.Errorf("factors = (%d, %d); want (%d, %d)", e.fa, e.fb, tt.fa, tt.fb)
			}

			if e.units != tt.units || e.size != tt.size || e.mainLen != tt.mainLen {
				t.Errorf("units %d size %d mainLen %d; want %d %d %d", e.units, e.size, e.mainLen, tt.units, tt.size, tt.mainLen)
			}

			if e.search != nil {
				t.Error("split-twice plan kept a split-once search")
			}
		})
	}
}

func TestFilterRejectsResidentSplitAxis(t *testing.T) {
	p := transposeProblem(8192)

	// Splitting axis 0 on the input side while the output keeps it whole.
	if _, ok := p.filter(0, 0); ok {
		t.Error("filter(0, 0) accepted a split axis resident on the other side")
	}
}

// unpackInfo unpacks {N, C1, H, W, C0} into {N, H, W, C} with both borrow
// tables.
func unpackInfo() *CompileInfo {
	ci := packInfo()
	ci.IsForward = false
	ci.SrcPad = []int{0, 0, 0, 2}
	ci.Permute = []int{0, 3, 1, 2, 4}
	ci.BorrowN = &BorrowTable{X1X0: 0, C1C0: [2]int{3, 4}}
	ci.BorrowH = &BorrowTable{X1X0: 1, C1C0: [2]int{3, 4}}

	return ci
}

// TestSearchInvariants checks every accepted plan against the UB capacity,
// the tail rule and the core count over a spread of shapes.
func TestSearchInvariants(t *testing.T) {
	tests := []struct {
		name string
		ci   func() *CompileInfo
		dims [][]int64
	}{
		{"pack", packInfo, [][]int64{
			{1, 16, 7},
			{3, 17, 1000},
			{16, 192, 3136},
			{128, 64, 49},
			{7, 33, 4096},
			{2, 5, 130},
			{64, 1, 1},
			{16, 512, 49},
			{16, 2048, 49},
		}},
		{"unpack", unpackInfo, [][]int64{
			{2, 1, 56, 3},
			{1, 4, 56, 3},
			{4, 7, 7, 5},
			{32, 3, 3, 8},
			{1, 28, 28, 12},
			{8, 1, 1, 1},
			{3, 17, 19, 15},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			borrowed := 0

			for _, d := range tt.dims {
				ci := tt.ci()
				dense := shape.MustNew(d...)

				in, out := dense, shape.Shape{}
				if !ci.IsForward {
					in, out = out, in
				}

				cls, err := Classify(in, out, ci)
				if err != nil {
					t.Fatalf("classify %v: %v", dense, err)
				}

				for _, at := range fallbackChain(cls, ci.AlignSize) {
					if p, best, ok := searchAttempt(t, &cls, ci, at); ok {
						checkPlan(t, dense, p, &best)

						if p.borrow >= 0 {
							borrowed++
						}
					}
				}
			}

			if !tt.ci().IsForward && borrowed == 0 {
				t.Error("no borrow plan was accepted")
			}
		})
	}
}

func searchAttempt(t *testing.T, cls *Classification, ci *CompileInfo, at attempt) (*problem, evaluated, bool) {
	t.Helper()

	st, err := newStrategy(at.strategy, ci)
	if err != nil {
		t.Fatalf("strategy: %v", err)
	}

	p, err := st.problem(cls, ci, at.branch)
	if err != nil {
		t.Fatalf("problem %v: %v", cls.Layout.Dense, err)
	}

	best, err := p.searchUB()
	if err != nil {
		return nil, evaluated{}, false
	}

	return p, best, true
}

func checkPlan(t *testing.T, dense shape.Shape, p *problem, best *evaluated) {
	t.Helper()

	name := fmt.Sprintf("%v %s/%s", dense, p.strategy, p.branch)

	if best.size > p.ubCap {
		t.Errorf("%s: tile %d exceeds UB %d", name, best.size, p.ubCap)
	}

	if best.search != nil && !best.search.legal(best.fa) {
		t.Errorf("%s: factor %d leaves an illegal tail", name, best.fa)
	}

	if _, _, dim := p.blockTiling(best); dim < 1 || dim > p.coreNum {
		t.Errorf("%s: block dim %d out of range", name, dim)
	}

	if p.borrow < 0 {
		return
	}

	c := &best.cand
	if !c.once() || c.tile.has(p.borrow) {
		t.Errorf("%s: borrow plan splits (%d, %d) with tile %b", name, c.a, c.b, c.tile)
	}

	// Every transfer of the split axis, the tail included, moves at least
	// one block once the borrowed rows are counted.
	s := best.search
	tail := s.extent % best.fa

	for i, sd := range s.sides {
		if main := s.realLen(sd, best.fa); main < p.align && p.units(c, best.fa, best.fa) > 1 {
			t.Errorf("%s: side %d main transfer %d below one block", name, i, main)
		}

		if tail != 0 && s.realLen(sd, tail) < p.align {
			t.Errorf("%s: side %d tail transfer %d below one block", name, i, s.realLen(sd, tail))
		}
	}
}

func TestScenarioSearch(t *testing.T) {
	ci := packInfo()

	cls, err := Classify(shape.MustNew(16, 192, 3136), shape.Shape{}, ci)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}

	p, err := generalStrategy{}.problem(&cls, ci, cls.Branch)
	if err != nil {
		t.Fatalf("problem: %v", err)
	}

	best, err := p.searchUB()
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if best.cand.a != 3 || best.cand.b != 3 {
		t.Errorf("split axes = (%d, %d); want (3, 3)", best.cand.a, best.cand.b)
	}

	if best.fa != 448 {
		t.Errorf("factor = %d; want 448", best.fa)
	}

	if best.units != 192*7 {
		t.Errorf("units = %d; want %d", best.units, 192*7)
	}
}
