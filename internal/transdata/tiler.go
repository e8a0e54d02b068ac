// Package transdata computes tiling plans for layout-transform kernels:
// how a reshape, pad and transpose problem is split over the cores and over
// the UB staging buffer, encoded as a tiling key plus runtime parameters.
package transdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/go-transdata/internal/shape"
)

type options struct {
	logger  *slog.Logger
	coreNum int64
}

// Option configures a Tiler.
type Option func(*options)

// WithLogger sets the logger used for strategy fallback diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCoreNum overrides CompileInfo.CoreNum when n is positive.
func WithCoreNum(n int64) Option {
	return func(o *options) { o.coreNum = n }
}

// Tiler runs tiling calls. It holds no state between calls.
type Tiler struct {
	opts options
}

func NewTiler(optFns ...Option) *Tiler {
	opts := options{logger: slog.Default()}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Tiler{opts: opts}
}

// Tile computes the run info with a default Tiler.
func Tile(ci *CompileInfo, in, out shape.Shape) (RunInfo, error) {
	return NewTiler().Tile(ci, in, out)
}

// TileContext is Tile that gives up before starting if ctx is done.
func (t *Tiler) TileContext(ctx context.Context, ci *CompileInfo, in, out shape.Shape) (RunInfo, error) {
	if err := ctx.Err(); err != nil {
		return RunInfo{}, err
	}

	return t.Tile(ci, in, out)
}

// Tile computes the tiling plan for one pair of live shapes. The dense side
// (input when packing, output when unpacking) is required; the other side
// is derived when it has rank 0. A failed call returns no partial record.
func (t *Tiler) Tile(ci *CompileInfo, in, out shape.Shape) (RunInfo, error) {
	if ci == nil {
		return RunInfo{}, fmt.Errorf("%w: compile info is nil", ErrConfig)
	}

	if t.opts.coreNum > 0 {
		ci = ci.withCoreNum(t.opts.coreNum)
	}

	if ci.constReplay() {
		return ci.replayConst()
	}

	dense := in
	if !ci.IsForward {
		dense = out
	}

	if in.IsUnknownRank() || out.IsUnknownRank() {
		return RunInfo{TilingKey: UnknownRankKey, BlockDim: 1}, nil
	}

	if dense.HasZero() {
		return RunInfo{}, fmt.Errorf("%w: zero-length dim in %v", ErrDegenerateShape, dense)
	}

	cls, err := Classify(in, out, ci)
	if err != nil {
		return RunInfo{}, err
	}

	var lastErr error

	for i, at := range fallbackChain(cls, ci.AlignSize) {
		if _, err := ci.ubCapacity(at.strategy, at.branch); err != nil && i > 0 {
			t.opts.logger.Debug("tiling fallback skipped",
				slog.String("strategy", at.strategy.String()),
				slog.String("branch", at.branch.String()),
				slog.String("error", err.Error()),
			)

			continue
		}

		ri, err := t.run(&cls, ci, at)
		if err == nil {
			return ri, nil
		}

		if !errors.Is(err, ErrInfeasible) {
			return RunInfo{}, err
		}

		t.opts.logger.Debug("tiling attempt infeasible",
			slog.String("strategy", at.strategy.String()),
			slog.String("branch", at.branch.String()),
			slog.String("dense", dense.String()),
		)

		lastErr = err
	}

	return RunInfo{}, lastErr
}

type attempt struct {
	strategy Strategy
	branch   Branch
}

// fallbackChain lists the strategy/branch pairs to try: the classified
// pair, then General on the same branch, then General on CommonAlign. An
// unaligned dense row longer than one block may finally be split with
// RollbackAlign, since CommonAlign keeps every row whole in UB.
func fallbackChain(cls Classification, align int64) []attempt {
	chain := []attempt{{cls.Strategy, cls.Branch}}

	fallbacks := []attempt{{General, cls.Branch}, {General, CommonAlign}}
	if dense := cls.Layout.Dense; dense.Rank() > 0 && align > 0 {
		if inner := dense.Dim(-1); inner%align != 0 && inner > align {
			fallbacks = append(fallbacks, attempt{General, RollbackAlign})
		}
	}

	for _, next := range fallbacks {
		dup := false
		for _, at := range chain {
			if at == next {
				dup = true
			}
		}

		if !dup {
			chain = append(chain, next)
		}
	}

	return chain
}

func (t *Tiler) run(cls *Classification, ci *CompileInfo, at attempt) (RunInfo, error) {
	st, err := newStrategy(at.strategy, ci)
	if err != nil {
		return RunInfo{}, err
	}

	p, err := st.problem(cls, ci, at.branch)
	if err != nil {
		return RunInfo{}, err
	}

	best, err := p.searchUB()
	if err != nil {
		return RunInfo{}, err
	}

	return p.encode(cls, ci, p.tilingInfo(&best)), nil
}
