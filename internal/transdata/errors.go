package transdata

import "errors"

var (
	// ErrConfig marks a malformed CompileInfo or a CompileInfo that does not
	// fit the live shapes.
	ErrConfig = errors.New("transdata: invalid compile info")

	// ErrInfeasible marks a strategy for which no axis pair or factor passes
	// the UB and alignment checks.
	ErrInfeasible = errors.New("transdata: no feasible tiling")

	// ErrUnknownRank is returned by Infer when the shape rank is not known.
	ErrUnknownRank = errors.New("transdata: unknown rank")

	// ErrDegenerateShape marks shapes the search cannot handle, such as
	// zero-length dimensions.
	ErrDegenerateShape = errors.New("transdata: degenerate shape")

	// ErrConstTiling marks a missing or invalid cached const tiling record.
	ErrConstTiling = errors.New("transdata: const tiling unavailable")
)
