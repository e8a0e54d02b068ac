package cases

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/example/go-transdata/internal/shape"
	"github.com/example/go-transdata/internal/transdata"
)

// Tiler runs one tiling call.
type Tiler interface {
	TileContext(ctx context.Context, ci *transdata.CompileInfo, in, out shape.Shape) (transdata.RunInfo, error)
}

// Result is the outcome of one case. Err holds a tiling or expectation
// failure; RunAll itself only fails when ctx is cancelled.
type Result struct {
	Case    Case
	RunInfo transdata.RunInfo
	Elapsed time.Duration
	Err     error
}

// Run tiles a single case and checks its expectations.
func (m *Manager) Run(ctx context.Context, t Tiler, c Case) Result {
	res := Result{Case: c}

	ci, err := m.CompileInfo(c)
	if err != nil {
		res.Err = err
		return res
	}

	start := time.Now()
	res.RunInfo, res.Err = t.TileContext(ctx, ci, c.Input, c.Output)
	res.Elapsed = time.Since(start)

	if res.Err == nil {
		res.Err = Check(c, res.RunInfo)
	}

	return res
}

// RunAll tiles every case with at most workers calls in flight. Results
// keep manifest order.
func (m *Manager) RunAll(ctx context.Context, t Tiler, workers int) ([]Result, error) {
	results := make([]Result, len(m.cases))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))

	for i, c := range m.cases {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			results[i] = m.Run(ctx, t, c)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("run cases: %w", err)
	}

	return results, nil
}

// Check compares a run info with the case's expected key and block dim.
func Check(c Case, ri transdata.RunInfo) error {
	if c.ExpectKey != nil && ri.TilingKey != *c.ExpectKey {
		return fmt.Errorf("case %q: tiling key %d, expected %d", c.Name, ri.TilingKey, *c.ExpectKey)
	}

	if c.ExpectBlockDim != nil && ri.BlockDim != *c.ExpectBlockDim {
		return fmt.Errorf("case %q: block dim %d, expected %d", c.Name, ri.BlockDim, *c.ExpectBlockDim)
	}

	return nil
}

// Failed returns the results that carry an error.
func Failed(results []Result) []Result {
	return lo.Filter(results, func(r Result, _ int) bool { return r.Err != nil })
}
