// Package bench provides benchmarking primitives for the transdata bench command.
package bench

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/pprof"
	"slices"
	"strings"
	"time"

	"github.com/example/go-transdata/internal/shape"
	"github.com/example/go-transdata/internal/transdata"
)

// ---------------------------------------------------------------------------
// Run result and stats
// ---------------------------------------------------------------------------

// RunResult holds the timing and plan of a single tiling run.
type RunResult struct {
	Index    int
	Cold     bool // true for the first run (cold-start)
	Duration time.Duration
	RunInfo  transdata.RunInfo
}

// Stats holds aggregate timing statistics across all runs.
type Stats struct {
	Min  time.Duration
	Max  time.Duration
	Mean time.Duration
}

// ComputeStats calculates min, max and mean over a slice of durations.
// The slice must be non-empty.
func ComputeStats(durations []time.Duration) Stats {
	if len(durations) == 0 {
		return Stats{}
	}
	mn, mx := durations[0], durations[0]
	var sum time.Duration
	for _, d := range durations {
		if d < mn {
			mn = d
		}
		if d > mx {
			mx = d
		}
		sum += d
	}
	return Stats{
		Min:  mn,
		Max:  mx,
		Mean: sum / time.Duration(len(durations)),
	}
}

// Durations extracts the run durations, optionally skipping the cold run.
func Durations(runs []RunResult, skipCold bool) []time.Duration {
	out := make([]time.Duration, 0, len(runs))
	for _, r := range runs {
		if skipCold && r.Cold && len(runs) > 1 {
			continue
		}
		out = append(out, r.Duration)
	}
	return out
}

// ---------------------------------------------------------------------------
// Runner
// ---------------------------------------------------------------------------

// Tiler runs one tiling call.
type Tiler interface {
	TileContext(ctx context.Context, ci *transdata.CompileInfo, in, out shape.Shape) (transdata.RunInfo, error)
}

// Run tiles the same problem n times and records each call.
func Run(ctx context.Context, t Tiler, ci *transdata.CompileInfo, in, out shape.Shape, n int) ([]RunResult, error) {
	if n < 1 {
		return nil, fmt.Errorf("runs must be >= 1, got %d", n)
	}

	runs := make([]RunResult, 0, n)
	for i := range n {
		start := time.Now()
		ri, err := t.TileContext(ctx, ci, in, out)
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", i+1, err)
		}
		runs = append(runs, RunResult{
			Index:    i,
			Cold:     i == 0,
			Duration: time.Since(start),
			RunInfo:  ri,
		})
	}

	return runs, nil
}

// ---------------------------------------------------------------------------
// Gates
// ---------------------------------------------------------------------------

// ErrNotIdempotent is returned when two runs of the same problem disagree.
var ErrNotIdempotent = errors.New("tiling is not idempotent")

// CheckIdempotent returns an error if any run produced a different key,
// block dim or params than the first.
func CheckIdempotent(runs []RunResult) error {
	if len(runs) == 0 {
		return nil
	}
	ref := runs[0].RunInfo
	for _, r := range runs[1:] {
		ri := r.RunInfo
		if ri.TilingKey != ref.TilingKey || ri.BlockDim != ref.BlockDim || !slices.Equal(ri.Params, ref.Params) {
			return fmt.Errorf("%w: run %d gave key %d dim %d, run 1 gave key %d dim %d",
				ErrNotIdempotent, r.Index+1, ri.TilingKey, ri.BlockDim, ref.TilingKey, ref.BlockDim)
		}
	}
	return nil
}

// CheckMeanThreshold returns an error if mean > threshold.
// A threshold of 0 disables the gate.
func CheckMeanThreshold(mean, threshold time.Duration) error {
	if threshold <= 0 {
		return nil
	}
	if mean > threshold {
		return fmt.Errorf("mean %v exceeds threshold %v", mean, threshold)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Profiling
// ---------------------------------------------------------------------------

// StartCPUProfile writes a CPU profile to path until the returned stop
// function is called. An empty path is a no-op.
func StartCPUProfile(path string) (func() error, error) {
	if path == "" {
		return func() error { return nil }, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create cpu profile: %w", err)
	}

	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("start cpu profile: %w", err)
	}

	return func() error {
		pprof.StopCPUProfile()
		return f.Close()
	}, nil
}

// ---------------------------------------------------------------------------
// Output formatters
// ---------------------------------------------------------------------------

// FormatTable writes a human-readable ASCII table of bench results to w.
func FormatTable(runs []RunResult, stats Stats, w io.Writer) {
	sb := &strings.Builder{}

	fmt.Fprintf(sb, "%-5s  %-5s  %10s  %10s  %8s\n", "Run", "Cold", "US", "Key", "BlkDim")
	fmt.Fprintln(sb, strings.Repeat("-", 46))

	for _, r := range runs {
		cold := ""
		if r.Cold {
			cold = "yes"
		}
		fmt.Fprintf(sb, "%-5d  %-5s  %10.1f  %10d  %8d\n",
			r.Index+1,
			cold,
			micros(r.Duration),
			r.RunInfo.TilingKey,
			r.RunInfo.BlockDim,
		)
	}

	fmt.Fprintln(sb, strings.Repeat("-", 46))
	fmt.Fprintf(sb, "%-5s  %-5s  %10.1f  %10s  %8s  (min)\n", "", "", micros(stats.Min), "", "")
	fmt.Fprintf(sb, "%-5s  %-5s  %10.1f  %10s  %8s  (mean)\n", "", "", micros(stats.Mean), "", "")
	fmt.Fprintf(sb, "%-5s  %-5s  %10.1f  %10s  %8s  (max)\n", "", "", micros(stats.Max), "", "")

	fmt.Fprint(w, sb.String())
}

func micros(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e3
}

// jsonReport is the top-level JSON structure emitted by FormatJSON.
type jsonReport struct {
	Runs  []jsonRun `json:"runs"`
	Stats jsonStats `json:"stats"`
}

type jsonRun struct {
	Index      int     `json:"index"`
	Cold       bool    `json:"cold"`
	DurationUS float64 `json:"duration_us"`
	TilingKey  int64   `json:"tiling_key"`
	BlockDim   int64   `json:"block_dim"`
}

type jsonStats struct {
	MinUS  float64 `json:"min_us"`
	MeanUS float64 `json:"mean_us"`
	MaxUS  float64 `json:"max_us"`
}

// FormatJSON writes a JSON report of bench results to w.
func FormatJSON(runs []RunResult, stats Stats, w io.Writer) {
	jr := jsonReport{
		Runs: make([]jsonRun, len(runs)),
		Stats: jsonStats{
			MinUS:  micros(stats.Min),
			MeanUS: micros(stats.Mean),
			MaxUS:  micros(stats.Max),
		},
	}
	for i, r := range runs {
		jr.Runs[i] = jsonRun{
			Index:      r.Index,
			Cold:       r.Cold,
			DurationUS: micros(r.Duration),
			TilingKey:  r.RunInfo.TilingKey,
			BlockDim:   r.RunInfo.BlockDim,
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(jr)
}
