// Package report renders tiling results as a table or JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/example/go-transdata/internal/cases"
	"github.com/example/go-transdata/internal/config"
	"github.com/example/go-transdata/internal/transdata"
)

// Write renders results in the given format (see config.NormalizeFormat).
func Write(w io.Writer, format string, results []cases.Result) error {
	switch format {
	case config.FormatJSON:
		return FormatJSON(results, w)
	case config.FormatTable, "":
		FormatTable(results, w)
		return nil
	default:
		return fmt.Errorf("unsupported report format %q", format)
	}
}

// FormatTable writes one row per result to w.
func FormatTable(results []cases.Result, w io.Writer) {
	sb := &strings.Builder{}

	fmt.Fprintf(sb, "%-20s  %-8s  %-14s  %8s  %6s  %6s  %s\n",
		"Case", "Strategy", "Branch", "Key", "Blocks", "UB%", "Params")
	fmt.Fprintln(sb, strings.Repeat("-", 88))

	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(sb, "%-20s  error: %v\n", r.Case.Name, r.Err)
			continue
		}

		ri := r.RunInfo

		percent := "-"
		if ri.Tiling != nil {
			percent = strconv.FormatFloat(ri.Tiling.Percent, 'f', 1, 64)
		}

		fmt.Fprintf(sb, "%-20s  %-8s  %-14s  %8d  %6d  %6s  %s\n",
			r.Case.Name,
			ri.Strategy,
			ri.Branch,
			ri.TilingKey,
			ri.BlockDim,
			percent,
			joinParams(ri.Params),
		)
	}

	failed := len(cases.Failed(results))
	fmt.Fprintln(sb, strings.Repeat("-", 88))
	fmt.Fprintf(sb, "%d cases, %d failed\n", len(results), failed)

	fmt.Fprint(w, sb.String())
}

func joinParams(params []int64) string {
	return strings.Join(lo.Map(params, func(p int64, _ int) string {
		return strconv.FormatInt(p, 10)
	}), ",")
}

type jsonReport struct {
	Cases   []jsonCase  `json:"cases"`
	Summary jsonSummary `json:"summary"`
}

type jsonCase struct {
	Name      string  `json:"name"`
	ElapsedUS float64 `json:"elapsed_us"`
	Error     string  `json:"error,omitempty"`

	RunInfo *transdata.RunInfo `json:"run_info,omitempty"`
}

type jsonSummary struct {
	Total  int `json:"total"`
	Failed int `json:"failed"`
}

// FormatJSON writes results and a pass/fail summary as indented JSON.
func FormatJSON(results []cases.Result, w io.Writer) error {
	jr := jsonReport{
		Cases: lo.Map(results, func(r cases.Result, _ int) jsonCase {
			jc := jsonCase{
				Name:      r.Case.Name,
				ElapsedUS: float64(r.Elapsed.Nanoseconds()) / 1e3,
			}
			if r.Err != nil {
				jc.Error = r.Err.Error()
			} else {
				jc.RunInfo = &r.RunInfo
			}
			return jc
		}),
		Summary: jsonSummary{
			Total:  len(results),
			Failed: lo.CountBy(results, func(r cases.Result) bool { return r.Err != nil }),
		},
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(jr); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	return nil
}
