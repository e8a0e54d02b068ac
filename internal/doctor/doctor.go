// Package doctor provides preflight checks for a transdata deployment.
package doctor

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/example/go-transdata/internal/cases"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// VersionFunc returns a version string or an error if the component is unavailable.
type VersionFunc func() (string, error)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// GoVersion returns the runtime version string (e.g. "go1.25.1").
	GoVersion VersionFunc
	// SkipGo skips the Go runtime version check.
	SkipGo bool
	// ManifestPath names the case manifest. Empty skips the case checks.
	ManifestPath string
	// Tiler runs each manifest case.
	Tiler cases.Tiler
	// ProbeServer checks a running server. Nil skips the check.
	ProbeServer func() error
	// ServerAddr is printed next to the server check.
	ServerAddr string
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(ctx context.Context, cfg Config, w io.Writer) Result {
	var res Result

	// ---- Go runtime -------------------------------------------------------
	if cfg.SkipGo || cfg.GoVersion == nil {
		fmt.Fprintf(w, "%s go runtime: skipped\n", PassMark)
	} else {
		ver, err := cfg.GoVersion()
		if err != nil {
			res.fail(fmt.Sprintf("go runtime: %v", err))
			fmt.Fprintf(w, "%s go runtime: unavailable (%v)\n", FailMark, err)
		} else if verErr := checkGoVersion(ver); verErr != nil {
			res.fail(fmt.Sprintf("go runtime: %v", verErr))
			fmt.Fprintf(w, "%s go runtime %s: %v\n", FailMark, ver, verErr)
		} else {
			fmt.Fprintf(w, "%s go runtime: %s\n", PassMark, ver)
		}
	}

	// ---- manifest cases ---------------------------------------------------
	if cfg.ManifestPath == "" {
		fmt.Fprintf(w, "%s case manifest: skipped\n", PassMark)
	} else {
		checkManifest(ctx, cfg, w, &res)
	}

	// ---- server -----------------------------------------------------------
	if cfg.ProbeServer != nil {
		if err := cfg.ProbeServer(); err != nil {
			res.fail(fmt.Sprintf("server %s: %v", cfg.ServerAddr, err))
			fmt.Fprintf(w, "%s server %s: unreachable (%v)\n", FailMark, cfg.ServerAddr, err)
		} else {
			fmt.Fprintf(w, "%s server: %s\n", PassMark, cfg.ServerAddr)
		}
	}

	return res
}

func checkManifest(ctx context.Context, cfg Config, w io.Writer, res *Result) {
	mgr, err := cases.NewManager(cfg.ManifestPath)
	if err != nil {
		res.fail(fmt.Sprintf("case manifest %q: %v", cfg.ManifestPath, err))
		fmt.Fprintf(w, "%s case manifest %s: %v\n", FailMark, cfg.ManifestPath, err)
		return
	}

	fmt.Fprintf(w, "%s case manifest: %s (%d cases)\n", PassMark, mgr.Path(), len(mgr.List()))

	if cfg.Tiler == nil {
		return
	}

	for _, c := range mgr.List() {
		ci, err := mgr.CompileInfo(c)
		if err != nil {
			res.fail(fmt.Sprintf("compile info %s: %v", c.Name, err))
			fmt.Fprintf(w, "%s compile info %s: %v\n", FailMark, c.Name, err)
			continue
		}

		ri, err := cfg.Tiler.TileContext(ctx, ci, c.Input, c.Output)
		if err == nil {
			err = cases.Check(c, ri)
		}

		if err != nil {
			res.fail(fmt.Sprintf("case %s: %v", c.Name, err))
			fmt.Fprintf(w, "%s case %s: %v\n", FailMark, c.Name, err)
			continue
		}

		fmt.Fprintf(w, "%s case %s: key %d, %d blocks\n", PassMark, c.Name, ri.TilingKey, ri.BlockDim)
	}
}

// checkGoVersion returns an error if ver is older than go1.25.
// ver is expected to be a string like "go1.25.1".
func checkGoVersion(ver string) error {
	major, minor, err := parseMajorMinor(strings.TrimPrefix(ver, "go"))
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}
	if major != 1 {
		return fmt.Errorf("requires Go 1, got %d", major)
	}
	if minor < 25 {
		return fmt.Errorf("requires Go >=1.25, got 1.%d", minor)
	}
	return nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(ver, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}
	// Development builds report e.g. "1.26rc1".
	minorStr := parts[1]
	if i := strings.IndexFunc(minorStr, func(r rune) bool { return r < '0' || r > '9' }); i >= 0 {
		minorStr = minorStr[:i]
	}
	minor, err = strconv.Atoi(minorStr)
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}
	return major, minor, nil
}
