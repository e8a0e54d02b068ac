package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/example/go-transdata/internal/cases"
	"github.com/example/go-transdata/internal/config"
	"github.com/example/go-transdata/internal/shape"
	"github.com/example/go-transdata/internal/transdata"
)

// targetFlags select one tiling call: a manifest case or a compile-info
// file plus explicit shapes.
type targetFlags struct {
	caseName    string
	compileInfo string
	input       []int64
	output      []int64
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.caseName, "case", "", "Manifest case name")
	cmd.Flags().StringVar(&f.compileInfo, "compile-info", "", "Compile info JSON file (instead of --case)")
	cmd.Flags().Int64SliceVar(&f.input, "input", nil, "Input shape, e.g. 16,192,3136")
	cmd.Flags().Int64SliceVar(&f.output, "output", nil, "Output shape (derived from the dense side when empty)")
}

func (f *targetFlags) selected() bool {
	return f.caseName != "" || f.compileInfo != ""
}

var errNoTarget = errors.New("one of --case or --compile-info is required")

// resolve returns the case to tile and its compile info.
func (f *targetFlags) resolve(cfg config.Config) (cases.Case, *transdata.CompileInfo, error) {
	switch {
	case f.caseName != "" && f.compileInfo != "":
		return cases.Case{}, nil, errors.New("--case and --compile-info are mutually exclusive")
	case f.compileInfo != "":
		return f.fromFile()
	case f.caseName != "":
		return f.fromManifest(cfg.Paths.Manifest)
	default:
		return cases.Case{}, nil, errNoTarget
	}
}

func (f *targetFlags) fromFile() (cases.Case, *transdata.CompileInfo, error) {
	ci, err := transdata.LoadCompileInfo(f.compileInfo)
	if err != nil {
		return cases.Case{}, nil, err
	}

	in, err := shape.New(f.input...)
	if err != nil {
		return cases.Case{}, nil, fmt.Errorf("--input: %w", err)
	}

	out, err := shape.New(f.output...)
	if err != nil {
		return cases.Case{}, nil, fmt.Errorf("--output: %w", err)
	}

	c := cases.Case{
		Name:        filepath.Base(f.compileInfo),
		CompileInfo: ci,
		Input:       in,
		Output:      out,
	}

	return c, ci, nil
}

func (f *targetFlags) fromManifest(path string) (cases.Case, *transdata.CompileInfo, error) {
	if len(f.input) > 0 || len(f.output) > 0 {
		return cases.Case{}, nil, errors.New("--input/--output only apply with --compile-info")
	}

	mgr, err := cases.NewManager(path)
	if err != nil {
		return cases.Case{}, nil, err
	}

	c, err := mgr.Get(f.caseName)
	if err != nil {
		return cases.Case{}, nil, err
	}

	ci, err := mgr.CompileInfo(c)
	if err != nil {
		return cases.Case{}, nil, err
	}

	return c, ci, nil
}
