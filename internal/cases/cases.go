// Package cases loads named tiling cases from a JSON manifest and runs
// them through a tiler.
package cases

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/lo"

	"github.com/example/go-transdata/internal/shape"
	"github.com/example/go-transdata/internal/transdata"
)

// Case is one tiling call: a compile info, given inline or by path
// relative to the manifest, and the live shapes.
type Case struct {
	Name            string                 `json:"name"`
	CompileInfoPath string                 `json:"compile_info_path,omitempty"`
	CompileInfo     *transdata.CompileInfo `json:"compile_info,omitempty"`
	Input           shape.Shape            `json:"input"`
	Output          shape.Shape            `json:"output"`

	ExpectKey      *int64 `json:"expect_key,omitempty"`
	ExpectBlockDim *int64 `json:"expect_block_dim,omitempty"`
}

type manifest struct {
	Cases []Case `json:"cases"`
}

type Manager struct {
	manifestPath string
	baseDir      string
	cases        []Case
	byName       map[string]Case
}

func NewManager(manifestPath string) (*Manager, error) {
	if manifestPath == "" {
		return nil, errors.New("manifest path is required")
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read case manifest: %w", err)
	}

	var m manifest

	err = json.Unmarshal(data, &m)
	if err != nil {
		return nil, fmt.Errorf("decode case manifest: %w", err)
	}

	mgr := &Manager{
		manifestPath: manifestPath,
		baseDir:      filepath.Dir(manifestPath),
		cases:        append([]Case(nil), m.Cases...),
		byName:       make(map[string]Case, len(m.Cases)),
	}

	for _, c := range m.Cases {
		if c.Name == "" {
			return nil, errors.New("case manifest contains empty name")
		}

		if (c.CompileInfoPath == "") == (c.CompileInfo == nil) {
			return nil, fmt.Errorf("case %q needs exactly one of compile_info_path and compile_info", c.Name)
		}

		if _, exists := mgr.byName[c.Name]; exists {
			return nil, fmt.Errorf("duplicate case name %q", c.Name)
		}

		mgr.byName[c.Name] = c
	}

	return mgr, nil
}

func (m *Manager) Path() string { return m.manifestPath }

func (m *Manager) List() []Case {
	return append([]Case(nil), m.cases...)
}

func (m *Manager) Names() []string {
	return lo.Map(m.cases, func(c Case, _ int) string { return c.Name })
}

func (m *Manager) Get(name string) (Case, error) {
	c, ok := m.byName[name]
	if !ok {
		return Case{}, fmt.Errorf("unknown case %q", name)
	}

	return c, nil
}

// CompileInfo returns the case's compile info, reading it from disk when
// the case names a file.
func (m *Manager) CompileInfo(c Case) (*transdata.CompileInfo, error) {
	if c.CompileInfo != nil {
		return c.CompileInfo, nil
	}

	resolved := c.CompileInfoPath
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(m.baseDir, resolved)
	}

	ci, err := transdata.LoadCompileInfo(filepath.Clean(resolved))
	if err != nil {
		return nil, fmt.Errorf("case %q: %w", c.Name, err)
	}

	return ci, nil
}
