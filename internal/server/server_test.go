package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/go-transdata/internal/cases"
	"github.com/example/go-transdata/internal/server"
	"github.com/example/go-transdata/internal/shape"
	"github.com/example/go-transdata/internal/testutil"
	"github.com/example/go-transdata/internal/transdata"
)

// stubTiler implements server.Tiler for tests.
type stubTiler struct {
	ri  transdata.RunInfo
	err error
}

func (s *stubTiler) TileContext(_ context.Context, _ *transdata.CompileInfo, _, _ shape.Shape) (transdata.RunInfo, error) {
	return s.ri, s.err
}

// stubCaseLister implements server.CaseLister for tests.
type stubCaseLister struct {
	cases []cases.Case
}

func (l *stubCaseLister) List() []cases.Case {
	return l.cases
}

func newTestHandler(tiler server.Tiler, lister server.CaseLister) http.Handler {
	return server.NewHandler(tiler, lister)
}

// tilingBody builds a POST /tiling body.
func tilingBody(t *testing.T, ci *transdata.CompileInfo, in, out []int64) *bytes.Buffer {
	t.Helper()

	data, err := json.Marshal(map[string]any{
		"compile_info": ci,
		"input":        in,
		"output":       out,
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	return bytes.NewBuffer(data)
}

func postTiling(h http.Handler, body *bytes.Buffer) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tiling", body)
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)

	return rec
}

// ---------------------------------------------------------------------------
// GET /health
// ---------------------------------------------------------------------------

func TestHealth_Returns200WithStatusOK(t *testing.T) {
	h := newTestHandler(&stubTiler{}, &stubCaseLister{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	var body map[string]string
	err := json.NewDecoder(rec.Body).Decode(&body)
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}

	if body["status"] != "ok" {
		t.Errorf("want status=ok, got %q", body["status"])
	}

	if _, ok := body["version"]; !ok {
		t.Error("want version field in response")
	}
}

// ---------------------------------------------------------------------------
// GET /cases
// ---------------------------------------------------------------------------

func TestCases_ReturnsJSONArray(t *testing.T) {
	list := []cases.Case{
		{Name: "pack", Input: shape.MustNew(16, 192, 3136)},
		{Name: "unpack", Output: shape.MustNew(2, 1, 56, 3)},
	}
	h := newTestHandler(&stubTiler{}, &stubCaseLister{cases: list})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/cases", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	var got []struct {
		Name   string  `json:"name"`
		Input  []int64 `json:"input"`
		Output []int64 `json:"output"`
	}
	err := json.NewDecoder(rec.Body).Decode(&got)
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("want 2 cases, got %d", len(got))
	}

	if got[0].Name != "pack" || len(got[0].Input) != 3 || got[1].Name != "unpack" || len(got[1].Output) != 4 {
		t.Errorf("unexpected cases: %+v", got)
	}
}

func TestCases_ReturnsEmptyArrayWhenNoCases(t *testing.T) {
	h := newTestHandler(&stubTiler{}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/cases", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	if got := bytes.TrimSpace(rec.Body.Bytes()); string(got) != "[]" {
		t.Errorf("want empty array, got %s", got)
	}
}

// ---------------------------------------------------------------------------
// POST /tiling
// ---------------------------------------------------------------------------

func TestTiling_MethodNotAllowed(t *testing.T) {
	h := newTestHandler(&stubTiler{}, &stubCaseLister{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/tiling", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("want 405, got %d", rec.Code)
	}
}

func TestTiling_InvalidJSONAs400(t *testing.T) {
	h := newTestHandler(&stubTiler{}, &stubCaseLister{})

	rec := postTiling(h, bytes.NewBufferString(`{bad json`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rec.Code)
	}

	var body map[string]string
	err := json.NewDecoder(rec.Body).Decode(&body)
	if err != nil {
		t.Fatalf("decode error body: %v", err)
	}

	if body["error"] == "" {
		t.Error("want non-empty error field")
	}
}

func TestTiling_MissingCompileInfoAs400(t *testing.T) {
	h := newTestHandler(&stubTiler{}, &stubCaseLister{})

	rec := postTiling(h, bytes.NewBufferString(`{"input":[4,4]}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rec.Code)
	}
}

func TestTiling_ReturnsRunInfo(t *testing.T) {
	h := newTestHandler(transdata.NewTiler(), &stubCaseLister{})

	rec := postTiling(h, tilingBody(t, testutil.NCHWToNC1HWC0(16), []int64{16, 192, 3136}, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("want Content-Type application/json, got %q", ct)
	}

	var got struct {
		TilingKey int64   `json:"tiling_key"`
		BlockDim  int64   `json:"block_dim"`
		Params    []int64 `json:"params"`
		Strategy  string  `json:"strategy"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	if got.TilingKey != 101220 || got.BlockDim != 32 || got.Strategy != "general" {
		t.Errorf("run info = %+v; want key 101220, dim 32, general", got)
	}
}

func TestTiling_ErrorStatus(t *testing.T) {
	badPermute := testutil.NCHWToNC1HWC0(16)
	badPermute.Permute = []int{0, 1}

	tiny := testutil.Transpose2D(16)
	tiny.UBInfo = testutil.UBInfo(64)

	tests := []struct {
		name string
		ci   *transdata.CompileInfo
		in   []int64
		want int
	}{
		{"config error", badPermute, []int64{16, 192, 3136}, http.StatusBadRequest},
		{"zero dim", testutil.Copy2D(16), []int64{4, 0}, http.StatusBadRequest},
		{"infeasible", tiny, []int64{1024, 1024}, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(transdata.NewTiler(), &stubCaseLister{})

			rec := postTiling(h, tilingBody(t, tt.ci, tt.in, nil))
			if rec.Code != tt.want {
				t.Fatalf("want %d, got %d (body: %s)", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestTiling_TilerErrorReturns500(t *testing.T) {
	h := newTestHandler(&stubTiler{err: errTilingFailed}, &stubCaseLister{})

	rec := postTiling(h, tilingBody(t, testutil.Copy2D(16), []int64{4, 4}, nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("want 500, got %d", rec.Code)
	}

	var errBody map[string]string
	err := json.NewDecoder(rec.Body).Decode(&errBody)
	if err != nil {
		t.Fatalf("decode error body: %v", err)
	}

	if errBody["error"] == "" {
		t.Error("want non-empty error field")
	}
}

var errTilingFailed = &tilingError{"tiling failed"}

type tilingError struct{ msg string }

func (e *tilingError) Error() string { return e.msg }
