package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/example/go-transdata/internal/cases"
	"github.com/example/go-transdata/internal/config"
	"github.com/example/go-transdata/internal/shape"
	"github.com/example/go-transdata/internal/transdata"
)

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// Tiler computes a tiling plan for one pair of shapes.
type Tiler interface {
	TileContext(ctx context.Context, ci *transdata.CompileInfo, in, out shape.Shape) (transdata.RunInfo, error)
}

// CaseLister returns the known tiling cases.
type CaseLister interface {
	List() []cases.Case
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxBodyBytes   int64
	workers        int
	requestTimeout time.Duration
	logger         *slog.Logger
}

func defaultOptions() options {
	return options{
		maxBodyBytes:   1 << 20,
		workers:        2,
		requestTimeout: 10 * time.Second,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxBodyBytes sets the maximum request body size for POST /tiling.
func WithMaxBodyBytes(n int64) Option {
	return func(o *options) { o.maxBodyBytes = n }
}

// WithWorkers sets the maximum number of concurrent tiling calls.
// Zero disables the limit.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-request tiling deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

// handler holds the dependencies needed to serve HTTP requests.
type handler struct {
	tiler Tiler
	cases CaseLister
	opts  options
	sem   chan struct{} // semaphore for worker pool
	log   *slog.Logger
}

// NewHandler returns an http.Handler that serves /health, /cases, and POST /tiling.
func NewHandler(tiler Tiler, lister CaseLister, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		tiler: tiler,
		cases: lister,
		opts:  opts,
		log:   opts.logger,
	}
	if opts.workers > 0 {
		h.sem = make(chan struct{}, opts.workers)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/cases", h.handleCases)
	mux.HandleFunc("/tiling", h.handleTiling)
	return mux
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildVersion(),
	})
}

type caseSummary struct {
	Name   string      `json:"name"`
	Input  shape.Shape `json:"input"`
	Output shape.Shape `json:"output"`
}

func (h *handler) handleCases(w http.ResponseWriter, _ *http.Request) {
	list := []caseSummary{}
	if h.cases != nil {
		for _, c := range h.cases.List() {
			list = append(list, caseSummary{Name: c.Name, Input: c.Input, Output: c.Output})
		}
	}
	writeJSON(w, http.StatusOK, list)
}

type tilingRequest struct {
	CompileInfo *transdata.CompileInfo `json:"compile_info"`
	Input       shape.Shape            `json:"input"`
	Output      shape.Shape            `json:"output"`
}

func (h *handler) handleTiling(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is required")
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.opts.maxBodyBytes)

	var req tilingRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("body exceeds maximum size of %d bytes", h.opts.maxBodyBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if req.CompileInfo == nil {
		writeError(w, http.StatusBadRequest, "compile_info field is required")
		return
	}

	// Acquire a worker slot, honouring context cancellation while waiting.
	if h.sem != nil {
		select {
		case h.sem <- struct{}{}:
			// slot acquired
		case <-r.Context().Done():
			writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
			return
		}
		defer func() { <-h.sem }()
	}

	// Apply per-request timeout.
	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	start := time.Now()
	ri, err := h.tiler.TileContext(ctx, req.CompileInfo, req.Input, req.Output)
	durationUS := time.Since(start).Microseconds()

	attrs := []any{
		slog.String("input", req.Input.String()),
		slog.String("output", req.Output.String()),
		slog.Int64("duration_us", durationUS),
	}

	if err != nil {
		status := errorStatus(err)
		attrs = append(attrs, slog.Int("status", status), slog.String("error", err.Error()))
		if status >= http.StatusInternalServerError {
			h.log.ErrorContext(r.Context(), "tiling failed", attrs...)
		} else {
			h.log.WarnContext(r.Context(), "tiling rejected", attrs...)
		}
		writeError(w, status, err.Error())
		return
	}

	h.log.InfoContext(r.Context(), "tiling complete", append(attrs,
		slog.Int64("tiling_key", ri.TilingKey),
		slog.Int64("block_dim", ri.BlockDim),
		slog.String("strategy", ri.Strategy.String()),
	)...)

	writeJSON(w, http.StatusOK, ri)
}

// errorStatus maps a tiling error to an HTTP status.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	case errors.Is(err, transdata.ErrInfeasible):
		return http.StatusUnprocessableEntity
	case errors.Is(err, transdata.ErrConfig),
		errors.Is(err, transdata.ErrDegenerateShape),
		errors.Is(err, transdata.ErrConstTiling):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	tiler           Tiler
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

// New builds a server. A nil tiler is replaced by a transdata.Tiler built
// from cfg.
func New(cfg config.Config, tiler Tiler) *Server {
	shutdown := 30 * time.Second
	if cfg.Server.ShutdownTimeout > 0 {
		shutdown = time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	}

	return &Server{
		cfg:             cfg,
		tiler:           tiler,
		logger:          slog.Default(),
		shutdownTimeout: shutdown,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

// WithLogger overrides the logger handed to the handler and the tiler.
func (s *Server) WithLogger(l *slog.Logger) *Server {
	s.logger = l
	return s
}

func (s *Server) Start(ctx context.Context) error {
	tiler := s.tiler
	if tiler == nil {
		tiler = transdata.NewTiler(
			transdata.WithLogger(s.logger),
			transdata.WithCoreNum(s.cfg.Tiling.CoreNum),
		)
	}

	handlerOpts := []Option{
		WithWorkers(s.cfg.Server.Workers),
		WithMaxBodyBytes(s.cfg.Server.MaxBodyBytes),
		WithRequestTimeout(time.Duration(s.cfg.Server.RequestTimeout) * time.Second),
		WithLogger(s.logger),
	}

	h := NewHandler(tiler, loadCaseLister(s.cfg.Paths.Manifest), handlerOpts...)

	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("http listen: %w", err)
	}
}

func ProbeHTTP(addr string) error {
	resp, err := http.Get("http://" + addr + "/health") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}

func loadCaseLister(manifestPath string) CaseLister {
	if manifestPath == "" {
		return staticCaseLister{}
	}
	mgr, err := cases.NewManager(manifestPath)
	if err != nil {
		return staticCaseLister{}
	}
	return mgr
}

type staticCaseLister struct {
	cases []cases.Case
}

func (s staticCaseLister) List() []cases.Case {
	return append([]cases.Case(nil), s.cases...)
}
