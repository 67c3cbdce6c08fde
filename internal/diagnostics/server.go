// Package diagnostics serves a read-only HTTP view of a running livedocs session:
// health, block snapshots, a server-sent event stream and Prometheus metrics.
package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/livedocs/internal/block"
	"git.home.luguber.info/inful/livedocs/internal/events"
	ferrors "git.home.luguber.info/inful/livedocs/internal/foundation/errors"
	"git.home.luguber.info/inful/livedocs/internal/logfields"
	"git.home.luguber.info/inful/livedocs/internal/metrics"
)

// Source is the session being inspected.
type Source interface {
	PageKey() string
	Endpoint() string
	Connected() bool
	BlockIDs() []string
	Block(id string) (*block.Block, bool)
	Bus() *events.Bus
}

// Names lists the diagnostic handles of a session.
type Names interface {
	Names() []string
}

// Options configures a Server.
type Options struct {
	Addr     string
	Source   Source
	Handles  Names          // optional
	Gatherer *prom.Registry // nil serves the default registry
	Logger   *slog.Logger
}

// Server is the diagnostics HTTP server.
type Server struct {
	Addr   string
	src    Source
	names  Names
	router *chi.Mux
	server *http.Server
	logger *slog.Logger
	errs   *ferrors.HTTPErrorAdapter
}

// NewServer creates a diagnostics server. It does not listen until Start.
func NewServer(opts Options) (*Server, error) {
	if opts.Source == nil {
		return nil, ferrors.ValidationError("diagnostics source is required").Build()
	}
	if opts.Addr == "" {
		return nil, ferrors.ValidationError("diagnostics address is required").Build()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Addr:   opts.Addr,
		src:    opts.Source,
		names:  opts.Handles,
		router: chi.NewRouter(),
		logger: logger.With(logfields.Component("diagnostics")),
	}
	s.errs = ferrors.NewHTTPErrorAdapter(s.logger)
	s.setupRoutes(opts.Gatherer)

	s.server = &http.Server{
		Addr:        opts.Addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
		ErrorLog:    slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
		// no WriteTimeout: /events is long-lived
	}
	return s, nil
}

func (s *Server) setupRoutes(reg *prom.Registry) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/events", s.handleEvents)
	s.router.Handle("/metrics", metrics.HTTPHandler(reg))

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/healthz", s.handleHealth)
		r.Get("/blocks", s.handleListBlocks)
		r.Get("/blocks/{id}", s.handleGetBlock)
	})
}

// Handler exposes the routes, mainly for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens and serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("Diagnostics server listening", slog.String("addr", s.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return ferrors.WrapError(err, ferrors.CategoryRuntime, "diagnostics server failed").
			WithContext("addr", s.Addr).
			Build()
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Close implements io.Closer so the server can be registered as a session handle.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Response is the JSON envelope of every non-stream endpoint.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Error writes an error response.
func (s *Server) Error(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, Response{Success: false, Error: message})
}

// Success writes a success response.
func (s *Server) Success(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, Response{Success: true, Data: data})
}

func writeJSON(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// Health is the /healthz payload.
type Health struct {
	Status    string   `json:"status"`
	PageKey   string   `json:"page_key,omitempty"`
	Endpoint  string   `json:"endpoint,omitempty"`
	Connected bool     `json:"connected"`
	Blocks    int      `json:"blocks"`
	Handles   []string `json:"handles,omitempty"`
}

// BlockView is one block as served by /blocks.
type BlockView struct {
	block.Metadata
	State  block.State `json:"state"`
	Output string      `json:"output_html,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := Health{
		Status:    "healthy",
		PageKey:   s.src.PageKey(),
		Endpoint:  s.src.Endpoint(),
		Connected: s.src.Connected(),
		Blocks:    len(s.src.BlockIDs()),
	}
	if s.names != nil {
		h.Handles = s.names.Names()
	}
	s.Success(w, http.StatusOK, h)
}

func (s *Server) handleListBlocks(w http.ResponseWriter, _ *http.Request) {
	ids := s.src.BlockIDs()
	views := make([]BlockView, 0, len(ids))
	for _, id := range ids {
		if b, ok := s.src.Block(id); ok {
			views = append(views, viewOf(b))
		}
	}
	s.Success(w, http.StatusOK, views)
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b, ok := s.src.Block(id)
	if !ok {
		s.errs.WriteErrorResponse(w, r, ferrors.NotFoundError("block not found").
			WithContext("block_id", id).
			Build())
		return
	}
	s.Success(w, http.StatusOK, viewOf(b))
}

func viewOf(b *block.Block) BlockView {
	return BlockView{
		Metadata: b.Metadata(),
		State:    b.Snapshot(),
		Output:   b.Panel().HTML(),
	}
}
