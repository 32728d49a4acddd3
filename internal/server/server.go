// Package server exposes the admin HTTP surface: health, metrics,
// registry inspection, and rate limiter state.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/bioterminal/content-scraper/internal/metrics"
	"github.com/bioterminal/content-scraper/internal/ratelimit"
	"github.com/bioterminal/content-scraper/internal/registry"
)

// Server is the admin HTTP server. It only reads state; all mutation
// happens through the CLI.
type Server struct {
	httpServer *http.Server
	registry   *registry.Registry
	limiter    *ratelimit.Limiter
	logger     *zap.Logger
}

// New builds a Server listening on port.
func New(port int, reg *registry.Registry, limiter *ratelimit.Limiter, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		registry: reg,
		limiter:  limiter,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/sources", s.handleSources)
	r.Get("/sources/{sourceKey}", s.handleSource)
	r.Get("/ratelimits", s.handleRateLimits)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("admin server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sourceView struct {
	SourceKey     string  `json:"source_key"`
	Name          string  `json:"name"`
	Category      string  `json:"category"`
	BaseURL       string  `json:"base_url"`
	Enabled       bool    `json:"enabled"`
	MaxRPS        float64 `json:"max_rps"`
	MaxConcurrent int     `json:"max_concurrent"`
	RespectRobots bool    `json:"respect_robots"`
}

func viewOf(src registry.Source) sourceView {
	return sourceView{
		SourceKey:     src.SourceKey,
		Name:          src.Name,
		Category:      src.Category,
		BaseURL:       src.BaseURL,
		Enabled:       src.Enabled,
		MaxRPS:        src.MaxRPS,
		MaxConcurrent: src.MaxConcurrent,
		RespectRobots: src.RespectRobots,
	}
}

func (s *Server) handleSources(w http.ResponseWriter, _ *http.Request) {
	keys := s.registry.ListSources()
	views := make([]sourceView, 0, len(keys))
	for _, key := range keys {
		if src, ok := s.registry.Get(key); ok {
			views = append(views, viewOf(src))
		}
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleSource(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "sourceKey")
	src, ok := s.registry.Get(key)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown source " + key})
		return
	}
	writeJSON(w, http.StatusOK, viewOf(src))
}

func (s *Server) handleRateLimits(w http.ResponseWriter, _ *http.Request) {
	stats := s.limiter.StatsAll()
	out := make([]ratelimit.HostStats, 0, len(stats))
	for _, hs := range stats {
		out = append(out, hs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
