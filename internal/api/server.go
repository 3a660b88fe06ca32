// Package api exposes the HTTP interface for the search pipeline.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akerley/webrank/internal/crawl"
	"github.com/akerley/webrank/internal/frontier"
	"github.com/akerley/webrank/internal/metrics"
	"github.com/akerley/webrank/internal/pagerank"
	"github.com/akerley/webrank/internal/query"
	"github.com/akerley/webrank/internal/search"
)

// Config carries the HTTP-facing knobs.
type Config struct {
	RequestTimeout  time.Duration
	CrawlTimeout    time.Duration
	MaxPagesDefault int
	SeedPriority    float64
}

// Server wires HTTP handlers to the pipeline components.
type Server struct {
	router    chi.Router
	frontier  *frontier.Frontier
	crawler   *crawl.Crawler
	engine    *pagerank.Engine
	processor *query.Processor
	store     search.Store
	cfg       Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	fr *frontier.Frontier,
	crawler *crawl.Crawler,
	engine *pagerank.Engine,
	processor *query.Processor,
	store search.Store,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.CrawlTimeout <= 0 {
		cfg.CrawlTimeout = 15 * time.Minute
	}
	if cfg.MaxPagesDefault <= 0 {
		cfg.MaxPagesDefault = 100
	}
	if cfg.SeedPriority <= 0 {
		cfg.SeedPriority = 1.0
	}
	s := &Server{
		frontier:  fr,
		crawler:   crawler,
		engine:    engine,
		processor: processor,
		store:     store,
		cfg:       cfg,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(s.cfg.RequestTimeout))
			r.Post("/seed", s.seed)
			r.Post("/pagerank", s.runPageRank)
			r.Get("/stats", s.stats)
			r.Get("/search", s.searchHandler)
			r.Get("/suggest", s.suggest)
			r.Get("/top", s.topPages)
		})
		// Crawl runs get a longer budget than regular requests.
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(s.cfg.CrawlTimeout))
			r.Post("/crawl", s.startCrawl)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.HasPending(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type seedRequest struct {
	URLs     []string `json:"urls"`
	Priority *float64 `json:"priority"`
}

func (s *Server) seed(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls required")
		return
	}
	priority := s.cfg.SeedPriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	accepted := make([]int64, 0, len(req.URLs))
	dropped := make([]string, 0)
	for _, raw := range req.URLs {
		id, err := s.frontier.AddURL(r.Context(), raw, priority, nil)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if id == nil {
			dropped = append(dropped, raw)
			continue
		}
		accepted = append(accepted, *id)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted": accepted,
		"dropped":  dropped,
	})
}

type crawlRequest struct {
	MaxPages *int `json:"max_pages"`
}

func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	maxPages := s.cfg.MaxPagesDefault
	if req.MaxPages != nil && *req.MaxPages > 0 {
		maxPages = *req.MaxPages
	}

	report, err := s.crawler.Run(r.Context(), maxPages)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) runPageRank(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Run(r.Context())
	if err != nil {
		if errors.Is(err, search.ErrPageRankRunning) {
			writeError(w, http.StatusConflict, "pagerank computation already running")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	byState, err := s.store.StatsByState(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	docs, err := s.store.DocumentCount(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	links, err := s.store.LinkCount(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	urls := make(map[string]int, len(byState))
	for state, n := range byState {
		urls[string(state)] = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"urls":      urls,
		"documents": docs,
		"links":     links,
	})
}

func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q required")
		return
	}
	page := intQueryParam(r, "page", 1)

	resp, err := s.processor.Search(r.Context(), q, page)
	if err != nil {
		if errors.Is(err, search.ErrSearchBackend) {
			writeError(w, http.StatusBadGateway, "search backend unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) suggest(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("q")
	n := intQueryParam(r, "n", 5)
	writeJSON(w, http.StatusOK, map[string]any{
		"suggestions": s.processor.Suggest(r.Context(), prefix, n),
	})
}

func (s *Server) topPages(w http.ResponseWriter, r *http.Request) {
	n := intQueryParam(r, "n", 10)
	pages, err := s.engine.TopPages(r.Context(), n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

func intQueryParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
