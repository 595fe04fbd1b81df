package api

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkcrawler/internal/crawler"
	"github.com/JakeFAU/linkcrawler/internal/hash/sha256"
	"github.com/JakeFAU/linkcrawler/internal/metrics"
	"github.com/JakeFAU/linkcrawler/internal/report"
	"github.com/JakeFAU/linkcrawler/internal/store"
)

const maxRequestBody = 1 << 20

// RunService is the run lifecycle the handlers drive.
type RunService interface {
	Submit(ctx context.Context, params store.RunParams) (store.Run, error)
	Get(ctx context.Context, runID string) (store.Run, error)
	List(ctx context.Context) ([]store.Run, error)
}

// Defaults fill crawl parameters a submission leaves out.
type Defaults struct {
	MaxDepth            int
	MaxWorkers          int
	TimeoutSeconds      int
	CrawlTimeoutSeconds int
	IncludeSubdomains   bool
}

// Config controls the server.
type Config struct {
	// APIKey enables X-API-Key authentication on /v1 routes when set.
	APIKey         string
	Defaults       Defaults
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the run service.
type Server struct {
	router chi.Router
	runs   RunService
	hasher crawler.Hasher
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runs RunService, hasher crawler.Hasher, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if hasher == nil {
		hasher = sha256.New()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		runs:   runs,
		hasher: hasher,
		cfg:    cfg,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/crawls", func(r chi.Router) {
			r.Post("/", s.submitCrawl)
			r.Get("/", s.listCrawls)
			r.Route("/{run_id}", func(r chi.Router) {
				r.Get("/", s.getCrawl)
				r.Get("/report", s.getReport)
			})
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
	if _, err := s.runs.List(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "run store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params, err := s.toRunParams(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	run, err := s.runs.Submit(r.Context(), params)
	if err != nil {
		switch {
		case errors.Is(err, crawler.ErrInvalidConfig):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusServiceUnavailable, "crawl queue is full")
		default:
			s.logger.Error("submit crawl failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to submit crawl")
		}
		return
	}
	w.Header().Set("Location", "/v1/crawls/"+run.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{"run": toRunDTO(run, false)})
}

func (s *Server) listCrawls(w http.ResponseWriter, r *http.Request) {
	var filter store.RunStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := parseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter = status
	}
	list, err := s.runs.List(r.Context())
	if err != nil {
		s.logger.Error("list crawls failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list crawls")
		return
	}
	out := make([]runDTO, 0, len(list))
	for _, run := range list {
		if filter != "" && run.Status != filter {
			continue
		}
		out = append(out, toRunDTO(run, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (s *Server) getCrawl(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": toRunDTO(run, true)})
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	if run.Result == nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("run is %s; no report yet", run.Status))
		return
	}
	format := report.FormatText
	if raw := r.URL.Query().Get("format"); raw != "" {
		parsed, err := report.ParseFormat(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		format = parsed
	}
	body, err := report.Bytes(format, *run.Result)
	if err != nil {
		s.logger.Error("render report failed", zap.String("run_id", run.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to render report")
		return
	}
	digest, err := s.hasher.Hash(body)
	if err == nil {
		etag := sha256.ETag(digest)
		w.Header().Set("ETag", etag)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Warn("write report failed", zap.Error(err))
	}
}

func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) (store.Run, bool) {
	runID := chi.URLParam(r, "run_id")
	if _, err := uuid.Parse(runID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid run_id")
		return store.Run{}, false
	}
	run, err := s.runs.Get(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "crawl not found")
			return store.Run{}, false
		}
		s.logger.Error("get crawl failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load crawl")
		return store.Run{}, false
	}
	return run, true
}

func (s *Server) toRunParams(req crawlRequest) (store.RunParams, error) {
	baseURL := strings.TrimSpace(req.BaseURL)
	if baseURL == "" {
		return store.RunParams{}, errors.New("base_url required")
	}
	params := store.RunParams{
		BaseURL:             baseURL,
		MaxDepth:            valueOrDefault(req.MaxDepth, s.cfg.Defaults.MaxDepth),
		MaxWorkers:          valueOrDefault(req.MaxWorkers, s.cfg.Defaults.MaxWorkers),
		TimeoutSeconds:      valueOrDefault(req.TimeoutSeconds, s.cfg.Defaults.TimeoutSeconds),
		CrawlTimeoutSeconds: valueOrDefault(req.CrawlTimeoutSeconds, s.cfg.Defaults.CrawlTimeoutSeconds),
		IncludeSubdomains:   valueOrDefault(req.IncludeSubdomains, s.cfg.Defaults.IncludeSubdomains),
		AllowedHosts:        cloneStringSlice(req.AllowedHosts),
	}
	switch {
	case params.MaxDepth < 0:
		return store.RunParams{}, errors.New("max_depth must be >= 0")
	case params.MaxWorkers < 1:
		return store.RunParams{}, errors.New("max_workers must be >= 1")
	case params.TimeoutSeconds < 1:
		return store.RunParams{}, errors.New("timeout_seconds must be >= 1")
	case params.CrawlTimeoutSeconds < 0:
		return store.RunParams{}, errors.New("crawl_timeout_seconds must be >= 0")
	}
	return params, nil
}

type crawlRequest struct {
	BaseURL             string   `json:"base_url"`
	MaxDepth            *int     `json:"max_depth"`
	MaxWorkers          *int     `json:"max_workers"`
	TimeoutSeconds      *int     `json:"timeout_seconds"`
	CrawlTimeoutSeconds *int     `json:"crawl_timeout_seconds"`
	IncludeSubdomains   *bool    `json:"include_subdomains"`
	AllowedHosts        []string `json:"allowed_hosts"`
}

// runDTO is the wire form of a run. Broken records and statistics are only
// included on the single-run endpoint.
type runDTO struct {
	ID          string                   `json:"id"`
	Status      store.RunStatus          `json:"status"`
	Params      store.RunParams          `json:"params"`
	SubmittedAt time.Time                `json:"submitted_at"`
	StartedAt   *time.Time               `json:"started_at,omitempty"`
	FinishedAt  *time.Time               `json:"finished_at,omitempty"`
	Error       string                   `json:"error,omitempty"`
	Progress    store.Progress           `json:"progress"`
	ReportURI   string                   `json:"report_uri,omitempty"`
	Incomplete  bool                     `json:"incomplete,omitempty"`
	BrokenCount *int                     `json:"broken_count,omitempty"`
	Statistics  *crawler.Statistics      `json:"statistics,omitempty"`
	Broken      []crawler.ResourceRecord `json:"broken,omitempty"`
}

func toRunDTO(run store.Run, detail bool) runDTO {
	dto := runDTO{
		ID:          run.ID,
		Status:      run.Status,
		Params:      run.Params,
		SubmittedAt: run.SubmittedAt,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		Error:       run.ErrorText,
		Progress:    run.Progress,
		ReportURI:   run.ReportURI,
	}
	if run.Result == nil {
		return dto
	}
	count := len(run.Result.Broken)
	dto.BrokenCount = &count
	dto.Incomplete = run.Result.Incomplete
	if detail {
		stats := run.Result.Stats
		dto.Statistics = &stats
		dto.Broken = run.Result.Broken
	}
	return dto
}

func parseStatus(raw string) (store.RunStatus, error) {
	status := store.RunStatus(strings.ToLower(raw))
	switch status {
	case store.RunQueued, store.RunRunning, store.RunSucceeded, store.RunIncomplete, store.RunFailed:
		return status, nil
	default:
		return "", fmt.Errorf("unknown status %q", raw)
	}
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func cloneStringSlice(src []string) []string {
	if len(src) == 0 {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", reqID),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
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

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

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
