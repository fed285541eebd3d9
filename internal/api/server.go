package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mpharvest/mpharvest/internal/config"
	"github.com/mpharvest/mpharvest/internal/crawl"
	"github.com/mpharvest/mpharvest/internal/metrics"
)

// Coordinator is the subset of crawl coordination the API needs.
type Coordinator interface {
	Start(ctx context.Context, accountName string) (string, error)
	Cancel() bool
	Status() crawl.RunSnapshot
}

// Server wires HTTP routes to the coordinator and the read-side stores.
type Server struct {
	cfg     config.Config
	coord   Coordinator
	docs    crawl.DocumentStore
	search  crawl.SearchIndex
	runs    *RunHandler
	events  *EventStream
	logger  *zap.Logger
	httpSrv *http.Server
}

// NewServer builds the server. Nil stores disable the matching routes with a
// 503 rather than panicking, so partial deployments stay debuggable.
func NewServer(cfg config.Config, coord Coordinator, docs crawl.DocumentStore, search crawl.SearchIndex, runs *RunHandler, events *EventStream, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:    cfg,
		coord:  coord,
		docs:   docs,
		search: search,
		runs:   runs,
		events: events,
		logger: logger,
	}
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes assembles the chi router with the middleware stack.
func (s *Server) Routes() http.Handler {
	metrics.Init()

	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(metrics.Middleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if s.cfg.Auth.Enabled {
			r.Use(s.apiKeyMiddleware)
		}

		// The event stream stays open indefinitely, so it skips the
		// request timeout applied to the rest of the API.
		if s.events != nil {
			r.Get("/events", s.events.ServeHTTP)
		}

		r.Group(func(r chi.Router) {
			r.Use(s.timeoutMiddleware)

			r.Post("/crawl/start", s.handleStartCrawl)
			r.Post("/crawl/cancel", s.handleCancelCrawl)
			r.Get("/status", s.handleStatus)
			r.Get("/articles", s.handleListArticles)
			r.Get("/search", s.handleSearch)

			if s.runs != nil {
				r.Get("/runs", s.runs.ListRuns)
				r.Get("/runs/{run_id}", s.runs.GetRun)
			}
		})
	})

	return r
}

// ListenAndServe runs the HTTP server until ctx is canceled, then drains
// in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.httpSrv.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}

type startCrawlRequest struct {
	AccountName string `json:"account_name"`
}

type startCrawlResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	RunID   string `json:"run_id,omitempty"`
}

func (s *Server) handleStartCrawl(w http.ResponseWriter, r *http.Request) {
	if s.coord == nil {
		writeError(w, http.StatusServiceUnavailable, "crawl coordinator not configured")
		return
	}

	var req startCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.AccountName) == "" {
		writeError(w, http.StatusBadRequest, "account_name is required")
		return
	}

	runID, err := s.coord.Start(r.Context(), req.AccountName)
	switch {
	case err == nil:
	case errors.Is(err, crawl.ErrAlreadyRunning):
		writeJSON(w, http.StatusConflict, startCrawlResponse{
			Success: false,
			Message: "a crawl is already running",
		})
		return
	default:
		s.logger.Error("start crawl failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start crawl")
		return
	}

	writeJSON(w, http.StatusAccepted, startCrawlResponse{
		Success: true,
		Message: fmt.Sprintf("crawl started for %s", strings.TrimSpace(req.AccountName)),
		RunID:   runID,
	})
}

func (s *Server) handleCancelCrawl(w http.ResponseWriter, _ *http.Request) {
	if s.coord == nil {
		writeError(w, http.StatusServiceUnavailable, "crawl coordinator not configured")
		return
	}
	if !s.coord.Cancel() {
		writeJSON(w, http.StatusConflict, startCrawlResponse{
			Success: false,
			Message: "no crawl is running",
		})
		return
	}
	writeJSON(w, http.StatusOK, startCrawlResponse{
		Success: true,
		Message: "cancel requested",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.coord == nil {
		writeError(w, http.StatusServiceUnavailable, "crawl coordinator not configured")
		return
	}
	writeJSON(w, http.StatusOK, toStatusDTO(s.coord.Status()))
}

func (s *Server) handleListArticles(w http.ResponseWriter, r *http.Request) {
	if s.docs == nil {
		writeError(w, http.StatusServiceUnavailable, "document store not configured")
		return
	}

	page, perPage, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.docs.List(r.Context(), crawl.ArticleQuery{
		Search:  strings.TrimSpace(r.URL.Query().Get("search")),
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		s.logger.Error("list articles failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list articles")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		writeError(w, http.StatusServiceUnavailable, "search index not configured")
		return
	}

	page, perPage, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	result, err := s.search.Search(r.Context(), query, page, perPage)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err), zap.String("query", query))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if s.coord == nil {
		writeError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statusDTO struct {
	IsRunning      bool    `json:"is_running"`
	RunID          string  `json:"run_id,omitempty"`
	Status         string  `json:"status"`
	CurrentAccount string  `json:"current_account,omitempty"`
	CrawledCount   int     `json:"crawled_count"`
	DuplicateCount int     `json:"duplicate_count"`
	DroppedCount   int     `json:"dropped_count"`
	TotalCount     int     `json:"total_count"`
	Progress       float64 `json:"progress"`
	StartedAt      string  `json:"started_at,omitempty"`
}

func toStatusDTO(snap crawl.RunSnapshot) statusDTO {
	dto := statusDTO{
		IsRunning:      snap.Status == crawl.RunStatusRunning,
		RunID:          snap.RunID,
		Status:         string(snap.Status),
		CurrentAccount: snap.AccountName,
		CrawledCount:   snap.CrawledCount,
		DuplicateCount: snap.DuplicateCnt,
		DroppedCount:   snap.DroppedCount,
		TotalCount:     snap.TotalCount,
		Progress:       snap.Progress,
	}
	if !snap.StartedAt.IsZero() {
		dto.StartedAt = snap.StartedAt.UTC().Format(time.RFC3339)
	}
	return dto
}

type contextKey string

const requestIDKey contextKey = "request_id"

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		requestID, _ := r.Context().Value(requestIDKey).(string)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", requestID),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	timeout := time.Duration(s.cfg.HTTP.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return http.TimeoutHandler(next, timeout, `{"error":"request timed out"}`)
}

func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if key != s.cfg.Auth.APIKey {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter records the status code and passes streaming interfaces
// through to the underlying writer.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacking not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func parsePagination(r *http.Request) (page, perPage int, err error) {
	page, err = parsePositiveInt(r.URL.Query().Get("page"), 1)
	if err != nil {
		return 0, 0, errors.New("page must be a positive integer")
	}
	perPage, err = parsePositiveInt(r.URL.Query().Get("per_page"), 20)
	if err != nil {
		return 0, 0, errors.New("per_page must be a positive integer")
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage, nil
}

func parsePositiveInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, errors.New("not a positive integer")
	}
	return v, nil
}
