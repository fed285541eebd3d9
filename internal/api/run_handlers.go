package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mpharvest/mpharvest/internal/store"
)

const (
	defaultRunListLimit = 50
	maxRunListLimit     = 500
	runQueryTimeout     = 3 * time.Second
)

// RunHandler serves crawl run history backed by a RunRepository.
type RunHandler struct {
	repo    store.RunRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunHandler builds a RunHandler. A nil repo yields 503s on every route.
func NewRunHandler(repo store.RunRepository, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHandler{
		repo:    repo,
		timeout: runQueryTimeout,
		logger:  logger,
	}
}

// ListRuns returns run history, newest first, with optional status filtering.
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run history not configured")
		return
	}

	limit, offset, err := parseLimitOffset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, err := parseRunStatus(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	runs, err := h.repo.ListRuns(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	items := make([]runDTO, 0, len(runs))
	for _, run := range runs {
		items = append(items, toRunDTO(run))
	}
	writeJSON(w, http.StatusOK, runListResponse{
		Runs:   items,
		Limit:  limit,
		Offset: offset,
	})
}

// GetRun returns a single run by ID.
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run history not configured")
		return
	}

	runID, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "run_id must be a valid UUID")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetRun(ctx, runID)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "run not found")
		return
	default:
		h.logger.Error("get run failed", zap.Error(err), zap.String("run_id", runID.String()))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	writeJSON(w, http.StatusOK, toRunDTO(run))
}

type runListResponse struct {
	Runs   []runDTO `json:"runs"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}

type runDTO struct {
	ID           string  `json:"id"`
	AccountName  string  `json:"account_name"`
	Status       string  `json:"status"`
	StartedAt    string  `json:"started_at"`
	FinishedAt   *string `json:"finished_at,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	Crawled      int     `json:"crawled"`
	Total        int     `json:"total"`
}

func toRunDTO(run store.CrawlRun) runDTO {
	dto := runDTO{
		ID:           run.ID.String(),
		AccountName:  run.AccountName,
		Status:       string(run.Status),
		StartedAt:    run.StartedAt.UTC().Format(time.RFC3339),
		ErrorMessage: run.ErrorMessage,
		Crawled:      run.Crawled,
		Total:        run.Total,
	}
	if run.FinishedAt != nil {
		finished := run.FinishedAt.UTC().Format(time.RFC3339)
		dto.FinishedAt = &finished
	}
	return dto
}

func parseLimitOffset(r *http.Request) (limit, offset int, err error) {
	limit = defaultRunListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		if limit > maxRunListLimit {
			limit = maxRunListLimit
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

func parseRunStatus(raw string) (*store.RunStatus, error) {
	if raw == "" {
		return nil, nil
	}
	switch store.RunStatus(raw) {
	case store.RunRunning, store.RunCompleted, store.RunError:
		status := store.RunStatus(raw)
		return &status, nil
	default:
		return nil, errors.New("status must be one of running, completed, error")
	}
}
