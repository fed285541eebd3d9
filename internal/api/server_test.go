package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mpharvest/mpharvest/internal/config"
	"github.com/mpharvest/mpharvest/internal/crawl"
	"github.com/mpharvest/mpharvest/internal/store"
)

type fakeCoordinator struct {
	runID    string
	startErr error
	started  []string
	canceled bool
	snapshot crawl.RunSnapshot
}

func (f *fakeCoordinator) Start(_ context.Context, accountName string) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, accountName)
	return f.runID, nil
}

func (f *fakeCoordinator) Cancel() bool {
	return f.canceled
}

func (f *fakeCoordinator) Status() crawl.RunSnapshot {
	return f.snapshot
}

type fakeDocStore struct {
	lastQuery crawl.ArticleQuery
	page      crawl.ArticlePage
	err       error
}

func (f *fakeDocStore) Insert(context.Context, crawl.Article) error {
	return nil
}

func (f *fakeDocStore) List(_ context.Context, query crawl.ArticleQuery) (crawl.ArticlePage, error) {
	f.lastQuery = query
	return f.page, f.err
}

type fakeSearchIndex struct {
	lastQuery   string
	lastPage    int
	lastPerPage int
	page        crawl.ArticlePage
	err         error
}

func (f *fakeSearchIndex) Upsert(context.Context, crawl.Article) error {
	return nil
}

func (f *fakeSearchIndex) Search(_ context.Context, query string, page, perPage int) (crawl.ArticlePage, error) {
	f.lastQuery = query
	f.lastPage = page
	f.lastPerPage = perPage
	return f.page, f.err
}

type fakeRunRepo struct {
	runs       map[uuid.UUID]store.CrawlRun
	lastStatus *store.RunStatus
	lastLimit  int
	lastOffset int
}

func (f *fakeRunRepo) StartRun(context.Context, uuid.UUID, string, time.Time) error {
	return nil
}

func (f *fakeRunRepo) UpdateProgress(context.Context, uuid.UUID, int, int) error {
	return nil
}

func (f *fakeRunRepo) FinishRun(context.Context, uuid.UUID, time.Time, store.RunStatus, *string) error {
	return nil
}

func (f *fakeRunRepo) GetRun(_ context.Context, runID uuid.UUID) (store.CrawlRun, error) {
	run, ok := f.runs[runID]
	if !ok {
		return store.CrawlRun{}, store.ErrNotFound
	}
	return run, nil
}

func (f *fakeRunRepo) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.CrawlRun, error) {
	f.lastStatus = status
	f.lastLimit = limit
	f.lastOffset = offset
	runs := make([]store.CrawlRun, 0, len(f.runs))
	for _, run := range f.runs {
		runs = append(runs, run)
	}
	return runs, nil
}

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 0},
		HTTP:   config.HTTPConfig{TimeoutSeconds: 5},
	}
}

func newTestServer(t *testing.T, cfg config.Config, coord Coordinator, docs crawl.DocumentStore, search crawl.SearchIndex, repo store.RunRepository) http.Handler {
	t.Helper()
	var runs *RunHandler
	if repo != nil {
		runs = NewRunHandler(repo, zap.NewNop())
	}
	srv := NewServer(cfg, coord, docs, search, runs, NewEventStream(nil), zap.NewNop())
	return srv.Routes()
}

func TestStartCrawlAccepted(t *testing.T) {
	t.Parallel()

	coord := &fakeCoordinator{runID: "0190a6b2-0000-7000-8000-000000000001"}
	handler := newTestServer(t, testConfig(), coord, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/crawl/start", strings.NewReader(`{"account_name":"冬日焰火"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp startCrawlResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.True(t, resp.Success)
	require.Equal(t, coord.runID, resp.RunID)
	require.Equal(t, []string{"冬日焰火"}, coord.started)
}

func TestStartCrawlConflictWhenRunning(t *testing.T) {
	t.Parallel()

	coord := &fakeCoordinator{startErr: crawl.ErrAlreadyRunning}
	handler := newTestServer(t, testConfig(), coord, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/crawl/start", strings.NewReader(`{"account_name":"冬日焰火"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestStartCrawlRequiresAccountName(t *testing.T) {
	t.Parallel()

	handler := newTestServer(t, testConfig(), &fakeCoordinator{}, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/crawl/start", strings.NewReader(`{"account_name":"  "}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "account_name")
}

func TestCancelCrawl(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		canceled bool
		want     int
	}{
		{name: "active run", canceled: true, want: http.StatusOK},
		{name: "no run", canceled: false, want: http.StatusConflict},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			handler := newTestServer(t, testConfig(), &fakeCoordinator{canceled: tt.canceled}, nil, nil, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/crawl/cancel", nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestStatusReportsSnapshot(t *testing.T) {
	t.Parallel()

	coord := &fakeCoordinator{snapshot: crawl.RunSnapshot{
		RunID:        "0190a6b2-0000-7000-8000-000000000002",
		Status:       crawl.RunStatusRunning,
		AccountName:  "冬日焰火",
		CrawledCount: 3,
		TotalCount:   9,
		Progress:     33.3,
		StartedAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}}
	handler := newTestServer(t, testConfig(), coord, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var dto statusDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&dto))
	require.True(t, dto.IsRunning)
	require.Equal(t, "running", dto.Status)
	require.Equal(t, "冬日焰火", dto.CurrentAccount)
	require.Equal(t, 3, dto.CrawledCount)
	require.Equal(t, 9, dto.TotalCount)
	require.InDelta(t, 33.3, dto.Progress, 0.01)
	require.Equal(t, "2025-06-01T12:00:00Z", dto.StartedAt)
}

func TestListArticlesForwardsQuery(t *testing.T) {
	t.Parallel()

	docs := &fakeDocStore{page: crawl.ArticlePage{
		Articles: []crawl.Article{{ArticleID: "item-1", Title: "秋日随笔"}},
		Total:    1,
		Page:     2,
		PerPage:  10,
	}}
	handler := newTestServer(t, testConfig(), &fakeCoordinator{}, docs, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/articles?search=随笔&page=2&per_page=10", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, crawl.ArticleQuery{Search: "随笔", Page: 2, PerPage: 10}, docs.lastQuery)

	var page crawl.ArticlePage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	require.Len(t, page.Articles, 1)
	require.Equal(t, "秋日随笔", page.Articles[0].Title)
}

func TestListArticlesRejectsBadPagination(t *testing.T) {
	t.Parallel()

	handler := newTestServer(t, testConfig(), &fakeCoordinator{}, &fakeDocStore{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/articles?page=zero", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchForwardsQuery(t *testing.T) {
	t.Parallel()

	search := &fakeSearchIndex{page: crawl.ArticlePage{Page: 1, PerPage: 20}}
	handler := newTestServer(t, testConfig(), &fakeCoordinator{}, nil, search, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/search?q=焰火", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "焰火", search.lastQuery)
	require.Equal(t, 1, search.lastPage)
	require.Equal(t, 20, search.lastPerPage)
}

func TestSearchUnavailableWithoutIndex(t *testing.T) {
	t.Parallel()

	handler := newTestServer(t, testConfig(), &fakeCoordinator{}, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/search?q=焰火", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListRunsFiltersByStatus(t *testing.T) {
	t.Parallel()

	runID := uuid.New()
	repo := &fakeRunRepo{runs: map[uuid.UUID]store.CrawlRun{
		runID: {
			ID:          runID,
			AccountName: "冬日焰火",
			StartedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			Status:      store.RunCompleted,
			Crawled:     7,
			Total:       7,
		},
	}}
	handler := newTestServer(t, testConfig(), &fakeCoordinator{}, nil, nil, repo)

	req := httptest.NewRequest(http.MethodGet, "/api/runs?status=completed&limit=10&offset=5", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, repo.lastStatus)
	require.Equal(t, store.RunCompleted, *repo.lastStatus)
	require.Equal(t, 10, repo.lastLimit)
	require.Equal(t, 5, repo.lastOffset)

	var resp runListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Runs, 1)
	require.Equal(t, runID.String(), resp.Runs[0].ID)
	require.Equal(t, "completed", resp.Runs[0].Status)
}

func TestListRunsRejectsUnknownStatus(t *testing.T) {
	t.Parallel()

	handler := newTestServer(t, testConfig(), &fakeCoordinator{}, nil, nil, &fakeRunRepo{})

	req := httptest.NewRequest(http.MethodGet, "/api/runs?status=paused", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	handler := newTestServer(t, testConfig(), &fakeCoordinator{}, nil, nil, &fakeRunRepo{runs: map[uuid.UUID]store.CrawlRun{}})

	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRunRejectsInvalidID(t *testing.T) {
	t.Parallel()

	handler := newTestServer(t, testConfig(), &fakeCoordinator{}, nil, nil, &fakeRunRepo{})

	req := httptest.NewRequest(http.MethodGet, "/api/runs/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "secret"
	handler := newTestServer(t, cfg, &fakeCoordinator{}, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Probes stay open even with auth enabled.
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDHeaderEchoed(t *testing.T) {
	t.Parallel()

	handler := newTestServer(t, testConfig(), &fakeCoordinator{}, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}
