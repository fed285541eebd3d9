package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://mp.weixin.qq.com/s/abc", "mp.weixin.qq.com"},
		{"standard https", "https://MP.Weixin.QQ.com/s/abc", "mp.weixin.qq.com"},
		{"no scheme", "mp.weixin.qq.com/s/abc", "mp.weixin.qq.com"},
		{"invalid", "://bad", "unknown"},
		{"empty", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q, want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveFetch(t *testing.T) {
	Init()

	ObserveFetch("https://mp.weixin.qq.com/s/abc", 200, 2048)

	if val := testutil.ToFloat64(fetchPagesTotal.WithLabelValues("mp.weixin.qq.com", "200")); val < 1 {
		t.Errorf("expected fetchPagesTotal >= 1, got %f", val)
	}
	if val := testutil.ToFloat64(fetchBytesTotal.WithLabelValues("mp.weixin.qq.com")); val < 2048 {
		t.Errorf("expected fetchBytesTotal >= 2048, got %f", val)
	}
}

func TestObserveRateLimitDelay(t *testing.T) {
	Init()

	ObserveRateLimitDelay("mp.weixin.qq.com", 150*time.Millisecond)

	if val := testutil.CollectAndCount(rateLimitDelaySeconds); val <= 0 {
		t.Errorf("expected rateLimitDelaySeconds to be observed, got %d", val)
	}
}

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/test", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/notfound", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	for _, path := range []string{"/test", "/notfound"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		if err := resp.Body.Close(); err != nil {
			t.Log(err)
		}
	}

	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")); val < 1 {
		t.Errorf("expected httpRequestsTotal for GET 200 >= 1, got %f", val)
	}
	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404")); val < 1 {
		t.Errorf("expected httpRequestsTotal for GET 404 >= 1, got %f", val)
	}
	if val := testutil.CollectAndCount(httpRequestDurationSeconds); val <= 0 {
		t.Errorf("expected httpRequestDurationSeconds to be observed, got %d", val)
	}
}
