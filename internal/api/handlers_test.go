package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/maltedev/deal-scraper/internal/database"
	"github.com/maltedev/deal-scraper/internal/deals"
	"github.com/maltedev/deal-scraper/internal/metrics"
	"github.com/maltedev/deal-scraper/internal/models"
	"github.com/maltedev/deal-scraper/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockMetadata struct {
	mock.Mock
}

func (m *MockMetadata) FetchMetadata(ctx context.Context, url string) *models.Metadata {
	return m.Called(ctx, url).Get(0).(*models.Metadata)
}

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Stats() storage.CacheStats {
	return m.Called().Get(0).(storage.CacheStats)
}

func (m *MockCache) ClearExpired() int {
	return m.Called().Int(0)
}

func (m *MockCache) ClearAll() int {
	return m.Called().Int(0)
}

type MockDeals struct {
	mock.Mock
}

func (m *MockDeals) CreateDeal(ctx context.Context, req deals.DealRequest) (*models.Deal, error) {
	args := m.Called(ctx, req)
	deal, _ := args.Get(0).(*models.Deal)
	return deal, args.Error(1)
}

func (m *MockDeals) GetByID(ctx context.Context, id int64) (*models.Deal, error) {
	args := m.Called(ctx, id)
	deal, _ := args.Get(0).(*models.Deal)
	return deal, args.Error(1)
}

type stubBacklog struct {
	backlog database.Backlog
	err     error
}

func (s stubBacklog) Backlog(context.Context) (database.Backlog, error) {
	return s.backlog, s.err
}

type fixture struct {
	metadata *MockMetadata
	cache    *MockCache
	deals    *MockDeals
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	server   *httptest.Server
}

func newFixture(t *testing.T, opts ...HandlerOption) *fixture {
	t.Helper()

	f := &fixture{
		metadata: new(MockMetadata),
		cache:    new(MockCache),
		deals:    new(MockDeals),
		registry: prometheus.NewRegistry(),
	}
	f.metrics = metrics.New(f.registry)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]HandlerOption{WithDeals(f.deals, f.deals)}, opts...)
	h := NewHandlers(f.metadata, f.cache, logger, opts...)

	f.server = httptest.NewServer(NewRouter(h, RouterConfig{}, f.metrics, f.registry))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp, decoded
}

func TestFetchMetadata(t *testing.T) {
	f := newFixture(t)
	url := "https://www.amazon.in/dp/B01"
	f.metadata.On("FetchMetadata", mock.Anything, url).Return(&models.Metadata{
		Title:       "Wireless Mouse",
		Description: "Silent clicks",
		ImageURL:    "https://m.media-amazon.com/images/I/mouse.jpg",
		Price:       models.Float64(499),
	})

	resp, body := f.do(t, http.MethodPost, "/api/v1/metadata", `{"url":"  `+url+`  "}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Wireless Mouse", body["title"])
	assert.Equal(t, 499.0, body["price"])
	f.metadata.AssertExpectations(t)
}

func TestFetchMetadata_FailureIsStill200(t *testing.T) {
	f := newFixture(t)
	f.metadata.On("FetchMetadata", mock.Anything, "https://blocked.example.test/p").Return(models.FailedMetadata())

	resp, body := f.do(t, http.MethodPost, "/api/v1/metadata", `{"url":"https://blocked.example.test/p"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.FailedTitle, body["title"])
	assert.Nil(t, body["price"])
}

func TestFetchMetadata_BadRequests(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/v1/metadata", `{"url":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "url is required", body["error"])

	resp, body = f.do(t, http.MethodPost, "/api/v1/metadata", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid request body", body["error"])

	f.metadata.AssertNotCalled(t, "FetchMetadata", mock.Anything, mock.Anything)
}

func TestCacheEndpoints(t *testing.T) {
	f := newFixture(t)
	f.cache.On("Stats").Return(storage.CacheStats{Total: 5, Valid: 3, Expired: 2, TTL: time.Hour})
	f.cache.On("ClearExpired").Return(2)
	f.cache.On("ClearAll").Return(3)

	resp, body := f.do(t, http.MethodGet, "/api/v1/cache/stats", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 5.0, body["total"])
	assert.Equal(t, 3.0, body["valid"])
	assert.Equal(t, 2.0, body["expired"])
	assert.Equal(t, 3600.0, body["ttl_seconds"])

	resp, body = f.do(t, http.MethodPost, "/api/v1/cache/cleanup", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2.0, body["removed"])

	resp, body = f.do(t, http.MethodDelete, "/api/v1/cache", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3.0, body["removed"])

	f.cache.AssertExpectations(t)
}

func TestCreateDeal_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"url required", deals.ErrURLRequired, http.StatusBadRequest, deals.ErrURLRequired.Error()},
		{"invalid url", fmt.Errorf("%w: nope", deals.ErrInvalidURL), http.StatusBadRequest, "invalid deal URL: nope"},
		{"invalid price", fmt.Errorf("%w: got 0.50", deals.ErrInvalidPrice), http.StatusBadRequest, "price must be between 1 and 200000: got 0.50"},
		{"duplicate", deals.ErrDuplicateDeal, http.StatusConflict, deals.ErrDuplicateDeal.Error()},
		{"duplicate from store", fmt.Errorf("failed to save deal: %w", models.ErrDuplicateDeal), http.StatusConflict, "failed to save deal: deal already exists with this URL"},
		{"price undetermined", deals.ErrPriceUndetermined, http.StatusUnprocessableEntity, deals.ErrPriceUndetermined.Error()},
		{"title undetermined", deals.ErrTitleUndetermined, http.StatusUnprocessableEntity, deals.ErrTitleUndetermined.Error()},
		{"internal", errors.New("failed to save deal: connection refused"), http.StatusInternalServerError, "failed to create deal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.deals.On("CreateDeal", mock.Anything, mock.Anything).Return(nil, tt.err)

			resp, body := f.do(t, http.MethodPost, "/api/v1/deals", `{"url":"https://www.amazon.in/dp/B01"}`)

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantError, body["error"])
		})
	}
}

func TestCreateDeal_Created(t *testing.T) {
	f := newFixture(t)
	price := 899.0
	want := deals.DealRequest{URL: "https://www.amazon.in/dp/B01", Title: "Mouse", Price: &price}

	f.deals.On("CreateDeal", mock.Anything, want).Return(&models.Deal{
		ID:           9,
		Title:        "Mouse",
		CanonicalURL: "https://www.amazon.in/dp/B01",
		Price:        899,
		Category:     models.DefaultCategory,
	}, nil)

	resp, body := f.do(t, http.MethodPost, "/api/v1/deals",
		`{"url":"https://www.amazon.in/dp/B01","title":"Mouse","price":899}`)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, 9.0, body["id"])
	assert.Equal(t, "General", body["category"])
	f.deals.AssertExpectations(t)
}

func TestGetDeal(t *testing.T) {
	f := newFixture(t)
	f.deals.On("GetByID", mock.Anything, int64(9)).Return(&models.Deal{ID: 9, Title: "Mouse"}, nil)
	f.deals.On("GetByID", mock.Anything, int64(10)).Return(nil, nil)
	f.deals.On("GetByID", mock.Anything, int64(11)).Return(nil, errors.New("connection refused"))

	resp, body := f.do(t, http.MethodGet, "/api/v1/deals/9", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Mouse", body["title"])

	resp, _ = f.do(t, http.MethodGet, "/api/v1/deals/10", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/deals/11", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/deals/abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDealRoutesAbsentWithoutDeals(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandlers(new(MockMetadata), new(MockCache), logger)
	srv := httptest.NewServer(NewRouter(h, RouterConfig{}, nil, nil))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/deals", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouteTimeouts(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	md := new(MockMetadata)
	dl := new(MockDeals)

	deadlines := make(chan time.Duration, 2)
	remaining := func(ctx context.Context) time.Duration {
		d, ok := ctx.Deadline()
		require.True(t, ok)
		return time.Until(d)
	}

	md.On("FetchMetadata", mock.Anything, "https://www.amazon.in/dp/B01").
		Run(func(args mock.Arguments) { deadlines <- remaining(args.Get(0).(context.Context)) }).
		Return(&models.Metadata{Title: "Wireless Mouse"})
	dl.On("GetByID", mock.Anything, int64(7)).
		Run(func(args mock.Arguments) { deadlines <- remaining(args.Get(0).(context.Context)) }).
		Return(&models.Deal{ID: 7}, nil)

	h := NewHandlers(md, new(MockCache), logger, WithDeals(dl, dl))
	srv := httptest.NewServer(NewRouter(h, RouterConfig{
		RequestTimeout: 30 * time.Second,
		LookupTimeout:  6 * time.Minute,
	}, nil, nil))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/metadata", "application/json", strings.NewReader(`{"url":"https://www.amazon.in/dp/B01"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Greater(t, <-deadlines, 5*time.Minute)

	resp, err = http.Get(srv.URL + "/api/v1/deals/7")
	require.NoError(t, err)
	resp.Body.Close()
	assert.LessOrEqual(t, <-deadlines, 30*time.Second)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		backlog    BacklogReporter
		wantStatus int
		wantState  string
	}{
		{"no database", nil, http.StatusOK, "ok"},
		{"healthy outbox", stubBacklog{backlog: database.Backlog{Pending: 3}}, http.StatusOK, "ok"},
		{"pending pile-up", stubBacklog{backlog: database.Backlog{Pending: 1001}}, http.StatusOK, "warning"},
		{"dead letters", stubBacklog{backlog: database.Backlog{DeadLetter: 101}}, http.StatusServiceUnavailable, "error"},
		{"database down", stubBacklog{err: errors.New("connection refused")}, http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []HandlerOption
			if tt.backlog != nil {
				opts = append(opts, WithBacklog(tt.backlog))
			}
			f := newFixture(t, opts...)

			resp, body := f.do(t, http.MethodGet, "/health", "")

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantState, body["status"])
		})
	}
}

func TestMetricsEndpointAndInstrumentation(t *testing.T) {
	f := newFixture(t)
	f.deals.On("GetByID", mock.Anything, mock.Anything).Return(&models.Deal{ID: 1}, nil)

	f.do(t, http.MethodGet, "/api/v1/deals/1", "")
	f.do(t, http.MethodGet, "/api/v1/deals/2", "")

	// labelled by route pattern rather than the concrete path
	assert.Equal(t, 2.0, testutil.ToFloat64(
		f.metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/deals/{dealID}", "2xx")))

	resp, err := http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodOptions, f.server.URL+"/api/v1/metadata", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://dashboard.example.test")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
