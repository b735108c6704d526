package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mygrocart/price-indexer/internal/adapter"
	"github.com/mygrocart/price-indexer/internal/api/middleware"
	"github.com/mygrocart/price-indexer/internal/cache"
	"github.com/mygrocart/price-indexer/internal/domain"
	"github.com/mygrocart/price-indexer/internal/queue"
	"github.com/mygrocart/price-indexer/internal/store"
	"github.com/mygrocart/price-indexer/internal/store/schema"
	"github.com/mygrocart/price-indexer/internal/store/storetest"
)

type fakeSearcher struct {
	result *domain.SearchResult
	err    error
	got    domain.SearchQuery
}

func (f *fakeSearcher) Search(ctx context.Context, query domain.SearchQuery) (*domain.SearchResult, error) {
	f.got = query
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeFinder struct {
	stores     []schema.Store
	incomplete bool
	err        error
}

func (f *fakeFinder) FindAllStores(ctx context.Context, zip string, radius float64) ([]schema.Store, bool, error) {
	return f.stores, f.incomplete, f.err
}

type fakeQueue struct {
	jobs     map[string]*schema.ScrapeJob
	enqueued []domain.ScrapeTask
	stats    *queue.Stats
	statsErr error
	err      error
}

func (f *fakeQueue) Enqueue(ctx context.Context, task domain.ScrapeTask) (*schema.ScrapeJob, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.enqueued = append(f.enqueued, task)
	return &schema.ScrapeJob{
		JobID:        queue.JobID(task.Target),
		TargetKey:    task.Target.String(),
		Trigger:      task.Trigger,
		Priority:     task.Priority,
		Status:       schema.JobStatusWaiting,
		ForceRefresh: task.ForceRefresh,
	}, nil
}

func (f *fakeQueue) GetJob(ctx context.Context, jobID string) (*schema.ScrapeJob, error) {
	return f.jobs[jobID], nil
}

func (f *fakeQueue) Stats(ctx context.Context) (*queue.Stats, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	if f.stats == nil {
		return &queue.Stats{History: []queue.JobOutcome{}}, nil
	}
	return f.stats, nil
}

type testEnv struct {
	router   *gin.Engine
	searcher *fakeSearcher
	finder   *fakeFinder
	db       *storetest.Fake
	queue    *fakeQueue
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		searcher: &fakeSearcher{result: &domain.SearchResult{Products: []domain.PricedProduct{}}},
		finder:   &fakeFinder{},
		db:       storetest.NewFake(),
		queue:    &fakeQueue{jobs: map[string]*schema.ScrapeJob{}},
	}

	handler := NewHandler(env.searcher, env.finder, env.db, env.queue, cache.NewMemoryCache(adapter.NewClock()))
	env.router = gin.New()
	SetupRoutes(env.router, handler, middleware.AuthConfig{APIKeys: []string{"test-key"}})
	return env
}

func (env *testEnv) request(t *testing.T, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["db"])
	assert.Equal(t, "ok", body["cache"])
	assert.Equal(t, "ok", body["queue"])
}

func TestHealthCheckDegraded(t *testing.T) {
	env := newTestEnv(t)
	env.db.Err = errors.New("connection refused")
	env.queue.statsErr = errors.New("broker gone")

	rec := env.request(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "unreachable", body["db"])
	assert.Equal(t, "ok", body["cache"])
	assert.Equal(t, "unreachable", body["queue"])
}

func TestSearchEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.searcher.result = &domain.SearchResult{
		Products: []domain.PricedProduct{
			{Identifier: "011110491", Name: "Whole Milk, 1 gal", Price: 3.49, Fresh: true},
		},
		FreshData:      true,
		StoresSearched: 2,
		StoresScraped:  1,
	}

	rec := env.request(t, http.MethodGet, "/api/v1/search?q=milk&zip=07001&radius=10&limit=25&force_refresh=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "milk", env.searcher.got.Query)
	assert.Equal(t, "07001", env.searcher.got.ZipCode)
	assert.Equal(t, 10.0, env.searcher.got.RadiusMiles)
	assert.Equal(t, 25, env.searcher.got.Limit)
	assert.True(t, env.searcher.got.ForceRefresh)

	var result domain.SearchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.FreshData)
	require.Len(t, result.Products, 1)
	assert.Equal(t, "Whole Milk, 1 gal", result.Products[0].Name)
}

func TestSearchEndpointValidation(t *testing.T) {
	env := newTestEnv(t)
	env.searcher.err = domain.ErrInvalidZip

	rec := env.request(t, http.MethodGet, "/api/v1/search?q=milk&zip=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// unparseable radius is rejected before reaching the searcher
	rec = env.request(t, http.MethodGet, "/api/v1/search?q=milk&zip=07001&radius=wide", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchEndpointInternalError(t *testing.T) {
	env := newTestEnv(t)
	env.searcher.err = errors.New("database down")

	rec := env.request(t, http.MethodGet, "/api/v1/search?q=milk&zip=07001", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListStoresEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.finder.stores = []schema.Store{
		{ID: 1, Chain: domain.ChainShopRite, ExternalStoreID: "s-1", Name: "ShopRite Elizabeth", Zip: "07202", Active: true},
	}
	env.finder.incomplete = true

	rec := env.request(t, http.MethodGet, "/api/v1/stores?zip=07202&radius=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body StoresResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Stores, 1)
	assert.Equal(t, "ShopRite Elizabeth", body.Stores[0].Name)
	assert.True(t, body.PossiblyIncomplete)
}

func TestListStoresEndpointRejectsBadZip(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/v1/stores?zip=7001", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/v1/stores?zip=07001&radius=500", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetProductEndpoint(t *testing.T) {
	env := newTestEnv(t)
	brand := "Barilla"
	require.NoError(t, env.db.CreateProduct(context.Background(), &schema.Product{
		Identifier: "076808501", Name: "Barilla Penne Pasta, 16 oz", Brand: &brand,
	}))

	rec := env.request(t, http.MethodGet, "/api/v1/products/076808501", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body ProductDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Barilla Penne Pasta, 16 oz", body.Name)
	require.NotNil(t, body.Brand)
	assert.Equal(t, "Barilla", *body.Brand)

	rec = env.request(t, http.MethodGet, "/api/v1/products/000000000", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJobEndpoint(t *testing.T) {
	env := newTestEnv(t)
	jobID := queue.JobID(domain.NewZipTarget("07001"))
	env.queue.jobs[jobID] = &schema.ScrapeJob{
		JobID:     jobID,
		TargetKey: "zip:07001",
		Trigger:   domain.TriggerUserSearch,
		Priority:  domain.PriorityHigh,
		Status:    schema.JobStatusCompleted,
		Attempts:  1,
	}

	rec := env.request(t, http.MethodGet, "/api/v1/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body JobDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "zip:07001", body.TargetKey)
	assert.Equal(t, schema.JobStatusCompleted, body.Status)

	rec = env.request(t, http.MethodGet, "/api/v1/jobs/no-such-job", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJobStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.queue.stats = &queue.Stats{
		Counts:   store.JobCounts{Waiting: 1, Completed: 4},
		InFlight: []domain.TargetKey{domain.NewZipTarget("07001")},
		History: []queue.JobOutcome{
			{JobID: "j1", TargetKey: "zip:07001", Status: schema.JobStatusCompleted, FinishedAt: time.Now()},
		},
	}

	rec := env.request(t, http.MethodGet, "/api/v1/jobs/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body JobStatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(1), body.Counts["waiting"])
	assert.Equal(t, int64(4), body.Counts["completed"])
	assert.Equal(t, []string{"zip:07001"}, body.InFlight)
	require.Len(t, body.History, 1)
}

func TestRefreshStoreEndpoint(t *testing.T) {
	env := newTestEnv(t)
	st, err := env.db.UpsertStore(context.Background(), &schema.Store{
		Chain: domain.ChainShopRite, ExternalStoreID: "s-1", Name: "ShopRite Elizabeth", Zip: "07202", Active: true,
	})
	require.NoError(t, err)

	// no API key
	rec := env.request(t, http.MethodPost, "/api/v1/stores/1/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, env.queue.enqueued)

	// wrong key
	rec = env.request(t, http.MethodPost, "/api/v1/stores/1/refresh",
		map[string]string{"Authorization": "APIKey wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// valid key enqueues a forced manual refresh
	rec = env.request(t, http.MethodPost, "/api/v1/stores/1/refresh",
		map[string]string{"Authorization": "APIKey test-key"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, env.queue.enqueued, 1)
	task := env.queue.enqueued[0]
	assert.Equal(t, domain.NewStoreTarget(st.ID), task.Target)
	assert.Equal(t, domain.TriggerManual, task.Trigger)
	assert.True(t, task.ForceRefresh)

	// unknown store
	rec = env.request(t, http.MethodPost, "/api/v1/stores/999/refresh",
		map[string]string{"Authorization": "APIKey test-key"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
