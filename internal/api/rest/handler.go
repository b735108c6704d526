package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mygrocart/price-indexer/internal/cache"
	"github.com/mygrocart/price-indexer/internal/domain"
	"github.com/mygrocart/price-indexer/internal/queue"
	"github.com/mygrocart/price-indexer/internal/store"
	"github.com/mygrocart/price-indexer/internal/store/schema"
)

// Searcher runs the price-discovery search pipeline
type Searcher interface {
	Search(ctx context.Context, query domain.SearchQuery) (*domain.SearchResult, error)
}

// StoreFinder resolves nearby stores across all supported chains
type StoreFinder interface {
	FindAllStores(ctx context.Context, zip string, radiusMiles float64) ([]schema.Store, bool, error)
}

// Handler defines the interface for REST API handlers
type Handler interface {
	// Search runs a grocery price search
	// GET /api/v1/search?q=<query>&zip=<zip>&radius=<miles>&limit=<limit>&force_refresh=<bool>
	Search(c *gin.Context)

	// ListStores returns stores near a ZIP code
	// GET /api/v1/stores?zip=<zip>&radius=<miles>
	ListStores(c *gin.Context)

	// GetProduct returns one catalog product by identifier
	// GET /api/v1/products/:identifier
	GetProduct(c *gin.Context)

	// GetJobStats returns queue counts, in-flight targets and recent history
	// GET /api/v1/jobs/stats
	GetJobStats(c *gin.Context)

	// GetJob returns one scrape job by ID
	// GET /api/v1/jobs/:id
	GetJob(c *gin.Context)

	// RefreshStore enqueues a forced refresh for one store (requires API key)
	// POST /api/v1/stores/:id/refresh
	RefreshStore(c *gin.Context)

	// HealthCheck returns the health status of the API
	// GET /health
	HealthCheck(c *gin.Context)
}

// handler implements the Handler interface
type handler struct {
	searcher Searcher
	finder   StoreFinder
	db       store.Store
	queue    queue.Queue
	cache    cache.Cache
}

// NewHandler creates a new REST API handler
func NewHandler(searcher Searcher, finder StoreFinder, db store.Store, q queue.Queue, ca cache.Cache) Handler {
	return &handler{
		searcher: searcher,
		finder:   finder,
		db:       db,
		queue:    q,
		cache:    ca,
	}
}

// Search runs a grocery price search
func (h *handler) Search(c *gin.Context) {
	params, err := ParseSearchQuery(c)
	if err != nil {
		respondValidationError(c, err.Error())
		return
	}

	result, err := h.searcher.Search(c.Request.Context(), domain.SearchQuery{
		Query:        params.Query,
		ZipCode:      params.Zip,
		RadiusMiles:  params.RadiusMiles,
		Limit:        params.Limit,
		ForceRefresh: params.ForceRefresh,
	})
	if err != nil {
		if errors.Is(err, domain.ErrEmptyQuery) ||
			errors.Is(err, domain.ErrInvalidZip) ||
			errors.Is(err, domain.ErrInvalidRadius) {
			respondValidationError(c, err.Error())
			return
		}
		respondInternalError(c, err, "Search failed")
		return
	}

	c.JSON(http.StatusOK, result)
}

// ListStores returns stores near a ZIP code
func (h *handler) ListStores(c *gin.Context) {
	params, err := ParseStoresQuery(c)
	if err != nil {
		respondValidationError(c, err.Error())
		return
	}

	stores, incomplete, err := h.finder.FindAllStores(c.Request.Context(), params.Zip, params.RadiusMiles)
	if err != nil {
		respondInternalError(c, err, "Store lookup failed")
		return
	}

	response := StoresResponse{
		Stores:             make([]StoreDTO, len(stores)),
		PossiblyIncomplete: incomplete,
	}
	for i, s := range stores {
		response.Stores[i] = mapStore(s)
	}
	c.JSON(http.StatusOK, response)
}

// GetProduct returns one catalog product by identifier
func (h *handler) GetProduct(c *gin.Context) {
	identifier := c.Param("identifier")
	if identifier == "" {
		respondBadRequest(c, "Product identifier is required")
		return
	}

	product, err := h.db.GetProductByIdentifier(c.Request.Context(), identifier)
	if err != nil {
		respondInternalError(c, err, "Product lookup failed")
		return
	}
	if product == nil {
		respondNotFound(c, "Product not found")
		return
	}

	c.JSON(http.StatusOK, mapProduct(product))
}

// GetJobStats returns queue statistics
func (h *handler) GetJobStats(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		respondInternalError(c, err, "Failed to read queue stats")
		return
	}
	c.JSON(http.StatusOK, mapStats(stats))
}

// GetJob returns one scrape job by ID
func (h *handler) GetJob(c *gin.Context) {
	jobID := c.Param("id")
	if jobID == "" {
		respondBadRequest(c, "Job ID is required")
		return
	}

	job, err := h.queue.GetJob(c.Request.Context(), jobID)
	if err != nil {
		respondInternalError(c, err, "Job lookup failed")
		return
	}
	if job == nil {
		respondNotFound(c, "Job not found")
		return
	}

	c.JSON(http.StatusOK, mapJob(job))
}

// RefreshStore enqueues a forced refresh for one store
func (h *handler) RefreshStore(c *gin.Context) {
	storeID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondBadRequest(c, "Invalid store ID")
		return
	}

	stores, err := h.db.GetStoresByIDs(c.Request.Context(), []int64{storeID})
	if err != nil {
		respondInternalError(c, err, "Store lookup failed")
		return
	}
	if len(stores) == 0 {
		respondNotFound(c, "Store not found")
		return
	}

	job, err := h.queue.Enqueue(c.Request.Context(), domain.ScrapeTask{
		Target:       domain.NewStoreTarget(storeID),
		Trigger:      domain.TriggerManual,
		Priority:     domain.PriorityNormal,
		ForceRefresh: true,
	})
	if err != nil {
		respondInternalError(c, err, "Failed to enqueue refresh job")
		return
	}

	c.JSON(http.StatusAccepted, mapJob(job))
}

// HealthCheck reports database, cache and queue reachability
func (h *handler) HealthCheck(c *gin.Context) {
	ctx := c.Request.Context()

	dbStatus, cacheStatus, queueStatus := "ok", "ok", "ok"
	if err := h.db.Ping(ctx); err != nil {
		dbStatus = "unreachable"
	}
	if err := h.cache.Ping(ctx); err != nil {
		cacheStatus = "unreachable"
	}
	if _, err := h.queue.Stats(ctx); err != nil {
		queueStatus = "unreachable"
	}

	status := "ok"
	if dbStatus != "ok" || cacheStatus != "ok" || queueStatus != "ok" {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  status,
		"service": "mygrocart-price-api",
		"db":      dbStatus,
		"cache":   cacheStatus,
		"queue":   queueStatus,
	})
}
