package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/mygrocart/price-indexer/internal/api/middleware"
)

// SetupRoutes configures all REST API routes
func SetupRoutes(router *gin.Engine, handler Handler, authCfg middleware.AuthConfig) {
	// Health check endpoint (no auth, no version prefix)
	router.GET("/health", handler.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Search endpoint (public read access)
		v1.GET("/search", handler.Search)

		// Store endpoints (public read access)
		v1.GET("/stores", handler.ListStores)

		// Manual store refresh (requires API key authentication)
		v1.POST("/stores/:id/refresh", middleware.APIKeyAuth(authCfg), handler.RefreshStore)

		// Product endpoints (public read access)
		v1.GET("/products/:identifier", handler.GetProduct)

		// Job endpoints (public read access)
		v1.GET("/jobs/stats", handler.GetJobStats)
		v1.GET("/jobs/:id", handler.GetJob)
	}
}
