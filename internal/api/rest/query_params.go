package rest

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mygrocart/price-indexer/internal/domain"
)

// SearchParams holds parsed query parameters for the search endpoint
type SearchParams struct {
	Query        string
	Zip          string
	RadiusMiles  float64
	Limit        int
	ForceRefresh bool
}

// ParseSearchQuery parses the search endpoint's query string
func ParseSearchQuery(c *gin.Context) (*SearchParams, error) {
	params := &SearchParams{
		Query: c.Query("q"),
		Zip:   c.Query("zip"),
	}

	if raw := c.Query("radius"); raw != "" {
		radius, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid radius '%s'", raw)
		}
		params.RadiusMiles = radius
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid limit '%s'", raw)
		}
		params.Limit = limit
	}

	if raw := c.Query("force_refresh"); raw != "" {
		force, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid force_refresh '%s'", raw)
		}
		params.ForceRefresh = force
	}

	return params, nil
}

// StoresParams holds parsed query parameters for the stores endpoint
type StoresParams struct {
	Zip         string
	RadiusMiles float64
}

// ParseStoresQuery parses the stores endpoint's query string
func ParseStoresQuery(c *gin.Context) (*StoresParams, error) {
	params := &StoresParams{
		Zip:         c.Query("zip"),
		RadiusMiles: domain.DefaultRadiusMiles,
	}

	if !domain.ValidZip(params.Zip) {
		return nil, fmt.Errorf("invalid zip '%s'", params.Zip)
	}

	if raw := c.Query("radius"); raw != "" {
		radius, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid radius '%s'", raw)
		}
		if radius < domain.MinRadiusMiles || radius > domain.MaxRadiusMiles {
			return nil, fmt.Errorf("radius must be between %g and %g miles",
				domain.MinRadiusMiles, domain.MaxRadiusMiles)
		}
		params.RadiusMiles = radius
	}

	return params, nil
}
