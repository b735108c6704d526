package rest

import (
	"time"

	"github.com/mygrocart/price-indexer/internal/domain"
	"github.com/mygrocart/price-indexer/internal/queue"
	"github.com/mygrocart/price-indexer/internal/store/schema"
)

// StoreDTO is the API representation of one retail location
type StoreDTO struct {
	ID              int64        `json:"id"`
	Chain           domain.Chain `json:"chain"`
	ExternalStoreID string       `json:"external_store_id"`
	Name            string       `json:"name"`
	Address         string       `json:"address,omitempty"`
	City            string       `json:"city,omitempty"`
	State           string       `json:"state,omitempty"`
	Zip             string       `json:"zip"`
	Latitude        *float64     `json:"latitude,omitempty"`
	Longitude       *float64     `json:"longitude,omitempty"`
	Active          bool         `json:"active"`
}

// StoresResponse wraps a store list
type StoresResponse struct {
	Stores             []StoreDTO `json:"stores"`
	PossiblyIncomplete bool       `json:"possibly_incomplete"`
}

// ProductDTO is the API representation of one catalog product
type ProductDTO struct {
	Identifier      string     `json:"identifier"`
	Name            string     `json:"name"`
	Brand           *string    `json:"brand,omitempty"`
	Size            *string    `json:"size,omitempty"`
	Category        *string    `json:"category,omitempty"`
	ImageURL        *string    `json:"image_url,omitempty"`
	DiscoveryCount  int        `json:"discovery_count"`
	LastPriceUpdate *time.Time `json:"last_price_update,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// JobDTO is the API representation of one scrape job
type JobDTO struct {
	JobID        string               `json:"job_id"`
	TargetKey    string               `json:"target_key"`
	Trigger      domain.TriggerReason `json:"trigger"`
	Priority     domain.Priority      `json:"priority"`
	Status       schema.JobStatus     `json:"status"`
	ForceRefresh bool                 `json:"force_refresh"`
	Attempts     int                  `json:"attempts"`
	LastError    *string              `json:"last_error,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// JobStatsResponse is the queue statistics payload
type JobStatsResponse struct {
	Counts   map[string]int64   `json:"counts"`
	InFlight []string           `json:"in_flight"`
	History  []queue.JobOutcome `json:"history"`
}

func mapStore(s schema.Store) StoreDTO {
	return StoreDTO{
		ID:              s.ID,
		Chain:           s.Chain,
		ExternalStoreID: s.ExternalStoreID,
		Name:            s.Name,
		Address:         s.Address,
		City:            s.City,
		State:           s.State,
		Zip:             s.Zip,
		Latitude:        s.Latitude,
		Longitude:       s.Longitude,
		Active:          s.Active,
	}
}

func mapProduct(p *schema.Product) ProductDTO {
	return ProductDTO{
		Identifier:      p.Identifier,
		Name:            p.Name,
		Brand:           p.Brand,
		Size:            p.Size,
		Category:        p.Category,
		ImageURL:        p.ImageURL,
		DiscoveryCount:  p.DiscoveryCount,
		LastPriceUpdate: p.LastPriceUpdate,
		CreatedAt:       p.CreatedAt,
	}
}

func mapJob(j *schema.ScrapeJob) JobDTO {
	return JobDTO{
		JobID:        j.JobID,
		TargetKey:    j.TargetKey,
		Trigger:      j.Trigger,
		Priority:     j.Priority,
		Status:       j.Status,
		ForceRefresh: j.ForceRefresh,
		Attempts:     j.Attempts,
		LastError:    j.LastError,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
}

func mapStats(s *queue.Stats) JobStatsResponse {
	inFlight := make([]string, len(s.InFlight))
	for i, target := range s.InFlight {
		inFlight[i] = target.String()
	}
	return JobStatsResponse{
		Counts: map[string]int64{
			"waiting":   s.Counts.Waiting,
			"active":    s.Counts.Active,
			"completed": s.Counts.Completed,
			"failed":    s.Counts.Failed,
		},
		InFlight: inFlight,
		History:  s.History,
	}
}
