package schema

import (
	"time"

	"github.com/mygrocart/price-indexer/internal/domain"
)

// JobStatus is the lifecycle state of a scrape job
type JobStatus string

const (
	JobStatusWaiting   JobStatus = "waiting"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether a job can no longer transition
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ScrapeJob represents the scrape_jobs table - one attempt to refresh prices
// for one target (a ZIP or a single store). The job ID is deterministic for
// the target key so concurrent enqueues collide instead of racing; at most
// one non-terminal job exists per target key.
type ScrapeJob struct {
	// JobID is a uuid v5 derived from the target key
	JobID string `gorm:"column:job_id;primaryKey;type:text"`
	// TargetKey identifies the unit of scrape work ("zip:07001" or "store:42")
	TargetKey string `gorm:"column:target_key;not null;type:text;index:idx_scrape_jobs_target"`
	// Trigger records why the job was created
	Trigger domain.TriggerReason `gorm:"column:trigger;not null;type:text"`
	// Priority is the queue ordering tier
	Priority domain.Priority `gorm:"column:priority;not null;type:text;default:normal"`
	// Status is the job lifecycle state
	Status JobStatus `gorm:"column:status;not null;type:text;index:idx_scrape_jobs_status"`
	// ForceRefresh bypasses freshness and cooldown checks during execution
	ForceRefresh bool `gorm:"column:force_refresh;not null;default:false"`
	// Attempts counts execution attempts including retries
	Attempts int `gorm:"column:attempts;not null;default:0"`
	// Generation counts runs of this target's reusable job row. It scopes the
	// broker's message-ID dedup so a re-enqueue after a terminal run publishes
	// a fresh message instead of being suppressed as a duplicate.
	Generation int `gorm:"column:generation;not null;default:0"`
	// LastError holds the most recent failure message
	LastError *string `gorm:"column:last_error;type:text"`
	// CreatedAt is when the job was enqueued
	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime"`
	// UpdatedAt is bumped on every state transition
	UpdatedAt time.Time `gorm:"column:updated_at;not null;autoUpdateTime"`
}

// TableName specifies the table name for the ScrapeJob model
func (ScrapeJob) TableName() string {
	return "scrape_jobs"
}
