// Package queue serializes scrape work. Each target key (a ZIP or a single
// store) has at most one non-terminal job at a time, enforced by a
// deterministic job ID; a single worker drains jobs sequentially with bounded
// retries. The durable backend is NATS JetStream, with an in-process
// fire-and-forget fallback when the broker is unreachable at startup.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mygrocart/price-indexer/internal/domain"
	"github.com/mygrocart/price-indexer/internal/store"
	"github.com/mygrocart/price-indexer/internal/store/schema"
)

const (
	// StreamName is the JetStream stream holding scrape jobs
	StreamName = "SCRAPE_JOBS"

	subjectPrefix = "scrape.jobs."

	// DefaultMaxAttempts is the total execution attempts per job
	DefaultMaxAttempts = 3

	// DefaultBackoffInitial is the first retry delay; subsequent retries double it
	DefaultBackoffInitial = 5 * time.Second

	// DefaultHistoryLimit bounds the retained terminal-job history
	DefaultHistoryLimit = 100
)

// jobNamespace is the fixed UUIDv5 namespace for job IDs. Never change it:
// job identity across deployments depends on it.
var jobNamespace = uuid.MustParse("9e336ab4-5b38-4472-a13b-dc71acd37aeb")

// JobID derives the deterministic job identifier for a target key, so
// concurrent enqueues for the same target collide instead of racing
func JobID(target domain.TargetKey) string {
	return uuid.NewSHA1(jobNamespace, []byte(target)).String()
}

// SubjectFor maps a priority tier to its stream subject
func SubjectFor(p domain.Priority) string {
	if !domain.IsValidPriority(p) {
		p = domain.PriorityNormal
	}
	return subjectPrefix + string(p)
}

// Stats is the queue's operational snapshot
type Stats struct {
	Counts   store.JobCounts    `json:"counts"`
	InFlight []domain.TargetKey `json:"in_flight"`
	History  []JobOutcome       `json:"history"`
}

// JobOutcome is one finished job in the bounded history
type JobOutcome struct {
	JobID      string           `json:"job_id"`
	TargetKey  string           `json:"target_key"`
	Trigger    string           `json:"trigger"`
	Status     schema.JobStatus `json:"status"`
	Attempts   int              `json:"attempts"`
	LastError  *string          `json:"last_error,omitempty"`
	FinishedAt time.Time        `json:"finished_at"`
}

// Queue accepts scrape tasks and reports queue state
type Queue interface {
	// Enqueue submits a task. When a non-terminal job already exists for the
	// task's target, that job is returned unchanged.
	Enqueue(ctx context.Context, task domain.ScrapeTask) (*schema.ScrapeJob, error)

	// GetJob looks up a job by its deterministic ID, returning nil when the
	// queue has no record of it
	GetJob(ctx context.Context, jobID string) (*schema.ScrapeJob, error)

	// Stats returns current counts, in-flight targets, and recent history
	Stats(ctx context.Context) (*Stats, error)
}

// Executor runs one scrape task to completion; the worker and the inline
// fallback both drive it
type Executor interface {
	Execute(ctx context.Context, task domain.ScrapeTask) error
}

func outcomeFromJob(job schema.ScrapeJob) JobOutcome {
	return JobOutcome{
		JobID:      job.JobID,
		TargetKey:  job.TargetKey,
		Trigger:    string(job.Trigger),
		Status:     job.Status,
		Attempts:   job.Attempts,
		LastError:  job.LastError,
		FinishedAt: job.UpdatedAt,
	}
}
