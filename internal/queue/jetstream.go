package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/mygrocart/price-indexer/internal/adapter"
	"github.com/mygrocart/price-indexer/internal/domain"
	"github.com/mygrocart/price-indexer/internal/logger"
	"github.com/mygrocart/price-indexer/internal/store"
	"github.com/mygrocart/price-indexer/internal/store/schema"
)

// duplicateWindow is the broker-side dedup horizon for the published message
// ID; the job table is the authoritative dedup, this only squashes racing
// publishes. Message IDs carry the job row's generation so a re-enqueue after
// a terminal run inside this window still stores a new message.
const duplicateWindow = 2 * time.Minute

// JetStreamQueue is the durable Queue. Job rows in the database carry
// authoritative state; the stream carries the work.
type JetStreamQueue struct {
	js           adapter.JetStream
	db           store.Store
	json         adapter.JSON
	historyLimit int
}

// NewJetStreamQueue creates the scrape-jobs stream and returns a Queue
// publishing to it
func NewJetStreamQueue(ctx context.Context, js adapter.JetStream, db store.Store, json adapter.JSON) (*JetStreamQueue, error) {
	err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{subjectPrefix + ">"},
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
		Duplicates: duplicateWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create scrape job stream: %w", err)
	}

	return &JetStreamQueue{
		js:           js,
		db:           db,
		json:         json,
		historyLimit: DefaultHistoryLimit,
	}, nil
}

// Enqueue is idempotent per target key: an existing waiting/active job for
// the same target is returned as-is. A terminal job row for the target is
// reset in place (the job ID is deterministic, so the row is reused) and the
// target republished.
func (q *JetStreamQueue) Enqueue(ctx context.Context, task domain.ScrapeTask) (*schema.ScrapeJob, error) {
	if !task.Target.Valid() {
		return nil, fmt.Errorf("invalid target key '%s'", task.Target)
	}
	if !domain.IsValidPriority(task.Priority) {
		task.Priority = domain.PriorityNormal
	}

	jobID := JobID(task.Target)

	job, err := q.db.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("job lookup failed: %w", err)
	}

	switch {
	case job != nil && !job.Status.Terminal():
		// dedup: the in-flight job absorbs this request
		return job, nil

	case job != nil:
		// finished earlier; reset the row for a new run. Bumping the
		// generation gives the republish a fresh message ID, otherwise the
		// broker would suppress it as a duplicate and leave the row waiting
		// with nothing in the stream.
		job.Trigger = task.Trigger
		job.Priority = task.Priority
		job.Status = schema.JobStatusWaiting
		job.ForceRefresh = task.ForceRefresh
		job.Attempts = 0
		job.LastError = nil
		job.Generation++
		if err := q.db.SaveJob(ctx, job); err != nil {
			return nil, fmt.Errorf("job reset failed: %w", err)
		}

	default:
		job = &schema.ScrapeJob{
			JobID:        jobID,
			TargetKey:    task.Target.String(),
			Trigger:      task.Trigger,
			Priority:     task.Priority,
			Status:       schema.JobStatusWaiting,
			ForceRefresh: task.ForceRefresh,
		}
		if err := q.db.CreateJob(ctx, job); err != nil {
			// a concurrent enqueue may have won the insert race
			if existing, lookupErr := q.db.GetJobByID(ctx, jobID); lookupErr == nil && existing != nil {
				return existing, nil
			}
			return nil, fmt.Errorf("job creation failed: %w", err)
		}
	}

	payload, err := q.json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task: %w", err)
	}

	// a Duplicate ack means a racing enqueue for the same generation already
	// stored the message, which is exactly the squash the window is for
	msgID := fmt.Sprintf("%s:%d", jobID, job.Generation)
	if _, err := q.js.Publish(ctx, SubjectFor(task.Priority), payload, msgID); err != nil {
		// the row must not sit waiting forever with nothing in the stream
		failure := err.Error()
		job.Status = schema.JobStatusFailed
		job.LastError = &failure
		if saveErr := q.db.SaveJob(ctx, job); saveErr != nil {
			logger.ErrorCtx(ctx, fmt.Errorf("failed to mark unpublishable job: %w", saveErr),
				zap.String("job_id", job.JobID),
			)
		}
		return nil, fmt.Errorf("failed to publish job: %w", err)
	}

	logger.Debug("Job enqueued",
		zap.String("job_id", job.JobID),
		zap.String("target", job.TargetKey),
		zap.String("priority", string(job.Priority)),
	)
	return job, nil
}

func (q *JetStreamQueue) GetJob(ctx context.Context, jobID string) (*schema.ScrapeJob, error) {
	return q.db.GetJobByID(ctx, jobID)
}

func (q *JetStreamQueue) Stats(ctx context.Context) (*Stats, error) {
	counts, err := q.db.CountJobs(ctx)
	if err != nil {
		return nil, err
	}
	inFlight, err := q.db.ListActiveTargets(ctx)
	if err != nil {
		return nil, err
	}
	terminal, err := q.db.ListTerminalJobs(ctx, q.historyLimit)
	if err != nil {
		return nil, err
	}

	history := make([]JobOutcome, len(terminal))
	for i, job := range terminal {
		history[i] = outcomeFromJob(job)
	}
	return &Stats{Counts: *counts, InFlight: inFlight, History: history}, nil
}
