package queue

import (
	"context"
	"errors"
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

// priorityOrder is the drain order: the worker always exhausts higher tiers
// before touching lower ones
var priorityOrder = []domain.Priority{domain.PriorityHigh, domain.PriorityNormal, domain.PriorityLow}

// WorkerConfig holds worker tuning
type WorkerConfig struct {
	// MaxAttempts is the total execution attempts per job; 0 means DefaultMaxAttempts
	MaxAttempts int
	// BackoffInitial is the first retry delay, doubled per retry; 0 means DefaultBackoffInitial
	BackoffInitial time.Duration
	// FetchWait is how long one priority tier is polled before falling
	// through to the next
	FetchWait time.Duration
	// AckWait is how long the broker waits for an ack before redelivering;
	// it must exceed the longest plausible scrape
	AckWait time.Duration
	// HistoryLimit bounds retained terminal jobs; 0 means DefaultHistoryLimit
	HistoryLimit int
}

func (c *WorkerConfig) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = DefaultBackoffInitial
	}
	if c.FetchWait <= 0 {
		c.FetchWait = 2 * time.Second
	}
	if c.AckWait <= 0 {
		c.AckWait = 15 * time.Minute
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
}

// Worker drains the scrape-jobs stream sequentially: exactly one job runs at
// a time, regardless of priority tier
type Worker struct {
	cfg       WorkerConfig
	db        store.Store
	executor  Executor
	json      adapter.JSON
	consumers []adapter.Consumer
}

// NewWorker creates the per-priority durable consumers and returns a Worker
func NewWorker(ctx context.Context, cfg WorkerConfig, js adapter.JetStream, db store.Store, executor Executor, json adapter.JSON) (*Worker, error) {
	cfg.applyDefaults()

	consumers := make([]adapter.Consumer, 0, len(priorityOrder))
	for _, p := range priorityOrder {
		consumer, err := js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
			Durable:       "scrape-worker-" + string(p),
			FilterSubject: SubjectFor(p),
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       cfg.AckWait,
			MaxAckPending: 1,
			// redelivery budget: MaxAttempts executions plus one delivery
			// headroom for an ack lost in transit
			MaxDeliver: cfg.MaxAttempts + 1,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create consumer for priority %s: %w", p, err)
		}
		consumers = append(consumers, consumer)
	}

	return &Worker{cfg: cfg, db: db, executor: executor, json: json, consumers: consumers}, nil
}

// Run drains jobs until ctx is cancelled. High priority is polled first each
// cycle, so higher tiers starve lower ones by design.
func (w *Worker) Run(ctx context.Context) error {
	logger.Info("Scrape worker started")
	for {
		if ctx.Err() != nil {
			logger.Info("Scrape worker stopped")
			return ctx.Err()
		}

		msg, ok := w.nextMessage()
		if !ok {
			continue
		}
		w.handle(ctx, msg)
	}
}

// nextMessage polls the priority tiers in order; the per-tier fetch wait
// doubles as the idle backoff
func (w *Worker) nextMessage() (adapter.Message, bool) {
	for _, consumer := range w.consumers {
		msg, err := consumer.Next(jetstream.FetchMaxWait(w.cfg.FetchWait))
		if err == nil {
			return msg, true
		}
		if !errors.Is(err, jetstream.ErrNoMessages) {
			logger.Warn("Failed to fetch job message", zap.Error(err))
		}
	}
	return nil, false
}

// handle executes one delivered job and settles the message: ack on success,
// delayed nak while retry budget remains, term once it is exhausted
func (w *Worker) handle(ctx context.Context, msg adapter.Message) {
	var task domain.ScrapeTask
	if err := w.json.Unmarshal(msg.Data(), &task); err != nil {
		logger.Error(fmt.Errorf("dropping undecodable job message: %w", err))
		_ = msg.Term()
		return
	}

	job, err := w.claimJob(ctx, task)
	if err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("failed to claim job, leaving for redelivery: %w", err),
			zap.String("target", task.Target.String()),
		)
		_ = msg.NakWithDelay(w.cfg.BackoffInitial)
		return
	}

	logger.Info("Job started",
		zap.String("job_id", job.JobID),
		zap.String("target", job.TargetKey),
		zap.Int("attempt", job.Attempts),
	)

	execErr := w.executor.Execute(ctx, task)
	if execErr == nil {
		job.Status = schema.JobStatusCompleted
		job.LastError = nil
		w.finishJob(ctx, job)
		_ = msg.Ack()
		logger.Info("Job completed", zap.String("job_id", job.JobID))
		return
	}

	failure := execErr.Error()
	job.LastError = &failure

	if job.Attempts >= w.cfg.MaxAttempts {
		job.Status = schema.JobStatusFailed
		w.finishJob(ctx, job)
		_ = msg.Term()
		logger.ErrorCtx(ctx, fmt.Errorf("job failed permanently: %w", execErr),
			zap.String("job_id", job.JobID),
			zap.Int("attempts", job.Attempts),
		)
		return
	}

	job.Status = schema.JobStatusWaiting
	if err := w.db.SaveJob(ctx, job); err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("failed to persist job retry state: %w", err))
	}

	delay := w.retryDelay(job.Attempts)
	_ = msg.NakWithDelay(delay)
	logger.Warn("Job attempt failed, retrying",
		zap.String("job_id", job.JobID),
		zap.Int("attempt", job.Attempts),
		zap.Duration("retry_in", delay),
		zap.Error(execErr),
	)
}

// claimJob transitions the job row to active and counts the attempt. A
// missing row (inline-enqueued or trimmed) is recreated so tracking survives.
func (w *Worker) claimJob(ctx context.Context, task domain.ScrapeTask) (*schema.ScrapeJob, error) {
	jobID := JobID(task.Target)
	job, err := w.db.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		job = &schema.ScrapeJob{
			JobID:        jobID,
			TargetKey:    task.Target.String(),
			Trigger:      task.Trigger,
			Priority:     task.Priority,
			Status:       schema.JobStatusWaiting,
			ForceRefresh: task.ForceRefresh,
		}
		if err := w.db.CreateJob(ctx, job); err != nil {
			return nil, err
		}
	}

	job.Status = schema.JobStatusActive
	job.Attempts++
	if err := w.db.SaveJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// finishJob persists a terminal transition and trims history
func (w *Worker) finishJob(ctx context.Context, job *schema.ScrapeJob) {
	if err := w.db.SaveJob(ctx, job); err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("failed to persist terminal job state: %w", err),
			zap.String("job_id", job.JobID),
		)
		return
	}
	if err := w.db.TrimJobHistory(ctx, w.cfg.HistoryLimit); err != nil {
		logger.WarnCtx(ctx, "Failed to trim job history", zap.Error(err))
	}
}

// retryDelay doubles the initial backoff per completed attempt: 5s, 10s, ...
func (w *Worker) retryDelay(attempts int) time.Duration {
	delay := w.cfg.BackoffInitial
	for i := 1; i < attempts; i++ {
		delay *= 2
	}
	return delay
}
