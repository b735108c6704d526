package queue

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mygrocart/price-indexer/internal/adapter"
	"github.com/mygrocart/price-indexer/internal/domain"
	"github.com/mygrocart/price-indexer/internal/logger"
	"github.com/mygrocart/price-indexer/internal/store"
	"github.com/mygrocart/price-indexer/internal/store/schema"
)

// InlineQueue is the degraded-mode Queue used when the broker is unreachable
// at startup: each enqueue executes immediately in-process, fire-and-forget,
// with no retries and no persistence. Dedup and the single-runner guarantee
// are kept, in memory only.
type InlineQueue struct {
	executor     Executor
	clock        adapter.Clock
	historyLimit int

	mu       sync.Mutex
	inflight map[domain.TargetKey]*schema.ScrapeJob
	jobs     map[string]*schema.ScrapeJob
	history  []JobOutcome
	counts   store.JobCounts

	// serial admits one execution at a time
	serial chan struct{}
	wg     sync.WaitGroup
}

// NewInlineQueue creates a degraded in-process queue
func NewInlineQueue(executor Executor, clock adapter.Clock) *InlineQueue {
	logger.Warn("Job queue running in degraded in-process mode; jobs are not durable")
	serial := make(chan struct{}, 1)
	serial <- struct{}{}
	return &InlineQueue{
		executor:     executor,
		clock:        clock,
		historyLimit: DefaultHistoryLimit,
		inflight:     make(map[domain.TargetKey]*schema.ScrapeJob),
		jobs:         make(map[string]*schema.ScrapeJob),
		serial:       serial,
	}
}

func (q *InlineQueue) Enqueue(ctx context.Context, task domain.ScrapeTask) (*schema.ScrapeJob, error) {
	if !task.Target.Valid() {
		return nil, fmt.Errorf("invalid target key '%s'", task.Target)
	}
	if !domain.IsValidPriority(task.Priority) {
		task.Priority = domain.PriorityNormal
	}

	q.mu.Lock()
	if existing, ok := q.inflight[task.Target]; ok {
		copied := *existing
		q.mu.Unlock()
		return &copied, nil
	}

	now := q.clock.Now()
	job := &schema.ScrapeJob{
		JobID:        JobID(task.Target),
		TargetKey:    task.Target.String(),
		Trigger:      task.Trigger,
		Priority:     task.Priority,
		Status:       schema.JobStatusWaiting,
		ForceRefresh: task.ForceRefresh,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	q.inflight[task.Target] = job
	q.jobs[job.JobID] = job
	q.counts.Waiting++
	q.mu.Unlock()

	q.wg.Add(1)
	go q.run(task, job)

	copied := *job
	return &copied, nil
}

// run executes one job detached from the enqueueing request
func (q *InlineQueue) run(task domain.ScrapeTask, job *schema.ScrapeJob) {
	defer q.wg.Done()

	<-q.serial
	defer func() { q.serial <- struct{}{} }()

	q.mu.Lock()
	q.counts.Waiting--
	q.counts.Active++
	job.Status = schema.JobStatusActive
	job.Attempts = 1
	job.UpdatedAt = q.clock.Now()
	q.mu.Unlock()

	err := q.executor.Execute(context.Background(), task)

	q.mu.Lock()
	defer q.mu.Unlock()

	q.counts.Active--
	job.UpdatedAt = q.clock.Now()
	if err != nil {
		failure := err.Error()
		job.Status = schema.JobStatusFailed
		job.LastError = &failure
		q.counts.Failed++
		logger.Error(fmt.Errorf("inline job failed: %w", err),
			zap.String("target", job.TargetKey),
		)
	} else {
		job.Status = schema.JobStatusCompleted
		q.counts.Completed++
	}

	delete(q.inflight, task.Target)

	q.history = append([]JobOutcome{outcomeFromJob(*job)}, q.history...)
	if len(q.history) > q.historyLimit {
		for _, trimmed := range q.history[q.historyLimit:] {
			delete(q.jobs, trimmed.JobID)
		}
		q.history = q.history[:q.historyLimit]
	}
}

func (q *InlineQueue) GetJob(ctx context.Context, jobID string) (*schema.ScrapeJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job, ok := q.jobs[jobID]; ok {
		copied := *job
		return &copied, nil
	}
	return nil, nil
}

func (q *InlineQueue) Stats(ctx context.Context) (*Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	inFlight := make([]domain.TargetKey, 0, len(q.inflight))
	for target := range q.inflight {
		inFlight = append(inFlight, target)
	}
	history := make([]JobOutcome, len(q.history))
	copy(history, q.history)

	return &Stats{Counts: q.counts, InFlight: inFlight, History: history}, nil
}

// Wait blocks until in-flight inline jobs finish; used on shutdown and in tests
func (q *InlineQueue) Wait() {
	q.wg.Wait()
}
