package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mygrocart/price-indexer/internal/domain"
	"github.com/mygrocart/price-indexer/internal/queue"
	"github.com/mygrocart/price-indexer/internal/store/schema"
	"github.com/mygrocart/price-indexer/internal/store/storetest"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time                         { return c.now }
func (c *fixedClock) Since(t time.Time) time.Duration       { return c.now.Sub(t) }
func (c *fixedClock) Sleep(d time.Duration)                  {}
func (c *fixedClock) After(d time.Duration) <-chan time.Time { return time.After(time.Millisecond) }

type recordingQueue struct {
	mu    sync.Mutex
	tasks []domain.ScrapeTask
	errOn map[domain.TargetKey]error
}

func (q *recordingQueue) Enqueue(ctx context.Context, task domain.ScrapeTask) (*schema.ScrapeJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.errOn[task.Target]; err != nil {
		return nil, err
	}
	q.tasks = append(q.tasks, task)
	return &schema.ScrapeJob{
		JobID:     queue.JobID(task.Target),
		TargetKey: task.Target.String(),
		Status:    schema.JobStatusWaiting,
	}, nil
}

func (q *recordingQueue) GetJob(ctx context.Context, jobID string) (*schema.ScrapeJob, error) {
	return nil, nil
}

func (q *recordingQueue) Stats(ctx context.Context) (*queue.Stats, error) {
	return &queue.Stats{}, nil
}

func TestRunSweepEnqueuesActiveZips(t *testing.T) {
	now := time.Date(2026, 8, 2, 3, 0, 0, 0, time.UTC)
	db := storetest.NewFake()
	q := &recordingQueue{}

	// two recent searches, one that aged out of the horizon
	require.NoError(t, db.TouchSearchZip(context.Background(), "07001", now.Add(-2*24*time.Hour)))
	require.NoError(t, db.TouchSearchZip(context.Background(), "07202", now.Add(-6*24*time.Hour)))
	require.NoError(t, db.TouchSearchZip(context.Background(), "99999", now.Add(-60*24*time.Hour)))

	s := NewRefreshSweeper(RefreshSweeperConfig{
		Schedule:         "0 3 * * 0",
		ActiveZipHorizon: 30 * 24 * time.Hour,
	}, db, q, &fixedClock{now: now})

	require.NoError(t, s.RunSweep(context.Background()))

	require.Len(t, q.tasks, 2)
	targets := map[domain.TargetKey]domain.ScrapeTask{}
	for _, task := range q.tasks {
		targets[task.Target] = task
	}
	require.Contains(t, targets, domain.NewZipTarget("07001"))
	require.Contains(t, targets, domain.NewZipTarget("07202"))
	assert.NotContains(t, targets, domain.NewZipTarget("99999"))

	task := targets[domain.NewZipTarget("07001")]
	assert.Equal(t, domain.TriggerWeeklyRefresh, task.Trigger)
	assert.Equal(t, domain.PriorityLow, task.Priority)
	assert.True(t, task.ForceRefresh)
}

func TestRunSweepAbsorbsEnqueueFailures(t *testing.T) {
	now := time.Date(2026, 8, 2, 3, 0, 0, 0, time.UTC)
	db := storetest.NewFake()
	q := &recordingQueue{errOn: map[domain.TargetKey]error{
		domain.NewZipTarget("07001"): errors.New("broker unavailable"),
	}}

	require.NoError(t, db.TouchSearchZip(context.Background(), "07001", now))
	require.NoError(t, db.TouchSearchZip(context.Background(), "07202", now))

	s := NewRefreshSweeper(RefreshSweeperConfig{
		Schedule:         "0 3 * * 0",
		ActiveZipHorizon: 30 * 24 * time.Hour,
	}, db, q, &fixedClock{now: now})

	// one failed enqueue does not fail the sweep
	require.NoError(t, s.RunSweep(context.Background()))
	require.Len(t, q.tasks, 1)
	assert.Equal(t, domain.NewZipTarget("07202"), q.tasks[0].Target)
}

func TestRunSweepEmptyHorizon(t *testing.T) {
	now := time.Date(2026, 8, 2, 3, 0, 0, 0, time.UTC)
	db := storetest.NewFake()
	q := &recordingQueue{}

	s := NewRefreshSweeper(RefreshSweeperConfig{
		Schedule:         "0 3 * * 0",
		ActiveZipHorizon: 30 * 24 * time.Hour,
	}, db, q, &fixedClock{now: now})

	require.NoError(t, s.RunSweep(context.Background()))
	assert.Empty(t, q.tasks)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	db := storetest.NewFake()
	s := NewRefreshSweeper(RefreshSweeperConfig{
		Schedule:         "not a cron spec",
		ActiveZipHorizon: 30 * 24 * time.Hour,
	}, db, &recordingQueue{}, &fixedClock{now: time.Now()})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid sweep schedule")
}

func TestStopUnblocksStart(t *testing.T) {
	db := storetest.NewFake()
	s := NewRefreshSweeper(RefreshSweeperConfig{
		Schedule:         "0 3 * * 0",
		ActiveZipHorizon: 30 * 24 * time.Hour,
	}, db, &recordingQueue{}, &fixedClock{now: time.Now()})

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()

	// give Start a moment to come up
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
