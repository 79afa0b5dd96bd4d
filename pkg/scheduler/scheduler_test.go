package scheduler

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence/file"
)

type signallingAdvancer struct {
	mu       sync.Mutex
	advanced []string
	signal   chan string
}

func newSignallingAdvancer() *signallingAdvancer {
	return &signallingAdvancer{signal: make(chan string, 16)}
}

func (a *signallingAdvancer) Advance(_ context.Context, executionID string) error {
	a.mu.Lock()
	a.advanced = append(a.advanced, executionID)
	a.mu.Unlock()

	a.signal <- executionID

	return nil
}

func (a *signallingAdvancer) waitFor(t *testing.T, executionID string) {
	t.Helper()

	for {
		select {
		case id := <-a.signal:
			if id == executionID {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for advance of %s", executionID)
		}
	}
}

func (a *signallingAdvancer) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.advanced)
}

func newTestScheduler(t *testing.T) (*Scheduler, *file.Persistence, *signallingAdvancer) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	advancer := newSignallingAdvancer()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	s := NewScheduler(p, nil, advancer, DefaultConfig(), nil, logger)

	return s, p, advancer
}

func waitingExecution(t *testing.T, p *file.Persistence, id string, resumeAt time.Time) *models.Execution {
	t.Helper()

	flow := &models.Flow{
		ID:      "flow-1",
		Name:    "Test Flow",
		Status:  models.FlowStatusActive,
		Trigger: models.Trigger{Type: models.TriggerCustomerCreated},
		Steps: []models.Step{
			{Kind: models.StepKindWait, Wait: &models.WaitConfig{DelayMinutes: 1}},
		},
	}

	created := resumeAt.Add(-time.Hour)

	execution := models.NewExecution(id, flow, "cust-"+id, nil, created)
	execution.AdvanceCursor()
	require.NoError(t, execution.Suspend(resumeAt, created))
	require.NoError(t, p.ExecutionRepository().Create(context.Background(), execution))

	return execution
}

func TestRecoverDueResumesOverdueExecutions(t *testing.T) {
	s, p, advancer := newTestScheduler(t)
	ctx := context.Background()

	now := time.Now()
	waitingExecution(t, p, "exec-due", now.Add(-time.Minute))
	waitingExecution(t, p, "exec-future", now.Add(time.Hour))

	count, err := s.RecoverDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	advancer.waitFor(t, "exec-due")

	stored, err := p.ExecutionRepository().GetByID(ctx, "exec-due")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusActive, stored.Status)
	assert.Nil(t, stored.ResumeAt)

	// The future one is untouched.
	future, err := p.ExecutionRepository().GetByID(ctx, "exec-future")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusWaiting, future.Status)
}

func TestStartRunsInitialSweep(t *testing.T) {
	s, p, advancer := newTestScheduler(t)
	ctx := context.Background()

	// Simulates a cold start: the process that armed the timer is gone and
	// the resume time passed while nothing was running.
	waitingExecution(t, p, "exec-orphan", time.Now().Add(-time.Minute))

	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	advancer.waitFor(t, "exec-orphan")
}

func TestStaleResumeIsDiscarded(t *testing.T) {
	s, p, advancer := newTestScheduler(t)
	ctx := context.Background()

	execution := waitingExecution(t, p, "exec-1", time.Now().Add(-time.Minute))

	// The execution gets cancelled before the resume job fires.
	require.True(t, execution.Cancel(time.Now()))
	require.NoError(t, p.ExecutionRepository().Update(ctx, execution))

	s.resume(ctx, "exec-1")

	assert.Zero(t, advancer.count())

	stored, err := p.ExecutionRepository().GetByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, stored.Status)
}

func TestConcurrentResumersAdvanceOnce(t *testing.T) {
	s, p, advancer := newTestScheduler(t)
	ctx := context.Background()

	waitingExecution(t, p, "exec-1", time.Now().Add(-time.Minute))

	// The initial sweep, the periodic sweep, the queue poller and the
	// fallback timer can all fire for the same due execution. The claim is
	// atomic, so only one firing reaches the interpreter.
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			s.resume(ctx, "exec-1")
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, advancer.count())

	stored, err := p.ExecutionRepository().GetByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusActive, stored.Status)
}

func TestScheduleResumeTimerFallback(t *testing.T) {
	s, p, advancer := newTestScheduler(t)
	ctx := context.Background()

	waitingExecution(t, p, "exec-1", time.Now().Add(10*time.Millisecond))

	// No durable queue configured, so the in-process timer carries it.
	require.NoError(t, s.ScheduleResume(ctx, "exec-1", 10*time.Millisecond))

	advancer.waitFor(t, "exec-1")

	stored, err := p.ExecutionRepository().GetByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusActive, stored.Status)
}

func TestCancelWaitingExecution(t *testing.T) {
	s, p, advancer := newTestScheduler(t)
	ctx := context.Background()

	waitingExecution(t, p, "exec-1", time.Now().Add(time.Hour))

	require.NoError(t, s.Cancel(ctx, "exec-1"))

	stored, err := p.ExecutionRepository().GetByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, stored.Status)

	// A resume job firing after cancellation finds a terminal execution.
	s.resume(ctx, "exec-1")
	assert.Zero(t, advancer.count())

	// Cancelling again is a no-op.
	assert.NoError(t, s.Cancel(ctx, "exec-1"))
}

func TestCancelUnknownExecution(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	assert.Error(t, s.Cancel(context.Background(), "exec-ghost"))
}

func TestStopClearsTimers(t *testing.T) {
	s, p, advancer := newTestScheduler(t)
	ctx := context.Background()

	waitingExecution(t, p, "exec-1", time.Now().Add(time.Hour))

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.ScheduleResume(ctx, "exec-1", time.Hour))

	s.Stop()

	s.mu.Lock()
	remaining := len(s.timers)
	s.mu.Unlock()

	assert.Zero(t, remaining)
	assert.Zero(t, advancer.count())
}
