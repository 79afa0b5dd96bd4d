package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dripflow/dripflow/pkg/eventbus"
	"github.com/dripflow/dripflow/pkg/events"
	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

// Advancer is the scheduler's view of the step interpreter.
type Advancer interface {
	Advance(ctx context.Context, executionID string) error
}

// Config tunes the scheduler's polling cadence.
type Config struct {
	// SweepSpec is a cron spec for the recovery sweep.
	SweepSpec string `validate:"required"`
	// QueuePollInterval is how often the durable queue is drained.
	QueuePollInterval time.Duration `validate:"required,min=100ms"`
}

// DefaultConfig returns the production cadence: sweep every minute, drain
// the queue every two seconds.
func DefaultConfig() Config {
	return Config{
		SweepSpec:         "@every 1m",
		QueuePollInterval: 2 * time.Second,
	}
}

// Scheduler owns the wait/resume mechanics. The durable delay queue is the
// primary path; an in-process timer backs it up when the queue is
// unavailable, and the recovery sweep is the correctness backstop for both:
// it runs at start (cold start with zero in-memory timers) and periodically,
// resuming anything waiting whose due time passed.
type Scheduler struct {
	executions  persistence.ExecutionRepository
	queue       DelayQueue // nil when no durable queue is configured
	interpreter Advancer
	config      Config
	bus         eventbus.EventBus
	logger      *slog.Logger
	now         func() time.Time

	cron    *cron.Cron
	done    chan struct{}
	started bool

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewScheduler(p persistence.Persistence, queue DelayQueue, interpreter Advancer, config Config, bus eventbus.EventBus, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		executions:  p.ExecutionRepository(),
		queue:       queue,
		interpreter: interpreter,
		config:      config,
		bus:         bus,
		logger:      logger.With("module", "scheduler"),
		now:         time.Now,
		timers:      make(map[string]*time.Timer),
	}
}

// WithClock overrides the scheduler's clock. Test hook.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now

	return s
}

// Start runs the recovery sweep once immediately, then arms the periodic
// sweep and the queue poller.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.started {
		return nil
	}

	s.started = true
	s.done = make(chan struct{})

	count, err := s.RecoverDue(ctx)
	if err != nil {
		s.logger.Error("Initial recovery sweep failed", "error", err)
	} else if count > 0 {
		s.logger.Info("Initial recovery sweep resumed executions", "count", count)
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.config.SweepSpec, func() {
		if _, err := s.RecoverDue(ctx); err != nil {
			s.logger.Error("Recovery sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduler: invalid sweep spec %q: %w", s.config.SweepSpec, err)
	}

	s.cron.Start()

	if s.queue != nil {
		go s.pollQueue(ctx)
	}

	s.logger.Info("Scheduler started", "sweep", s.config.SweepSpec, "durable_queue", s.queue != nil)

	return nil
}

// Stop halts the sweep, the queue poller and any armed fallback timers.
func (s *Scheduler) Stop() {
	if !s.started {
		return
	}

	s.started = false

	if s.cron != nil {
		s.cron.Stop()
	}

	close(s.done)

	s.mu.Lock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.logger.Info("Scheduler stopped")
}

// ScheduleResume arranges for the interpreter to be re-entered at or after
// now+delay. The durable queue is tried first; when it is unavailable the
// in-process timer takes over. The timer does not survive a restart, which
// is exactly the gap the recovery sweep covers.
func (s *Scheduler) ScheduleResume(ctx context.Context, executionID string, delay time.Duration) error {
	dueAt := s.now().Add(delay)

	if s.queue != nil {
		err := s.queue.Push(ctx, executionID, dueAt)
		if err == nil {
			s.logger.Debug("Resume enqueued", "execution_id", executionID, "due_at", dueAt)

			return nil
		}

		s.logger.Warn("Durable queue unavailable, falling back to in-process timer",
			"execution_id", executionID, "error", err)
	}

	s.armTimer(ctx, executionID, delay)

	return nil
}

func (s *Scheduler) armTimer(ctx context.Context, executionID string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[executionID]; ok {
		existing.Stop()
	}

	s.timers[executionID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, executionID)
		s.mu.Unlock()

		s.resume(ctx, executionID)
	})
}

// pollQueue drains due entries from the durable queue.
func (s *Scheduler) pollQueue(ctx context.Context) {
	ticker := time.NewTicker(s.config.QueuePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := s.queue.PopDue(ctx, s.now())
			if err != nil {
				s.logger.Error("Failed to drain delay queue", "error", err)

				continue
			}

			for _, id := range ids {
				go s.resume(ctx, id)
			}
		}
	}
}

// RecoverDue resumes every execution whose status is waiting and whose
// resume time has passed. Safe to run at any time: resumption re-checks
// status, so a sweep racing a queue job is a no-op for the loser.
func (s *Scheduler) RecoverDue(ctx context.Context) (int, error) {
	due, err := s.executions.ListWaitingDue(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("recovery sweep: %w", err)
	}

	for _, execution := range due {
		go s.resume(ctx, execution.ID)
	}

	return len(due), nil
}

// Cancel transitions a running execution to cancelled and clears its
// pending timer and queue entry best-effort. A job that already fired finds
// a terminal execution and gives up in resume.
func (s *Scheduler) Cancel(ctx context.Context, executionID string) error {
	execution, err := s.executions.GetByID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("cancel %s: %w", executionID, err)
	}

	if !execution.Cancel(s.now()) {
		s.logger.Debug("Cancel is a no-op, execution already terminal", "execution_id", executionID)

		return nil
	}

	if err := s.executions.Update(ctx, execution); err != nil {
		return fmt.Errorf("cancel %s: %w", executionID, err)
	}

	s.mu.Lock()
	if timer, ok := s.timers[executionID]; ok {
		timer.Stop()
		delete(s.timers, executionID)
	}
	s.mu.Unlock()

	if s.queue != nil {
		if err := s.queue.Remove(ctx, executionID); err != nil {
			s.logger.Warn("Failed to remove queue entry for cancelled execution",
				"execution_id", executionID, "error", err)
		}
	}

	s.logger.Info("Execution cancelled", "execution_id", executionID)
	s.publishCancelled(ctx, execution)

	return nil
}

// resume transitions waiting -> active and re-enters the interpreter. The
// transition is claimed atomically in the repository, so overlapping
// firings from the sweep, the queue and the fallback timer produce exactly
// one winner; the losers and any stale firings for cancelled, completed or
// already-resumed executions are discarded here.
func (s *Scheduler) resume(ctx context.Context, executionID string) {
	execution, claimed, err := s.executions.ResumeIfWaiting(ctx, executionID, s.now())
	if err != nil {
		s.logger.Error("Failed to resume execution", "execution_id", executionID, "error", err)

		return
	}

	if !claimed {
		s.logger.Debug("Stale resume discarded", "execution_id", executionID, "status", execution.Status)

		return
	}

	s.logger.Info("Execution resumed", "execution_id", executionID)
	s.publishResumed(ctx, execution)

	if err := s.interpreter.Advance(ctx, executionID); err != nil {
		s.logger.Error("Advance after resume failed", "execution_id", executionID, "error", err)
	}
}

func (s *Scheduler) publishResumed(ctx context.Context, execution *models.Execution) {
	if s.bus == nil {
		return
	}

	event := events.ExecutionResumed{
		BaseEvent: events.BaseEvent{
			ID:        s.bus.GenerateID(),
			Type:      events.ExecutionResumedEvent,
			Timestamp: s.now(),
		},
		ExecutionID: execution.ID,
		FlowID:      execution.FlowID,
	}
	if err := s.bus.Publish(ctx, events.ExecutionTopic, execution.ID, event); err != nil {
		s.logger.Warn("Failed to publish resumed event", "execution_id", execution.ID, "error", err)
	}
}

func (s *Scheduler) publishCancelled(ctx context.Context, execution *models.Execution) {
	if s.bus == nil {
		return
	}

	event := events.ExecutionCancelled{
		BaseEvent: events.BaseEvent{
			ID:        s.bus.GenerateID(),
			Type:      events.ExecutionCancelledEvent,
			Timestamp: s.now(),
		},
		ExecutionID: execution.ID,
		FlowID:      execution.FlowID,
	}
	if err := s.bus.Publish(ctx, events.ExecutionTopic, execution.ID, event); err != nil {
		s.logger.Warn("Failed to publish cancelled event", "execution_id", execution.ID, "error", err)
	}
}
