package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	redis "github.com/redis/go-redis/v9"

	"github.com/dripflow/dripflow/pkg/attribution"
	"github.com/dripflow/dripflow/pkg/delivery"
	"github.com/dripflow/dripflow/pkg/dispatcher"
	"github.com/dripflow/dripflow/pkg/engine"
	"github.com/dripflow/dripflow/pkg/eventbus"
	"github.com/dripflow/dripflow/pkg/events"
	"github.com/dripflow/dripflow/pkg/flowimport"
	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/otelhelper"
	"github.com/dripflow/dripflow/pkg/persistence"
	"github.com/dripflow/dripflow/pkg/protocol/dev"
	"github.com/dripflow/dripflow/pkg/scheduler"
)

// EngineConfig holds the engine tunables collected from flags.
type EngineConfig struct {
	RedisURL            string
	FlowsDir            string
	AttributionSecret   string        `validate:"required,min=16"`
	AttributionWindow   time.Duration `validate:"required"`
	SweepSpec           string        `validate:"required"`
	QueuePollInterval   time.Duration `validate:"required,min=100ms"`
	SoftBounceThreshold int           `validate:"min=0"`
}

// EngineManager wires the dispatcher, interpreter, scheduler and attribution
// resolver together and consumes the trigger topic.
type EngineManager struct {
	logger     *slog.Logger
	eventBus   eventbus.EventBus
	dispatcher *dispatcher.Dispatcher
	scheduler  *scheduler.Scheduler
	resolver   *attribution.Resolver
	queue      scheduler.DelayQueue
}

// resumeProxy breaks the construction cycle between the interpreter and the
// scheduler: the interpreter is built against the proxy, the scheduler is
// built against the interpreter, then the proxy is pointed at the scheduler.
type resumeProxy struct {
	target engine.ResumeScheduler
}

func (p *resumeProxy) ScheduleResume(ctx context.Context, executionID string, delay time.Duration) error {
	return p.target.ScheduleResume(ctx, executionID, delay)
}

func NewEngineManager(ctx context.Context, config EngineConfig, p persistence.Persistence, eventBus eventbus.EventBus, logger *slog.Logger) (*EngineManager, error) {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(config); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}

	tracer, err := otelhelper.NewTracer(ctx, "dripflow-engine")
	if err != nil {
		logger.WarnContext(ctx, "Tracing disabled, failed to initialize tracer", "error", err)

		tracer = nil
	}

	var queue scheduler.DelayQueue

	if config.RedisURL != "" {
		opts, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}

		queue = scheduler.NewRedisDelayQueue(redis.NewClient(opts))
	}

	policy := delivery.NewPolicy(config.SoftBounceThreshold, logger)
	proxy := &resumeProxy{}

	interpreter, err := engine.NewInterpreter(engine.Deps{
		Persistence: p,
		Mailer:      dev.NewMailer(logger),
		Tags:        dev.NewTagSyncer(logger),
		Discounts:   dev.NewDiscountIssuer(logger),
		Scheduler:   proxy,
		Suppression: policy,
		Bus:         eventBus,
		Tracer:      tracer,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	schedulerConfig := scheduler.Config{
		SweepSpec:         config.SweepSpec,
		QueuePollInterval: config.QueuePollInterval,
	}
	sched := scheduler.NewScheduler(p, queue, interpreter, schedulerConfig, eventBus, logger)
	proxy.target = sched

	disp := dispatcher.NewDispatcher(p, interpreter, eventBus, logger)
	if tracer != nil {
		disp = disp.WithTracer(tracer)
	}

	signer := attribution.NewTokenSigner([]byte(config.AttributionSecret), config.AttributionWindow)
	resolver := attribution.NewResolver(p, signer, attribution.Config{
		CookieWindow:   config.AttributionWindow,
		LookbackWindow: config.AttributionWindow,
	}, eventBus, logger)

	if config.FlowsDir != "" {
		importer := flowimport.NewImporter(p, logger)

		count, err := importer.ImportDir(ctx, config.FlowsDir)
		if err != nil {
			return nil, err
		}

		logger.InfoContext(ctx, "Flow definitions imported", "count", count, "dir", config.FlowsDir)
	}

	return &EngineManager{
		logger:     logger.With("module", "engine-manager"),
		eventBus:   eventBus,
		dispatcher: disp,
		scheduler:  sched,
		resolver:   resolver,
		queue:      queue,
	}, nil
}

// Start subscribes to the trigger topic, starts the scheduler and blocks
// until SIGINT or SIGTERM.
func (m *EngineManager) Start(ctx context.Context) error {
	m.eventBus.Handle(events.TriggerFiredEvent, m.handleTriggerFired)

	if err := m.eventBus.Subscribe(ctx, events.TriggerTopic); err != nil {
		m.logger.ErrorContext(ctx, "Failed to subscribe to trigger topic", "error", err)

		return err
	}

	if err := m.scheduler.Start(ctx); err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "Engine started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	m.logger.InfoContext(ctx, "Shutting down engine...")

	m.scheduler.Stop()

	if m.queue != nil {
		if err := m.queue.Close(); err != nil {
			m.logger.ErrorContext(ctx, "Failed to close delay queue", "error", err)
		}
	}

	return nil
}

func (m *EngineManager) handleTriggerFired(ctx context.Context, event any) error {
	fired, ok := event.(*events.TriggerFired)
	if !ok {
		m.logger.ErrorContext(ctx, "Invalid event type for TriggerFired")

		return nil
	}

	logger := m.logger.With(
		"trigger_type", fired.TriggerType,
		"customer_id", fired.CustomerID,
		"event_id", fired.ID,
	)
	logger.InfoContext(ctx, "Processing trigger")

	started := m.dispatcher.Dispatch(ctx, fired.TriggerType, fired.CustomerID, fired.Payload)
	if len(started) > 0 {
		logger.InfoContext(ctx, "Executions started", "count", len(started))
	}

	if fired.TriggerType == models.TriggerOrderPlaced {
		purchase := purchaseFromPayload(fired)
		if purchase.OrderID == "" {
			logger.WarnContext(ctx, "Order trigger without order_id, skipping attribution")

			return nil
		}

		if _, err := m.resolver.Attribute(ctx, purchase); err != nil {
			logger.ErrorContext(ctx, "Attribution failed", "order_id", purchase.OrderID, "error", err)
		}
	}

	return nil
}

// purchaseFromPayload extracts the purchase fields the attribution resolver
// needs from an order_placed trigger payload. JSON numbers arrive as
// float64.
func purchaseFromPayload(fired *events.TriggerFired) models.PurchaseEvent {
	purchase := models.PurchaseEvent{
		CustomerID: fired.CustomerID,
		OccurredAt: fired.Timestamp,
	}

	if v, ok := fired.Payload["order_id"].(string); ok {
		purchase.OrderID = v
	}

	if v, ok := fired.Payload["amount_cents"].(float64); ok {
		purchase.AmountCents = int64(v)
	}

	if v, ok := fired.Payload["email"].(string); ok {
		purchase.Email = v
	}

	if v, ok := fired.Payload["attribution_token"].(string); ok {
		purchase.AttributionToken = v
	}

	if v, ok := fired.Payload["tracking_param"].(string); ok {
		purchase.TrackingParam = v
	}

	return purchase
}
