// Package dispatcher matches inbound business events against active flow
// definitions and starts executions.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dripflow/dripflow/pkg/eventbus"
	"github.com/dripflow/dripflow/pkg/events"
	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/otelhelper"
	"github.com/dripflow/dripflow/pkg/persistence"
)

// Advancer is the dispatcher's view of the step interpreter.
type Advancer interface {
	Advance(ctx context.Context, executionID string) error
}

// Dispatcher starts flow executions for trigger events. Duplicate
// prevention and filter evaluation happen here; step semantics do not.
type Dispatcher struct {
	flows       persistence.FlowRepository
	executions  persistence.ExecutionRepository
	interpreter Advancer
	bus         eventbus.EventBus
	tracer      trace.Tracer
	logger      *slog.Logger
	now         func() time.Time
}

func NewDispatcher(p persistence.Persistence, interpreter Advancer, bus eventbus.EventBus, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		flows:       p.FlowRepository(),
		executions:  p.ExecutionRepository(),
		interpreter: interpreter,
		bus:         bus,
		logger:      logger.With("module", "dispatcher"),
		now:         time.Now,
	}
}

// WithClock overrides the dispatcher's clock. Test hook.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now

	return d
}

// WithTracer enables span emission around dispatches.
func (d *Dispatcher) WithTracer(tracer trace.Tracer) *Dispatcher {
	d.tracer = tracer

	return d
}

// Dispatch finds every active flow subscribed to the trigger type, applies
// trigger-level filters, deduplicates against running executions and starts
// the survivors. One flow's failure never blocks the others; the returned
// slice reports partial success.
func (d *Dispatcher) Dispatch(ctx context.Context, triggerType models.TriggerType, customerID string, payload map[string]any) []string {
	if d.tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, d.tracer, "trigger.dispatch",
			attribute.String(otelhelper.TriggerTypeKey, string(triggerType)),
			attribute.String(otelhelper.CustomerIDKey, customerID))
		defer span.End()
	}

	logger := d.logger.With("trigger_type", triggerType, "customer_id", customerID)

	flows, err := d.flows.ListActiveByTrigger(ctx, triggerType)
	if err != nil {
		logger.Error("Failed to list flows for trigger", "error", err)

		return nil
	}

	logger.Debug("Matching trigger against flows", "flows_count", len(flows))

	started := make([]string, 0, len(flows))

	for _, flow := range flows {
		executionID, err := d.startFlow(ctx, flow, customerID, payload)
		if err != nil {
			if persistence.IsDuplicateExecution(err) {
				logger.Info("Skipping flow, execution already running", "flow_id", flow.ID)

				continue
			}

			logger.Error("Failed to start flow, continuing with remaining flows", "flow_id", flow.ID, "error", err)

			continue
		}

		if executionID != "" {
			started = append(started, executionID)
		}
	}

	logger.Info("Completed trigger dispatch", "flows_considered", len(flows), "executions_started", len(started))

	return started
}

// startFlow evaluates the flow's filter and, if it passes, creates an
// execution with a deep-copied step snapshot and advances it through its
// first steps synchronously. Returns "" when the filter did not match.
func (d *Dispatcher) startFlow(ctx context.Context, flow *models.Flow, customerID string, payload map[string]any) (string, error) {
	if !flow.MatchesPayload(payload) {
		d.logger.Debug("Trigger filter did not match", "flow_id", flow.ID)

		return "", nil
	}

	execution := models.NewExecution(generateExecutionID(), flow, customerID, payload, d.now())

	// Create enforces the (flow, customer) uniqueness invariant atomically;
	// a near-simultaneous duplicate trigger loses here, not later.
	if err := d.executions.Create(ctx, execution); err != nil {
		return "", err
	}

	d.publishStarted(ctx, execution)

	if err := d.interpreter.Advance(ctx, execution.ID); err != nil {
		return execution.ID, fmt.Errorf("advance new execution: %w", err)
	}

	return execution.ID, nil
}

func (d *Dispatcher) publishStarted(ctx context.Context, execution *models.Execution) {
	if d.bus == nil {
		return
	}

	event := events.ExecutionStarted{
		BaseEvent: events.BaseEvent{
			ID:        d.bus.GenerateID(),
			Type:      events.ExecutionStartedEvent,
			Timestamp: d.now(),
		},
		ExecutionID: execution.ID,
		FlowID:      execution.FlowID,
		CustomerID:  execution.CustomerID,
	}
	if err := d.bus.Publish(ctx, events.ExecutionTopic, execution.ID, event); err != nil {
		d.logger.Warn("Failed to publish started event", "execution_id", execution.ID, "error", err)
	}
}

// generateExecutionID generates a unique execution ID.
func generateExecutionID() string {
	return "exec-" + uuid.New().String()
}
