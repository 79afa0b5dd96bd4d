// Package engine implements the step interpreter: it advances a flow
// execution through its step snapshot one step at a time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dripflow/dripflow/pkg/eventbus"
	"github.com/dripflow/dripflow/pkg/events"
	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/otelhelper"
	"github.com/dripflow/dripflow/pkg/persistence"
	"github.com/dripflow/dripflow/pkg/protocol"
	"github.com/dripflow/dripflow/pkg/template"
)

// ResumeScheduler is the interpreter's view of the scheduler: arrange for
// Advance to be re-entered after the delay.
type ResumeScheduler interface {
	ScheduleResume(ctx context.Context, executionID string, delay time.Duration) error
}

// Suppressor is consulted before each send; suppressed addresses fail the
// send step the same way a transport rejection would.
type Suppressor interface {
	IsSuppressed(email string) bool
}

// Interpreter advances executions. Each execution is processed by at most
// one Advance call chain at a time; independent executions advance
// concurrently on their own goroutines.
type Interpreter struct {
	flows      persistence.FlowRepository
	executions persistence.ExecutionRepository
	customers  persistence.CustomerRepository

	mailer    protocol.Mailer
	tags      protocol.TagSyncer
	discounts protocol.DiscountIssuer

	scheduler   ResumeScheduler
	suppression Suppressor
	predicates  *PredicateEvaluator

	bus    eventbus.EventBus
	tracer trace.Tracer
	logger *slog.Logger
	now    func() time.Time
}

// Deps carries the interpreter's collaborators. Bus and Suppression are
// optional; Now defaults to time.Now.
type Deps struct {
	Persistence persistence.Persistence
	Mailer      protocol.Mailer
	Tags        protocol.TagSyncer
	Discounts   protocol.DiscountIssuer
	Scheduler   ResumeScheduler
	Suppression Suppressor
	Bus         eventbus.EventBus
	Tracer      trace.Tracer
	Logger      *slog.Logger
	Now         func() time.Time
}

func NewInterpreter(deps Deps) (*Interpreter, error) {
	predicates, err := NewPredicateEvaluator()
	if err != nil {
		return nil, err
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Interpreter{
		flows:       deps.Persistence.FlowRepository(),
		executions:  deps.Persistence.ExecutionRepository(),
		customers:   deps.Persistence.CustomerRepository(),
		mailer:      deps.Mailer,
		tags:        deps.Tags,
		discounts:   deps.Discounts,
		scheduler:   deps.Scheduler,
		suppression: deps.Suppression,
		predicates:  predicates,
		bus:         deps.Bus,
		tracer:      deps.Tracer,
		logger:      deps.Logger.With("module", "interpreter"),
		now:         now,
	}, nil
}

// Advance runs the execution forward until it suspends, finishes or fails.
// It is the idempotent re-entry point: calling it on a waiting or terminal
// execution is a no-op, so stale scheduler jobs and duplicate resumes are
// harmless.
//
// The loop is explicitly iterative. A flow with hundreds of zero-delay
// steps advances in constant stack space.
func (i *Interpreter) Advance(ctx context.Context, executionID string) error {
	var span trace.Span
	if i.tracer != nil {
		ctx, span = otelhelper.StartSpan(ctx, i.tracer, "execution.advance",
			attribute.String(otelhelper.ExecutionIDKey, executionID))
		defer span.End()
	}

	execution, err := i.executions.GetByID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("advance: fetch execution %s: %w", executionID, err)
	}

	if execution.Status != models.ExecutionStatusActive {
		i.logger.Debug("Advance is a no-op", "execution_id", executionID, "status", execution.Status)

		return nil
	}

	logger := i.logger.With("execution_id", execution.ID, "flow_id", execution.FlowID, "customer_id", execution.CustomerID)

	customer, err := i.customers.GetByID(ctx, execution.CustomerID)
	if err != nil {
		return fmt.Errorf("advance: fetch customer %s: %w", execution.CustomerID, err)
	}

	for {
		// Cancellation is cooperative: re-read stored status before every
		// mutating step so a concurrent cancel stops the chain here.
		stored, err := i.executions.GetByID(ctx, execution.ID)
		if err != nil {
			return fmt.Errorf("advance: refresh execution %s: %w", execution.ID, err)
		}

		if stored.IsTerminal() {
			logger.Info("Execution reached a terminal state concurrently, stopping", "status", stored.Status)

			return nil
		}

		step, ok := execution.Current()
		if !ok {
			execution.Complete(i.now())

			if err := i.executions.Update(ctx, execution); err != nil {
				if errors.Is(err, persistence.ErrExecutionSuperseded) {
					logger.Info("Execution finalized concurrently, stopping")

					return nil
				}

				return fmt.Errorf("advance: persist completion of %s: %w", execution.ID, err)
			}

			logger.Info("Execution completed", "steps_executed", len(execution.StepResults))
			i.publishCompleted(ctx, execution)

			return nil
		}

		logger.Info("Executing step", "step_index", execution.CurrentStep, "step_kind", step.Kind)

		started := i.now()

		if step.Kind == models.StepKindWait {
			if err := i.suspend(ctx, execution, step, started); err != nil {
				return err
			}

			return nil
		}

		stepErr := i.executeStep(ctx, execution, customer, step, logger)
		result := models.StepResult{
			Index:      execution.CurrentStep,
			Kind:       step.Kind,
			ExecutedAt: started,
			Outcome:    models.StepOutcomeSucceeded,
			DurationMs: i.now().Sub(started).Milliseconds(),
		}

		if stepErr != nil {
			result.Outcome = models.StepOutcomeFailed
			result.Error = stepErr.Error()
			execution.RecordResult(result)
			execution.Fail(i.now())

			if err := i.executions.Update(ctx, execution); err != nil {
				if errors.Is(err, persistence.ErrExecutionSuperseded) {
					logger.Info("Execution finalized concurrently, stopping")

					return nil
				}

				return fmt.Errorf("advance: persist failure of %s: %w", execution.ID, err)
			}

			logger.Error("Step failed, execution halted", "step_index", result.Index, "step_kind", step.Kind, "error", stepErr)

			if span != nil {
				otelhelper.SetError(span, stepErr,
					attribute.Int(otelhelper.StepIndexKey, result.Index),
					attribute.String(otelhelper.StepKindKey, string(step.Kind)))
			}

			i.publishFailed(ctx, execution, result)

			return nil
		}

		execution.RecordResult(result)
		execution.AdvanceCursor()

		if err := i.executions.Update(ctx, execution); err != nil {
			// A cancel persisted between the loop-top refresh and this write
			// is final; the side effects of the step that raced it stand.
			if errors.Is(err, persistence.ErrExecutionSuperseded) {
				logger.Info("Execution finalized concurrently, stopping")

				return nil
			}

			return fmt.Errorf("advance: persist progress of %s: %w", execution.ID, err)
		}
	}
}

// suspend handles the wait step, the single suspension point. The cursor
// moves past the wait before the execution is parked so resumption starts
// at the following step.
func (i *Interpreter) suspend(ctx context.Context, execution *models.Execution, step models.Step, started time.Time) error {
	delay := time.Duration(step.Wait.DelayMinutes) * time.Minute
	resumeAt := started.Add(delay)

	execution.RecordResult(models.StepResult{
		Index:      execution.CurrentStep,
		Kind:       step.Kind,
		ExecutedAt: started,
		Outcome:    models.StepOutcomeSuspended,
		DurationMs: 0,
	})
	execution.AdvanceCursor()

	if err := execution.Suspend(resumeAt, started); err != nil {
		return fmt.Errorf("advance: suspend %s: %w", execution.ID, err)
	}

	if err := i.executions.Update(ctx, execution); err != nil {
		if errors.Is(err, persistence.ErrExecutionSuperseded) {
			i.logger.Info("Execution finalized concurrently, stopping", "execution_id", execution.ID)

			return nil
		}

		return fmt.Errorf("advance: persist suspension of %s: %w", execution.ID, err)
	}

	if err := i.scheduler.ScheduleResume(ctx, execution.ID, delay); err != nil {
		// The execution is safely parked in the store; the recovery sweep
		// picks it up even if no timer or queue job survives.
		i.logger.Error("Failed to schedule resume, recovery sweep will catch it",
			"execution_id", execution.ID, "resume_at", resumeAt, "error", err)
	}

	i.logger.Info("Execution waiting", "execution_id", execution.ID, "resume_at", resumeAt)
	i.publishWaiting(ctx, execution, resumeAt)

	return nil
}

// executeStep dispatches a non-suspending step by kind. The switch is
// exhaustive over the closed variant set.
func (i *Interpreter) executeStep(ctx context.Context, execution *models.Execution, customer *models.Customer, step models.Step, logger *slog.Logger) error {
	switch step.Kind {
	case models.StepKindSendMessage:
		return i.sendMessage(ctx, execution, customer, step.SendMessage)
	case models.StepKindCondition:
		return i.branch(execution, customer, step.Condition, logger)
	case models.StepKindAddTag:
		return i.addTag(ctx, customer, step.AddTag, logger)
	case models.StepKindCreateDiscount:
		return i.createDiscount(ctx, step.CreateDiscount, logger)
	case models.StepKindWait:
		// Handled by suspend; unreachable.
		return nil
	default:
		return fmt.Errorf("%w: %q", models.ErrUnknownStepKind, step.Kind)
	}
}

func (i *Interpreter) sendMessage(ctx context.Context, execution *models.Execution, customer *models.Customer, config *models.SendMessageConfig) error {
	if i.suppression != nil && i.suppression.IsSuppressed(customer.Email) {
		return fmt.Errorf("recipient %s is suppressed", customer.Email)
	}

	subject, err := template.RenderMessage(config.Subject, customer, execution.TriggerPayload)
	if err != nil {
		return fmt.Errorf("render subject: %w", err)
	}

	body, err := template.RenderMessage(config.Body, customer, execution.TriggerPayload)
	if err != nil {
		return fmt.Errorf("render body: %w", err)
	}

	receipt, err := i.mailer.Send(ctx, customer.Email, subject, body, []string{"flow:" + execution.FlowID})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	i.logger.Debug("Message sent", "execution_id", execution.ID, "message_id", receipt.MessageID)

	if err := i.flows.IncrementStats(ctx, execution.FlowID, models.FlowStats{MessagesSent: 1}); err != nil {
		i.logger.Warn("Failed to increment flow message counter", "flow_id", execution.FlowID, "error", err)
	}

	return nil
}

// branch evaluates the condition and grafts a deep copy of the chosen
// branch into the snapshot right after the current step. The cursor is not
// moved here; the caller's normal post-step advance lands it on the first
// grafted step.
func (i *Interpreter) branch(execution *models.Execution, customer *models.Customer, config *models.ConditionConfig, logger *slog.Logger) error {
	outcome, err := i.predicates.Evaluate(config.Predicate, customer)
	if err != nil {
		return fmt.Errorf("evaluate condition: %w", err)
	}

	chosen := config.FalseBranch
	if outcome {
		chosen = config.TrueBranch
	}

	logger.Info("Condition evaluated", "predicate", config.Predicate.Kind, "outcome", outcome, "branch_steps", len(chosen))

	execution.SpliceBranch(chosen)

	return nil
}

func (i *Interpreter) addTag(ctx context.Context, customer *models.Customer, config *models.AddTagConfig, logger *slog.Logger) error {
	if customer.AddTag(config.TagName) {
		if err := i.customers.Save(ctx, customer); err != nil {
			return fmt.Errorf("save customer tags: %w", err)
		}
	}

	// Mirroring to the external platform is best-effort: the local tag set
	// is authoritative for predicates, the mirror can lag.
	if err := i.tags.AddTag(ctx, customer.ExternalID, config.TagName); err != nil {
		logger.Warn("Failed to mirror tag to external platform", "tag", config.TagName, "error", err)
	}

	return nil
}

func (i *Interpreter) createDiscount(ctx context.Context, config *models.CreateDiscountConfig, logger *slog.Logger) error {
	discount, err := i.discounts.CreateDiscount(ctx, protocol.DiscountRequest{
		Code:          config.Code,
		Kind:          config.Kind,
		Value:         config.Value,
		ExpiresInDays: config.ExpiresInDays,
	})
	if err != nil {
		return fmt.Errorf("create discount: %w", err)
	}

	logger.Info("Discount created", "code", discount.Code, "rule_id", discount.RuleID)

	return nil
}

func (i *Interpreter) publishWaiting(ctx context.Context, execution *models.Execution, resumeAt time.Time) {
	if i.bus == nil {
		return
	}

	event := events.ExecutionWaiting{
		BaseEvent:   i.baseEvent(events.ExecutionWaitingEvent),
		ExecutionID: execution.ID,
		FlowID:      execution.FlowID,
		ResumeAt:    resumeAt,
	}
	if err := i.bus.Publish(ctx, events.ExecutionTopic, execution.ID, event); err != nil {
		i.logger.Warn("Failed to publish waiting event", "execution_id", execution.ID, "error", err)
	}
}

func (i *Interpreter) publishCompleted(ctx context.Context, execution *models.Execution) {
	if i.bus == nil {
		return
	}

	event := events.ExecutionCompleted{
		BaseEvent:   i.baseEvent(events.ExecutionCompletedEvent),
		ExecutionID: execution.ID,
		FlowID:      execution.FlowID,
		Duration:    execution.UpdatedAt.Sub(execution.CreatedAt),
	}
	if err := i.bus.Publish(ctx, events.ExecutionTopic, execution.ID, event); err != nil {
		i.logger.Warn("Failed to publish completed event", "execution_id", execution.ID, "error", err)
	}
}

func (i *Interpreter) publishFailed(ctx context.Context, execution *models.Execution, result models.StepResult) {
	if i.bus == nil {
		return
	}

	event := events.ExecutionFailed{
		BaseEvent:   i.baseEvent(events.ExecutionFailedEvent),
		ExecutionID: execution.ID,
		FlowID:      execution.FlowID,
		StepIndex:   result.Index,
		Error:       result.Error,
	}
	if err := i.bus.Publish(ctx, events.ExecutionTopic, execution.ID, event); err != nil {
		i.logger.Warn("Failed to publish failed event", "execution_id", execution.ID, "error", err)
	}
}

func (i *Interpreter) baseEvent(eventType events.EventType) events.BaseEvent {
	return events.BaseEvent{
		ID:        i.bus.GenerateID(),
		Type:      eventType,
		Timestamp: i.now(),
	}
}
