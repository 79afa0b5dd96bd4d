package models

import (
	"errors"
	"fmt"
	"time"
)

// ExecutionStatus is the state machine of a running flow instance.
//
//	active -> waiting -> active -> ... -> completed | failed | cancelled
//
// Terminal states are final; only the attribution ledger may still grow.
type ExecutionStatus string

const (
	ExecutionStatusActive    ExecutionStatus = "active"
	ExecutionStatusWaiting   ExecutionStatus = "waiting"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// StepOutcome classifies a recorded step result.
type StepOutcome string

const (
	StepOutcomeSucceeded StepOutcome = "succeeded"
	StepOutcomeSuspended StepOutcome = "suspended"
	StepOutcomeFailed    StepOutcome = "failed"
)

// StepResult is one entry in an execution's ordered step log.
type StepResult struct {
	Index      int         `json:"index"`
	Kind       StepKind    `json:"kind"`
	ExecutedAt time.Time   `json:"executed_at"`
	Outcome    StepOutcome `json:"outcome"`
	Error      string      `json:"error,omitempty"`
	DurationMs int64       `json:"duration_ms"`
}

// AttributedOrder is one entry in the append-only revenue ledger.
type AttributedOrder struct {
	OrderID     string    `json:"order_id"`
	AmountCents int64     `json:"amount_cents"`
	At          time.Time `json:"at"`
}

// Execution is one running instance of a flow bound to one customer. Steps
// is an independent snapshot taken at creation; it is never re-read from the
// live flow definition, and it only grows (condition branches are spliced
// in, entries are never removed or reordered).
type Execution struct {
	ID               string            `json:"id"`
	FlowID           string            `json:"flow_id"`
	CustomerID       string            `json:"customer_id"`
	Status           ExecutionStatus   `json:"status"`
	Steps            []Step            `json:"steps"`
	CurrentStep      int               `json:"current_step"`
	ResumeAt         *time.Time        `json:"resume_at,omitempty"`
	StepResults      []StepResult      `json:"step_results"`
	AttributedOrders []AttributedOrder `json:"attributed_orders"`
	TriggerPayload   map[string]any    `json:"trigger_payload,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

var (
	ErrExecutionTerminal   = errors.New("execution is in a terminal state")
	ErrExecutionNotWaiting = errors.New("execution is not waiting")
	ErrResumeNotInFuture   = errors.New("resume time is not in the future")
)

// NewExecution snapshots the flow's steps into a fresh active execution.
// The snapshot is a deep copy: later edits to the flow definition cannot
// affect this run.
func NewExecution(id string, flow *Flow, customerID string, payload map[string]any, now time.Time) *Execution {
	return &Execution{
		ID:             id,
		FlowID:         flow.ID,
		CustomerID:     customerID,
		Status:         ExecutionStatusActive,
		Steps:          CloneSteps(flow.Steps),
		CurrentStep:    0,
		TriggerPayload: payload,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsTerminal reports whether the execution reached a final state.
func (e *Execution) IsTerminal() bool {
	switch e.Status {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// IsRunning reports whether the execution counts against the one-per-(flow,
// customer) uniqueness invariant.
func (e *Execution) IsRunning() bool {
	return e.Status == ExecutionStatusActive || e.Status == ExecutionStatusWaiting
}

// Current returns the step under the cursor, or false when the cursor is
// past the end of the snapshot.
func (e *Execution) Current() (Step, bool) {
	if e.CurrentStep < 0 || e.CurrentStep >= len(e.Steps) {
		return Step{}, false
	}

	return e.Steps[e.CurrentStep], true
}

// RecordResult appends to the step log. The log is ordered and append-only.
func (e *Execution) RecordResult(result StepResult) {
	e.StepResults = append(e.StepResults, result)
}

// AdvanceCursor moves the cursor forward one step. The cursor is monotonic;
// nothing ever moves it backwards.
func (e *Execution) AdvanceCursor() {
	e.CurrentStep++
}

// SpliceBranch grafts a deep copy of branch into the snapshot immediately
// after the current step, leaving the cursor untouched. The copy matters:
// branches of the same flow definition may be grafted concurrently by other
// executions and must never share memory.
func (e *Execution) SpliceBranch(branch []Step) {
	if len(branch) == 0 {
		return
	}

	grafted := CloneSteps(branch)
	at := e.CurrentStep + 1

	rest := make([]Step, len(e.Steps[at:]))
	copy(rest, e.Steps[at:])

	e.Steps = append(e.Steps[:at], append(grafted, rest...)...)
}

// Suspend transitions active -> waiting with the given resume time.
func (e *Execution) Suspend(resumeAt, now time.Time) error {
	if e.IsTerminal() {
		return fmt.Errorf("suspend %s: %w", e.ID, ErrExecutionTerminal)
	}

	if !resumeAt.After(now) {
		return fmt.Errorf("suspend %s: %w", e.ID, ErrResumeNotInFuture)
	}

	e.Status = ExecutionStatusWaiting
	e.ResumeAt = &resumeAt
	e.UpdatedAt = now

	return nil
}

// Resume transitions waiting -> active and clears the resume time.
func (e *Execution) Resume(now time.Time) error {
	if e.Status != ExecutionStatusWaiting {
		return fmt.Errorf("resume %s: %w", e.ID, ErrExecutionNotWaiting)
	}

	e.Status = ExecutionStatusActive
	e.ResumeAt = nil
	e.UpdatedAt = now

	return nil
}

// Complete marks the execution finished.
func (e *Execution) Complete(now time.Time) {
	e.Status = ExecutionStatusCompleted
	e.ResumeAt = nil
	e.UpdatedAt = now
}

// Fail marks the execution dead. No retry and no resumption follow; the
// step log keeps the error for diagnosis.
func (e *Execution) Fail(now time.Time) {
	e.Status = ExecutionStatusFailed
	e.ResumeAt = nil
	e.UpdatedAt = now
}

// Cancel transitions active/waiting -> cancelled. Cancelling an already
// terminal execution is a no-op so stale scheduler jobs stay harmless.
func (e *Execution) Cancel(now time.Time) bool {
	if e.IsTerminal() {
		return false
	}

	e.Status = ExecutionStatusCancelled
	e.ResumeAt = nil
	e.UpdatedAt = now

	return true
}

// Attribute appends to the revenue ledger. The ledger accepts appends even
// after the execution completed: purchases land days after a flow finishes.
func (e *Execution) Attribute(order AttributedOrder) {
	e.AttributedOrders = append(e.AttributedOrders, order)
}
