// Package persistence provides standardized error types for storage operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrFlowNotFound indicates a flow was not found by the given identifier.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrExecutionNotFound indicates an execution was not found.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrDuplicateExecution indicates a running execution already exists for
	// the same (flow, customer) pair.
	ErrDuplicateExecution = errors.New("execution already running for flow and customer")

	// ErrCustomerNotFound indicates a customer was not found.
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrClickNotFound indicates no click event matched the query.
	ErrClickNotFound = errors.New("click event not found")

	// ErrCampaignNotFound indicates a campaign was not found.
	ErrCampaignNotFound = errors.New("campaign not found")

	// ErrExecutionSuperseded indicates an update tried to change the status
	// of an execution that concurrently reached a terminal state.
	ErrExecutionSuperseded = errors.New("execution already in a terminal state")
)

// ExecutionError wraps execution-related storage errors with operation context.
type ExecutionError struct {
	Op          string // Operation being performed (e.g., "Create", "Update")
	ExecutionID string
	FlowID      string
	Err         error
}

func (e *ExecutionError) Error() string {
	target := e.ExecutionID
	if target == "" {
		target = fmt.Sprintf("flow %s", e.FlowID)
	}

	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, target, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates a new execution error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{
		Op:          op,
		ExecutionID: executionID,
		Err:         err,
	}
}

// IsDuplicateExecution checks if an error indicates the uniqueness invariant
// blocked a create.
func IsDuplicateExecution(err error) bool {
	return errors.Is(err, ErrDuplicateExecution)
}

// IsNotFound checks if an error is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound) ||
		errors.Is(err, ErrExecutionNotFound) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrClickNotFound) ||
		errors.Is(err, ErrCampaignNotFound)
}
