package file

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

// ExecutionRepository handles execution storage under <root>/executions.
// A single mutex makes check-then-write sequences atomic: the duplicate
// check in Create, the terminal guard in Update and the waiting -> active
// claim in ResumeIfWaiting all hold it across read and write.
type ExecutionRepository struct {
	dir string
	mu  sync.Mutex
}

// NewExecutionRepository creates an execution repository rooted at the
// given directory.
func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{dir: filepath.Join(root, "executions")}
}

// Create stores a new execution after checking no running execution exists
// for the same (flow, customer) pair. Check and insert happen under one
// lock; two near-simultaneous triggers cannot both pass the check.
func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.findRunningLocked(execution.FlowID, execution.CustomerID)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	if existing != nil {
		return persistence.NewExecutionError("Create", execution.ID,
			fmt.Errorf("%w: flow %s customer %s", persistence.ErrDuplicateExecution, execution.FlowID, execution.CustomerID))
	}

	if err := writeDocument(r.dir, execution.ID, execution); err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(_ context.Context, id string) (*models.Execution, error) {
	var execution models.Execution
	if err := readDocument(r.dir, id, &execution, persistence.ErrExecutionNotFound); err != nil {
		return nil, err
	}

	return &execution, nil
}

// Update persists the execution. A stored terminal status cannot be
// changed: an in-memory copy that went stale while the execution was
// cancelled or finished loses with ErrExecutionSuperseded. Writes that keep
// the terminal status, such as attribution ledger appends, pass through.
func (r *ExecutionRepository) Update(_ context.Context, execution *models.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var existing models.Execution
	if err := readDocument(r.dir, execution.ID, &existing, persistence.ErrExecutionNotFound); err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	if existing.IsTerminal() && execution.Status != existing.Status {
		return persistence.NewExecutionError("Update", execution.ID,
			fmt.Errorf("%w: stored status %s", persistence.ErrExecutionSuperseded, existing.Status))
	}

	if err := writeDocument(r.dir, execution.ID, execution); err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	return nil
}

// ResumeIfWaiting claims the waiting -> active transition under the lock.
// Concurrent resumers for the same execution get exactly one winner; the
// losers receive the stored execution and claimed=false.
func (r *ExecutionRepository) ResumeIfWaiting(_ context.Context, id string, now time.Time) (*models.Execution, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var execution models.Execution
	if err := readDocument(r.dir, id, &execution, persistence.ErrExecutionNotFound); err != nil {
		return nil, false, persistence.NewExecutionError("ResumeIfWaiting", id, err)
	}

	if execution.Status != models.ExecutionStatusWaiting {
		return &execution, false, nil
	}

	if err := execution.Resume(now); err != nil {
		return nil, false, persistence.NewExecutionError("ResumeIfWaiting", id, err)
	}

	if err := writeDocument(r.dir, id, &execution); err != nil {
		return nil, false, persistence.NewExecutionError("ResumeIfWaiting", id, err)
	}

	return &execution, true, nil
}

// FindRunning returns the non-terminal execution for (flow, customer), or
// ErrExecutionNotFound.
func (r *ExecutionRepository) FindRunning(_ context.Context, flowID, customerID string) (*models.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution, err := r.findRunningLocked(flowID, customerID)
	if err != nil {
		return nil, err
	}

	if execution == nil {
		return nil, persistence.ErrExecutionNotFound
	}

	return execution, nil
}

// ListWaitingDue returns executions with status waiting whose resume time
// is at or before now, the recovery sweep's access pattern.
func (r *ExecutionRepository) ListWaitingDue(_ context.Context, now time.Time) ([]*models.Execution, error) {
	executions, err := listDocuments[models.Execution](r.dir)
	if err != nil {
		return nil, err
	}

	due := make([]*models.Execution, 0)

	for _, execution := range executions {
		if execution.Status != models.ExecutionStatusWaiting || execution.ResumeAt == nil {
			continue
		}

		if !execution.ResumeAt.After(now) {
			due = append(due, execution)
		}
	}

	return due, nil
}

func (r *ExecutionRepository) findRunningLocked(flowID, customerID string) (*models.Execution, error) {
	executions, err := listDocuments[models.Execution](r.dir)
	if err != nil {
		return nil, err
	}

	for _, execution := range executions {
		if execution.FlowID == flowID && execution.CustomerID == customerID && execution.IsRunning() {
			return execution, nil
		}
	}

	return nil, nil
}
