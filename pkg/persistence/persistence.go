// Package persistence provides the data storage abstraction for flows,
// executions and the attribution read models.
package persistence

import (
	"context"
	"time"

	"github.com/dripflow/dripflow/pkg/models"
)

// FlowRepository stores flow definitions. The engine reads definitions and
// bumps aggregate counters; authoring writes go through Save.
type FlowRepository interface {
	GetByID(ctx context.Context, id string) (*models.Flow, error)
	ListActiveByTrigger(ctx context.Context, triggerType models.TriggerType) ([]*models.Flow, error)
	Save(ctx context.Context, flow *models.Flow) error
	Delete(ctx context.Context, id string) error

	// IncrementStats adds delta to the flow's counters as a single atomic
	// update. Concurrent step completions must not lose increments.
	IncrementStats(ctx context.Context, id string, delta models.FlowStats) error
}

// ExecutionRepository stores flow executions. Create enforces the
// one-running-execution-per-(flow, customer) invariant atomically and
// returns ErrDuplicateExecution when it would be violated.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.Execution) error
	GetByID(ctx context.Context, id string) (*models.Execution, error)

	// Update persists the execution. A stored terminal status is final:
	// writing a different status over it fails with ErrExecutionSuperseded.
	// Writes that keep the stored terminal status, such as ledger appends,
	// go through.
	Update(ctx context.Context, execution *models.Execution) error

	// ResumeIfWaiting atomically claims the waiting -> active transition.
	// Exactly one of any number of concurrent callers gets claimed=true;
	// the rest observe the already-transitioned execution.
	ResumeIfWaiting(ctx context.Context, id string, now time.Time) (execution *models.Execution, claimed bool, err error)

	// FindRunning returns the non-terminal execution for (flow, customer),
	// or ErrExecutionNotFound when none is running.
	FindRunning(ctx context.Context, flowID, customerID string) (*models.Execution, error)

	// ListWaitingDue returns executions with status waiting and a resume
	// time at or before now. This is the recovery sweep's query.
	ListWaitingDue(ctx context.Context, now time.Time) ([]*models.Execution, error)
}

// CustomerRepository serves predicate reads and tag mutation.
type CustomerRepository interface {
	GetByID(ctx context.Context, id string) (*models.Customer, error)
	GetByEmail(ctx context.Context, email string) (*models.Customer, error)
	Save(ctx context.Context, customer *models.Customer) error
}

// ClickRepository is the queryable click log backing attribution lookback.
type ClickRepository interface {
	Record(ctx context.Context, click *models.ClickEvent) error

	// LatestByCustomer returns the most recent click for the customer at or
	// after since, or ErrClickNotFound.
	LatestByCustomer(ctx context.Context, customerID string, since time.Time) (*models.ClickEvent, error)
	LatestByEmail(ctx context.Context, email string, since time.Time) (*models.ClickEvent, error)
}

// CampaignRepository stores broadcast campaigns for attribution crediting.
type CampaignRepository interface {
	GetByID(ctx context.Context, id string) (*models.Campaign, error)
	Save(ctx context.Context, campaign *models.Campaign) error
	IncrementStats(ctx context.Context, id string, orders, revenueCents int64) error
}

// Persistence aggregates the repositories behind one storage backend.
type Persistence interface {
	FlowRepository() FlowRepository
	ExecutionRepository() ExecutionRepository
	CustomerRepository() CustomerRepository
	ClickRepository() ClickRepository
	CampaignRepository() CampaignRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
