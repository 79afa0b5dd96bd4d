package file

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

// FlowRepository handles flow definition storage under <root>/flows.
type FlowRepository struct {
	dir string
	mu  sync.Mutex // serializes stats read-modify-write cycles
}

// NewFlowRepository creates a flow repository rooted at the given directory.
func NewFlowRepository(root string) *FlowRepository {
	return &FlowRepository{dir: filepath.Join(root, "flows")}
}

func (r *FlowRepository) GetByID(_ context.Context, id string) (*models.Flow, error) {
	var flow models.Flow
	if err := readDocument(r.dir, id, &flow, persistence.ErrFlowNotFound); err != nil {
		return nil, err
	}

	return &flow, nil
}

// ListActiveByTrigger returns every active flow subscribed to the trigger
// type. This is the dispatcher's lookup.
func (r *FlowRepository) ListActiveByTrigger(_ context.Context, triggerType models.TriggerType) ([]*models.Flow, error) {
	flows, err := listDocuments[models.Flow](r.dir)
	if err != nil {
		return nil, err
	}

	matched := make([]*models.Flow, 0, len(flows))

	for _, flow := range flows {
		if flow.Status == models.FlowStatusActive && flow.Trigger.Type == triggerType {
			matched = append(matched, flow)
		}
	}

	return matched, nil
}

func (r *FlowRepository) Save(_ context.Context, flow *models.Flow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return writeDocument(r.dir, flow.ID, flow)
}

func (r *FlowRepository) Delete(_ context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return removeDocument(r.dir, id)
}

// IncrementStats adds delta to the flow's counters under the repository
// lock, so concurrent executions never lose an update.
func (r *FlowRepository) IncrementStats(_ context.Context, id string, delta models.FlowStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var flow models.Flow
	if err := readDocument(r.dir, id, &flow, persistence.ErrFlowNotFound); err != nil {
		return err
	}

	flow.Stats.MessagesSent += delta.MessagesSent
	flow.Stats.OrdersAttributed += delta.OrdersAttributed
	flow.Stats.RevenueCents += delta.RevenueCents

	return writeDocument(r.dir, id, &flow)
}
