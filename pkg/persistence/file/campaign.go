package file

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

// CampaignRepository handles campaign storage under <root>/campaigns.
type CampaignRepository struct {
	dir string
	mu  sync.Mutex
}

func NewCampaignRepository(root string) *CampaignRepository {
	return &CampaignRepository{dir: filepath.Join(root, "campaigns")}
}

func (r *CampaignRepository) GetByID(_ context.Context, id string) (*models.Campaign, error) {
	var campaign models.Campaign
	if err := readDocument(r.dir, id, &campaign, persistence.ErrCampaignNotFound); err != nil {
		return nil, err
	}

	return &campaign, nil
}

func (r *CampaignRepository) Save(_ context.Context, campaign *models.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return writeDocument(r.dir, campaign.ID, campaign)
}

// IncrementStats adds to the campaign's attribution counters atomically.
func (r *CampaignRepository) IncrementStats(_ context.Context, id string, orders, revenueCents int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var campaign models.Campaign
	if err := readDocument(r.dir, id, &campaign, persistence.ErrCampaignNotFound); err != nil {
		return err
	}

	campaign.OrdersAttributed += orders
	campaign.RevenueCents += revenueCents

	return writeDocument(r.dir, id, &campaign)
}
