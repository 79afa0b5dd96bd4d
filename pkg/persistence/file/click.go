package file

import (
	"context"
	"path/filepath"
	"time"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

// ClickRepository is the file-backed click log under <root>/clicks.
type ClickRepository struct {
	dir string
}

func NewClickRepository(root string) *ClickRepository {
	return &ClickRepository{dir: filepath.Join(root, "clicks")}
}

func (r *ClickRepository) Record(_ context.Context, click *models.ClickEvent) error {
	return writeDocument(r.dir, click.ID, click)
}

// LatestByCustomer returns the most recent click for the customer at or
// after since.
func (r *ClickRepository) LatestByCustomer(_ context.Context, customerID string, since time.Time) (*models.ClickEvent, error) {
	return r.latest(since, func(c *models.ClickEvent) bool {
		return c.CustomerID == customerID
	})
}

// LatestByEmail matches by email address, the fallback for identity drift
// between the store and the mailing system.
func (r *ClickRepository) LatestByEmail(_ context.Context, email string, since time.Time) (*models.ClickEvent, error) {
	return r.latest(since, func(c *models.ClickEvent) bool {
		return c.Email == email
	})
}

func (r *ClickRepository) latest(since time.Time, match func(*models.ClickEvent) bool) (*models.ClickEvent, error) {
	clicks, err := listDocuments[models.ClickEvent](r.dir)
	if err != nil {
		return nil, err
	}

	var best *models.ClickEvent

	for _, click := range clicks {
		if !match(click) || click.ClickedAt.Before(since) {
			continue
		}

		if best == nil || click.ClickedAt.After(best.ClickedAt) {
			best = click
		}
	}

	if best == nil {
		return nil, persistence.ErrClickNotFound
	}

	return best, nil
}
