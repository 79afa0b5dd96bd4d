package file

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

// CustomerRepository handles customer storage under <root>/customers.
type CustomerRepository struct {
	dir string
	mu  sync.Mutex
}

func NewCustomerRepository(root string) *CustomerRepository {
	return &CustomerRepository{dir: filepath.Join(root, "customers")}
}

func (r *CustomerRepository) GetByID(_ context.Context, id string) (*models.Customer, error) {
	var customer models.Customer
	if err := readDocument(r.dir, id, &customer, persistence.ErrCustomerNotFound); err != nil {
		return nil, err
	}

	return &customer, nil
}

func (r *CustomerRepository) GetByEmail(_ context.Context, email string) (*models.Customer, error) {
	customers, err := listDocuments[models.Customer](r.dir)
	if err != nil {
		return nil, err
	}

	for _, customer := range customers {
		if customer.Email == email {
			return customer, nil
		}
	}

	return nil, persistence.ErrCustomerNotFound
}

func (r *CustomerRepository) Save(_ context.Context, customer *models.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return writeDocument(r.dir, customer.ID, customer)
}
