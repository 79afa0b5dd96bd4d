// Package file provides file-based persistence for flows, executions and
// the attribution read models. One JSON document per entity, suitable for
// development, tests and single-node deployments.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dripflow/dripflow/pkg/persistence"
)

// Persistence implements persistence.Persistence on the file system.
type Persistence struct {
	root          string
	flowRepo      *FlowRepository
	executionRepo *ExecutionRepository
	customerRepo  *CustomerRepository
	clickRepo     *ClickRepository
	campaignRepo  *CampaignRepository
}

// NewPersistence creates a file persistence rooted at the given directory.
// Accepts plain paths and file:// URLs.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:          cleanRoot,
		flowRepo:      NewFlowRepository(cleanRoot),
		executionRepo: NewExecutionRepository(cleanRoot),
		customerRepo:  NewCustomerRepository(cleanRoot),
		clickRepo:     NewClickRepository(cleanRoot),
		campaignRepo:  NewCampaignRepository(cleanRoot),
	}
}

func (fp *Persistence) FlowRepository() persistence.FlowRepository {
	return fp.flowRepo
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

func (fp *Persistence) CustomerRepository() persistence.CustomerRepository {
	return fp.customerRepo
}

func (fp *Persistence) ClickRepository() persistence.ClickRepository {
	return fp.clickRepo
}

func (fp *Persistence) CampaignRepository() persistence.CampaignRepository {
	return fp.campaignRepo
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close performs any necessary cleanup. Nothing to do for files.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// validateID guards file names built from entity identifiers against path
// traversal.
func validateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}

	if strings.Contains(id, "..") || strings.Contains(id, "/") || strings.Contains(id, "\\") {
		return errors.New("id contains invalid characters")
	}

	return nil
}

// writeDocument marshals v into dir/<id>.json, creating dir as needed.
func writeDocument(dir, id string, v any) error {
	if err := validateID(id); err != nil {
		return fmt.Errorf("invalid id: %w", err)
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}

	if err := os.WriteFile(filepath.Join(dir, id+".json"), data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", id, err)
	}

	return nil
}

// readDocument unmarshals dir/<id>.json into v. Returns notFound when the
// file does not exist.
func readDocument(dir, id string, v any, notFound error) error {
	if err := validateID(id); err != nil {
		return fmt.Errorf("invalid id: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, id+".json")) // #nosec G304 -- id is validated
	if err != nil {
		if os.IsNotExist(err) {
			return notFound
		}

		return fmt.Errorf("failed to read %s: %w", id, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", id, err)
	}

	return nil
}

// removeDocument deletes dir/<id>.json, ignoring already-absent files.
func removeDocument(dir, id string) error {
	err := os.Remove(filepath.Join(dir, id+".json"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", id, err)
	}

	return nil
}

// listDocuments reads every .json file under dir, skipping entries that
// fail to decode. A missing dir is an empty result, not an error.
func listDocuments[T any](dir string) ([]*T, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	out := make([]*T, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name())) // #nosec G304 -- listing our own dir
		if err != nil {
			continue
		}

		var doc T
		if err := json.Unmarshal(data, &doc); err != nil {
			continue
		}

		out = append(out, &doc)
	}

	return out, nil
}
