// Package flowimport loads flow definition documents from disk into the
// flow store, validating each document before it is accepted.
package flowimport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

// Importer validates and saves flow definition documents. Validation runs
// in three layers: JSON Schema for document shape, struct tags for field
// constraints, then the model's own consistency checks.
type Importer struct {
	flows    persistence.FlowRepository
	validate *validator.Validate
	logger   *slog.Logger
}

func NewImporter(p persistence.Persistence, logger *slog.Logger) *Importer {
	return &Importer{
		flows:    p.FlowRepository(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("module", "flowimport"),
	}
}

// ImportDir imports every .json document under dir. A document that fails
// validation is skipped with a logged error; the rest still import. Returns
// the number of flows imported.
func (im *Importer) ImportDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("flow import: read %s: %w", dir, err)
	}

	imported := 0

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(dir, entry.Name())

		if err := im.importFile(ctx, path); err != nil {
			im.logger.Error("Flow document rejected", "path", path, "error", err)

			continue
		}

		imported++
	}

	return imported, nil
}

// ImportDocument validates one raw flow document and saves it.
func (im *Importer) ImportDocument(ctx context.Context, data []byte) (*models.Flow, error) {
	if err := models.ValidateFlowDocument(data); err != nil {
		return nil, err
	}

	var flow models.Flow
	if err := json.Unmarshal(data, &flow); err != nil {
		return nil, fmt.Errorf("decode flow document: %w", err)
	}

	if err := im.validate.Struct(&flow); err != nil {
		return nil, fmt.Errorf("flow %s: %w", flow.ID, err)
	}

	if err := flow.Validate(); err != nil {
		return nil, fmt.Errorf("flow %s: %w", flow.ID, err)
	}

	if err := im.flows.Save(ctx, &flow); err != nil {
		return nil, fmt.Errorf("save flow %s: %w", flow.ID, err)
	}

	im.logger.Info("Flow imported", "flow_id", flow.ID, "name", flow.Name, "status", flow.Status)

	return &flow, nil
}

func (im *Importer) importFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied import dir
	if err != nil {
		return err
	}

	_, err = im.ImportDocument(ctx, data)

	return err
}
