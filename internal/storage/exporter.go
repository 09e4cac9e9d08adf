package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/maltedev/grocery-scraper/internal/models"
)

// ProductLister reads the current products of one store.
type ProductLister interface {
	ListByStore(ctx context.Context, store string) ([]models.ProductRecord, error)
}

// Exporter rewrites a snapshot file from the database. Failed stores are
// exported too since their previous products are still current.
type Exporter struct {
	products ProductLister
	path     string
	logger   *slog.Logger
}

func NewExporter(products ProductLister, path string, logger *slog.Logger) *Exporter {
	return &Exporter{
		products: products,
		path:     path,
		logger:   logger.With("component", "snapshot_exporter"),
	}
}

// Export writes every product of stores, grouped by store id, and the given
// outcomes.
func (e *Exporter) Export(ctx context.Context, runID string, stores []string, outcomes map[string]models.StoreOutcome) error {
	sorted := append([]string(nil), stores...)
	sort.Strings(sorted)

	snap := &Snapshot{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		Products:    []models.ProductRecord{},
		Outcomes:    outcomes,
	}
	if snap.Outcomes == nil {
		snap.Outcomes = map[string]models.StoreOutcome{}
	}

	for _, store := range sorted {
		products, err := e.products.ListByStore(ctx, store)
		if err != nil {
			return fmt.Errorf("failed to list products for %s: %w", store, err)
		}
		snap.Products = append(snap.Products, products...)
	}

	if err := Write(e.path, snap); err != nil {
		return err
	}

	e.logger.Info("snapshot exported",
		"run_id", runID,
		"path", e.path,
		"products", len(snap.Products))

	return nil
}
