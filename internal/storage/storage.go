package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/maltedev/grocery-scraper/internal/models"
)

// Snapshot is the file form of one run: every product of the successful
// stores plus each store's outcome.
type Snapshot struct {
	RunID       string                         `json:"run_id,omitempty"`
	GeneratedAt time.Time                      `json:"generated_at"`
	Products    []models.ProductRecord         `json:"products"`
	Outcomes    map[string]models.StoreOutcome `json:"outcomes"`
}

// NewSnapshot flattens result. Products are grouped by store id, each store
// keeping its page order.
func NewSnapshot(result *models.RunResult) *Snapshot {
	snap := &Snapshot{
		RunID:       result.ID,
		GeneratedAt: time.Now().UTC(),
		Products:    []models.ProductRecord{},
		Outcomes:    result.Summary(),
	}

	records := result.Records()
	stores := make([]string, 0, len(records))
	for store := range records {
		stores = append(stores, store)
	}
	sort.Strings(stores)

	for _, store := range stores {
		snap.Products = append(snap.Products, records[store]...)
	}

	return snap
}

// Write stores snap at path. The file is written next to path and renamed
// into place so readers never see a partial snapshot.
func Write(path string, snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create snapshot dir: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close snapshot: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}

	return nil
}

// Read loads a snapshot written by Write.
func Read(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}

	return &snap, nil
}
