package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/grocery-scraper/internal/models"
)

var productColumns = []string{
	"id", "name", "price", "image_url", "product_url",
	"source_store", "position", "run_id", "scraped_at",
}

// ProductRepository stores the latest crawl of each store. Rows are
// replaced wholesale per store; nothing identifies a product across runs.
type ProductRepository struct {
	db *DB
}

func NewProductRepository(db *DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// ReplaceStoresWithTx deletes every row of each store in records and bulk
// inserts that store's new records in DOM order. Stores absent from records
// are left untouched. It returns the number of rows inserted.
func (r *ProductRepository) ReplaceStoresWithTx(ctx context.Context, tx pgx.Tx, runID uuid.UUID, records map[string][]models.ProductRecord) (int64, error) {
	stores := make([]string, 0, len(records))
	for store := range records {
		stores = append(stores, store)
	}
	sort.Strings(stores)

	now := time.Now()
	var inserted int64

	for _, store := range stores {
		if _, err := tx.Exec(ctx, `DELETE FROM products WHERE source_store = $1`, store); err != nil {
			return inserted, fmt.Errorf("failed to clear products for %s: %w", store, err)
		}

		recs := records[store]
		if len(recs) == 0 {
			continue
		}

		rows := make([][]any, len(recs))
		for i, rec := range recs {
			rows[i] = []any{
				uuid.New(), rec.Name, rec.Price, rec.ImageURL, rec.ProductURL,
				store, i, runID, now,
			}
		}

		n, err := tx.CopyFrom(ctx, pgx.Identifier{"products"}, productColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return inserted, fmt.Errorf("failed to insert products for %s: %w", store, err)
		}
		inserted += n
	}

	return inserted, nil
}

// ReplaceStores runs ReplaceStoresWithTx in its own transaction.
func (r *ProductRepository) ReplaceStores(ctx context.Context, runID uuid.UUID, records map[string][]models.ProductRecord) (int64, error) {
	var inserted int64
	err := r.db.Transaction(ctx, func(tx pgx.Tx) error {
		n, err := r.ReplaceStoresWithTx(ctx, tx, runID, records)
		inserted = n
		return err
	})
	return inserted, err
}

// ListByStore returns a store's products in the order they were listed.
func (r *ProductRepository) ListByStore(ctx context.Context, store string) ([]models.ProductRecord, error) {
	query := `
		SELECT name, price, image_url, product_url, source_store
		FROM products
		WHERE source_store = $1
		ORDER BY position ASC`

	rows, err := r.db.pool.Query(ctx, query, store)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	products := []models.ProductRecord{}
	for rows.Next() {
		var p models.ProductRecord
		if err := rows.Scan(&p.Name, &p.Price, &p.ImageURL, &p.ProductURL, &p.SourceStore); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return products, nil
}

// CountByStore returns how many products each store currently has.
func (r *ProductRepository) CountByStore(ctx context.Context) (map[string]int, error) {
	query := `
		SELECT source_store, COUNT(*) as count
		FROM products
		GROUP BY source_store`

	rows, err := r.db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count products: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var store string
		var count int
		if err := rows.Scan(&store, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[store] = count
	}

	return counts, rows.Err()
}
