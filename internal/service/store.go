package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/grocery-scraper/internal/database"
	"github.com/maltedev/grocery-scraper/internal/events"
	"github.com/maltedev/grocery-scraper/internal/models"
)

// PostgresStore is the Store backed by the products, scrape_runs and
// outbox_event tables.
type PostgresStore struct {
	db        *database.DB
	products  *database.ProductRepository
	runs      *database.RunRepository
	publisher *events.Publisher
}

func NewPostgresStore(db *database.DB, publisher *events.Publisher) *PostgresStore {
	return &PostgresStore{
		db:        db,
		products:  database.NewProductRepository(db),
		runs:      database.NewRunRepository(db),
		publisher: publisher,
	}
}

func (s *PostgresStore) CreateRun(ctx context.Context) (uuid.UUID, error) {
	run, err := s.runs.Create(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	return run.ID, nil
}

// SaveRun replaces the products of every successful store, completes the run
// and queues its event in a single transaction.
func (s *PostgresStore) SaveRun(ctx context.Context, runID uuid.UUID, result *models.RunResult) error {
	return s.db.Transaction(ctx, func(tx pgx.Tx) error {
		if _, err := s.products.ReplaceStoresWithTx(ctx, tx, runID, result.Records()); err != nil {
			return err
		}
		if err := s.runs.CompleteWithTx(ctx, tx, runID, result.Summary()); err != nil {
			return err
		}
		if s.publisher == nil {
			return nil
		}
		payload := events.NewScrapeRunCompletedPayload(runID, result)
		if err := s.publisher.PublishRunCompletedWithTx(ctx, tx, payload); err != nil {
			return fmt.Errorf("failed to publish run event: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) FailRun(ctx context.Context, runID uuid.UUID, runErr error, result *models.RunResult) error {
	var outcomes map[string]models.StoreOutcome
	if result != nil {
		outcomes = result.Summary()
	}
	return s.runs.Fail(ctx, runID, runErr, outcomes)
}
