package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/grocery-scraper/internal/models"
)

var ErrRunNotFound = errors.New("run not found")

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is the stored record of one scrape run. Outcomes carry counts and
// failure reasons only; the products themselves live in the products table.
type Run struct {
	ID          uuid.UUID                      `json:"id"`
	Status      RunStatus                      `json:"status"`
	Outcomes    map[string]models.StoreOutcome `json:"outcomes,omitempty"`
	Error       *string                        `json:"error,omitempty"`
	CreatedAt   time.Time                      `json:"created_at"`
	CompletedAt *time.Time                     `json:"completed_at,omitempty"`
}

type RunRepository struct {
	db *DB
}

func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) Create(ctx context.Context) (*Run, error) {
	run := &Run{
		ID:        uuid.New(),
		Status:    RunStatusRunning,
		CreatedAt: time.Now(),
	}

	query := `
		INSERT INTO scrape_runs (id, status, created_at)
		VALUES ($1, $2, $3)`

	if _, err := r.db.pool.Exec(ctx, query, run.ID, run.Status, run.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return run, nil
}

// CompleteWithTx marks a run completed inside tx.
func (r *RunRepository) CompleteWithTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, outcomes map[string]models.StoreOutcome) error {
	data, err := json.Marshal(outcomes)
	if err != nil {
		return fmt.Errorf("failed to marshal outcomes: %w", err)
	}

	query := `
		UPDATE scrape_runs
		SET status = $1, outcomes = $2, completed_at = $3
		WHERE id = $4`

	tag, err := tx.Exec(ctx, query, RunStatusCompleted, data, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	return nil
}

// Fail marks a run failed. outcomes may be nil when the run never reached
// the crawlers.
func (r *RunRepository) Fail(ctx context.Context, id uuid.UUID, runErr error, outcomes map[string]models.StoreOutcome) error {
	var data []byte
	if outcomes != nil {
		var err error
		if data, err = json.Marshal(outcomes); err != nil {
			return fmt.Errorf("failed to marshal outcomes: %w", err)
		}
	}

	query := `
		UPDATE scrape_runs
		SET status = $1, outcomes = $2, error = $3, completed_at = $4
		WHERE id = $5`

	_, err := r.db.pool.Exec(ctx, query, RunStatusFailed, data, runErr.Error(), time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark run as failed: %w", err)
	}

	return nil
}

func (r *RunRepository) Get(ctx context.Context, id uuid.UUID) (*Run, error) {
	query := `
		SELECT id, status, outcomes, error, created_at, completed_at
		FROM scrape_runs
		WHERE id = $1`

	run, err := scanRun(r.db.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// List returns the most recent runs first.
func (r *RunRepository) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, status, outcomes, error, created_at, completed_at
		FROM scrape_runs
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func scanRun(row pgx.Row) (*Run, error) {
	run := &Run{}
	var outcomes []byte

	if err := row.Scan(&run.ID, &run.Status, &outcomes, &run.Error, &run.CreatedAt, &run.CompletedAt); err != nil {
		return nil, err
	}

	if len(outcomes) > 0 {
		if err := json.Unmarshal(outcomes, &run.Outcomes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal outcomes: %w", err)
		}
	}

	return run, nil
}
