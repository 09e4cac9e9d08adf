package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/grocery-scraper/internal/database"
	"github.com/maltedev/grocery-scraper/internal/models"
)

// EventType represents the type of event
type EventType string

const (
	// EventTypeScrapeRunCompleted is published once a run's products are stored.
	EventTypeScrapeRunCompleted EventType = "SCRAPE_RUN_COMPLETED"

	aggregateTypeScrapeRun = "scrape_run"
	defaultSource          = "grocery-scraper"
)

// StoreSummary is one store's line in a run event.
type StoreSummary struct {
	Store  string               `json:"store"`
	Status models.OutcomeStatus `json:"status"`
	Count  int                  `json:"count"`
	Error  string               `json:"error,omitempty"`
}

// ScrapeRunCompletedPayload is the body of a SCRAPE_RUN_COMPLETED event.
type ScrapeRunCompletedPayload struct {
	EventID       string         `json:"event_id"`
	EventType     string         `json:"event_type"`
	Timestamp     time.Time      `json:"timestamp"`
	RunID         string         `json:"run_id"`
	Stores        []StoreSummary `json:"stores"`
	TotalProducts int            `json:"total_products"`
	Source        string         `json:"source"`
}

// NewScrapeRunCompletedPayload summarises result, with stores sorted by id.
func NewScrapeRunCompletedPayload(runID uuid.UUID, result *models.RunResult) *ScrapeRunCompletedPayload {
	payload := &ScrapeRunCompletedPayload{
		RunID:  runID.String(),
		Stores: make([]StoreSummary, 0, len(result.Outcomes)),
	}

	for store, outcome := range result.Outcomes {
		payload.Stores = append(payload.Stores, StoreSummary{
			Store:  store,
			Status: outcome.Status,
			Count:  outcome.Count,
			Error:  outcome.Error,
		})
		if outcome.Succeeded() {
			payload.TotalProducts += outcome.Count
		}
	}
	sort.Slice(payload.Stores, func(i, j int) bool {
		return payload.Stores[i].Store < payload.Stores[j].Store
	})

	return payload
}

// OutboxWriter inserts events as part of a caller's transaction.
type OutboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher writes domain events to the transactional outbox. Delivery to
// Redis is left to database.Relay.
type Publisher struct {
	outbox OutboxWriter
	stream string
	logger *slog.Logger
}

// NewPublisher creates a publisher targeting stream; an empty stream uses
// the outbox default.
func NewPublisher(outbox OutboxWriter, stream string, logger *slog.Logger) *Publisher {
	return &Publisher{
		outbox: outbox,
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

// PublishRunCompletedWithTx records a SCRAPE_RUN_COMPLETED event inside tx,
// so it becomes visible only if the run's products are committed too.
func (p *Publisher) PublishRunCompletedWithTx(ctx context.Context, tx pgx.Tx, payload *ScrapeRunCompletedPayload) error {
	if payload.RunID == "" {
		return fmt.Errorf("run completed event: run id is required")
	}
	if payload.EventID == "" {
		payload.EventID = uuid.New().String()
	}
	if payload.EventType == "" {
		payload.EventType = string(EventTypeScrapeRunCompleted)
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}
	if payload.Source == "" {
		payload.Source = defaultSource
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	event := &database.OutboxEvent{
		AggregateType: aggregateTypeScrapeRun,
		AggregateID:   payload.RunID,
		EventType:     payload.EventType,
		Payload:       data,
		TargetStream:  p.stream,
	}

	if err := p.outbox.InsertWithTx(ctx, tx, event); err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}

	p.logger.Info("event published to outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"run_id", payload.RunID,
		"total_products", payload.TotalProducts,
		"outbox_id", event.ID,
	)

	return nil
}
