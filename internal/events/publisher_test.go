package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/grocery-scraper/internal/database"
	"github.com/maltedev/grocery-scraper/internal/models"
)

type MockOutbox struct {
	mock.Mock
}

func (m *MockOutbox) InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error {
	args := m.Called(ctx, tx, event)
	return args.Error(0)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }

func sampleResult() *models.RunResult {
	result := models.NewRunResult()
	result.Outcomes["kroger"] = models.NewSuccess("kroger", []models.ProductRecord{
		{Name: strPtr("Bananas"), SourceStore: "kroger"},
		{Name: strPtr("Apples"), SourceStore: "kroger"},
	}, time.Second)
	result.Outcomes["fred-meyer"] = models.NewFailure("fred-meyer", errors.New("grid timeout"), time.Second)
	return result
}

func TestNewScrapeRunCompletedPayload(t *testing.T) {
	runID := uuid.New()
	payload := NewScrapeRunCompletedPayload(runID, sampleResult())

	assert.Equal(t, runID.String(), payload.RunID)
	assert.Equal(t, 2, payload.TotalProducts)
	require.Len(t, payload.Stores, 2)

	assert.Equal(t, "fred-meyer", payload.Stores[0].Store)
	assert.Equal(t, models.OutcomeFailed, payload.Stores[0].Status)
	assert.Equal(t, "grid timeout", payload.Stores[0].Error)

	assert.Equal(t, "kroger", payload.Stores[1].Store)
	assert.Equal(t, 2, payload.Stores[1].Count)
}

func TestPublisher_PublishRunCompletedWithTx(t *testing.T) {
	ctx := context.Background()

	t.Run("writes event with defaults", func(t *testing.T) {
		outbox := new(MockOutbox)
		publisher := NewPublisher(outbox, "stream:test", testLogger())
		payload := NewScrapeRunCompletedPayload(uuid.New(), sampleResult())

		var captured *database.OutboxEvent
		outbox.On("InsertWithTx", ctx, nil, mock.AnythingOfType("*database.OutboxEvent")).
			Run(func(args mock.Arguments) {
				captured = args.Get(2).(*database.OutboxEvent)
			}).
			Return(nil)

		require.NoError(t, publisher.PublishRunCompletedWithTx(ctx, nil, payload))
		outbox.AssertExpectations(t)

		require.NotNil(t, captured)
		assert.Equal(t, "scrape_run", captured.AggregateType)
		assert.Equal(t, payload.RunID, captured.AggregateID)
		assert.Equal(t, "SCRAPE_RUN_COMPLETED", captured.EventType)
		assert.Equal(t, "stream:test", captured.TargetStream)

		var decoded ScrapeRunCompletedPayload
		require.NoError(t, json.Unmarshal(captured.Payload, &decoded))
		assert.NotEmpty(t, decoded.EventID)
		assert.Equal(t, "grocery-scraper", decoded.Source)
		assert.False(t, decoded.Timestamp.IsZero())
		assert.Equal(t, 2, decoded.TotalProducts)
	})

	t.Run("keeps caller supplied metadata", func(t *testing.T) {
		outbox := new(MockOutbox)
		publisher := NewPublisher(outbox, "", testLogger())
		payload := &ScrapeRunCompletedPayload{
			EventID: "evt-1",
			RunID:   "run-1",
			Source:  "backfill",
		}

		outbox.On("InsertWithTx", ctx, nil, mock.Anything).Return(nil)

		require.NoError(t, publisher.PublishRunCompletedWithTx(ctx, nil, payload))
		assert.Equal(t, "evt-1", payload.EventID)
		assert.Equal(t, "backfill", payload.Source)
	})

	t.Run("missing run id", func(t *testing.T) {
		outbox := new(MockOutbox)
		publisher := NewPublisher(outbox, "", testLogger())

		err := publisher.PublishRunCompletedWithTx(ctx, nil, &ScrapeRunCompletedPayload{})
		require.Error(t, err)
		outbox.AssertNotCalled(t, "InsertWithTx", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("outbox failure is wrapped", func(t *testing.T) {
		outbox := new(MockOutbox)
		publisher := NewPublisher(outbox, "", testLogger())

		outbox.On("InsertWithTx", ctx, nil, mock.Anything).Return(errors.New("tx aborted"))

		err := publisher.PublishRunCompletedWithTx(ctx, nil, &ScrapeRunCompletedPayload{RunID: "run-1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert outbox event")
		assert.Contains(t, err.Error(), "tx aborted")
	})
}
