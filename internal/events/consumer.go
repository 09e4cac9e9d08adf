package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamClient is the subset of the redis client a Consumer needs.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// RunCompletedHandler reacts to one SCRAPE_RUN_COMPLETED event. A returned
// error leaves the message unacknowledged so it is redelivered.
type RunCompletedHandler func(ctx context.Context, payload *ScrapeRunCompletedPayload) error

type ConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string
	Block    time.Duration
	Count    int64

	// RetryInterval is the pause between sweeps over messages this consumer
	// was delivered but has not acknowledged.
	RetryInterval time.Duration
}

// Consumer reads relayed run events from a Redis stream consumer group.
//
// New messages are read with ">". Messages whose handler failed stay in the
// consumer's pending list and are handed back by a sweep that re-reads the
// pending list from "0". A sweep also runs once at startup to pick up
// messages left pending by a previous process.
type Consumer struct {
	client  StreamClient
	cfg     ConsumerConfig
	handler RunCompletedHandler
	logger  *slog.Logger

	backlog     bool
	cursor      string
	sweepFailed bool
	retryAt     time.Time
}

func NewConsumer(client StreamClient, cfg ConsumerConfig, handler RunCompletedHandler, logger *slog.Logger) *Consumer {
	if cfg.Group == "" {
		cfg.Group = "grocery-snapshot-group"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "consumer-1"
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.Count <= 0 {
		cfg.Count = 10
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 30 * time.Second
	}

	return &Consumer{
		client:  client,
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "run_consumer", "stream", cfg.Stream),
		backlog: true,
		cursor:  "0",
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("starting consumer", "group", c.cfg.Group)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := c.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
}

// poll reads one batch, either from the pending list when a sweep is due or
// new messages otherwise. Messages are acknowledged once handled or when
// they can never be handled.
func (c *Consumer) poll(ctx context.Context) error {
	if c.backlog && !time.Now().Before(c.retryAt) {
		return c.sweep(ctx)
	}

	messages, err := c.read(ctx, ">", c.cfg.Block)
	if err != nil {
		return err
	}

	if failed := c.process(ctx, messages); failed > 0 && !c.backlog {
		c.backlog = true
		c.cursor = "0"
		c.retryAt = time.Now().Add(c.cfg.RetryInterval)
	}
	return nil
}

// sweep re-delivers one page of this consumer's pending messages. An empty
// page ends the sweep: the backlog is cleared when every message in it was
// handled, otherwise the next sweep is scheduled after RetryInterval.
func (c *Consumer) sweep(ctx context.Context) error {
	messages, err := c.read(ctx, c.cursor, -1)
	if err != nil {
		return err
	}

	if len(messages) == 0 {
		c.cursor = "0"
		if c.sweepFailed {
			c.sweepFailed = false
			c.retryAt = time.Now().Add(c.cfg.RetryInterval)
			return nil
		}
		c.backlog = false
		return nil
	}

	c.logger.Info("retrying pending messages", "count", len(messages), "from", c.cursor)
	if failed := c.process(ctx, messages); failed > 0 {
		c.sweepFailed = true
	}
	c.cursor = messages[len(messages)-1].ID
	return nil
}

// read returns the messages delivered for start. A negative block skips
// the BLOCK option, which history reads do not need.
func (c *Consumer) read(ctx context.Context, start string, block time.Duration) ([]redis.XMessage, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, start},
		Count:    c.cfg.Count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var messages []redis.XMessage
	for _, stream := range streams {
		messages = append(messages, stream.Messages...)
	}
	return messages, nil
}

// process handles and acknowledges messages and returns how many failed.
func (c *Consumer) process(ctx context.Context, messages []redis.XMessage) int {
	failed := 0
	for _, msg := range messages {
		if err := c.handle(ctx, msg); err != nil {
			c.logger.Error("failed to process message", "id", msg.ID, "error", err)
			failed++
			continue
		}
		if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
			c.logger.Error("failed to acknowledge message", "id", msg.ID, "error", err)
		}
	}
	return failed
}

func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) error {
	if eventType, _ := msg.Values["event_type"].(string); eventType != string(EventTypeScrapeRunCompleted) {
		return nil
	}

	payload, err := DecodeRunCompleted(msg)
	if err != nil {
		// Unparseable messages would be redelivered forever.
		c.logger.Warn("dropping malformed message", "id", msg.ID, "error", err)
		return nil
	}

	c.logger.Info("run completed event received",
		"id", msg.ID,
		"run_id", payload.RunID,
		"total_products", payload.TotalProducts)

	return c.handler(ctx, payload)
}

// DecodeRunCompleted extracts the payload from a message written by
// database.Relay.
func DecodeRunCompleted(msg redis.XMessage) (*ScrapeRunCompletedPayload, error) {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("message %s has no data field", msg.ID)
	}

	var envelope struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse envelope: %w", err)
	}
	if len(envelope.Payload) == 0 {
		return nil, fmt.Errorf("message %s has no payload", msg.ID)
	}

	var payload ScrapeRunCompletedPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse payload: %w", err)
	}
	if payload.RunID == "" {
		return nil, fmt.Errorf("message %s has no run id", msg.ID)
	}

	return &payload, nil
}
