// Package orchestrator runs store crawlers side by side and gathers one
// outcome per store. A failing store never stops the others.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maltedev/grocery-scraper/internal/models"
	"github.com/maltedev/grocery-scraper/internal/scraper"
)

type Orchestrator struct {
	limit  int
	logger *slog.Logger
}

// New returns an Orchestrator running at most limit crawlers at once.
// A limit below 1 means no bound.
func New(limit int, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		limit:  limit,
		logger: logger.With("component", "orchestrator"),
	}
}

// Run crawls every store and returns the aggregate. It never fails: crawl
// errors end up in the failing store's outcome. Running no crawlers yields
// an empty aggregate.
func (o *Orchestrator) Run(ctx context.Context, crawlers []scraper.Crawler) *models.RunResult {
	result := models.NewRunResult()

	crawlers = o.dedupe(crawlers)
	outcomes := make([]models.StoreOutcome, len(crawlers))

	var g errgroup.Group
	if o.limit > 0 {
		g.SetLimit(o.limit)
	}

	for i, c := range crawlers {
		g.Go(func() error {
			outcomes[i] = o.runOne(ctx, c)
			return nil
		})
	}
	g.Wait()

	for _, outcome := range outcomes {
		result.Outcomes[outcome.Store] = outcome
	}
	result.CompletedAt = time.Now()

	o.logger.Info("run completed",
		"stores", len(crawlers),
		"succeeded", len(result.Succeeded()),
		"failed", len(result.Failed()),
		"duration", result.CompletedAt.Sub(result.StartedAt),
	)

	return result
}

func (o *Orchestrator) runOne(ctx context.Context, c scraper.Crawler) (outcome models.StoreOutcome) {
	store := c.Store()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: panic: %v", scraper.ErrExtraction, r)
			o.logger.Error("crawler panicked", "store", store, "panic", r)
			outcome = models.NewFailure(store, err, time.Since(start))
		}
	}()

	records, err := c.Crawl(ctx)
	took := time.Since(start)
	if err != nil {
		o.logger.Warn("store crawl failed", "store", store, "error", err, "duration", took)
		return models.NewFailure(store, err, took)
	}

	o.logger.Info("store crawl succeeded", "store", store, "count", len(records), "duration", took)
	return models.NewSuccess(store, records, took)
}

// dedupe keeps the first crawler for each store so outcomes cannot
// overwrite one another.
func (o *Orchestrator) dedupe(crawlers []scraper.Crawler) []scraper.Crawler {
	seen := make(map[string]bool, len(crawlers))
	out := make([]scraper.Crawler, 0, len(crawlers))
	for _, c := range crawlers {
		if c == nil {
			continue
		}
		if seen[c.Store()] {
			o.logger.Warn("duplicate store crawler ignored", "store", c.Store())
			continue
		}
		seen[c.Store()] = true
		out = append(out, c)
	}
	return out
}
