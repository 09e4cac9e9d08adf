package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/grocery-scraper/internal/models"
	"github.com/maltedev/grocery-scraper/internal/orchestrator"
	"github.com/maltedev/grocery-scraper/internal/scraper"
)

// ErrRunInProgress is returned when RunNow is called while another run is
// still crawling.
var ErrRunInProgress = errors.New("a scrape run is already in progress")

// Store persists runs and their products.
type Store interface {
	CreateRun(ctx context.Context) (uuid.UUID, error)
	SaveRun(ctx context.Context, runID uuid.UUID, result *models.RunResult) error
	FailRun(ctx context.Context, runID uuid.UUID, runErr error, result *models.RunResult) error
}

// Scraper runs every configured store crawler and persists the result.
type Scraper struct {
	orchestrator *orchestrator.Orchestrator
	crawlers     []scraper.Crawler
	store        Store
	logger       *slog.Logger

	mu sync.Mutex
}

// NewScraper creates a service. A nil store makes RunNow a dry run that only
// crawls.
func NewScraper(orch *orchestrator.Orchestrator, crawlers []scraper.Crawler, store Store, logger *slog.Logger) *Scraper {
	return &Scraper{
		orchestrator: orch,
		crawlers:     crawlers,
		store:        store,
		logger:       logger.With("component", "scraper_service"),
	}
}

// Stores returns the ids of the stores this service crawls.
func (s *Scraper) Stores() []string {
	ids := make([]string, 0, len(s.crawlers))
	for _, c := range s.crawlers {
		if c != nil {
			ids = append(ids, c.Store())
		}
	}
	sort.Strings(ids)
	return ids
}

// RunNow crawls every store once. Store failures are reported in the result's
// outcomes, not as an error; an error means the run could not be recorded.
// Products of failed stores are left as they were.
func (s *Scraper) RunNow(ctx context.Context) (*models.RunResult, error) {
	if !s.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.mu.Unlock()

	runID := uuid.New()
	if s.store != nil {
		id, err := s.store.CreateRun(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create run: %w", err)
		}
		runID = id
	}

	logger := s.logger.With("run_id", runID)
	logger.Info("scrape run started", "stores", len(s.crawlers))

	result := s.orchestrator.Run(ctx, s.crawlers)
	result.ID = runID.String()

	if s.store == nil {
		return result, nil
	}

	if err := s.store.SaveRun(ctx, runID, result); err != nil {
		// ctx may be what failed the save; still try to close out the run.
		failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if failErr := s.store.FailRun(failCtx, runID, err, result); failErr != nil {
			logger.Error("failed to mark run as failed", "error", failErr)
		}
		return result, fmt.Errorf("failed to save run: %w", err)
	}

	logger.Info("scrape run saved",
		"succeeded", len(result.Succeeded()),
		"failed", len(result.Failed()))

	return result, nil
}
