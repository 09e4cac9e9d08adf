package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maltedev/grocery-scraper/internal/dom"
	"github.com/maltedev/grocery-scraper/internal/extract"
	"github.com/maltedev/grocery-scraper/internal/models"
)

// StoreCrawler crawls one retailer's listing pages using a StoreConfig.
// Retailers differ only in configuration; the crawl itself is shared.
type StoreCrawler struct {
	cfg    StoreConfig
	opener dom.Opener
	logger *slog.Logger
}

func NewStoreCrawler(cfg StoreConfig, opener dom.Opener, logger *slog.Logger) (*StoreCrawler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opener == nil {
		return nil, fmt.Errorf("store %s: page opener is required", cfg.ID)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &StoreCrawler{
		cfg:    cfg.withDefaults(),
		opener: opener,
		logger: logger.With("component", "store_crawler", "store", cfg.ID),
	}, nil
}

func (c *StoreCrawler) Store() string {
	return c.cfg.ID
}

func (c *StoreCrawler) Config() StoreConfig {
	return c.cfg
}

// Crawl opens one page, walks every configured URL in order and returns the
// products in DOM order. The page is closed on every return path.
func (c *StoreCrawler) Crawl(ctx context.Context) ([]models.ProductRecord, error) {
	page, err := c.opener.NewPage(ctx)
	if err != nil {
		return nil, newCrawlError(ErrExtraction, c.cfg.ID, "", fmt.Errorf("failed to create page: %w", err))
	}
	defer func() {
		if err := page.Close(); err != nil {
			c.logger.Warn("failed to close page", "error", err)
		}
	}()

	var records []models.ProductRecord
	for _, url := range c.cfg.URLs {
		pageRecords, err := c.crawlURL(ctx, page, url)
		if err != nil {
			return nil, err
		}
		records = append(records, pageRecords...)
	}

	if records == nil {
		records = []models.ProductRecord{}
	}
	return records, nil
}

func (c *StoreCrawler) crawlURL(ctx context.Context, page dom.Page, url string) ([]models.ProductRecord, error) {
	c.logger.Info("navigating", "url", url)

	navCtx, cancel := context.WithTimeout(ctx, c.cfg.NavigationTimeout)
	err := page.Navigate(navCtx, url, c.cfg.NavigationTimeout)
	cancel()
	if err != nil {
		return nil, newCrawlError(ErrNavigation, c.cfg.ID, url, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.GridTimeout)
	grid, err := page.WaitForSelector(waitCtx, c.cfg.Selectors.Grid, c.cfg.GridTimeout)
	cancel()
	if err != nil {
		return nil, newCrawlError(ErrGridTimeout, c.cfg.ID, url, err)
	}
	if grid == nil {
		return nil, newCrawlError(ErrGridTimeout, c.cfg.ID, url, fmt.Errorf("no element matched %q", c.cfg.Selectors.Grid))
	}

	cells, err := grid.QuerySelectorAll(c.cfg.Selectors.Cell)
	if err != nil {
		return nil, newCrawlError(ErrExtraction, c.cfg.ID, url, fmt.Errorf("failed to list product cells: %w", err))
	}

	c.logger.Debug("found product cells", "url", url, "count", len(cells))

	records := make([]models.ProductRecord, 0, len(cells))
	empty := 0
	for i, cell := range cells {
		if err := ctx.Err(); err != nil {
			return nil, newCrawlError(ErrExtraction, c.cfg.ID, url, err)
		}

		record, err := c.extractRecord(cell)
		if err != nil {
			return nil, newCrawlError(ErrExtraction, c.cfg.ID, url, fmt.Errorf("cell %d: %w", i, err))
		}
		if record.IsEmpty() {
			empty++
		}
		records = append(records, record)
	}

	if empty > 0 {
		c.logger.Warn("cells without any recognised field", "url", url, "count", empty)
	}
	c.logger.Info("extracted products", "url", url, "count", len(records))

	return records, nil
}

func (c *StoreCrawler) extractRecord(cell dom.Scope) (models.ProductRecord, error) {
	sel := c.cfg.Selectors
	record := models.ProductRecord{SourceStore: c.cfg.ID}

	var err error
	if record.Name, err = extract.Label(cell, sel.Name); err != nil {
		return record, fmt.Errorf("name: %w", err)
	}
	if record.Price, err = extract.Label(cell, sel.Price); err != nil {
		return record, fmt.Errorf("price: %w", err)
	}
	if record.ImageURL, err = extract.Image(cell, sel.Image); err != nil {
		return record, fmt.Errorf("image: %w", err)
	}
	if record.ProductURL, err = extract.Link(cell, sel.Link, c.cfg.BaseURL); err != nil {
		return record, fmt.Errorf("link: %w", err)
	}

	return record, nil
}

// IsTimeout reports whether err came from a navigation or grid wait that ran
// out of time.
func IsTimeout(err error) bool {
	return errors.Is(err, dom.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// NewCrawlers builds one StoreCrawler per config, all sharing opener.
func NewCrawlers(configs []StoreConfig, opener dom.Opener, logger *slog.Logger) ([]Crawler, error) {
	crawlers := make([]Crawler, 0, len(configs))
	for _, cfg := range configs {
		c, err := NewStoreCrawler(cfg, opener, logger)
		if err != nil {
			return nil, err
		}
		crawlers = append(crawlers, c)
	}
	return crawlers, nil
}
