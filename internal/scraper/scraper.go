package scraper

import (
	"context"
	"errors"
	"fmt"

	"github.com/maltedev/grocery-scraper/internal/models"
)

// Crawl failure kinds. A CrawlError matches exactly one of these with
// errors.Is.
var (
	ErrNavigation  = errors.New("navigation failed")
	ErrGridTimeout = errors.New("product grid did not appear")
	ErrExtraction  = errors.New("browser automation failed")
)

// Crawler produces every product listed by one store.
type Crawler interface {
	// Store identifies the records the crawler emits.
	Store() string
	Crawl(ctx context.Context) ([]models.ProductRecord, error)
}

// CrawlError is a failure that invalidates a whole store's crawl.
type CrawlError struct {
	Kind  error
	Store string
	URL   string
	Err   error
}

func (e *CrawlError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Store, e.Kind)
	if e.URL != "" {
		msg += " (" + e.URL + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CrawlError) Unwrap() error {
	return e.Err
}

func (e *CrawlError) Is(target error) bool {
	return target == e.Kind
}

func newCrawlError(kind error, store, url string, err error) *CrawlError {
	return &CrawlError{Kind: kind, Store: store, URL: url, Err: err}
}
