// Package dom describes the small set of page capabilities the scraping
// pipeline needs from a headless browser. Drivers live in internal/browser;
// a static goquery-backed implementation lives in this package.
package dom

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is wrapped by drivers when a navigation or selector wait
// exceeds its deadline.
var ErrTimeout = errors.New("timed out")

// Scope is a read-only view of one element of a rendered page. A product
// cell is a Scope, and so is every element found beneath it.
type Scope interface {
	// QuerySelector returns the first descendant matching selector, or a nil
	// Scope and nil error when nothing matches.
	QuerySelector(selector string) (Scope, error)

	// QuerySelectorAll returns every descendant matching selector in
	// document order.
	QuerySelectorAll(selector string) ([]Scope, error)

	// Attribute returns nil when the attribute is not present.
	Attribute(name string) (*string, error)

	// AccessibleLabel returns the element's aria-label, or nil when unset.
	AccessibleLabel() (*string, error)
}

// Page is one browser tab owned by a single crawl.
type Page interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error

	// WaitForSelector blocks until an element matching selector is attached
	// and returns it. Drivers wrap ErrTimeout when the wait expires.
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) (Scope, error)

	Close() error
}

// Opener hands out fresh pages.
type Opener interface {
	NewPage(ctx context.Context) (Page, error)
}

// AriaLabel is the attribute read by AccessibleLabel implementations.
const AriaLabel = "aria-label"
