package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/grocery-scraper/internal/dom"
)

const (
	DriverPlaywright = "playwright"
	DriverRod        = "rod"
)

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ExtraHeaders   map[string]string

	// ControlURL points the rod driver at an already running browser's
	// DevTools endpoint instead of launching one.
	ControlURL string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (o *Options) logger(driver string) *slog.Logger {
	l := o.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", "browser", "driver", driver)
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		TimezoneID:     "America/Los_Angeles",
		Locale:         "en-US",
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
			"DNT":             "1",
		},
	}
}

// Driver is a running browser that hands out pages.
type Driver interface {
	dom.Opener
	Close() error
}

// Open starts the named driver.
func Open(driver string, opts *Options) (Driver, error) {
	switch driver {
	case "", DriverPlaywright:
		b, err := New(opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	case DriverRod:
		b, err := NewRod(opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown browser driver %q", driver)
	}
}

// budget returns the smaller of timeout and the time left before ctx's
// deadline, in milliseconds.
func budget(ctx context.Context, timeout time.Duration) float64 {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		timeout = time.Millisecond
	}
	return float64(timeout.Milliseconds())
}
