package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/maltedev/grocery-scraper/internal/dom"
)

// RodBrowser drives Chromium over the DevTools protocol with go-rod.
type RodBrowser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	opts     *Options
	logger   *slog.Logger
}

func NewRod(opts *Options) (*RodBrowser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	var l *launcher.Launcher
	controlURL := opts.ControlURL
	if controlURL == "" {
		l = launcher.New().Headless(opts.Headless).NoSandbox(true)
		if opts.ProxyServer != "" {
			l = l.Proxy(opts.ProxyServer)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	return &RodBrowser{
		browser:  b,
		launcher: l,
		opts:     opts,
		logger:   opts.logger(DriverRod),
	}, nil
}

func (b *RodBrowser) NewPage(ctx context.Context) (dom.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	page, err := b.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	if b.opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      b.opts.UserAgent,
			AcceptLanguage: b.opts.Locale,
		}); err != nil {
			b.closePage(page)
			return nil, fmt.Errorf("failed to set user agent: %w", err)
		}
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  b.opts.ViewportWidth,
		Height: b.opts.ViewportHeight,
	}); err != nil {
		b.closePage(page)
		return nil, fmt.Errorf("failed to set viewport: %w", err)
	}

	b.logger.Debug("page opened")
	return &rodPage{page: page}, nil
}

// closePage discards a page that never made it to a caller.
func (b *RodBrowser) closePage(page *rod.Page) {
	if err := page.Close(); err != nil {
		b.logger.Warn("failed to close page", "error", err)
	}
}

func (b *RodBrowser) Close() error {
	err := b.browser.Close()
	if b.launcher != nil {
		b.launcher.Cleanup()
	}
	if err != nil {
		b.logger.Warn("browser shutdown incomplete", "error", err)
		return fmt.Errorf("failed to close browser: %w", err)
	}
	b.logger.Info("browser closed")
	return nil
}

type rodPage struct {
	page *rod.Page
}

func (p *rodPage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	page := p.page.Context(ctx).Timeout(timeout)
	defer page.CancelTimeout()

	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate: %w", rodTranslate(err))
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("failed to wait for load: %w", rodTranslate(err))
	}
	return nil
}

// WaitForSelector relies on rod's Element retrying until a match appears or
// the page context expires.
func (p *rodPage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) (dom.Scope, error) {
	page := p.page.Context(ctx).Timeout(timeout)
	defer page.CancelTimeout()

	el, err := page.Element(selector)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for %q: %w", selector, rodTranslate(err))
	}

	// Detach from the wait deadline so extraction is not cut short.
	return &rodScope{el: el.Context(context.Background())}, nil
}

func (p *rodPage) Close() error {
	return p.page.Close()
}

type rodScope struct {
	el *rod.Element
}

// QuerySelector uses Elements rather than Element, which would keep
// retrying until the element appears.
func (s *rodScope) QuerySelector(selector string) (dom.Scope, error) {
	els, err := s.el.Elements(selector)
	if err != nil {
		return nil, err
	}
	if els.Empty() {
		return nil, nil
	}
	return &rodScope{el: els.First()}, nil
}

func (s *rodScope) QuerySelectorAll(selector string) ([]dom.Scope, error) {
	els, err := s.el.Elements(selector)
	if err != nil {
		return nil, err
	}
	scopes := make([]dom.Scope, 0, len(els))
	for _, el := range els {
		scopes = append(scopes, &rodScope{el: el})
	}
	return scopes, nil
}

func (s *rodScope) Attribute(name string) (*string, error) {
	return s.el.Attribute(name)
}

func (s *rodScope) AccessibleLabel() (*string, error) {
	return s.el.Attribute(dom.AriaLabel)
}

func rodTranslate(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", dom.ErrTimeout, err)
	}
	return err
}
