package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/grocery-scraper/internal/dom"
)

// Browser is a Chromium instance driven by Playwright. One browser context
// is shared by every page it opens.
type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	timeout time.Duration
	logger  *slog.Logger
}

func New(opts *Options) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			fmt.Sprintf("--window-size=%d,%d", opts.ViewportWidth, opts.ViewportHeight),
		},
	}

	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: opts.ProxyServer,
		}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         &opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &opts.Locale,
		TimezoneId:        &opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: opts.ExtraHeaders,
	}

	bctx, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: browser,
		context: bctx,
		timeout: opts.Timeout,
		logger:  opts.logger(DriverPlaywright),
	}, nil
}

func (b *Browser) NewPage(ctx context.Context) (dom.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultTimeout(float64(b.timeout.Milliseconds()))
	b.logger.Debug("page opened")

	return &playwrightPage{page: page}, nil
}

func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		b.logger.Warn("browser shutdown incomplete", "error", err)
		return err
	}
	b.logger.Info("browser closed")
	return nil
}

type playwrightPage struct {
	page playwright.Page
}

func (p *playwrightPage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(budget(ctx, timeout)),
	})
	if err != nil {
		return fmt.Errorf("failed to navigate: %w", translate(err))
	}
	return nil
}

func (p *playwrightPage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) (dom.Scope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	el, err := p.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(budget(ctx, timeout)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to wait for %q: %w", selector, translate(err))
	}
	if el == nil {
		return nil, nil
	}
	return &playwrightScope{el: el}, nil
}

func (p *playwrightPage) Close() error {
	return p.page.Close()
}

type playwrightScope struct {
	el playwright.ElementHandle
}

func (s *playwrightScope) QuerySelector(selector string) (dom.Scope, error) {
	el, err := s.el.QuerySelector(selector)
	if err != nil {
		return nil, translate(err)
	}
	if el == nil {
		return nil, nil
	}
	return &playwrightScope{el: el}, nil
}

func (s *playwrightScope) QuerySelectorAll(selector string) ([]dom.Scope, error) {
	els, err := s.el.QuerySelectorAll(selector)
	if err != nil {
		return nil, translate(err)
	}
	scopes := make([]dom.Scope, 0, len(els))
	for _, el := range els {
		scopes = append(scopes, &playwrightScope{el: el})
	}
	return scopes, nil
}

// Attribute evaluates getAttribute in the page so that a missing attribute
// comes back as null rather than the empty string GetAttribute reports.
func (s *playwrightScope) Attribute(name string) (*string, error) {
	val, err := s.el.Evaluate(`(el, name) => el.getAttribute(name)`, name)
	if err != nil {
		return nil, translate(err)
	}
	if val == nil {
		return nil, nil
	}
	str, ok := val.(string)
	if !ok {
		return nil, fmt.Errorf("attribute %s has unexpected type %T", name, val)
	}
	return &str, nil
}

func (s *playwrightScope) AccessibleLabel() (*string, error) {
	return s.Attribute(dom.AriaLabel)
}

func translate(err error) error {
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", dom.ErrTimeout, err)
	}
	return err
}
