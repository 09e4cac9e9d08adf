package dom

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Selection adapts a goquery selection to Scope.
type Selection struct {
	sel *goquery.Selection
}

// NewSelection wraps sel. The first node of sel is the element the Scope
// represents.
func NewSelection(sel *goquery.Selection) *Selection {
	return &Selection{sel: sel}
}

// ParseHTML parses markup into a Scope rooted at the document.
func ParseHTML(html string) (*Selection, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	return &Selection{sel: doc.Selection}, nil
}

func (s *Selection) QuerySelector(selector string) (Scope, error) {
	found := s.sel.Find(selector).First()
	if found.Length() == 0 {
		return nil, nil
	}
	return &Selection{sel: found}, nil
}

func (s *Selection) QuerySelectorAll(selector string) ([]Scope, error) {
	found := s.sel.Find(selector)
	scopes := make([]Scope, 0, found.Length())
	found.Each(func(_ int, el *goquery.Selection) {
		scopes = append(scopes, &Selection{sel: el})
	})
	return scopes, nil
}

func (s *Selection) Attribute(name string) (*string, error) {
	val, ok := s.sel.First().Attr(name)
	if !ok {
		return nil, nil
	}
	return &val, nil
}

func (s *Selection) AccessibleLabel() (*string, error) {
	return s.Attribute(AriaLabel)
}

// StaticOpener serves pre-rendered HTML keyed by URL. It stands in for a
// browser when replaying saved pages.
type StaticOpener struct {
	mu    sync.RWMutex
	pages map[string]string
}

func NewStaticOpener(pages map[string]string) *StaticOpener {
	o := &StaticOpener{pages: make(map[string]string, len(pages))}
	for url, html := range pages {
		o.pages[url] = html
	}
	return o
}

// Set registers or replaces the markup served for url.
func (o *StaticOpener) Set(url, html string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pages[url] = html
}

func (o *StaticOpener) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &staticPage{opener: o}, nil
}

type staticPage struct {
	opener *StaticOpener
	root   *Selection
	closed bool
}

func (p *staticPage) Navigate(ctx context.Context, url string, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.closed {
		return fmt.Errorf("page is closed")
	}

	p.opener.mu.RLock()
	html, ok := p.opener.pages[url]
	p.opener.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no page registered for %s", url)
	}

	root, err := ParseHTML(html)
	if err != nil {
		return err
	}
	p.root = root
	return nil
}

// WaitForSelector on a static page never waits: the document cannot change,
// so a missing element is reported as a timeout straight away.
func (p *staticPage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) (Scope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.root == nil {
		return nil, fmt.Errorf("page has no document loaded")
	}

	found, err := p.root.QuerySelector(selector)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: waiting for %q after %s", ErrTimeout, selector, timeout)
	}
	return found, nil
}

func (p *staticPage) Close() error {
	p.closed = true
	p.root = nil
	return nil
}
