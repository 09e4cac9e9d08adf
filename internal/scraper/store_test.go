package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/maltedev/grocery-scraper/internal/dom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingURL = "https://www.fredmeyer.com/pl/test"

func testConfig() StoreConfig {
	cfg, _ := Lookup(StoreFredMeyer)
	cfg.URLs = []string{listingURL}
	return cfg
}

func productCard(i int, withImage bool) string {
	img := ""
	if withImage {
		img = fmt.Sprintf(`<img src="https://www.kroger.com/product/images/item-%d">`, i)
	}
	return fmt.Sprintf(`
<div class="ProductCard">
  <a href="/p/item-%d">
    <span data-qa="cart-page-item-description" aria-label="Item %d">Item %d</span>
  </a>
  <data data-qa="cart-page-item-unit-price" aria-label="$%d.99"></data>
  %s
</div>`, i, i, i, i, img)
}

func listingHTML(cards ...string) string {
	return `<html><body><div class="ProductGridContainer">` + strings.Join(cards, "") + `</div></body></html>`
}

func TestStoreCrawler_ExtractsInDOMOrder(t *testing.T) {
	opener := dom.NewStaticOpener(map[string]string{
		listingURL: listingHTML(productCard(1, true), productCard(2, true), productCard(3, true)),
	})

	c, err := NewStoreCrawler(testConfig(), opener, nil)
	require.NoError(t, err)

	records, err := c.Crawl(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)

	for i, r := range records {
		n := i + 1
		assert.Equal(t, StoreFredMeyer, r.SourceStore)
		require.NotNil(t, r.Name)
		assert.Equal(t, fmt.Sprintf("Item %d", n), *r.Name)
		require.NotNil(t, r.Price)
		assert.Equal(t, fmt.Sprintf("$%d.99", n), *r.Price)
		require.NotNil(t, r.ProductURL)
		assert.Equal(t, fmt.Sprintf("https://www.fredmeyer.com/p/item-%d", n), *r.ProductURL)
		require.NotNil(t, r.ImageURL)
	}
}

func TestStoreCrawler_MissingImagesDoNotDropCells(t *testing.T) {
	opener := dom.NewStaticOpener(map[string]string{
		listingURL: listingHTML(
			productCard(1, true),
			productCard(2, false),
			productCard(3, true),
			productCard(4, false),
			productCard(5, true),
		),
	})

	c, err := NewStoreCrawler(testConfig(), opener, nil)
	require.NoError(t, err)

	records, err := c.Crawl(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 5)

	missing := 0
	for _, r := range records {
		if r.ImageURL == nil {
			missing++
		}
		assert.NotNil(t, r.Name)
		assert.NotNil(t, r.Price)
		assert.NotNil(t, r.ProductURL)
	}
	assert.Equal(t, 2, missing)
	assert.Nil(t, records[1].ImageURL)
	assert.Nil(t, records[3].ImageURL)
}

func TestStoreCrawler_UnrecognisedCellsStillProduceRecords(t *testing.T) {
	opener := dom.NewStaticOpener(map[string]string{
		listingURL: listingHTML(`<div class="ProductCard"><p>sold out</p></div>`),
	})

	c, err := NewStoreCrawler(testConfig(), opener, nil)
	require.NoError(t, err)

	records, err := c.Crawl(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].IsEmpty())
	assert.Equal(t, StoreFredMeyer, records[0].SourceStore)
}

func TestStoreCrawler_EmptyGridIsSuccess(t *testing.T) {
	opener := dom.NewStaticOpener(map[string]string{listingURL: listingHTML()})

	c, err := NewStoreCrawler(testConfig(), opener, nil)
	require.NoError(t, err)

	records, err := c.Crawl(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestStoreCrawler_MultipleURLsAreConcatenated(t *testing.T) {
	second := "https://www.fredmeyer.com/pl/test?page=2"
	opener := dom.NewStaticOpener(map[string]string{
		listingURL: listingHTML(productCard(1, true)),
		second:     listingHTML(productCard(2, true)),
	})

	cfg := testConfig()
	cfg.URLs = []string{listingURL, second}
	c, err := NewStoreCrawler(cfg, opener, nil)
	require.NoError(t, err)

	records, err := c.Crawl(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Item 1", *records[0].Name)
	assert.Equal(t, "Item 2", *records[1].Name)
}

func TestStoreCrawler_GridMissing(t *testing.T) {
	opener := dom.NewStaticOpener(map[string]string{listingURL: `<html><body>Access denied</body></html>`})

	c, err := NewStoreCrawler(testConfig(), opener, nil)
	require.NoError(t, err)

	records, err := c.Crawl(context.Background())
	assert.Nil(t, records)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGridTimeout)
	assert.NotErrorIs(t, err, ErrNavigation)
	assert.True(t, IsTimeout(err))

	var crawlErr *CrawlError
	require.ErrorAs(t, err, &crawlErr)
	assert.Equal(t, StoreFredMeyer, crawlErr.Store)
	assert.Equal(t, listingURL, crawlErr.URL)
}

// fakePage scripts driver behaviour and records whether it was released.
type fakePage struct {
	navigateErr error
	blockNav    bool
	waitErr     error
	grid        dom.Scope
	closed      bool
}

func (p *fakePage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if p.blockNav {
		<-ctx.Done()
		return fmt.Errorf("%w: navigating to %s: %v", dom.ErrTimeout, url, ctx.Err())
	}
	return p.navigateErr
}

func (p *fakePage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) (dom.Scope, error) {
	return p.grid, p.waitErr
}

func (p *fakePage) Close() error {
	p.closed = true
	return nil
}

type fakeOpener struct {
	page *fakePage
	err  error
}

func (o *fakeOpener) NewPage(ctx context.Context) (dom.Page, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.page, nil
}

type failingScope struct{}

func (failingScope) QuerySelector(string) (dom.Scope, error) {
	return nil, errors.New("execution context was destroyed")
}
func (failingScope) QuerySelectorAll(string) ([]dom.Scope, error) {
	return []dom.Scope{failingScope{}}, nil
}
func (failingScope) Attribute(string) (*string, error) { return nil, nil }
func (failingScope) AccessibleLabel() (*string, error) { return nil, nil }

func TestStoreCrawler_FailuresReleasePage(t *testing.T) {
	tests := []struct {
		name string
		page *fakePage
		cfg  func(*StoreConfig)
		kind error
	}{
		{
			name: "navigation error",
			page: &fakePage{navigateErr: errors.New("net::ERR_NAME_NOT_RESOLVED")},
			kind: ErrNavigation,
		},
		{
			name: "navigation timeout",
			page: &fakePage{blockNav: true},
			cfg:  func(c *StoreConfig) { c.NavigationTimeout = 20 * time.Millisecond },
			kind: ErrNavigation,
		},
		{
			name: "grid wait timeout",
			page: &fakePage{waitErr: fmt.Errorf("%w: waiting for grid", dom.ErrTimeout)},
			kind: ErrGridTimeout,
		},
		{
			name: "grid resolved to nothing",
			page: &fakePage{},
			kind: ErrGridTimeout,
		},
		{
			name: "page destroyed mid extraction",
			page: &fakePage{grid: failingScope{}},
			kind: ErrExtraction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			c, err := NewStoreCrawler(cfg, &fakeOpener{page: tt.page}, nil)
			require.NoError(t, err)

			records, err := c.Crawl(context.Background())
			assert.Nil(t, records)
			assert.ErrorIs(t, err, tt.kind)
			assert.True(t, tt.page.closed, "page must be closed")
		})
	}
}

func TestStoreCrawler_NavigationTimeoutIsBounded(t *testing.T) {
	cfg := testConfig()
	cfg.NavigationTimeout = 30 * time.Millisecond
	page := &fakePage{blockNav: true}

	c, err := NewStoreCrawler(cfg, &fakeOpener{page: page}, nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Crawl(context.Background())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.ErrorIs(t, err, ErrNavigation)
	assert.True(t, IsTimeout(err))
}

func TestStoreCrawler_PageUnavailable(t *testing.T) {
	c, err := NewStoreCrawler(testConfig(), &fakeOpener{err: errors.New("browser has been closed")}, nil)
	require.NoError(t, err)

	_, err = c.Crawl(context.Background())
	assert.ErrorIs(t, err, ErrExtraction)
	assert.Contains(t, err.Error(), "browser has been closed")
}

func TestNewStoreCrawler_Validation(t *testing.T) {
	_, err := NewStoreCrawler(testConfig(), nil, nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Selectors.Grid = ""
	_, err = NewStoreCrawler(cfg, dom.NewStaticOpener(nil), nil)
	assert.ErrorContains(t, err, "grid selector")

	cfg = testConfig()
	cfg.URLs = nil
	_, err = NewStoreCrawler(cfg, dom.NewStaticOpener(nil), nil)
	assert.ErrorContains(t, err, "url")

	c, err := NewStoreCrawler(testConfig(), dom.NewStaticOpener(nil), nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultNavigationTimeout, c.Config().NavigationTimeout)
	assert.Equal(t, DefaultGridTimeout, c.Config().GridTimeout)
	assert.Equal(t, StoreFredMeyer, c.Store())
}

func TestStores_Registry(t *testing.T) {
	assert.Equal(t, []string{StoreFredMeyer, StoreKroger}, StoreIDs())

	for id, cfg := range Stores() {
		assert.Equal(t, id, cfg.ID)
		assert.NoError(t, cfg.Validate())
	}

	_, ok := Lookup("safeway")
	assert.False(t, ok)

	cfg, ok := Lookup(StoreFredMeyer)
	require.True(t, ok)
	cfg.URLs[0] = "mutated"
	again, _ := Lookup(StoreFredMeyer)
	assert.NotEqual(t, "mutated", again.URLs[0])
}

func TestCrawlError_Format(t *testing.T) {
	err := newCrawlError(ErrNavigation, "kroger", "https://www.kroger.com", errors.New("boom"))
	assert.Equal(t, "kroger: navigation failed (https://www.kroger.com): boom", err.Error())
	assert.ErrorIs(t, err, ErrNavigation)
	assert.NotErrorIs(t, err, ErrGridTimeout)
}

func TestNewCrawlers(t *testing.T) {
	opener := dom.NewStaticOpener(nil)

	crawlers, err := NewCrawlers([]StoreConfig{testConfig(), func() StoreConfig {
		cfg, _ := Lookup(StoreKroger)
		return cfg
	}()}, opener, nil)
	require.NoError(t, err)
	require.Len(t, crawlers, 2)
	assert.Equal(t, StoreKroger, crawlers[1].Store())

	_, err = NewCrawlers([]StoreConfig{{ID: "broken"}}, opener, nil)
	assert.Error(t, err)
}
