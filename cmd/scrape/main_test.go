package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/grocery-scraper/internal/config"
	"github.com/maltedev/grocery-scraper/internal/models"
	"github.com/maltedev/grocery-scraper/internal/scraper"
	"github.com/maltedev/grocery-scraper/internal/storage"
)

const fixtureHTML = `<html><body><div class="ProductGridContainer">
<div class="ProductCard">
  <a href="/p/bananas/0000000004011">
    <span data-qa="cart-page-item-description" aria-label="Bananas"></span>
  </a>
  <data data-qa="cart-page-item-unit-price" aria-label="$0.59"></data>
  <img src="https://www.fredmeyer.com/product/images/bananas">
</div>
</div></body></html>`

func TestSplitStores(t *testing.T) {
	assert.Equal(t, []string{"kroger", "fred-meyer"}, splitStores(" kroger, ,fred-meyer "))
	assert.Nil(t, splitStores(""))
}

func TestLoadFixtures(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fred-meyer.html"), []byte(fixtureHTML), 0o644))

	cfg, ok := scraper.Lookup(scraper.StoreFredMeyer)
	require.True(t, ok)

	opener, err := loadFixtures(dir, []scraper.StoreConfig{cfg})
	require.NoError(t, err)

	crawler, err := scraper.NewStoreCrawler(cfg, opener, nil)
	require.NoError(t, err)

	records, err := crawler.Crawl(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Bananas", *records[0].Name)
	assert.Equal(t, "$0.59", *records[0].Price)
	assert.Equal(t, "https://www.fredmeyer.com/p/bananas/0000000004011", *records[0].ProductURL)
}

func TestLoadFixtures_Missing(t *testing.T) {
	cfg, _ := scraper.Lookup(scraper.StoreKroger)

	_, err := loadFixtures(t.TempDir(), []scraper.StoreConfig{cfg})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kroger")
}

func TestPrintSummary(t *testing.T) {
	result := models.NewRunResult()
	result.Outcomes["kroger"] = models.NewSuccess("kroger", make([]models.ProductRecord, 3), 1500*time.Millisecond)
	result.Outcomes["fred-meyer"] = models.NewFailure("fred-meyer", errors.New("product grid did not appear"), time.Second)

	var buf bytes.Buffer
	printSummary(&buf, result)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), "fred-meyer")
	assert.Contains(t, string(lines[0]), "FAILED  product grid did not appear")
	assert.Contains(t, string(lines[1]), "kroger")
	assert.Contains(t, string(lines[1]), "3 products")
}

func TestRun(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Scraper.Stores = []string{scraper.StoreFredMeyer}

	t.Run("fixture run writes a snapshot", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "fred-meyer.html"), []byte(fixtureHTML), 0o644))
		out := filepath.Join(dir, "out", "products.json")

		require.NoError(t, run(context.Background(), cfg, log, runFlags{out: out, fixtureDir: dir}))

		snap, err := storage.Read(out)
		require.NoError(t, err)
		require.Len(t, snap.Products, 1)
		assert.Equal(t, "Bananas", *snap.Products[0].Name)
	})

	t.Run("setup failure is returned", func(t *testing.T) {
		err := run(context.Background(), cfg, log, runFlags{fixtureDir: t.TempDir()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load fixtures")
	})
}
