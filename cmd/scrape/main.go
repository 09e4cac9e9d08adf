package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/maltedev/grocery-scraper/internal/browser"
	"github.com/maltedev/grocery-scraper/internal/config"
	"github.com/maltedev/grocery-scraper/internal/database"
	"github.com/maltedev/grocery-scraper/internal/dom"
	"github.com/maltedev/grocery-scraper/internal/events"
	"github.com/maltedev/grocery-scraper/internal/logger"
	"github.com/maltedev/grocery-scraper/internal/models"
	"github.com/maltedev/grocery-scraper/internal/orchestrator"
	"github.com/maltedev/grocery-scraper/internal/scraper"
	"github.com/maltedev/grocery-scraper/internal/service"
	"github.com/maltedev/grocery-scraper/internal/storage"
)

func main() {
	var (
		stores     = flag.String("stores", "", "Comma separated store ids (default: SCRAPER_STORES)")
		out        = flag.String("out", "", "Write a JSON snapshot of the run to this path")
		persist    = flag.Bool("persist", false, "Store products and the run in Postgres")
		fixtureDir = flag.String("fixture", "", "Serve <store>.html from this directory instead of a browser")
	)
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *stores != "" {
		cfg.Scraper.Stores = splitStores(*stores)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log, runFlags{out: *out, persist: *persist, fixtureDir: *fixtureDir}); err != nil {
		log.Error("scrape failed", "error", err)
		cancel()
		os.Exit(1)
	}
}

type runFlags struct {
	out        string
	persist    bool
	fixtureDir string
}

// run performs one scrape. Resources are released by deferred calls, so
// every error is returned rather than exiting here.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger, flags runFlags) error {
	storeConfigs, err := cfg.StoreConfigs()
	if err != nil {
		return fmt.Errorf("failed to resolve stores: %w", err)
	}

	var store service.Store
	if flags.persist {
		db, err := database.New(ctx, database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		if err := db.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to prepare schema: %w", err)
		}

		publisher := events.NewPublisher(database.NewOutboxRepository(db), cfg.Redis.Stream, log)
		store = service.NewPostgresStore(db, publisher)
	}

	var opener dom.Opener
	if flags.fixtureDir != "" {
		opener, err = loadFixtures(flags.fixtureDir, storeConfigs)
		if err != nil {
			return fmt.Errorf("failed to load fixtures: %w", err)
		}
	} else {
		opts := cfg.BrowserOptions()
		opts.Logger = log
		driver, err := browser.Open(cfg.Browser.Driver, opts)
		if err != nil {
			return fmt.Errorf("failed to initialize browser: %w", err)
		}
		defer driver.Close()
		opener = driver
	}

	crawlers, err := scraper.NewCrawlers(storeConfigs, opener, log)
	if err != nil {
		return fmt.Errorf("failed to build crawlers: %w", err)
	}

	svc := service.NewScraper(orchestrator.New(cfg.Scraper.ConcurrentLimit, log), crawlers, store, log)

	result, err := svc.RunNow(ctx)
	if err != nil {
		// Crawling finished; only recording it failed.
		log.Error("failed to save run", "error", err)
	}

	if result != nil {
		printSummary(os.Stdout, result)

		if flags.out != "" {
			if err := storage.Write(flags.out, storage.NewSnapshot(result)); err != nil {
				log.Error("failed to write snapshot", "path", flags.out, "error", err)
			} else {
				log.Info("snapshot written", "path", flags.out)
			}
		}
	}
	return nil
}

func splitStores(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// loadFixtures serves <dir>/<store id>.html for every URL of each store.
func loadFixtures(dir string, stores []scraper.StoreConfig) (*dom.StaticOpener, error) {
	opener := dom.NewStaticOpener(nil)
	for _, sc := range stores {
		path := filepath.Join(dir, sc.ID+".html")
		html, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read fixture for %s: %w", sc.ID, err)
		}
		for _, url := range sc.URLs {
			opener.Set(url, string(html))
		}
	}
	return opener, nil
}

func printSummary(w io.Writer, result *models.RunResult) {
	stores := make([]string, 0, len(result.Outcomes))
	for store := range result.Outcomes {
		stores = append(stores, store)
	}
	sort.Strings(stores)

	for _, store := range stores {
		fmt.Fprintln(w, summaryLine(result.Outcomes[store]))
	}
}

func summaryLine(o models.StoreOutcome) string {
	if o.Succeeded() {
		return fmt.Sprintf("%-12s ok      %4d products  (%s)", o.Store, o.Count, o.Duration.Round(time.Millisecond))
	}
	return fmt.Sprintf("%-12s FAILED  %s", o.Store, o.Error)
}
