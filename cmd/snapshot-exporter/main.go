package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/grocery-scraper/internal/config"
	"github.com/maltedev/grocery-scraper/internal/database"
	"github.com/maltedev/grocery-scraper/internal/events"
	"github.com/maltedev/grocery-scraper/internal/logger"
	"github.com/maltedev/grocery-scraper/internal/models"
	"github.com/maltedev/grocery-scraper/internal/storage"
)

// snapshot-exporter rewrites SNAPSHOT_PATH from Postgres every time a scrape
// run completes.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.New("error", "json").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

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
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	exporter := storage.NewExporter(database.NewProductRepository(db), cfg.Exporter.Path, log)

	consumer := events.NewConsumer(rdb, events.ConsumerConfig{
		Stream:   cfg.Redis.Stream,
		Group:    cfg.Exporter.Group,
		Consumer: cfg.Exporter.Consumer,

		RetryInterval: cfg.Exporter.RetryInterval,
	}, func(ctx context.Context, p *events.ScrapeRunCompletedPayload) error {
		stores, outcomes := fromSummaries(p.Stores)
		return exporter.Export(ctx, p.RunID, stores, outcomes)
	}, log)

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("consumer stopped with error", "error", err)
		os.Exit(1)
	}

	log.Info("exporter stopped")
}

func fromSummaries(summaries []events.StoreSummary) ([]string, map[string]models.StoreOutcome) {
	stores := make([]string, 0, len(summaries))
	outcomes := make(map[string]models.StoreOutcome, len(summaries))
	for _, s := range summaries {
		stores = append(stores, s.Store)
		outcomes[s.Store] = models.StoreOutcome{
			Store:  s.Store,
			Status: s.Status,
			Count:  s.Count,
			Error:  s.Error,
		}
	}
	return stores, outcomes
}
