package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/grocery-scraper/internal/api"
	"github.com/maltedev/grocery-scraper/internal/browser"
	"github.com/maltedev/grocery-scraper/internal/config"
	"github.com/maltedev/grocery-scraper/internal/database"
	"github.com/maltedev/grocery-scraper/internal/events"
	"github.com/maltedev/grocery-scraper/internal/logger"
	"github.com/maltedev/grocery-scraper/internal/orchestrator"
	"github.com/maltedev/grocery-scraper/internal/scraper"
	"github.com/maltedev/grocery-scraper/internal/service"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.New("error", "json").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		cancel()
		os.Exit(1)
	}

	log.Info("server stopped")
}

// run owns every resource it opens so the deferred cleanups, the browser in
// particular, happen on each error path.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	storeConfigs, err := cfg.StoreConfigs()
	if err != nil {
		return fmt.Errorf("failed to resolve stores: %w", err)
	}

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

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	opts := cfg.BrowserOptions()
	opts.Logger = log
	driver, err := browser.Open(cfg.Browser.Driver, opts)
	if err != nil {
		return fmt.Errorf("failed to initialize browser: %w", err)
	}
	defer driver.Close()

	crawlers, err := scraper.NewCrawlers(storeConfigs, driver, log)
	if err != nil {
		return fmt.Errorf("failed to build crawlers: %w", err)
	}

	outbox := database.NewOutboxRepository(db)
	relay := database.NewRelay(outbox, redisClient, log, database.RelayConfig{
		PollInterval: cfg.Relay.PollInterval,
		BatchSize:    cfg.Relay.BatchSize,
	})
	go func() {
		if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("relay stopped with error", "error", err)
		}
	}()

	publisher := events.NewPublisher(outbox, cfg.Redis.Stream, log)
	svc := service.NewScraper(
		orchestrator.New(cfg.Scraper.ConcurrentLimit, log),
		crawlers,
		service.NewPostgresStore(db, publisher),
		log,
	)

	handlers := api.NewHandlers(svc, database.NewRunRepository(db), relay, log)
	router := api.NewRouter(handlers, api.RouterConfig{
		RequestTimeout: cfg.RequestTimeout(),
	})

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	}()

	log.Info("server starting",
		"addr", server.Addr,
		"stores", svc.Stores(),
		"driver", cfg.Browser.Driver,
		"request_timeout", cfg.RequestTimeout())

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
