package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/georgeshao/outscraper-go/internal/api"
	"github.com/georgeshao/outscraper-go/internal/config"
	"github.com/georgeshao/outscraper-go/internal/dispatcher"
	"github.com/georgeshao/outscraper-go/internal/observability"
	"github.com/georgeshao/outscraper-go/internal/storage"
	"github.com/georgeshao/outscraper-go/internal/storage/pebbledb"
	"github.com/georgeshao/outscraper-go/internal/storage/sqlite"
	"github.com/georgeshao/outscraper-go/pkg/outscraper"
)

func main() {
	configPath := flag.String("config", os.Getenv("SANDBOX_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	store, err := openStore(cfg.Storage, zl)
	if err != nil {
		zl.Fatal("failed to initialize storage", zap.String("backend", cfg.Storage.Backend), zap.Error(err))
	}

	if err := ensureDefaultNamespace(store); err != nil {
		zl.Fatal("failed to create default namespace", zap.Error(err))
	}

	resolver := dispatcher.NewUpstreamResolver(outscraper.Config{
		BaseURL: cfg.Upstream.BaseURL,
		APIKey:  cfg.Upstream.APIKey,
	}, dispatcher.FixtureResolver{Delay: cfg.Dispatcher.FixtureDelay}, zl.Named("upstream"))

	d := dispatcher.New(store, resolver, dispatcher.Config{
		MaxWorkers:        cfg.Dispatcher.MaxWorkers,
		RequestTimeout:    cfg.Dispatcher.RequestTimeout,
		RequestsPerSecond: cfg.Dispatcher.RequestsPerSecond,
	}, zl.Named("dispatcher"))

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		BodyLimit:    cfg.Server.BodyLimitMB * 1024 * 1024,
		ErrorHandler: api.ErrorHandler,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, " + api.HeaderAPIKey + ", " + api.HeaderNamespace,
	}))

	api.SetupRoutes(app, store, d, api.RouteConfig{
		APIKeys: cfg.Server.APIKeys,
		Logger:  zl.Named("api"),
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		zl.Info("shutting down server")
		if err := app.Shutdown(); err != nil {
			zl.Error("error during shutdown", zap.Error(err))
		}
	}()

	zl.Info("starting outscraper sandbox",
		zap.String("addr", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Backend),
		zap.Bool("upstream", cfg.Upstream.BaseURL != ""))

	if err := app.Listen(cfg.Server.Port); err != nil {
		zl.Error("server stopped", zap.Error(err))
	}

	d.Wait()
	if err := store.Close(); err != nil {
		zl.Error("failed to close storage", zap.Error(err))
	}
}

func openStore(c config.StorageConfig, zl *zap.Logger) (storage.Store, error) {
	if c.Backend == config.BackendPebble {
		return pebbledb.New(c.Path, c.BatchWrites, zl.Named("pebble"))
	}
	return sqlite.New(c.Path)
}

func ensureDefaultNamespace(store storage.Store) error {
	ctx := context.Background()

	ns, err := store.GetNamespace(ctx, storage.DefaultNamespace)
	if err != nil {
		return err
	}

	if ns == nil {
		now := time.Now()
		return store.CreateNamespace(ctx, &storage.NamespaceRecord{
			Name:        storage.DefaultNamespace,
			Description: "Default namespace",
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	return nil
}
