package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/emr-interpretation-server/internal/api"
	"github.com/emr-interpretation-server/internal/config"
	"github.com/emr-interpretation-server/internal/database"
	"github.com/emr-interpretation-server/internal/definition"
	"github.com/emr-interpretation-server/internal/domain"
	"github.com/emr-interpretation-server/internal/inventory"
	"github.com/emr-interpretation-server/internal/metric"
	"github.com/emr-interpretation-server/internal/service"
	"github.com/emr-interpretation-server/internal/terminology"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger := setupLogger(cfg.Logging)
	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting EMR interpretation server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metric registry: built-ins register once at startup.
	registry := metric.Default()
	metric.RegisterBuiltins(registry)

	// Terminology lookup chain: HTTP client -> circuit breaker -> two-tier cache.
	client := terminology.NewClient(terminology.ClientConfig{
		BaseURL:   cfg.Terminology.BaseURL,
		Timeout:   cfg.Terminology.Timeout,
		RateLimit: cfg.Terminology.RateLimit,
	})
	resilient := terminology.NewResilientClient(client, logger)

	var redisCache *terminology.CacheClient
	if cache, err := terminology.NewCacheClient(cfg.Cache); err != nil {
		logger.WithError(err).Warn("Redis unavailable, valueset caching degrades to memory only")
	} else {
		redisCache = cache
		defer redisCache.Close()
	}

	valuesets, err := terminology.NewCachedLookup(resilient, redisCache, terminology.CachedLookupConfig{
		MemorySize: cfg.Cache.MemorySize,
		RedisTTL:   cfg.Cache.DefaultTTL,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create valueset lookup")
	}

	// Definition store and inventory per configured driver.
	definitions, reconciler, cleanup, err := setupStores(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to set up stores")
	}
	defer cleanup()

	interpreter := service.NewObservationInterpreter(definitions, registry, valuesets, logger)

	server := api.NewServer(cfg, interpreter, definitions, registry, reconciler, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
	logger.Info("Server stopped")
}

// setupLogger configures logrus from the logging config.
func setupLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.Output == "stderr" {
		logger.SetOutput(os.Stderr)
	} else {
		logger.SetOutput(os.Stdout)
	}
	return logger
}

// setupStores wires the definition store and inventory reconciler for the
// configured database driver. Inventory reconciliation needs the movement
// tables and the Redis lock, both of which are postgres deployments only.
func setupStores(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) (api.DefinitionStore, api.Reconciler, func(), error) {
	switch cfg.Database.Driver {
	case "postgres":
		databaseURL := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.Database.Username, cfg.Database.Password,
			cfg.Database.Host, cfg.Database.Port,
			cfg.Database.Database, cfg.Database.SSLMode,
		)

		runner, err := database.NewMigrationRunner(databaseURL, cfg.Database.MigrationsPath, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("creating migration runner: %w", err)
		}
		if err := runner.Up(); err != nil {
			runner.Close()
			return nil, nil, nil, err
		}
		runner.Close()

		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Database.Host, cfg.Database.Port, cfg.Database.Username,
			cfg.Database.Password, cfg.Database.Database, cfg.Database.SSLMode,
		)
		sqlDB, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening database: %w", err)
		}
		definitions, err := definition.NewPostgresStore(sqlDB)
		if err != nil {
			sqlDB.Close()
			return nil, nil, nil, err
		}

		pool, err := database.NewConnection(ctx, cfg.Database, logger)
		if err != nil {
			sqlDB.Close()
			return nil, nil, nil, err
		}

		redisOpts, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			sqlDB.Close()
			pool.Close()
			return nil, nil, nil, fmt.Errorf("parsing Redis URL: %w", err)
		}
		redisClient := redis.NewClient(redisOpts)

		locker := inventory.NewRedisLocker(redisClient, cfg.Inventory.LockTimeout)
		store := inventory.NewPostgresStore(pool.Pool, logger)
		reconciler := inventory.NewReconciler(store, locker, logger)

		cleanup := func() {
			sqlDB.Close()
			pool.Close()
			redisClient.Close()
		}
		return definitions, reconciler, cleanup, nil

	case "sqlite":
		definitions, err := definition.NewSQLiteStore(cfg.Database.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		cleanup := func() { definitions.Close() }
		return definitions, unavailableReconciler{}, cleanup, nil
	}
	return nil, nil, nil, fmt.Errorf("invalid database driver: %s", cfg.Database.Driver)
}

// unavailableReconciler rejects inventory reconciliation on deployments
// without the movement tables.
type unavailableReconciler struct{}

func (unavailableReconciler) Reconcile(ctx context.Context, locationID, productID string) (*inventory.InventoryItem, error) {
	return nil, fmt.Errorf("inventory reconciliation requires a postgres deployment")
}
