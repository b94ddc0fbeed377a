package main

import (
	"context"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dpeinsight/backend/internal/cache"
	"github.com/dpeinsight/backend/internal/cleaning"
	"github.com/dpeinsight/backend/internal/config"
	"github.com/dpeinsight/backend/internal/delivery/http"
	"github.com/dpeinsight/backend/internal/logging"
	"github.com/dpeinsight/backend/internal/metrics"
	"github.com/dpeinsight/backend/internal/reference"
	"github.com/dpeinsight/backend/internal/repository/memory"
	"github.com/dpeinsight/backend/internal/repository/postgres"
	"github.com/dpeinsight/backend/internal/repository/sqlite"
	"github.com/dpeinsight/backend/internal/requester"
	"github.com/dpeinsight/backend/internal/scheduler"
	"github.com/dpeinsight/backend/internal/service"
	"github.com/dpeinsight/backend/pkg/utils"
)

// syncTimeout bounds one scheduled sync run
const syncTimeout = 2 * time.Hour

func main() {
	// Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	logging.Setup(os.Stderr, cfg.Logging.Level)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Reference tables
	zones, err := loadZones(cfg.Reference.ClimateZonesPath)
	if err != nil {
		slog.Error("Could not load climate zones", "error", err)
		os.Exit(1)
	}
	altitudes, err := reference.LoadCommuneAltitudes(cfg.Reference.CommunesPath)
	if err != nil {
		slog.Error("Could not load commune altitudes", "error", err)
		os.Exit(1)
	}

	m := metrics.New()

	// Dependency Injection: Infrastructure
	store := openCache(ctx, cfg)
	defer store.Close()

	dataRepo := openRepository(ctx, cfg)
	defer dataRepo.Close()

	fetcher := requester.NewFetcher(&nethttp.Client{Timeout: cfg.APIs.Timeout}, utils.RetryPolicy{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		BackoffFactor: cfg.Retry.BackoffFactor,
		BaseDelay:     cfg.Retry.BaseDelay,
	}, slog.Default()).WithObserver(m)

	// Dependency Injection: Services
	ademe := requester.NewAdemeClient(fetcher, cfg.APIs.AdemeURL, cfg.Fetch.PageSize)
	enedis := requester.NewEnedisClient(fetcher, cfg.APIs.EnedisURL)
	geoSvc := service.NewGeoService(fetcher, cfg.APIs.GeoSearchURL, cfg.APIs.CommuneURL, zones, store, cfg.Redis.TTL)
	elevationSvc := service.NewElevationService(fetcher, cfg.APIs.ElevationURL, store, cfg.Redis.TTL)
	mlBridge := service.NewMLBridge(cfg.APIs.MLServiceURL)
	predictionSvc := service.NewPredictionService(service.NewFeatureAssembler(geoSvc, elevationSvc), mlBridge, dataRepo).WithMetrics(m)
	cleaner := cleaning.NewCleaner(zones, altitudes)
	datasetSvc := service.NewDatasetService(ademe, cleaner, dataRepo).WithMetrics(m)

	// Scheduled sync
	if cfg.Sync.Cron != "" {
		sched, err := scheduler.New(datasetSvc, cfg.Sync, syncTimeout)
		if err != nil {
			slog.Error("Could not schedule sync", "error", err)
			os.Exit(1)
		}
		sched.Start()
		defer func() {
			stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			sched.Stop(stopCtx)
		}()
	}

	// Fiber App
	app := fiber.New(fiber.Config{
		AppName:      "DPE API v1.0",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
		BodyLimit:    64 * 1024 * 1024,
		ErrorHandler: http.ErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Routes
	http.SetupRoutes(app, http.Services{
		Cities:     geoSvc,
		Elevation:  elevationSvc,
		Prediction: predictionSvc,
		Datasets:   datasetSvc,
		Ademe:      ademe,
		Enedis:     enedis,
		Checks: map[string]http.HealthChecker{
			"repository": dataRepo,
			"ml_service": mlBridge,
		},
	}, m)

	// Graceful shutdown
	go func() {
		port := cfg.Server.Port
		if port == "" {
			port = "8080"
		}
		slog.Info("Server starting", "port", port, "env", cfg.Server.Env)
		if err := app.Listen(":" + port); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...")
	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		slog.Warn("Server forced to shutdown", "error", err)
	}
	predictionSvc.WaitBackground()
	slog.Info("Server exited gracefully")
}

func loadZones(path string) (*reference.ClimateZoneTable, error) {
	if path == "" {
		return reference.DefaultClimateZones()
	}
	return reference.LoadClimateZones(path)
}

// openCache prefers Redis and falls back to process memory
func openCache(ctx context.Context, cfg *config.Config) cache.Store {
	if cfg.Redis.Addr == "" {
		return cache.NewMemoryStore()
	}
	store, err := cache.NewRedisStore(ctx, cache.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   "dpe:",
	})
	if err != nil {
		slog.Warn("Could not connect to Redis, caching in memory", "error", err)
		return cache.NewMemoryStore()
	}
	return store
}

// openRepository picks PostgreSQL, then SQLite, then memory
func openRepository(ctx context.Context, cfg *config.Config) service.DataRepository {
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err == nil {
			err = pool.Ping(ctx)
		}
		if err == nil {
			repo := postgres.NewPostgresRepository(pool)
			if err = repo.Migrate(ctx); err == nil {
				slog.Info("Connected to PostgreSQL")
				return repo
			}
		}
		if pool != nil {
			pool.Close()
		}
		slog.Warn("Could not connect to database", "error", err)
	}

	if cfg.Database.SQLitePath != "" {
		repo, err := sqlite.Open(ctx, cfg.Database.SQLitePath)
		if err == nil {
			slog.Info("Using SQLite store", "path", cfg.Database.SQLitePath)
			return repo
		}
		slog.Warn("Could not open SQLite store", "error", err)
	}

	slog.Warn("Running with in-memory storage only")
	return memory.NewRepository()
}
