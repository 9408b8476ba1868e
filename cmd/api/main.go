package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/decisionhub/backend/internal/api/handlers"
	"github.com/decisionhub/backend/internal/cache/redis"
	"github.com/decisionhub/backend/internal/engine"
	"github.com/decisionhub/backend/internal/metrics"
	"github.com/decisionhub/backend/internal/middleware/ratelimit"
	"github.com/decisionhub/backend/internal/middleware/security"
	"github.com/decisionhub/backend/internal/middleware/validation"
	"github.com/decisionhub/backend/internal/notify"
	"github.com/decisionhub/backend/internal/scheduler"
	"github.com/decisionhub/backend/internal/solver"
	"github.com/decisionhub/backend/internal/storage/sqlite"
	"github.com/decisionhub/backend/pkg/config"
	appLogger "github.com/decisionhub/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting decision issue API server")
	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var (
		solverCache solver.Cache
		opts        []engine.Option
		redisClient *redis.Client
	)
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			time.Duration(cfg.Issues.LockTTLSec)*time.Second,
		)
		if err != nil {
			appLogger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()
		solverCache = redisClient
		opts = append(opts, engine.WithLocker(redisClient))
	} else {
		appLogger.Warn("Redis disabled, using in-process issue locks and no solver cache")
	}

	solverClient := solver.NewClient(solver.Config{
		BaseURL:          cfg.Solver.BaseURL,
		Timeout:          time.Duration(cfg.Solver.TimeoutSec) * time.Second,
		MaxAttempts:      cfg.Solver.MaxAttempts,
		FailureThreshold: cfg.Solver.FailureThreshold,
		OpenTimeout:      time.Duration(cfg.Solver.OpenTimeoutSec) * time.Second,
		CacheTTL:         time.Duration(cfg.Solver.CacheTTLSec) * time.Second,
	}, solverCache)

	hub := notify.NewHub(cfg.Notify.HubBuffer)
	opts = append(opts,
		engine.WithPublisher(hub),
		engine.WithMailer(notify.NewLogMailer(cfg.Notify.MailFrom, nil)),
	)

	eng, err := engine.NewEngine(sqliteClient, solverClient, engine.Config{
		DefaultThreshold:  cfg.Consensus.DefaultThreshold,
		DefaultDomainName: cfg.Issues.DefaultDomainName,
		CollationLocale:   cfg.Issues.CollationLocale,
	}, opts...)
	if err != nil {
		appLogger.Fatal("Failed to create engine", zap.Error(err))
	}

	ctx := context.Background()
	catalog, err := solver.LoadCatalog(cfg.Issues.CatalogPath)
	if err != nil {
		appLogger.Fatal("Failed to load model catalog", zap.Error(err))
	}
	if err := eng.SeedCatalog(ctx, catalog); err != nil {
		appLogger.Fatal("Failed to seed model catalog", zap.Error(err))
	}
	if err := eng.SeedGlobalDomains(ctx, engine.DefaultDomains(cfg.Issues.DefaultDomainName)); err != nil {
		appLogger.Fatal("Failed to seed expression domains", zap.Error(err))
	}

	var sched *scheduler.Scheduler
	if cfg.Issues.AutoCloseEnabled {
		sched, err = scheduler.New(cfg.Issues.AutoCloseSpec, eng, 0)
		if err != nil {
			appLogger.Fatal("Failed to create auto-close scheduler", zap.Error(err))
		}
		sched.Start()
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	rateLimiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
		Logger:               appLogger.Named("ratelimit"),
	})
	defer rateLimiter.Stop()

	allowOrigins := "*"
	if len(cfg.Server.AllowedOrigins) > 0 {
		allowOrigins = strings.Join(cfg.Server.AllowedOrigins, ", ")
	}

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, X-User-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.Development,
	}))

	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")
	api.Use(rateLimiter.Middleware())
	api.Use(validation.Middleware(validation.Config{Logger: appLogger.Named("validation")}))

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		if err := sqliteClient.Ping(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unavailable",
				"error":  "database",
			})
		}
		if redisClient != nil {
			if err := redisClient.Ping(c.Context()); err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"status": "unavailable",
					"error":  "redis",
				})
			}
		}
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	handlers.Register(api, eng, hub)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if sched != nil {
		sched.Stop(shutdownCtx)
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		appLogger.Warn("Server shutdown incomplete", zap.Error(err))
	}
	eng.Wait()
	appLogger.Info("Server stopped")
}
