package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/regwatch/backend/internal/api/handlers"
	"github.com/regwatch/backend/internal/cache/redis"
	"github.com/regwatch/backend/internal/dedupe"
	"github.com/regwatch/backend/internal/metrics"
	"github.com/regwatch/backend/internal/registry"
	"github.com/regwatch/backend/internal/resolver"
	"github.com/regwatch/backend/internal/scrape/agencies"
	"github.com/regwatch/backend/internal/scrape/fetcher"
	"github.com/regwatch/backend/internal/session"
	"github.com/regwatch/backend/internal/storage/sqlite"
	"github.com/regwatch/backend/pkg/config"
	appLogger "github.com/regwatch/backend/pkg/logger"
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

	appLogger.Info("Starting RegWatch API Server")

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

	var registryCache registry.Cache
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			time.Duration(cfg.Redis.TTLSec)*time.Second,
		)
		if err != nil {
			appLogger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()
		registryCache = redisClient
	}

	registryClient := registry.NewClient(registry.Config{
		BaseURL:    cfg.Registry.BaseURL,
		APIKey:     cfg.Registry.APIKey,
		Timeout:    time.Duration(cfg.Registry.TimeoutSec) * time.Second,
		MaxResults: cfg.Registry.MaxResults,
	}, registryCache)

	offenderResolver := resolver.New(sqliteClient, registryClient, resolver.Config{
		HighThreshold: cfg.Resolver.HighThreshold,
		LowThreshold:  cfg.Resolver.LowThreshold,
		TopK:          cfg.Resolver.TopK,
	})

	fetchClient := fetcher.NewClient(fetcher.Config{
		Timeout:     cfg.Scraper.FetchTimeout(),
		MaxAttempts: cfg.Scraper.MaxAttempts,
		BackoffBase: cfg.Scraper.BackoffBase(),
		UserAgent:   cfg.Scraper.UserAgent,
	})

	hub := session.NewHub()
	manager := session.NewManager(
		session.ManagerConfig{
			Client:      fetchClient,
			PageDelay:   cfg.Scraper.SummaryDelay(),
			DetailDelay: cfg.Scraper.DetailDelay(),
			Limits: session.Limits{
				MaxPages:             cfg.Scraper.MaxPages,
				ConsecutiveExisting:  cfg.Scraper.ConsecutiveExisting,
				MaxConsecutiveErrors: cfg.Scraper.MaxConsecutiveErrors,
			},
		},
		sqliteClient,
		offenderResolver,
		hub,
		agencies.NewEA(cfg.Scraper.EABaseURL),
		agencies.NewHSE(cfg.Scraper.HSEBaseURL),
	)

	detector := dedupe.NewDetector(sqliteClient, dedupe.Config{
		DescriptionThreshold: cfg.Dedupe.DescriptionThreshold,
		DateWindow:           time.Duration(cfg.Dedupe.DateWindowDays) * 24 * time.Hour,
	})

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	sessionHandler := handlers.NewSessionHandler(manager)
	reviewHandler := handlers.NewReviewHandler(offenderResolver, sqliteClient)
	duplicateHandler := handlers.NewDuplicateHandler(detector)
	wsHandler := handlers.NewWebSocketHandler(manager)

	api := app.Group("/api/v1")

	api.Post("/sessions", sessionHandler.StartSession)
	api.Get("/sessions", sessionHandler.ListSessions)
	api.Get("/sessions/:id", sessionHandler.GetSession)
	api.Post("/sessions/:id/stop", sessionHandler.StopSession)

	api.Use("/sessions/:id/progress", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/sessions/:id/progress", websocket.New(wsHandler.HandleProgress))

	api.Get("/reviews", reviewHandler.ListReviews)
	api.Post("/reviews/:id/approve", reviewHandler.ApproveReview)
	api.Post("/reviews/:id/skip", reviewHandler.SkipReview)
	api.Post("/reviews/:id/flag", reviewHandler.FlagReview)

	api.Get("/duplicates/:type", duplicateHandler.FindDuplicates)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

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
	if err := manager.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("Sessions did not stop in time", zap.Error(err))
	}

	app.Shutdown()
	appLogger.Info("Server stopped")
}
