package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"refund-insights-service/internal/config"
	"refund-insights-service/internal/events"
	"refund-insights-service/internal/handlers"
	"refund-insights-service/internal/middleware"
	"refund-insights-service/internal/models"
	"refund-insights-service/internal/repository"
	"refund-insights-service/internal/services"
)

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	cfg := config.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if cfg.IsProduction() {
		logger.SetLevel(logrus.InfoLevel)
		gin.SetMode(gin.ReleaseMode)
	} else {
		logger.SetLevel(logrus.DebugLevel)
	}

	db, err := connectDatabase(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.Order{},
		&models.OrderLineItem{},
		&models.Product{},
		&models.Refund{},
		&models.RefundLineItem{},
		&models.Session{},
		&models.SyncRun{},
		&models.SyncLog{},
	); err != nil {
		logger.Warnf("Auto-migration failed: %v", err)
	}
	logger.Info("Database models migrated")

	redisClient := connectRedis(cfg.RedisURL, logger)

	publisher, err := events.NewPublisher(cfg.NATSURL, logger)
	if err != nil {
		logger.Warnf("Failed to connect to NATS, event publishing disabled: %v", err)
		publisher, _ = events.NewPublisher("", logger)
	}
	defer publisher.Close()

	// Repositories
	orderRepo := repository.NewOrderRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	syncRepo := repository.NewSyncRepository(db)
	reportRepo := repository.NewReportRepository(db, redisClient, cfg.ReportCacheTTL, logger)

	// Services
	ingestService := services.NewIngestService(orderRepo, syncRepo, cfg.ProgressFlushEvery, logger)
	syncService := services.NewSyncService(syncRepo, sessionRepo, reportRepo, ingestService, publisher, cfg, logger)
	webhookService := services.NewWebhookService(orderRepo, sessionRepo, reportRepo, publisher, logger)
	reportService := services.NewReportService(reportRepo, logger)

	// Handlers
	healthHandler := handlers.NewHealthHandler(db, redisClient)
	syncHandler := handlers.NewSyncHandler(syncService)
	reportHandler := handlers.NewReportHandler(reportService)
	orderHandler := handlers.NewOrderHandler(orderRepo, cfg.OrdersPageSize)
	webhookHandler := handlers.NewWebhookHandler(webhookService, cfg.ShopifyWebhookSecret, logger)

	router := setupRouter(healthHandler, syncHandler, reportHandler, orderHandler, webhookHandler)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Infof("Refund Insights Service starting on port %s (env: %s)", cfg.Port, cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Forced shutdown: %v", err)
	}

	if redisClient != nil {
		_ = redisClient.Close()
	}
	logger.Info("Refund Insights Service stopped")
}

// connectDatabase establishes a connection to the PostgreSQL database
func connectDatabase(databaseURL string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// connectRedis connects to Redis if configured. The service degrades to
// uncached reports when Redis is missing or unreachable.
func connectRedis(redisURL string, logger *logrus.Logger) *redis.Client {
	if redisURL == "" {
		logger.Info("Redis not configured, report caching disabled")
		return nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warnf("Invalid REDIS_URL, report caching disabled: %v", err)
		return nil
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warnf("Redis unreachable, report caching disabled: %v", err)
		_ = client.Close()
		return nil
	}

	logger.Info("Connected to Redis")
	return client
}

// setupRouter configures the HTTP router
func setupRouter(
	healthHandler *handlers.HealthHandler,
	syncHandler *handlers.SyncHandler,
	reportHandler *handlers.ReportHandler,
	orderHandler *handlers.OrderHandler,
	webhookHandler *handlers.WebhookHandler,
) *gin.Engine {
	router := gin.New()
	router.Use(middleware.Logger())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.SetupCORS())

	// Health checks
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	// Dashboard API - scoped to a shop
	v1 := router.Group("/api/v1")
	v1.Use(middleware.RequireShop())
	{
		sync := v1.Group("/sync")
		{
			sync.POST("", syncHandler.StartSync)
			sync.GET("/status", syncHandler.GetStatus)
			sync.GET("/runs/:id", syncHandler.GetRun)
			sync.GET("/runs/:id/logs", syncHandler.GetRunLogs)
			sync.POST("/runs/:id/cancel", syncHandler.CancelRun)
		}

		reports := v1.Group("/reports")
		{
			reports.GET("/summary", reportHandler.GetSummary)
			reports.GET("/chart", reportHandler.GetChart)
			reports.GET("/top-reasons", reportHandler.GetTopReasons)
			reports.GET("/top-products", reportHandler.GetTopProducts)
		}

		orders := v1.Group("/orders")
		{
			orders.GET("", orderHandler.ListOrders)
			orders.GET("/:id", orderHandler.GetOrder)
		}
	}

	// Webhooks - public but signature-verified
	router.POST("/webhooks/shopify", webhookHandler.HandleShopifyWebhook)

	return router
}
