package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the refund insights service
type Config struct {
	// Server
	Port        string
	Environment string

	// Database
	DatabaseURL string

	// Caching / events
	RedisURL string
	NATSURL  string

	// Shopify
	ShopifyAPIVersion    string
	ShopifyWebhookSecret string

	// Sync settings
	BulkPollInterval   time.Duration
	SyncTimeout        time.Duration
	ProgressFlushEvery int

	// Reporting
	ReportCacheTTL time.Duration
	OrdersPageSize int
}

// Load loads configuration from environment variables
func Load() *Config {
	databaseURL := getEnv("DATABASE_URL", "")
	if databaseURL == "" {
		dbHost := getEnv("DB_HOST", "localhost")
		dbPort := getEnv("DB_PORT", "5432")
		dbUser := getEnv("DB_USER", "postgres")
		dbPassword := getEnv("DB_PASSWORD", "postgres")
		dbName := getEnv("DB_NAME", "refund_insights")
		dbSSLMode := getEnv("DB_SSLMODE", "disable")

		databaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			dbUser, dbPassword, dbHost, dbPort, dbName, dbSSLMode)
	}

	config := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		DatabaseURL: databaseURL,

		RedisURL: getEnv("REDIS_URL", ""),
		NATSURL:  getEnv("NATS_URL", ""),

		ShopifyAPIVersion:    getEnv("SHOPIFY_API_VERSION", "2024-01"),
		ShopifyWebhookSecret: getEnv("SHOPIFY_WEBHOOK_SECRET", ""),

		BulkPollInterval:   getEnvAsDuration("BULK_POLL_INTERVAL", 5*time.Second),
		SyncTimeout:        getEnvAsDuration("SYNC_TIMEOUT", 30*time.Minute),
		ProgressFlushEvery: getEnvAsInt("PROGRESS_FLUSH_EVERY", 10),

		ReportCacheTTL: getEnvAsDuration("REPORT_CACHE_TTL", 60*time.Second),
		OrdersPageSize: getEnvAsInt("ORDERS_PAGE_SIZE", 20),
	}

	if config.ShopifyWebhookSecret == "" {
		log.Println("Warning: SHOPIFY_WEBHOOK_SECRET not set, webhook verification will reject all deliveries")
	}

	return config
}

// IsProduction returns true if running in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt gets an environment variable as an integer
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsDuration gets an environment variable as a duration
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
