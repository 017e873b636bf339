// Package config provides configuration management for the application.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Catalog source kinds.
const (
	CatalogSourcePostgres = "postgres"
	CatalogSourceS3       = "s3"
	CatalogSourceEmbedded = "embedded"
)

// Config holds all configuration values for the application.
type Config struct {
	// AWS
	AWSRegion string

	// Database
	DatabaseURLOverride string
	DBHost              string
	DBPort              int
	DBName              string
	DBUser              string
	DBPassword          string
	DBMaxConns          int

	// Catalog
	CatalogSource          string
	CatalogBucket          string
	CatalogKey             string
	CatalogRefreshInterval time.Duration

	// Prospect files
	ProspectBucket string

	// Engine
	SessionTTL           time.Duration
	EvaluatorConcurrency int

	// Notifications
	SESSenderEmail         string
	DashboardURL           string
	NotificationWebhookURL string

	// Application
	Port     int
	Stage    string
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	_ = godotenv.Load()

	cfg := &Config{
		AWSRegion: getEnv("AWS_REGION", "eu-west-3"),

		DatabaseURLOverride: getEnv("DATABASE_URL", ""),
		DBHost:              getEnv("DB_HOST", "localhost"),
		DBPort:              getEnvInt("DB_PORT", 5432),
		DBName:              getEnv("DB_NAME", "fiscal_eligibility"),
		DBUser:              getEnv("DB_USER", "postgres"),
		DBPassword:          getEnv("DB_PASSWORD", ""),
		DBMaxConns:          getEnvInt("DB_MAX_CONNS", 10),

		CatalogSource:          getEnv("CATALOG_SOURCE", CatalogSourcePostgres),
		CatalogBucket:          getEnv("CATALOG_BUCKET", ""),
		CatalogKey:             getEnv("CATALOG_KEY", "catalog/current.json"),
		CatalogRefreshInterval: getEnvDuration("CATALOG_REFRESH_INTERVAL", 5*time.Minute),

		ProspectBucket: getEnv("PROSPECT_BUCKET", ""),

		SessionTTL:           getEnvDuration("SESSION_TTL", 24*time.Hour),
		EvaluatorConcurrency: getEnvInt("EVALUATOR_CONCURRENCY", 8),

		SESSenderEmail:         getEnv("SES_SENDER_EMAIL", ""),
		DashboardURL:           getEnv("DASHBOARD_URL", ""),
		NotificationWebhookURL: getEnv("NOTIFICATION_WEBHOOK_URL", ""),

		Port:     getEnvInt("PORT", 8080),
		Stage:    getEnv("STAGE", "dev"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	switch c.CatalogSource {
	case CatalogSourcePostgres, CatalogSourceEmbedded:
	case CatalogSourceS3:
		if c.CatalogBucket == "" {
			return fmt.Errorf("CATALOG_BUCKET is required when CATALOG_SOURCE=s3")
		}
	default:
		return fmt.Errorf("unknown CATALOG_SOURCE %q", c.CatalogSource)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if c.EvaluatorConcurrency < 1 {
		return fmt.Errorf("EVALUATOR_CONCURRENCY must be at least 1")
	}
	if c.DBMaxConns < 0 {
		return fmt.Errorf("DB_MAX_CONNS cannot be negative")
	}
	return nil
}

// DatabaseURL returns the PostgreSQL connection string.
func (c *Config) DatabaseURL() string {
	if c.DatabaseURLOverride != "" {
		return c.DatabaseURLOverride
	}
	sslMode := "require" // Use SSL for RDS
	if c.DBHost == "localhost" || c.DBHost == "127.0.0.1" {
		sslMode = "disable"
	}
	return "postgres://" + c.DBUser + ":" + c.DBPassword + "@" + c.DBHost + ":" + strconv.Itoa(c.DBPort) + "/" + c.DBName + "?sslmode=" + sslMode
}

// HasDatabase reports whether a database was configured explicitly.
func (c *Config) HasDatabase() bool {
	return c.DatabaseURLOverride != "" || os.Getenv("DB_HOST") != ""
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as int or returns a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration parses a Go duration such as "24h" or "90s".
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
