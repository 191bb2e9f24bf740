// Package config provides application configuration loaded from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	App      AppConfig
	Log      LogConfig
	Redis    RedisConfig
	Billing  BillingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string
	ReadTimeout  int // seconds
	WriteTimeout int // seconds
	IdleTimeout  int // seconds
}

// DatabaseConfig holds connection settings. RawDSN, when set, wins over the
// individual fields.
type DatabaseConfig struct {
	Driver   string // postgres or sqlite
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	RawDSN   string
	Path     string // sqlite file
	Debug    bool
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Dev        bool
	Migrations bool
	Seed       bool
	Worker     bool // run the asynq worker and scheduler in this process
}

// LogConfig holds zerolog settings.
type LogConfig struct {
	Level  string
	Format string // json or console
}

// RedisConfig holds the Redis connection backing the task queue.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// BillingConfig tunes the automation batch.
type BillingConfig struct {
	Concurrency     int
	Cron            string
	Timezone        string
	MaxCyclesPerRun int
	RunUniqueTTL    time.Duration
	RunRatePerMin   int
	RunBurst        int
}

// DSN returns the PostgreSQL connection string in key=value format.
func (d DatabaseConfig) DSN() string {
	if d.RawDSN != "" {
		return d.RawDSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// URL returns the PostgreSQL connection string in URL format.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// Location resolves the billing timezone, defaulting to UTC.
func (b BillingConfig) Location() *time.Location {
	if b.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load reads configuration from environment variables.
// It uses sensible defaults for local development.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  getEnvInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvInt("SERVER_WRITE_TIMEOUT", 60),
			IdleTimeout:  getEnvInt("SERVER_IDLE_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "contracts"),
			Password: getEnv("DB_PASSWORD", "contracts123"),
			DBName:   getEnv("DB_NAME", "contracts"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			RawDSN:   os.Getenv("DATABASE_DSN"),
			Path:     getEnv("DB_PATH", "contracts.db"),
			Debug:    getEnvBool("DB_DEBUG", false),
		},
		App: AppConfig{
			Dev:        getEnvBool("DEV", true),
			Migrations: getEnvBool("MIGRATIONS", false),
			Seed:       getEnvBool("DB_SEED", false),
			Worker:     getEnvBool("WORKER", false),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Billing: BillingConfig{
			Concurrency:     getEnvInt("BILLING_CONCURRENCY", 4),
			Cron:            getEnv("BILLING_CRON", "0 3 * * *"),
			Timezone:        getEnv("BILLING_TIMEZONE", "UTC"),
			MaxCyclesPerRun: getEnvInt("BILLING_MAX_CYCLES", 60),
			RunUniqueTTL:    getEnvDuration("BILLING_RUN_UNIQUE_TTL", time.Hour),
			RunRatePerMin:   getEnvInt("BILLING_RUN_RATE", 6),
			RunBurst:        getEnvInt("BILLING_RUN_BURST", 2),
		},
	}
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvBool returns the boolean value of an environment variable or a default.
// Accepts "1", "true", "yes" as true; everything else is false.
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "1" || value == "true" || value == "yes"
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
