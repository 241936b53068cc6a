// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"creditledger/pkg/db" // Import db package for its Config struct
)

// AppConfig holds all application-wide configurations.
type AppConfig struct {
	ServerPort    string
	DB            db.Config
	DBAutoMigrate bool
	LogLevel      string

	JWTSecret      string
	WebhookSecret  string
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int

	RedisURL           string
	RedisPassword      string
	EventWorkerEnabled bool
	AMQPURL            string
	AMQPExchange       string

	MaxTxAttempts          int
	AutoApproveEnabled     bool
	AutoApproveThreshold   decimal.Decimal
	IntegrityCheckInterval time.Duration
}

// LoadConfig loads configuration from environment variables, after merging a
// .env file from the working directory if one exists. Variables already set in
// the environment win over the file.
func LoadConfig() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var errs []error
	cfg := &AppConfig{
		ServerPort:    getEnv("SERVER_PORT", "8080"),
		DBAutoMigrate: getBool("DB_AUTO_MIGRATE", false, &errs),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		JWTSecret:      os.Getenv("JWT_SECRET"),
		WebhookSecret:  os.Getenv("WEBHOOK_SECRET"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 10, &errs),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 20, &errs),

		RedisURL:           os.Getenv("REDIS_URL"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		EventWorkerEnabled: getBool("EVENT_WORKER_ENABLED", true, &errs),
		AMQPURL:            os.Getenv("AMQP_URL"),
		AMQPExchange:       getEnv("AMQP_EXCHANGE", "ledger_events"),

		MaxTxAttempts:          getInt("MAX_TX_ATTEMPTS", 3, &errs),
		AutoApproveEnabled:     getBool("AUTO_APPROVE_ENABLED", false, &errs),
		AutoApproveThreshold:   getDecimal("AUTO_APPROVE_THRESHOLD", decimal.Zero, &errs),
		IntegrityCheckInterval: getDuration("INTEGRITY_CHECK_INTERVAL", time.Hour, &errs),
	}

	cfg.DB = db.Config{
		Host:     getEnv("DB_HOST", "localhost"), // Default to localhost for local development
		Port:     getInt("DB_PORT", 5432, &errs),
		User:     getEnv("DB_USER", "user"),
		Password: getEnv("DB_PASSWORD", "password"),
		DBName:   getEnv("DB_NAME", "ledgerdb"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}

	if cfg.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if cfg.WebhookSecret == "" {
		errs = append(errs, errors.New("WEBHOOK_SECRET is required"))
	}
	if cfg.MaxTxAttempts < 1 {
		errs = append(errs, fmt.Errorf("MAX_TX_ATTEMPTS must be at least 1, got %d", cfg.MaxTxAttempts))
	}
	if cfg.AutoApproveEnabled && !cfg.AutoApproveThreshold.IsPositive() {
		errs = append(errs, errors.New("AUTO_APPROVE_THRESHOLD must be positive when AUTO_APPROVE_ENABLED is set"))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return n
}

func getFloat(key string, def float64, errs *[]error) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return f
}

func getBool(key string, def bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return b
}

func getDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return d
}

func getDecimal(key string, def decimal.Decimal, errs *[]error) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
