package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Workflow     WorkflowConfig
	Outbox       OutboxConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values. An empty DSN selects the
// in-memory store.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
}

// WorkflowConfig tunes the ticket lifecycle.
type WorkflowConfig struct {
	ReopenWindowDays        int
	AutoCloseAfterDays      int
	AutoCloseSchedule       string
	LockTTLSeconds          int
	LockWaitMillis          int
	AutoAssignEnabled       bool
	MaxTicketsPerTechnician int
}

// OutboxConfig tunes the relay worker.
type OutboxConfig struct {
	PollIntervalMillis int
	BatchSize          int
	MaxAttempts        int
	LeaseSeconds       int
}

// NotificationConfig holds email delivery settings.
type NotificationConfig struct {
	EmailEnabled          bool
	EmailFrom             string
	EmailFromName         string
	SMTPHost              string
	SMTPPort              int
	SMTPUsername          string
	SMTPPassword          string
	PortalBaseURL         string
	IdempotencyTTLMinutes int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "helpdesk-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Workflow: WorkflowConfig{
			ReopenWindowDays:        getEnvAsInt("REOPEN_WINDOW_DAYS", 7),
			AutoCloseAfterDays:      getEnvAsInt("AUTO_CLOSE_AFTER_DAYS", 7),
			AutoCloseSchedule:       getEnv("AUTO_CLOSE_SCHEDULE", "0 * * * *"),
			LockTTLSeconds:          getEnvAsInt("LOCK_TTL_SECONDS", 10),
			LockWaitMillis:          getEnvAsInt("LOCK_WAIT_MILLIS", 2000),
			AutoAssignEnabled:       getEnvAsBool("AUTO_ASSIGN_ENABLED", false),
			MaxTicketsPerTechnician: getEnvAsInt("MAX_TICKETS_PER_TECHNICIAN", 10),
		},
		Outbox: OutboxConfig{
			PollIntervalMillis: getEnvAsInt("OUTBOX_POLL_INTERVAL_MILLIS", 1000),
			BatchSize:          getEnvAsInt("OUTBOX_BATCH_SIZE", 50),
			MaxAttempts:        getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 5),
			LeaseSeconds:       getEnvAsInt("OUTBOX_LEASE_SECONDS", 30),
		},
		Notification: NotificationConfig{
			EmailEnabled:          getEnvAsBool("NOTIFY_EMAIL_ENABLED", false),
			EmailFrom:             getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			EmailFromName:         getEnv("NOTIFY_EMAIL_FROM_NAME", "Helpdesk"),
			SMTPHost:              getEnv("SMTP_HOST", "localhost"),
			SMTPPort:              getEnvAsInt("SMTP_PORT", 587),
			SMTPUsername:          os.Getenv("SMTP_USERNAME"),
			SMTPPassword:          os.Getenv("SMTP_PASSWORD"),
			PortalBaseURL:         getEnv("PORTAL_BASE_URL", "http://localhost:3000"),
			IdempotencyTTLMinutes: getEnvAsInt("IDEMPOTENCY_TTL_MINUTES", 60),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the workflow cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Workflow.ReopenWindowDays <= 0 {
		errs = append(errs, errors.New("REOPEN_WINDOW_DAYS must be positive"))
	}
	if c.Workflow.AutoCloseAfterDays <= 0 {
		errs = append(errs, errors.New("AUTO_CLOSE_AFTER_DAYS must be positive"))
	}
	if _, err := cron.ParseStandard(c.Workflow.AutoCloseSchedule); err != nil {
		errs = append(errs, fmt.Errorf("invalid AUTO_CLOSE_SCHEDULE: %w", err))
	}
	if c.Workflow.LockTTLSeconds <= 0 || c.Workflow.LockWaitMillis <= 0 {
		errs = append(errs, errors.New("lock ttl and wait must be positive"))
	}
	if c.Workflow.MaxTicketsPerTechnician <= 0 {
		errs = append(errs, errors.New("MAX_TICKETS_PER_TECHNICIAN must be positive"))
	}
	if c.Outbox.BatchSize <= 0 || c.Outbox.MaxAttempts <= 0 || c.Outbox.PollIntervalMillis <= 0 || c.Outbox.LeaseSeconds <= 0 {
		errs = append(errs, errors.New("outbox settings must be positive"))
	}
	if c.App.Env == "production" && c.Auth.JWTSecret == "dev-secret" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET must be set in production"))
	}
	return errors.Join(errs...)
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// ReopenWindow is how long after closure a requester may reopen.
func (w WorkflowConfig) ReopenWindow() time.Duration {
	return time.Duration(w.ReopenWindowDays) * 24 * time.Hour
}

// AutoCloseAfter is how long a resolved ticket waits for the requester.
func (w WorkflowConfig) AutoCloseAfter() time.Duration {
	return time.Duration(w.AutoCloseAfterDays) * 24 * time.Hour
}

func (w WorkflowConfig) LockTTL() time.Duration {
	return time.Duration(w.LockTTLSeconds) * time.Second
}

func (w WorkflowConfig) LockWait() time.Duration {
	return time.Duration(w.LockWaitMillis) * time.Millisecond
}

func (o OutboxConfig) PollInterval() time.Duration {
	return time.Duration(o.PollIntervalMillis) * time.Millisecond
}

func (o OutboxConfig) Lease() time.Duration {
	return time.Duration(o.LeaseSeconds) * time.Second
}

func (n NotificationConfig) IdempotencyTTL() time.Duration {
	return time.Duration(n.IdempotencyTTLMinutes) * time.Minute
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
