package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable of the engine. All values come from the
// environment; .env is loaded when present for local development.
type Config struct {
	DatabaseURL  string
	JWTSecretKey string
	ServerPort   int

	// Remote bracket API.
	RemoteAPIURL      string
	RemoteAPIToken    string
	RequestTimeout    time.Duration
	CacheTTL          time.Duration
	CacheMaxEntries   int
	RetryMaxAttempts  int
	RetryMaxDelay     time.Duration
	SyncMaxPages      int
	SyncPageSize      int

	// Polling.
	PollWorkerPoolSize int
	PollIntervalShort  time.Duration
	PollIntervalLong   time.Duration
	PollDeadline       time.Duration

	// Match lifecycle.
	CheckInWindow time.Duration

	// Result push outbox.
	PushInterval    time.Duration
	PushBatchSize   int
	PushMaxAttempts int
	PushRetryDelay  time.Duration

	// Bracket snapshot export (Cloudflare R2). Disabled unless the account id is set.
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
}

// SnapshotsEnabled reports whether poll cycles should export bracket snapshots.
func (c *Config) SnapshotsEnabled() bool { return c.R2AccountID != "" }

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Missing .env is not an error; production supplies real env vars.
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	jwtKey := os.Getenv("JWT_SECRET_KEY")
	if jwtKey == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY environment variable is not set")
	}

	apiURL := os.Getenv("REMOTE_API_URL")
	if apiURL == "" {
		return nil, fmt.Errorf("REMOTE_API_URL environment variable is not set")
	}

	port, err := intEnv("SERVER_PORT", 8080)
	if err != nil {
		return nil, err
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", port)
	}

	cfg := &Config{
		DatabaseURL:    dbURL,
		JWTSecretKey:   jwtKey,
		ServerPort:     port,
		RemoteAPIURL:   apiURL,
		RemoteAPIToken: os.Getenv("REMOTE_API_TOKEN"),

		R2AccountID:       os.Getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey: os.Getenv("R2_SECRET_ACCESS_KEY"),
		R2BucketName:      os.Getenv("R2_BUCKET_NAME"),
	}

	if cfg.RequestTimeout, err = durationEnv("REMOTE_API_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = durationEnv("REMOTE_API_CACHE_TTL", 45*time.Second); err != nil {
		return nil, err
	}
	if cfg.CacheMaxEntries, err = intEnv("REMOTE_API_CACHE_MAX_ENTRIES", 512); err != nil {
		return nil, err
	}
	if cfg.RetryMaxAttempts, err = intEnv("REMOTE_API_RETRY_MAX_ATTEMPTS", 4); err != nil {
		return nil, err
	}
	if cfg.RetryMaxDelay, err = durationEnv("REMOTE_API_RETRY_MAX_DELAY", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.SyncMaxPages, err = intEnv("SYNC_MAX_PAGES", 50); err != nil {
		return nil, err
	}
	if cfg.SyncPageSize, err = intEnv("SYNC_PAGE_SIZE", 50); err != nil {
		return nil, err
	}
	if cfg.PollWorkerPoolSize, err = intEnv("POLL_WORKER_POOL_SIZE", 4); err != nil {
		return nil, err
	}
	if cfg.PollIntervalShort, err = durationEnv("POLL_INTERVAL_SHORT", 1*time.Minute); err != nil {
		return nil, err
	}
	if cfg.PollIntervalLong, err = durationEnv("POLL_INTERVAL_LONG", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.PollDeadline, err = durationEnv("POLL_DEADLINE", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.CheckInWindow, err = durationEnv("CHECK_IN_WINDOW", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.PushInterval, err = durationEnv("RESULT_PUSH_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.PushBatchSize, err = intEnv("RESULT_PUSH_BATCH_SIZE", 20); err != nil {
		return nil, err
	}
	if cfg.PushMaxAttempts, err = intEnv("RESULT_PUSH_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.PushRetryDelay, err = durationEnv("RESULT_PUSH_RETRY_DELAY", 30*time.Second); err != nil {
		return nil, err
	}

	if cfg.PollWorkerPoolSize < 1 {
		return nil, fmt.Errorf("POLL_WORKER_POOL_SIZE must be at least 1, got %d", cfg.PollWorkerPoolSize)
	}

	return cfg, nil
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return v, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return v, nil
}
