// Package config loads dashsync configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/dashboard-sync/pkg/logging"
)

const (
	defaultUserAgent       = "dashsync/1.0"
	defaultListenAddr      = ":8080"
	defaultScreensDir      = "screens"
	defaultTimeout         = 30 * time.Second
	defaultMaxAttempts     = 3
	defaultRetryDelay      = 1000 * time.Millisecond
	defaultFallbackTimeout = 5000 * time.Millisecond
	defaultBulkConcurrency = 8
	defaultPageWorkers     = 4
	defaultMemoryCacheSize = 256
	defaultMemoryCacheTTL  = 60 * time.Second
)

// Config holds process configuration values.
type Config struct {
	BaseURL   string
	Token     string
	UserAgent string
	Timeout   time.Duration

	LogLevel string
	DevMode  bool

	// RedisURL enables the shared cache layer and rate-limit state. Empty
	// keeps both in memory.
	RedisURL string

	MemoryCacheSize int
	MemoryCacheTTL  time.Duration

	ListenAddr string
	ScreensDir string

	MaxAttempts     int
	RetryDelay      time.Duration
	FallbackTimeout time.Duration

	BulkConcurrency int
	PageWorkers     int
}

// Load reads configuration from environment variables. It does not require
// DASHSYNC_BASE_URL; commands that talk to the remote call Validate after
// applying their flags.
func Load() (Config, error) {
	cfg := Config{
		BaseURL:         strings.TrimSpace(envOrDefault("DASHSYNC_BASE_URL", "")),
		Token:           envOrDefault("DASHSYNC_TOKEN", ""),
		UserAgent:       envOrDefault("DASHSYNC_USER_AGENT", defaultUserAgent),
		Timeout:         envPositiveDuration("DASHSYNC_TIMEOUT", defaultTimeout),
		LogLevel:        strings.ToLower(envOrDefault("DASHSYNC_LOG_LEVEL", "info")),
		DevMode:         envBool("DASHSYNC_DEV_MODE", false),
		RedisURL:        envOrDefault("DASHSYNC_REDIS_URL", ""),
		MemoryCacheSize: envPositiveInt("DASHSYNC_MEMORY_CACHE_SIZE", defaultMemoryCacheSize),
		MemoryCacheTTL:  envPositiveDuration("DASHSYNC_MEMORY_CACHE_TTL", defaultMemoryCacheTTL),
		ListenAddr:      envOrDefault("DASHSYNC_LISTEN_ADDR", defaultListenAddr),
		ScreensDir:      envOrDefault("DASHSYNC_SCREENS_DIR", defaultScreensDir),
		MaxAttempts:     envPositiveInt("DASHSYNC_MAX_ATTEMPTS", defaultMaxAttempts),
		RetryDelay:      envPositiveDuration("DASHSYNC_RETRY_DELAY", defaultRetryDelay),
		FallbackTimeout: envPositiveDuration("DASHSYNC_FALLBACK_TIMEOUT", defaultFallbackTimeout),
		BulkConcurrency: envPositiveInt("DASHSYNC_BULK_CONCURRENCY", defaultBulkConcurrency),
		PageWorkers:     envPositiveInt("DASHSYNC_PAGE_WORKERS", defaultPageWorkers),
	}

	if !logging.ValidLevel(cfg.LogLevel) {
		return Config{}, fmt.Errorf("DASHSYNC_LOG_LEVEL %q must be debug, info, warn or error", cfg.LogLevel)
	}
	if cfg.BaseURL != "" {
		if err := checkBaseURL(cfg.BaseURL); err != nil {
			return Config{}, fmt.Errorf("DASHSYNC_BASE_URL: %w", err)
		}
	}

	return cfg, nil
}

// Validate checks the settings needed to talk to the remote.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("base url is required (DASHSYNC_BASE_URL or --base-url)")
	}
	return checkBaseURL(c.BaseURL)
}

func checkBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must be an http or https url", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		switch strings.ToLower(v) {
		case "yes", "on":
			return true
		case "no", "off":
			return false
		default:
			return defaultVal
		}
	}
	return b
}

func envPositiveInt(key string, defaultVal int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return defaultVal
	}
	return parsed
}

func envPositiveDuration(key string, defaultVal time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	parsed, err := time.ParseDuration(v)
	if err != nil || parsed <= 0 {
		return defaultVal
	}
	return parsed
}
