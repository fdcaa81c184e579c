package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Config holds cache manager configuration.
type Config struct {
	// MemorySize is the number of entries kept in the in-memory layer.
	MemorySize int

	// MemoryTTL bounds how long an entry may live in the in-memory layer.
	MemoryTTL time.Duration

	// RevalidateWindow is how long a stale entry is retained to back a
	// conditional request.
	RevalidateWindow time.Duration
}

// DefaultConfig returns a default cache configuration.
func DefaultConfig() Config {
	return Config{
		MemorySize:       256,
		MemoryTTL:        60 * time.Second,
		RevalidateWindow: 10 * time.Minute,
	}
}

// Manager handles caching operations. The in-memory layer is always present;
// Redis is optional and shared between processes.
type Manager struct {
	memory *expirable.LRU[string, *CacheEntry]
	redis  *redis.Client
	config Config
}

// NewManager creates a new cache manager. redisClient may be nil, in which
// case only the in-memory layer is used.
func NewManager(redisClient *redis.Client, cfg Config) *Manager {
	defaults := DefaultConfig()
	if cfg.MemorySize <= 0 {
		cfg.MemorySize = defaults.MemorySize
	}
	if cfg.MemoryTTL <= 0 {
		cfg.MemoryTTL = defaults.MemoryTTL
	}
	if cfg.RevalidateWindow < 0 {
		cfg.RevalidateWindow = 0
	}
	return &Manager{
		memory: expirable.NewLRU[string, *CacheEntry](cfg.MemorySize, nil, cfg.MemoryTTL),
		redis:  redisClient,
		config: cfg,
	}
}

// Get retrieves a cache entry by key. The entry may be stale (IsExpired);
// callers revalidate stale entries. Returns ErrCacheMiss once an entry is
// past its revalidation window.
func (m *Manager) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	cacheKey := key.String()

	if entry, ok := m.memory.Get(cacheKey); ok {
		if m.retained(entry) {
			CacheHits.WithLabelValues("memory").Inc()
			return entry, nil
		}
		m.memory.Remove(cacheKey)
	}

	if m.redis == nil {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	data, err := m.redis.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if !m.retained(&entry) {
		_ = m.Delete(ctx, key)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues("redis").Inc()
	m.memory.Add(cacheKey, &entry)

	return &entry, nil
}

// Set stores a cache entry in every layer. Entries whose retention
// (freshness plus revalidation window) is already over are not stored.
func (m *Manager) Set(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	retention := m.retention(entry)
	if retention <= 0 {
		return nil
	}

	cacheKey := key.String()
	m.memory.Add(cacheKey, entry)

	if m.redis == nil {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, cacheKey, data, retention).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes a cache entry from every layer.
func (m *Manager) Delete(ctx context.Context, key CacheKey) error {
	cacheKey := key.String()
	m.memory.Remove(cacheKey)

	if m.redis == nil {
		return nil
	}
	if err := m.redis.Del(ctx, cacheKey).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}

// UpdateTTL extends the freshness of an existing entry, typically after a
// 304 Not Modified response.
func (m *Manager) UpdateTTL(ctx context.Context, key CacheKey, newExpires time.Time) error {
	entry, err := m.Get(ctx, key)
	if err != nil {
		return err
	}

	updated := *entry
	updated.Expires = newExpires

	return m.Set(ctx, key, &updated)
}

func (m *Manager) retention(entry *CacheEntry) time.Duration {
	return time.Until(entry.Expires.Add(m.config.RevalidateWindow))
}

func (m *Manager) retained(entry *CacheEntry) bool {
	return m.retention(entry) > 0
}
