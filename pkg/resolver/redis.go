package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/transitflow/transitflow/pkg/config"
)

// RedisConfig configures the Redis station cache.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address string

	// Password for Redis authentication (optional)
	Password string

	// Database number to use (default: 0)
	Database int

	// Prefix is prepended to all cache keys
	Prefix string

	// TTL is the time-to-live for cached IDs (0 = no expiration)
	TTL time.Duration

	// Timeout for Redis operations
	Timeout time.Duration
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address: address,
		Prefix:  "transitflow:stations:",
		TTL:     7 * 24 * time.Hour,
		Timeout: 2 * time.Second,
	}
}

// RedisConfigFrom maps the cache section of the configuration.
func RedisConfigFrom(c config.CacheConfig) RedisConfig {
	cfg := DefaultRedisConfig(c.RedisAddress)
	cfg.Password = c.RedisPassword
	cfg.Database = c.RedisDB
	if c.TTL > 0 {
		cfg.TTL = c.TTL
	}
	return cfg
}

// RedisCache stores resolved station IDs in Redis.
type RedisCache struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{cfg: cfg, client: client}, nil
}

// key returns the Redis key for a station name.
func (c *RedisCache) key(name string) string {
	return c.cfg.Prefix + sanitizeKey(name)
}

// sanitizeKey folds case and replaces characters that make keys awkward to
// inspect with redis-cli.
func sanitizeKey(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return strings.NewReplacer("/", "_", ":", "_", " ", "_").Replace(s)
}

// Get returns the cached ID for name.
func (c *RedisCache) Get(ctx context.Context, name string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	id, err := c.client.Get(ctx, c.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read station cache: %w", err)
	}
	return id, true, nil
}

// Set stores the ID for name with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, name, id string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.client.Set(ctx, c.key(name), id, c.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("failed to write station cache: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
