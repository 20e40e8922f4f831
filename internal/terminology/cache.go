package terminology

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/emr-interpretation-server/internal/domain"
)

// CacheClient wraps Redis with caching for value set membership answers.
type CacheClient struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// NewCacheClient creates a new cache client.
func NewCacheClient(config domain.CacheConfig) (*CacheClient, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = config.PoolSize
	opts.PoolTimeout = config.PoolTimeout
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &CacheClient{
		redis:      client,
		defaultTTL: config.DefaultTTL,
	}, nil
}

// CachedMembership represents a cached membership answer with metadata.
type CachedMembership struct {
	Member    bool      `json:"member"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// GetMembership retrieves a cached membership answer.
func (c *CacheClient) GetMembership(ctx context.Context, slug string, coding domain.Coding) (bool, bool, error) {
	key := membershipKey(slug, coding)

	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, false, nil // Cache miss
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to get membership cache: %w", err)
	}

	var cached CachedMembership
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		// Remove corrupted cache entry
		c.redis.Del(ctx, key)
		return false, false, nil
	}

	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, key)
		return false, false, nil
	}

	return cached.Member, true, nil
}

// SetMembership caches a membership answer.
func (c *CacheClient) SetMembership(ctx context.Context, slug string, coding domain.Coding, member bool, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	cached := CachedMembership{
		Member:    member,
		CachedAt:  time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}

	jsonData, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal membership cache: %w", err)
	}

	return c.redis.Set(ctx, membershipKey(slug, coding), jsonData, ttl).Err()
}

// InvalidateValueSet removes all cached answers for a value set, used when
// a value set definition changes.
func (c *CacheClient) InvalidateValueSet(ctx context.Context, slug string) error {
	pattern := fmt.Sprintf("valueset:%s:*", slug)
	keys, err := c.redis.Keys(ctx, pattern).Result()
	if err != nil {
		return fmt.Errorf("failed to get keys for pattern %s: %w", pattern, err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...).Err()
}

// Ping checks if the Redis connection is alive.
func (c *CacheClient) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *CacheClient) Close() error {
	return c.redis.Close()
}

// membershipKey creates a standardized cache key for a coding in a value
// set.
func membershipKey(slug string, coding domain.Coding) string {
	data := fmt.Sprintf("%s|%s", coding.System, coding.Code)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("valueset:%s:%x", slug, hash[:8])
}
