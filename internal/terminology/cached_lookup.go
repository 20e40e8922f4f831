package terminology

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/emr-interpretation-server/internal/domain"
	"github.com/emr-interpretation-server/internal/evaluator"
)

// CachedLookup layers a memory LRU (tier 1) and Redis (tier 2) in front of
// the origin terminology lookup. Membership answers are immutable for the
// lifetime of a value set definition, so a moderate TTL keeps the hot path
// off the network for repeated interpretations.
type CachedLookup struct {
	origin evaluator.ValueSetLookup

	memoryCache *lru.Cache
	redisCache  *CacheClient // optional

	memoryTTL time.Duration
	redisTTL  time.Duration

	log     *logrus.Logger
	stats   LookupStats
	statsMu sync.RWMutex
}

// LookupStats represents cache performance counters.
type LookupStats struct {
	MemoryHits    int64 `json:"memory_hits"`
	RedisHits     int64 `json:"redis_hits"`
	OriginCalls   int64 `json:"origin_calls"`
	TotalRequests int64 `json:"total_requests"`
	ErrorCount    int64 `json:"error_count"`
}

// memoryEntry is one LRU entry with its expiry.
type memoryEntry struct {
	member    bool
	expiresAt time.Time
}

// CachedLookupConfig represents configuration for the cached lookup.
type CachedLookupConfig struct {
	MemorySize int           `json:"memory_size"`
	MemoryTTL  time.Duration `json:"memory_ttl"`
	RedisTTL   time.Duration `json:"redis_ttl"`
}

// NewCachedLookup creates a two-tier cached lookup. redisCache may be nil,
// in which case only the memory tier is used.
func NewCachedLookup(origin evaluator.ValueSetLookup, redisCache *CacheClient, config CachedLookupConfig, logger *logrus.Logger) (*CachedLookup, error) {
	if config.MemorySize == 0 {
		config.MemorySize = 2048
	}
	if config.MemoryTTL == 0 {
		config.MemoryTTL = 5 * time.Minute
	}
	if config.RedisTTL == 0 {
		config.RedisTTL = 24 * time.Hour
	}

	memoryCache, err := lru.New(config.MemorySize)
	if err != nil {
		return nil, err
	}

	return &CachedLookup{
		origin:      origin,
		memoryCache: memoryCache,
		redisCache:  redisCache,
		memoryTTL:   config.MemoryTTL,
		redisTTL:    config.RedisTTL,
		log:         logger,
	}, nil
}

// Lookup answers whether the coding belongs to the named value set,
// consulting memory, then Redis, then the origin service.
func (c *CachedLookup) Lookup(ctx context.Context, slug string, coding domain.Coding) (bool, error) {
	c.countRequest()
	key := membershipKey(slug, coding)

	if cached, ok := c.memoryCache.Get(key); ok {
		entry := cached.(memoryEntry)
		if time.Now().Before(entry.expiresAt) {
			c.countMemoryHit()
			return entry.member, nil
		}
		c.memoryCache.Remove(key)
	}

	if c.redisCache != nil {
		member, found, err := c.redisCache.GetMembership(ctx, slug, coding)
		if err != nil {
			// Redis trouble degrades to the origin, it does not fail the lookup.
			c.log.WithError(err).WithField("valueset", slug).Warn("Redis membership lookup failed")
		} else if found {
			c.countRedisHit()
			c.storeMemory(key, member)
			return member, nil
		}
	}

	member, err := c.origin.Lookup(ctx, slug, coding)
	if err != nil {
		c.countError()
		return false, err
	}
	c.countOriginCall()

	c.storeMemory(key, member)
	if c.redisCache != nil {
		if err := c.redisCache.SetMembership(ctx, slug, coding, member, c.redisTTL); err != nil {
			c.log.WithError(err).WithField("valueset", slug).Warn("Failed to cache membership in Redis")
		}
	}
	return member, nil
}

// Stats returns a snapshot of the cache counters.
func (c *CachedLookup) Stats() LookupStats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return c.stats
}

func (c *CachedLookup) storeMemory(key string, member bool) {
	c.memoryCache.Add(key, memoryEntry{member: member, expiresAt: time.Now().Add(c.memoryTTL)})
}

func (c *CachedLookup) countRequest() {
	c.statsMu.Lock()
	c.stats.TotalRequests++
	c.statsMu.Unlock()
}

func (c *CachedLookup) countMemoryHit() {
	c.statsMu.Lock()
	c.stats.MemoryHits++
	c.statsMu.Unlock()
}

func (c *CachedLookup) countRedisHit() {
	c.statsMu.Lock()
	c.stats.RedisHits++
	c.statsMu.Unlock()
}

func (c *CachedLookup) countOriginCall() {
	c.statsMu.Lock()
	c.stats.OriginCalls++
	c.statsMu.Unlock()
}

func (c *CachedLookup) countError() {
	c.statsMu.Lock()
	c.stats.ErrorCount++
	c.statsMu.Unlock()
}
