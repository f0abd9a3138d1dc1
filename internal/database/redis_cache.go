// Redis-backed cache for the hot status read path. The cache is
// optional; a nil client degrades every operation to a miss.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// latestVerdictKey caches the newest sentiment verdict
	latestVerdictKey = "analytics:verdict:latest"

	// latestSnapshotKey caches the newest market snapshot
	latestSnapshotKey = "analytics:snapshot:latest"

	// statusCacheTTL bounds staleness between scans
	statusCacheTTL = 5 * time.Minute
)

// StatusCache caches the latest verdict and snapshot in Redis
type StatusCache struct {
	client *redis.Client
}

// NewStatusCache creates a status cache. Passing nil options disables
// caching entirely.
func NewStatusCache(addr, password string, db, poolSize int) *StatusCache {
	if addr == "" {
		return &StatusCache{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("[STATUS-CACHE] Redis unavailable, caching disabled: %v", err)
		return &StatusCache{}
	}

	log.Printf("[STATUS-CACHE] Connected to Redis at %s", addr)
	return &StatusCache{client: client}
}

// Enabled reports whether the cache has a live Redis connection
func (c *StatusCache) Enabled() bool {
	return c != nil && c.client != nil
}

// SetLatestVerdict stores the newest verdict
func (c *StatusCache) SetLatestVerdict(ctx context.Context, v *SentimentVerdict) error {
	if !c.Enabled() {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}
	return c.client.Set(ctx, latestVerdictKey, data, statusCacheTTL).Err()
}

// GetLatestVerdict returns the cached verdict, or nil on a miss
func (c *StatusCache) GetLatestVerdict(ctx context.Context) (*SentimentVerdict, error) {
	if !c.Enabled() {
		return nil, nil
	}
	data, err := c.client.Get(ctx, latestVerdictKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached verdict: %w", err)
	}
	var v SentimentVerdict
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, nil // Treat corrupt cache entries as a miss
	}
	return &v, nil
}

// SetLatestSnapshot stores the newest market snapshot
func (c *StatusCache) SetLatestSnapshot(ctx context.Context, s *MarketSnapshot) error {
	if !c.Enabled() {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return c.client.Set(ctx, latestSnapshotKey, data, statusCacheTTL).Err()
}

// GetLatestSnapshot returns the cached snapshot, or nil on a miss
func (c *StatusCache) GetLatestSnapshot(ctx context.Context) (*MarketSnapshot, error) {
	if !c.Enabled() {
		return nil, nil
	}
	data, err := c.client.Get(ctx, latestSnapshotKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached snapshot: %w", err)
	}
	var s MarketSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, nil
	}
	return &s, nil
}

// Close releases the Redis connection
func (c *StatusCache) Close() {
	if c.Enabled() {
		c.client.Close()
	}
}
