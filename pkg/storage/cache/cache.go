// Package cache wraps go-redis for the two tenant-scoped caches the
// platform shares: IOC lookups and false-positive pattern reuse. Redis is
// a cache, never the source of truth, so every operation is fail-open:
// a connection error is logged and treated as a miss, never returned to
// the caller as an error.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// TTL tiers for IOC entries, keyed by confidence (0-100 scale, matching
// the ingestion pipeline's IOC confidence field).
const (
	ttlHighConfidence   = 30 * 24 * time.Hour
	ttlMediumConfidence = 7 * 24 * time.Hour
	ttlLowConfidence    = 24 * time.Hour

	defaultFPPatternTTL = 24 * time.Hour
)

func iocTTL(confidence float64) time.Duration {
	switch {
	case confidence > 80:
		return ttlHighConfidence
	case confidence >= 50:
		return ttlMediumConfidence
	default:
		return ttlLowConfidence
	}
}

// Client wraps a *redis.Client with the platform's cache key conventions
// and fail-open error handling.
type Client struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// New constructs a Client over an already-connected *redis.Client.
func New(rdb *redis.Client, logger *zap.Logger) *Client {
	return &Client{rdb: rdb, logger: logger}
}

func iocKey(tenantID, iocType, value string) string {
	return fmt.Sprintf("ioc:%s:%s:%s", tenantID, iocType, value)
}

func fpKey(tenantID, patternID string) string {
	return fmt.Sprintf("fp:%s:%s", tenantID, patternID)
}

// SetIOC caches an IOC's enrichment data, tenant-scoped, with a
// confidence-tiered TTL. Failures are logged and swallowed.
func (c *Client) SetIOC(ctx context.Context, tenantID, iocType, value string, data map[string]interface{}, confidence float64) {
	raw, err := json.Marshal(data)
	if err != nil {
		c.logger.Warn("ioc cache marshal failed", zap.Error(err))
		return
	}
	key := iocKey(tenantID, iocType, value)
	if err := c.rdb.Set(ctx, key, raw, iocTTL(confidence)).Err(); err != nil {
		c.logger.Warn("ioc cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// GetIOC returns the cached enrichment data for an IOC, or ok=false on a
// miss or any Redis error.
func (c *Client) GetIOC(ctx context.Context, tenantID, iocType, value string) (data map[string]interface{}, ok bool) {
	key := iocKey(tenantID, iocType, value)
	raw, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("ioc cache get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		c.logger.Warn("ioc cache unmarshal failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return data, true
}

// DeleteIOC removes a cached IOC, reporting whether a key was deleted.
func (c *Client) DeleteIOC(ctx context.Context, tenantID, iocType, value string) bool {
	key := iocKey(tenantID, iocType, value)
	n, err := c.rdb.Del(ctx, key).Result()
	if err != nil {
		c.logger.Warn("ioc cache delete failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return n > 0
}

// SetFPPattern caches a false-positive pattern for reuse by the FP
// evaluation framework's stratified sampling.
func (c *Client) SetFPPattern(ctx context.Context, tenantID, patternID string, data map[string]interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		c.logger.Warn("fp pattern cache marshal failed", zap.Error(err))
		return
	}
	key := fpKey(tenantID, patternID)
	if err := c.rdb.Set(ctx, key, raw, defaultFPPatternTTL).Err(); err != nil {
		c.logger.Warn("fp pattern cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// GetFPPattern returns a cached false-positive pattern, or ok=false on a
// miss or error.
func (c *Client) GetFPPattern(ctx context.Context, tenantID, patternID string) (data map[string]interface{}, ok bool) {
	key := fpKey(tenantID, patternID)
	raw, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("fp pattern cache get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		c.logger.Warn("fp pattern cache unmarshal failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return data, true
}

// ListFPPatterns scans for every cached pattern key belonging to tenantID.
func (c *Client) ListFPPatterns(ctx context.Context, tenantID string) []string {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, fmt.Sprintf("fp:%s:*", tenantID), 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("fp pattern list failed", zap.String("tenant_id", tenantID), zap.Error(err))
		return nil
	}
	return keys
}

// HealthCheck pings Redis and reports whether it answered.
func (c *Client) HealthCheck(ctx context.Context) bool {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		c.logger.Warn("redis health check failed", zap.Error(err))
		return false
	}
	return true
}
