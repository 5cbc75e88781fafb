// Package cache keeps product detail documents close to the API. Redis is
// used when configured and reachable; otherwise entries live in process
// memory.
package cache

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/storefront/apiserver/config"
	"github.com/storefront/apiserver/internal/metrics"
	"github.com/storefront/apiserver/types"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DefaultTTL bounds how long a stale product may be served. A replica
// only skips re-caching reads that raced its own invalidations, so an
// update made through another replica can be hidden for up to this long.
const DefaultTTL = 5 * time.Minute

const keyPrefix = "storefront:product:"

// ProductCache is implemented by the Redis and in-memory drivers.
type ProductCache interface {
	Get(ctx context.Context, id primitive.ObjectID) (types.Product, bool)
	Set(ctx context.Context, product types.Product)
	Delete(ctx context.Context, id primitive.ObjectID)
	Driver() string
	Close() error
}

// New returns a Redis-backed cache when cfg.Addr is set and answers a ping,
// and an in-memory cache otherwise.
func New(ctx context.Context, cfg config.RedisConfig, ttl time.Duration, log *slog.Logger) ProductCache {
	if strings.TrimSpace(cfg.Addr) == "" {
		return NewMemory(ttl)
	}
	rc, err := NewRedis(ctx, cfg, ttl, log)
	if err != nil {
		log.Warn("redis unavailable, using in-memory product cache", "addr", cfg.Addr, "error", err)
		return NewMemory(ttl)
	}
	return rc
}

func productKey(id primitive.ObjectID) string {
	return keyPrefix + id.Hex()
}

func observe(driver string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	metrics.CacheLookups.WithLabelValues(driver, result).Inc()
}
