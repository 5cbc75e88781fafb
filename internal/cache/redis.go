package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/storefront/apiserver/config"
	"github.com/storefront/apiserver/types"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const redisPingTimeout = 2 * time.Second

// Redis stores products as JSON strings with a TTL. Redis failures are
// logged and treated as misses.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

// NewRedis connects and pings Redis.
func NewRedis(ctx context.Context, cfg config.RedisConfig, ttl time.Duration, log *slog.Logger) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: redisPingTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, ttl: ttl, log: log}, nil
}

func (r *Redis) Get(ctx context.Context, id primitive.ObjectID) (types.Product, bool) {
	val, err := r.rdb.Get(ctx, productKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warn("product cache read failed", "product_id", id.Hex(), "error", err)
		}
		observe(r.Driver(), false)
		return types.Product{}, false
	}

	var product types.Product
	if err := json.Unmarshal(val, &product); err != nil {
		r.log.Warn("product cache entry corrupt", "product_id", id.Hex(), "error", err)
		observe(r.Driver(), false)
		return types.Product{}, false
	}
	observe(r.Driver(), true)
	return product, true
}

func (r *Redis) Set(ctx context.Context, product types.Product) {
	data, err := json.Marshal(product)
	if err != nil {
		r.log.Warn("product cache encode failed", "product_id", product.ID.Hex(), "error", err)
		return
	}
	if err := r.rdb.Set(ctx, productKey(product.ID), data, r.ttl).Err(); err != nil {
		r.log.Warn("product cache write failed", "product_id", product.ID.Hex(), "error", err)
	}
}

func (r *Redis) Delete(ctx context.Context, id primitive.ObjectID) {
	if err := r.rdb.Del(ctx, productKey(id)).Err(); err != nil {
		r.log.Warn("product cache delete failed", "product_id", id.Hex(), "error", err)
	}
}

func (r *Redis) Driver() string { return "redis" }

func (r *Redis) Close() error {
	return r.rdb.Close()
}
