package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

const keyPrefix = "rtoken:"

// Key schema:
//
//	rtoken:collateral            - JSON list of every collateral status
//	rtoken:collateral:{token}    - JSON status of one collateral token
//	rtoken:backing               - JSON backing summary
const (
	KeyCollateralAll = keyPrefix + "collateral"
	KeyBacking       = keyPrefix + "backing"
)

// KeyCollateral is the per-token collateral status key. Tokens are
// lower-cased so checksummed and plain hex hit the same entry.
func KeyCollateral(token string) string {
	return KeyCollateralAll + ":" + strings.ToLower(token)
}

// ViewCache stores query views as JSON strings.
type ViewCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewViewCache(c *Client, ttl time.Duration) *ViewCache {
	return &ViewCache{rdb: c.rdb, ttl: ttl}
}

// Get decodes the value at key into dst.
func (vc *ViewCache) Get(ctx context.Context, key string, dst any) error {
	data, err := vc.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrMiss
		}
		return fmt.Errorf("redis: get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("redis: unmarshal %s: %w", key, err)
	}
	return nil
}

// Set stores v at key with the cache TTL.
func (vc *ViewCache) Set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: marshal %s: %w", key, err)
	}
	if err := vc.rdb.Set(ctx, key, data, vc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// Invalidate deletes keys in one round trip.
func (vc *ViewCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	pipe := vc.rdb.TxPipeline()
	for _, k := range keys {
		pipe.Del(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate: %w", err)
	}
	return nil
}
