package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/condvault/internal/domain"
)

// FeeCache implements domain.FeeCache. Estimates are plain string values at
// "fee:{key}" that expire after the TTL given on write.
type FeeCache struct {
	c *Client
}

// NewFeeCache creates a FeeCache backed by c.
func NewFeeCache(c *Client) *FeeCache {
	return &FeeCache{c: c}
}

// GetFee returns the cached estimate for key. ok is false on a miss.
func (fc *FeeCache) GetFee(ctx context.Context, key string) (uint64, bool, error) {
	raw, err := fc.c.rdb.Get(ctx, fc.c.key("fee:", key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis: get fee %s: %w", key, err)
	}
	fee, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("redis: parse fee %s: %w", key, err)
	}
	return fee, true, nil
}

// SetFee stores an estimate for ttl.
func (fc *FeeCache) SetFee(ctx context.Context, key string, microLamports uint64, ttl time.Duration) error {
	val := strconv.FormatUint(microLamports, 10)
	if err := fc.c.rdb.Set(ctx, fc.c.key("fee:", key), val, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set fee %s: %w", key, err)
	}
	return nil
}

var _ domain.FeeCache = (*FeeCache)(nil)
