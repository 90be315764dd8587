package mrp

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ShortageCache keeps the shortage report in Redis between recomputations.
// The report is expensive to build, so readers get a slightly stale copy
// and the background warm task refreshes it.
type ShortageCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewShortageCache builds ShortageCache.
func NewShortageCache(client *redis.Client, ttl time.Duration) *ShortageCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ShortageCache{client: client, ttl: ttl}
}

// Get returns the cached report for the key, if any.
func (c *ShortageCache) Get(ctx context.Context, key string) (ShortageReport, bool, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ShortageReport{}, false, nil
		}
		return ShortageReport{}, false, err
	}
	var report ShortageReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return ShortageReport{}, false, err
	}
	return report, true, nil
}

// Set stores the report under the key with the cache TTL.
func (c *ShortageCache) Set(ctx context.Context, key string, report ShortageReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, c.ttl).Err()
}
