package weighing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const statsVersionKey = "pesajes:stats:version"

// ErrStatsNotCached accompanies freshly loaded stats that could not be
// written back to Redis. The stats are still valid.
var ErrStatsNotCached = errors.New("weighing: stats not cached")

// StatsCache keeps seller aggregates in Redis under a version that is bumped
// on every new weigh-in. A nil StatsCache or nil client always loads.
type StatsCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStatsCache instantiates the cache helper.
func NewStatsCache(client *redis.Client, ttl time.Duration) *StatsCache {
	return &StatsCache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *StatsCache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, statsVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		// SetNX keeps a concurrent Bump from being overwritten.
		if err := c.client.SetNX(ctx, statsVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, statsVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Key composes the versioned cache key for a stats range.
func (c *StatsCache) Key(ctx context.Context, rng DateRange) (string, error) {
	base := strings.Join([]string{"pesajes", "stats", rangeToken(rng.From), rangeToken(rng.To)}, ":")
	if c == nil || c.client == nil {
		return base, nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", base, ver), nil
}

// Fetch loads cached stats or populates them with loader. When only the
// write-back fails the loaded stats are returned with ErrStatsNotCached.
func (c *StatsCache) Fetch(ctx context.Context, key string, loader func(context.Context) ([]SellerStats, error)) ([]SellerStats, error) {
	if loader == nil {
		return nil, errors.New("weighing: stats loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var stats []SellerStats
		if err := json.Unmarshal(payload, &stats); err != nil {
			return nil, fmt.Errorf("weighing: decode cached stats: %w", err)
		}
		return stats, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, err
	}
	stats, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(stats)
	if err != nil {
		return nil, err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return stats, fmt.Errorf("%w: %w", ErrStatsNotCached, err)
	}
	return stats, nil
}

// Bump invalidates every cached range by incrementing the version.
func (c *StatsCache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, statsVersionKey).Err()
}

func rangeToken(t time.Time) string {
	if t.IsZero() {
		return "*"
	}
	return t.UTC().Format("20060102T150405")
}
