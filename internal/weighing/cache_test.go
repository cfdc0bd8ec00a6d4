package weighing

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*StatsCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStatsCache(client, time.Minute), mr
}

func TestStatsCacheKeyCarriesVersion(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	rng := DateRange{
		From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC),
	}
	key, err := cache.Key(ctx, rng)
	require.NoError(t, err)
	assert.Equal(t, "pesajes:stats:20240101T000000:20240131T235959:1", key)

	require.NoError(t, cache.Bump(ctx))
	key, err = cache.Key(ctx, DateRange{})
	require.NoError(t, err)
	assert.Equal(t, "pesajes:stats:*:*:2", key)

	ver, err := mr.Get(statsVersionKey)
	require.NoError(t, err)
	assert.Equal(t, "2", ver)
}

func TestStatsCacheFetchRoundTripsDecimals(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	calls := 0
	loader := func(context.Context) ([]SellerStats, error) {
		calls++
		return []SellerStats{{
			SellerCode:  "V001",
			SellerName:  "Juan Pérez",
			Count:       3,
			TotalWeight: decimal.RequireFromString("7.0341"),
			AvgWeight:   decimal.RequireFromString("2.3447"),
		}}, nil
	}

	first, err := cache.Fetch(ctx, "k", loader)
	require.NoError(t, err)
	second, err := cache.Fetch(ctx, "k", loader)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	require.Len(t, second, 1)
	assert.True(t, second[0].TotalWeight.Equal(first[0].TotalWeight))
	assert.False(t, second[0].TotalAmount.Valid)
	assert.True(t, mr.Exists("k"))
	assert.Equal(t, time.Minute, mr.TTL("k"))
}

func TestNilStatsCacheAlwaysLoads(t *testing.T) {
	var cache *StatsCache
	ctx := context.Background()

	key, err := cache.Key(ctx, DateRange{})
	require.NoError(t, err)
	assert.Equal(t, "pesajes:stats:*:*", key)
	require.NoError(t, cache.Bump(ctx))

	calls := 0
	for i := 0; i < 2; i++ {
		_, err := cache.Fetch(ctx, key, func(context.Context) ([]SellerStats, error) {
			calls++
			return nil, nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls)
}

func TestStatsCacheFetchKeepsStatsWhenWriteFails(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	stats, err := cache.Fetch(ctx, "k", func(context.Context) ([]SellerStats, error) {
		mr.SetError("READONLY You can't write against a read only replica.")
		return []SellerStats{{SellerCode: "V001", Count: 1, TotalWeight: decimal.RequireFromString("1.5")}}, nil
	})
	require.ErrorIs(t, err, ErrStatsNotCached)
	require.Len(t, stats, 1)
	assert.Equal(t, "V001", stats[0].SellerCode)

	mr.SetError("")
	assert.False(t, mr.Exists("k"))
}
