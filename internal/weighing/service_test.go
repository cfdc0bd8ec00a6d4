package weighing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaquecarne/pesajes/internal/weighing"
	"github.com/chaquecarne/pesajes/internal/weighing/weighingtest"
)

type recordedMetric struct {
	outcome string
	weight  string
}

type fakeMetrics struct {
	observed []recordedMetric
}

func (f *fakeMetrics) ObserveWeighIn(_ weighing.Profile, outcome string, weight decimal.Decimal) {
	f.observed = append(f.observed, recordedMetric{outcome: outcome, weight: weight.String()})
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func (c *clock) advance(d time.Duration) { c.now = c.now.Add(d) }

type fixture struct {
	store   *weighingtest.Memory
	svc     *weighing.Service
	metrics *fakeMetrics
	clock   *clock
	redis   *miniredis.Miniredis
}

func newFixture(t *testing.T, profile weighing.Profile) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := weighingtest.NewMemory(profile)
	_, err := weighing.Seed(context.Background(), store)
	require.NoError(t, err)

	f := &fixture{
		store:   store,
		metrics: &fakeMetrics{},
		clock:   &clock{now: time.Date(2024, 3, 15, 10, 30, 12, 500, time.UTC)},
		redis:   mr,
	}
	f.svc = weighing.NewService(store, weighing.NewStatsCache(client, time.Minute), f.metrics, nil, weighing.ServiceConfig{Now: f.clock.Now})
	return f
}

func kg(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRecordCopiesPriceAndResolvesNames(t *testing.T) {
	f := newFixture(t, weighing.ProfileServer)
	ctx := context.Background()

	w, err := f.svc.Record(ctx, weighing.RecordInput{ProductCode: "P002", SellerCode: "V001", WeightKg: kg("1.5"), Notes: " corte fino "})
	require.NoError(t, err)

	assert.Equal(t, int64(1), w.ID)
	assert.Equal(t, "Lomo fino", w.ProductName)
	assert.Equal(t, "Juan Pérez", w.SellerName)
	assert.Equal(t, "12.75", w.PricePerKg.Decimal.StringFixed(2))
	assert.Equal(t, "19.13", w.Total.Decimal.StringFixed(2))
	assert.Equal(t, "corte fino", w.Notes)
	assert.Equal(t, time.Date(2024, 3, 15, 10, 30, 12, 0, time.UTC), w.RecordedAt)
	assert.Equal(t, []recordedMetric{{outcome: weighing.OutcomeRecorded, weight: "1.5"}}, f.metrics.observed)
}

func TestRecordKeepsHistoricalPrice(t *testing.T) {
	f := newFixture(t, weighing.ProfileServer)
	ctx := context.Background()

	first, err := f.svc.Record(ctx, weighing.RecordInput{ProductCode: "P001", SellerCode: "V002", WeightKg: kg("2")})
	require.NoError(t, err)

	newPrice := kg("9.99")
	require.NoError(t, f.svc.UpdateProduct(ctx, "P001", weighing.ProductUpdate{PricePerKg: &newPrice}))

	again, err := f.svc.GetWeighIn(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "8.50", again.PricePerKg.Decimal.StringFixed(2))
	assert.Equal(t, "17.00", again.Total.Decimal.StringFixed(2))
}

func TestRecordEmbeddedProfileHasNoPrice(t *testing.T) {
	f := newFixture(t, weighing.ProfileEmbedded)

	w, err := f.svc.Record(context.Background(), weighing.RecordInput{ProductCode: "P003", SellerCode: "V003", WeightKg: kg("0.75"), Notes: "ignored"})
	require.NoError(t, err)
	assert.False(t, w.PricePerKg.Valid)
	assert.False(t, w.Total.Valid)
	assert.Empty(t, w.Notes)
}

func TestRecordValidation(t *testing.T) {
	f := newFixture(t, weighing.ProfileServer)
	ctx := context.Background()

	cases := []struct {
		name string
		in   weighing.RecordInput
		want error
	}{
		{"zero weight", weighing.RecordInput{ProductCode: "P001", SellerCode: "V001", WeightKg: decimal.Zero}, weighing.ErrInvalidWeight},
		{"negative weight", weighing.RecordInput{ProductCode: "P001", SellerCode: "V001", WeightKg: kg("-1")}, weighing.ErrInvalidWeight},
		{"hundred kilos", weighing.RecordInput{ProductCode: "P001", SellerCode: "V001", WeightKg: kg("100")}, weighing.ErrInvalidWeight},
		{"missing seller", weighing.RecordInput{ProductCode: "P001", WeightKg: kg("1")}, weighing.ErrValidation},
		{"missing product", weighing.RecordInput{SellerCode: "V001", WeightKg: kg("1")}, weighing.ErrValidation},
		{"unknown product", weighing.RecordInput{ProductCode: "P999", SellerCode: "V001", WeightKg: kg("1")}, weighing.ErrNotFound},
		{"unknown seller", weighing.RecordInput{ProductCode: "P001", SellerCode: "V999", WeightKg: kg("1")}, weighing.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Record(ctx, tc.in)
			require.ErrorIs(t, err, tc.want)
		})
	}
	assert.Zero(t, f.store.Calls["CreateWeighIn"])
	rows, err := f.svc.Recent(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
	for _, m := range f.metrics.observed {
		assert.Equal(t, weighing.OutcomeRejected, m.outcome)
	}
}

func TestRecordNotFoundNamesTheRecord(t *testing.T) {
	f := newFixture(t, weighing.ProfileServer)

	_, err := f.svc.Record(context.Background(), weighing.RecordInput{ProductCode: "P001", SellerCode: "V404", WeightKg: kg("1")})
	var nf *weighing.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, weighing.EntitySeller, nf.Entity)
	assert.Equal(t, "V404", nf.Code)
}

func TestRecordRejectsDeactivatedProduct(t *testing.T) {
	f := newFixture(t, weighing.ProfileServer)
	ctx := context.Background()

	require.NoError(t, f.svc.DeactivateProduct(ctx, "P004"))
	_, err := f.svc.Record(ctx, weighing.RecordInput{ProductCode: "P004", SellerCode: "V001", WeightKg: kg("1")})
	require.ErrorIs(t, err, weighing.ErrNotFound)

	all, err := f.svc.ListProducts(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 5)
	active, err := f.svc.ListProducts(ctx, false)
	require.NoError(t, err)
	assert.Len(t, active, 4)
}

func TestRecordStoreFailureIsCountedAsFailed(t *testing.T) {
	f := newFixture(t, weighing.ProfileServer)
	f.store.Err = errors.New("disk full")

	_, err := f.svc.Record(context.Background(), weighing.RecordInput{ProductCode: "P001", SellerCode: "V001", WeightKg: kg("1")})
	require.Error(t, err)
	require.Len(t, f.metrics.observed, 1)
	assert.Equal(t, weighing.OutcomeFailed, f.metrics.observed[0].outcome)
}

func TestRecentDefaultsAndOrdering(t *testing.T) {
	f := newFixture(t, weighing.ProfileServer)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		_, err := f.svc.Record(ctx, weighing.RecordInput{ProductCode: "P001", SellerCode: "V001", WeightKg: kg("1")})
		require.NoError(t, err)
		f.clock.advance(time.Minute)
	}
	rows, err := f.svc.Recent(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, rows, weighing.DefaultRecentLimit)
	assert.Equal(t, int64(12), rows[0].ID)
	for i := 1; i < len(rows); i++ {
		assert.False(t, rows[i].RecordedAt.After(rows[i-1].RecordedAt))
	}

	page, err := f.svc.Recent(ctx, 5, 10)
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestListLimitsAreCapped(t *testing.T) {
	f := newFixture(t, weighing.ProfileServer)
	ctx := context.Background()

	_, err := f.svc.Recent(ctx, weighing.DefaultExportLimit+1, 0)
	require.ErrorIs(t, err, weighing.ErrValidation)
	_, err = f.svc.BySeller(ctx, "V001", weighing.DefaultExportLimit+1)
	require.ErrorIs(t, err, weighing.ErrValidation)
	assert.Zero(t, f.store.Calls["ListWeighIns"])

	_, err = f.svc.Recent(ctx, weighing.DefaultExportLimit, 0)
	require.NoError(t, err)

	svc := weighing.NewService(f.store, nil, nil, nil, weighing.ServiceConfig{HistoryLimit: 500, ExportLimit: 50})
	assert.Equal(t, 50, svc.Limits().HistoryLimit)
}

func TestBetweenIsInclusiveAndValidated(t *testing.T) {
	f := newFixture(t, weighing.ProfileServer)
	ctx := context.Background()

	start := f.clock.now.Truncate(time.Second)
	for i := 0; i < 3; i++ {
		_, err := f.svc.Record(ctx, weighing.RecordInput{ProductCode: "P001", SellerCode: "V001", WeightKg: kg("1")})
		require.NoError(t, err)
		f.clock.advance(time.Hour)
	}

	rows, err := f.svc.Between(ctx, start, start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].RecordedAt.Before(rows[1].RecordedAt))

	_, err = f.svc.Between(ctx, start, start.Add(-time.Second))
	require.ErrorIs(t, err, weighing.ErrValidation)
}

func TestStatsAreCachedUntilNextWeighIn(t *testing.T) {
	f := newFixture(t, weighing.ProfileServer)
	ctx := context.Background()

	_, err := f.svc.Record(ctx, weighing.RecordInput{ProductCode: "P001", SellerCode: "V001", WeightKg: kg("2.5")})
	require.NoError(t, err)
	_, err = f.svc.Record(ctx, weighing.RecordInput{ProductCode: "P002", SellerCode: "V002", WeightKg: kg("4")})
	require.NoError(t, err)

	stats, err := f.svc.Stats(ctx, weighing.DateRange{})
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "V002", stats[0].SellerCode)
	assert.Equal(t, "51.00", stats[0].TotalAmount.Decimal.StringFixed(2))

	_, err = f.svc.Stats(ctx, weighing.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.Calls["AggregateBySeller"])

	_, err = f.svc.Record(ctx, weighing.RecordInput{ProductCode: "P001", SellerCode: "V001", WeightKg: kg("3")})
	require.NoError(t, err)
	stats, err = f.svc.Stats(ctx, weighing.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.Calls["AggregateBySeller"])
	assert.Equal(t, "V001", stats[0].SellerCode)
	assert.Equal(t, int64(2), stats[0].Count)
	assert.True(t, stats[0].TotalWeight.Equal(kg("5.5")))
	assert.True(t, stats[0].AvgWeight.Equal(kg("2.75")))
}

// aggregateHook runs before delegating AggregateBySeller to the memory store.
type aggregateHook struct {
	*weighingtest.Memory
	before func()
}

func (h aggregateHook) AggregateBySeller(ctx context.Context, rng weighing.DateRange) ([]weighing.SellerStats, error) {
	h.before()
	return h.Memory.AggregateBySeller(ctx, rng)
}

func TestStatsServedWhenCacheWriteFails(t *testing.T) {
	f := newFixture(t, weighing.ProfileServer)
	ctx := context.Background()
	_, err := f.svc.Record(ctx, weighing.RecordInput{ProductCode: "P001", SellerCode: "V001", WeightKg: kg("1")})
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: f.redis.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := aggregateHook{Memory: f.store, before: func() { f.redis.SetError("READONLY replica") }}
	svc := weighing.NewService(store, weighing.NewStatsCache(client, time.Minute), nil, nil, weighing.ServiceConfig{Now: f.clock.Now})

	stats, err := svc.Stats(ctx, weighing.DateRange{})
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "V001", stats[0].SellerCode)
}

func TestStatsFallBackWhenRedisIsDown(t *testing.T) {
	f := newFixture(t, weighing.ProfileServer)
	ctx := context.Background()
	_, err := f.svc.Record(ctx, weighing.RecordInput{ProductCode: "P001", SellerCode: "V001", WeightKg: kg("1")})
	require.NoError(t, err)

	f.redis.SetError("LOADING redis is loading the dataset in memory")
	stats, err := f.svc.Stats(ctx, weighing.DateRange{})
	require.NoError(t, err)
	assert.Len(t, stats, 1)
}

func TestExportRowsUsesRangeOrLimit(t *testing.T) {
	f := newFixture(t, weighing.ProfileServer)
	ctx := context.Background()
	svc := weighing.NewService(f.store, nil, nil, nil, weighing.ServiceConfig{Now: f.clock.Now, ExportLimit: 3})

	start := f.clock.now.Truncate(time.Second)
	for i := 0; i < 5; i++ {
		_, err := svc.Record(ctx, weighing.RecordInput{ProductCode: "P005", SellerCode: "V005", WeightKg: kg("0.5")})
		require.NoError(t, err)
		f.clock.advance(time.Minute)
	}

	rows, err := svc.ExportRows(ctx, weighing.DateRange{})
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	rows, err = svc.ExportRows(ctx, weighing.DateRange{From: start, To: start.Add(90 * time.Second)})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestCreateMasterDataValidation(t *testing.T) {
	f := newFixture(t, weighing.ProfileServer)
	ctx := context.Background()

	_, err := f.svc.CreateProduct(ctx, weighing.Product{Code: " ", Name: "Sin código"})
	require.ErrorIs(t, err, weighing.ErrValidation)

	_, err = f.svc.CreateProduct(ctx, weighing.Product{Code: "P001", Name: "Repetido"})
	require.ErrorIs(t, err, weighing.ErrDuplicate)

	p, err := f.svc.CreateProduct(ctx, weighing.Product{Code: "0234567", Name: "Vacío", PricePerKg: decimal.NewNullDecimal(kg("15"))})
	require.NoError(t, err)
	assert.True(t, p.Active)

	s, err := f.svc.CreateSeller(ctx, weighing.Seller{Code: "V006", FirstName: "Rosa", LastName: "Díaz"})
	require.NoError(t, err)
	assert.Equal(t, "Rosa Díaz", s.FullName())

	err = f.svc.UpdateSeller(ctx, "V999", weighing.SellerUpdate{Phone: &s.Code})
	require.ErrorIs(t, err, weighing.ErrNotFound)
}

func TestEmbeddedProfileCannotDeactivate(t *testing.T) {
	f := newFixture(t, weighing.ProfileEmbedded)

	err := f.svc.DeactivateSeller(context.Background(), "V001")
	require.ErrorIs(t, err, weighing.ErrUnsupported)
}
