package weighing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// Default limits carried over from the counter application.
const (
	DefaultRecentLimit  = 10
	DefaultHistoryLimit = 100
	DefaultExportLimit  = 1000
)

// Entity names used in NotFoundError.
const (
	EntityProduct = "product"
	EntitySeller  = "seller"
	EntityWeighIn = "weigh-in"
)

// NotFoundError names the record that could not be resolved.
type NotFoundError struct {
	Entity string
	Code   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("weighing: %s %q not found", e.Entity, e.Code)
}

// Unwrap lets errors.Is match ErrNotFound.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// MetricsPort records weigh-in outcomes.
type MetricsPort interface {
	ObserveWeighIn(profile Profile, outcome string, weight decimal.Decimal)
}

// Weigh-in outcomes reported to MetricsPort.
const (
	OutcomeRecorded = "recorded"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

type nopMetrics struct{}

func (nopMetrics) ObserveWeighIn(Profile, string, decimal.Decimal) {}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	RecentLimit  int
	HistoryLimit int
	ExportLimit  int
	// Now overrides the clock used for RecordedAt.
	Now func() time.Time
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.RecentLimit <= 0 {
		c.RecentLimit = DefaultRecentLimit
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.ExportLimit <= 0 {
		c.ExportLimit = DefaultExportLimit
	}
	// The export limit is also the largest page a caller may ask for.
	c.RecentLimit = min(c.RecentLimit, c.ExportLimit)
	c.HistoryLimit = min(c.HistoryLimit, c.ExportLimit)
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Service applies the register rules on top of a Store.
type Service struct {
	store   Store
	cache   *StatsCache
	metrics MetricsPort
	logger  *slog.Logger
	cfg     ServiceConfig
	group   singleflight.Group
}

// NewService builds Service. cache, metrics and logger may be nil.
func NewService(store Store, cache *StatsCache, metrics MetricsPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, cache: cache, metrics: metrics, logger: logger, cfg: cfg.withDefaults()}
}

// Profile reports the profile of the underlying store.
func (s *Service) Profile() Profile { return s.store.Profile() }

// Limits returns the effective default limits.
func (s *Service) Limits() ServiceConfig { return s.cfg }

// Ping checks the store connection.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

// FindProduct returns the active product with the given code.
func (s *Service) FindProduct(ctx context.Context, code string) (Product, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Product{}, fmt.Errorf("%w: product code required", ErrValidation)
	}
	p, err := s.store.FindProduct(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return Product{}, &NotFoundError{Entity: EntityProduct, Code: code}
	}
	return p, err
}

// FindSeller returns the active seller with the given code.
func (s *Service) FindSeller(ctx context.Context, code string) (Seller, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Seller{}, fmt.Errorf("%w: seller code required", ErrValidation)
	}
	seller, err := s.store.FindSeller(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return Seller{}, &NotFoundError{Entity: EntitySeller, Code: code}
	}
	return seller, err
}

// RecordInput is the operator entry for a new weigh-in.
type RecordInput struct {
	ProductCode string
	SellerCode  string
	WeightKg    decimal.Decimal
	Notes       string
}

// Record validates and persists a weigh-in, copying the current product
// price into the row, and returns the stored row with names resolved.
func (s *Service) Record(ctx context.Context, in RecordInput) (WeighIn, error) {
	w, err := s.record(ctx, in)
	switch {
	case err == nil:
		s.metrics.ObserveWeighIn(s.Profile(), OutcomeRecorded, in.WeightKg)
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidWeight),
		errors.Is(err, ErrNotFound), errors.Is(err, ErrReferentialIntegrity):
		s.metrics.ObserveWeighIn(s.Profile(), OutcomeRejected, in.WeightKg)
	default:
		s.metrics.ObserveWeighIn(s.Profile(), OutcomeFailed, in.WeightKg)
	}
	return w, err
}

func (s *Service) record(ctx context.Context, in RecordInput) (WeighIn, error) {
	if strings.TrimSpace(in.ProductCode) == "" {
		return WeighIn{}, fmt.Errorf("%w: product code required", ErrValidation)
	}
	if strings.TrimSpace(in.SellerCode) == "" {
		return WeighIn{}, fmt.Errorf("%w: seller code required", ErrValidation)
	}
	if !ValidWeight(in.WeightKg) {
		return WeighIn{}, ErrInvalidWeight
	}
	product, err := s.FindProduct(ctx, in.ProductCode)
	if err != nil {
		return WeighIn{}, err
	}
	seller, err := s.FindSeller(ctx, in.SellerCode)
	if err != nil {
		return WeighIn{}, err
	}

	row := NewWeighIn{
		ProductCode: product.Code,
		WeightKg:    in.WeightKg.Round(weightScale),
		SellerCode:  seller.Code,
		RecordedAt:  s.cfg.Now().Truncate(time.Second),
	}
	if s.Profile() == ProfileServer {
		row.PricePerKg = product.PricePerKg
		row.Notes = strings.TrimSpace(in.Notes)
	}
	id, err := s.store.CreateWeighIn(ctx, row)
	if err != nil {
		if errors.Is(err, ErrReferentialIntegrity) {
			return WeighIn{}, err
		}
		return WeighIn{}, fmt.Errorf("weighing: create weigh-in: %w", err)
	}
	s.invalidateStats(ctx)
	s.logger.InfoContext(ctx, "weigh-in recorded",
		slog.Int64("id", id),
		slog.String("product", row.ProductCode),
		slog.String("seller", row.SellerCode),
		slog.String("weight_kg", row.WeightKg.StringFixed(weightScale)))

	created, err := s.store.GetWeighIn(ctx, id)
	if err != nil {
		return WeighIn{}, fmt.Errorf("weighing: reload weigh-in %d: %w", id, err)
	}
	return created, nil
}

// GetWeighIn returns a single weigh-in.
func (s *Service) GetWeighIn(ctx context.Context, id int64) (WeighIn, error) {
	w, err := s.store.GetWeighIn(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return WeighIn{}, &NotFoundError{Entity: EntityWeighIn, Code: fmt.Sprint(id)}
	}
	return w, err
}

// Recent lists the newest weigh-ins. A non-positive limit uses the default.
func (s *Service) Recent(ctx context.Context, limit, offset int) ([]WeighIn, error) {
	if err := s.checkLimit(limit); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.cfg.RecentLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListWeighIns(ctx, limit, offset)
}

// checkLimit bounds caller supplied page sizes by the export limit.
func (s *Service) checkLimit(limit int) error {
	if limit > s.cfg.ExportLimit {
		return fmt.Errorf("%w: limit must not exceed %d", ErrValidation, s.cfg.ExportLimit)
	}
	return nil
}

// Between lists weigh-ins recorded within [from, to].
func (s *Service) Between(ctx context.Context, from, to time.Time) ([]WeighIn, error) {
	if from.IsZero() || to.IsZero() {
		return nil, fmt.Errorf("%w: both dates required", ErrValidation)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: end date before start date", ErrValidation)
	}
	return s.store.ListWeighInsBetween(ctx, from, to)
}

// BySeller lists the weigh-ins of one seller. A non-positive limit uses the
// default.
func (s *Service) BySeller(ctx context.Context, sellerCode string, limit int) ([]WeighIn, error) {
	sellerCode = strings.TrimSpace(sellerCode)
	if sellerCode == "" {
		return nil, fmt.Errorf("%w: seller code required", ErrValidation)
	}
	if err := s.checkLimit(limit); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.cfg.HistoryLimit
	}
	return s.store.ListWeighInsBySeller(ctx, sellerCode, limit)
}

// Stats aggregates weigh-ins per seller. Concurrent requests for the same
// range share one load, and results are cached until the next weigh-in.
func (s *Service) Stats(ctx context.Context, rng DateRange) ([]SellerStats, error) {
	if rng.Bounded() && rng.To.Before(rng.From) {
		return nil, fmt.Errorf("%w: end date before start date", ErrValidation)
	}
	key, err := s.cache.Key(ctx, rng)
	if err != nil {
		s.logger.WarnContext(ctx, "stats cache unavailable", slog.Any("error", err))
		return s.store.AggregateBySeller(ctx, rng)
	}
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		stats, err := s.cache.Fetch(ctx, key, func(ctx context.Context) ([]SellerStats, error) {
			return s.store.AggregateBySeller(ctx, rng)
		})
		if errors.Is(err, ErrStatsNotCached) {
			s.logger.WarnContext(ctx, "stats cache write failed", slog.Any("error", err))
			err = nil
		}
		return stats, err
	})
	if err != nil {
		return nil, err
	}
	return v.([]SellerStats), nil
}

// ExportRows selects the rows for a CSV export: the range when both bounds
// are set, otherwise the most recent rows up to the export limit.
func (s *Service) ExportRows(ctx context.Context, rng DateRange) ([]WeighIn, error) {
	if rng.Bounded() {
		return s.Between(ctx, rng.From, rng.To)
	}
	return s.store.ListWeighIns(ctx, s.cfg.ExportLimit, 0)
}

// ListProducts lists products, active ones only unless includeInactive.
func (s *Service) ListProducts(ctx context.Context, includeInactive bool) ([]Product, error) {
	return s.store.ListProducts(ctx, includeInactive)
}

// CreateProduct adds an active product.
func (s *Service) CreateProduct(ctx context.Context, p Product) (Product, error) {
	p.Code = strings.TrimSpace(p.Code)
	p.Name = strings.TrimSpace(p.Name)
	if p.Code == "" || p.Name == "" {
		return Product{}, fmt.Errorf("%w: product code and name required", ErrValidation)
	}
	if p.PricePerKg.Valid && p.PricePerKg.Decimal.IsNegative() {
		return Product{}, fmt.Errorf("%w: price per kg must not be negative", ErrValidation)
	}
	p.Active = true
	if err := s.store.CreateProduct(ctx, p); err != nil {
		return Product{}, err
	}
	return s.store.FindProduct(ctx, p.Code)
}

// UpdateProduct changes the given fields of a product.
func (s *Service) UpdateProduct(ctx context.Context, code string, upd ProductUpdate) error {
	if upd.PricePerKg != nil && upd.PricePerKg.IsNegative() {
		return fmt.Errorf("%w: price per kg must not be negative", ErrValidation)
	}
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return fmt.Errorf("%w: product name required", ErrValidation)
	}
	err := s.store.UpdateProduct(ctx, code, upd)
	if errors.Is(err, ErrNotFound) {
		return &NotFoundError{Entity: EntityProduct, Code: code}
	}
	return err
}

// DeactivateProduct soft deletes a product. Past weigh-ins keep their rows.
func (s *Service) DeactivateProduct(ctx context.Context, code string) error {
	err := s.store.DeactivateProduct(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return &NotFoundError{Entity: EntityProduct, Code: code}
	}
	return err
}

// ListSellers lists sellers, active ones only unless includeInactive.
func (s *Service) ListSellers(ctx context.Context, includeInactive bool) ([]Seller, error) {
	return s.store.ListSellers(ctx, includeInactive)
}

// CreateSeller adds an active seller.
func (s *Service) CreateSeller(ctx context.Context, seller Seller) (Seller, error) {
	seller.Code = strings.TrimSpace(seller.Code)
	seller.FirstName = strings.TrimSpace(seller.FirstName)
	seller.LastName = strings.TrimSpace(seller.LastName)
	if seller.Code == "" || seller.FirstName == "" {
		return Seller{}, fmt.Errorf("%w: seller code and first name required", ErrValidation)
	}
	seller.Active = true
	if err := s.store.CreateSeller(ctx, seller); err != nil {
		return Seller{}, err
	}
	return s.store.FindSeller(ctx, seller.Code)
}

// UpdateSeller changes the given fields of a seller. Cached stats carry the
// seller name, so they are invalidated.
func (s *Service) UpdateSeller(ctx context.Context, code string, upd SellerUpdate) error {
	if upd.FirstName != nil && strings.TrimSpace(*upd.FirstName) == "" {
		return fmt.Errorf("%w: seller first name required", ErrValidation)
	}
	err := s.store.UpdateSeller(ctx, code, upd)
	if errors.Is(err, ErrNotFound) {
		return &NotFoundError{Entity: EntitySeller, Code: code}
	}
	if err == nil {
		s.invalidateStats(ctx)
	}
	return err
}

// DeactivateSeller soft deletes a seller.
func (s *Service) DeactivateSeller(ctx context.Context, code string) error {
	err := s.store.DeactivateSeller(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return &NotFoundError{Entity: EntitySeller, Code: code}
	}
	return err
}

func (s *Service) invalidateStats(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.WarnContext(ctx, "stats cache bump failed", slog.Any("error", err))
	}
}
