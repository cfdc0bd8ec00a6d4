package weighing

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Profile names a Record Store deployment. The profiles do not share a
// schema: they differ in nullable fields and in list ordering.
type Profile string

const (
	// ProfileServer is the PostgreSQL/MySQL deployment with soft delete,
	// price captured at record time and a generated total column.
	ProfileServer Profile = "server"
	// ProfileEmbedded is the single-file SQLite deployment without prices,
	// totals, notes or soft delete.
	ProfileEmbedded Profile = "embedded"
)

// Product is a sellable cut identified by its code.
type Product struct {
	Code        string              `json:"code" db:"code"`
	Name        string              `json:"name" db:"name"`
	Description string              `json:"description,omitempty" db:"description"`
	PricePerKg  decimal.NullDecimal `json:"price_per_kg" db:"price_per_kg"`
	Active      bool                `json:"active" db:"active"`
	CreatedAt   time.Time           `json:"created_at,omitempty" db:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at,omitempty" db:"updated_at"`
}

// ProductUpdate carries the fields to change; nil fields are left untouched.
type ProductUpdate struct {
	Name        *string
	Description *string
	PricePerKg  *decimal.Decimal
	Active      *bool
}

// Empty reports whether the update changes nothing.
func (u ProductUpdate) Empty() bool {
	return u.Name == nil && u.Description == nil && u.PricePerKg == nil && u.Active == nil
}

// Seller is a counter employee identified by its code.
type Seller struct {
	Code      string    `json:"code" db:"code"`
	FirstName string    `json:"first_name" db:"first_name"`
	LastName  string    `json:"last_name" db:"last_name"`
	Document  string    `json:"document,omitempty" db:"document"`
	Phone     string    `json:"phone,omitempty" db:"phone"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at,omitempty" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// FullName joins first and last name the way listings display it.
func (s Seller) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// SellerUpdate carries the fields to change; nil fields are left untouched.
type SellerUpdate struct {
	FirstName *string
	LastName  *string
	Document  *string
	Phone     *string
	Active    *bool
}

// Empty reports whether the update changes nothing.
func (u SellerUpdate) Empty() bool {
	return u.FirstName == nil && u.LastName == nil && u.Document == nil && u.Phone == nil && u.Active == nil
}

// WeighIn is a recorded measurement joined with product and seller names.
// Rows are immutable once created.
type WeighIn struct {
	ID          int64               `json:"id" db:"id"`
	ProductCode string              `json:"product_code" db:"product_code"`
	ProductName string              `json:"product_name" db:"product_name"`
	WeightKg    decimal.Decimal     `json:"weight_kg" db:"weight_kg"`
	SellerCode  string              `json:"seller_code" db:"seller_code"`
	SellerName  string              `json:"seller_name" db:"seller_name"`
	PricePerKg  decimal.NullDecimal `json:"price_per_kg" db:"price_per_kg"`
	Total       decimal.NullDecimal `json:"total" db:"total"`
	RecordedAt  time.Time           `json:"recorded_at" db:"recorded_at"`
	Notes       string              `json:"notes,omitempty" db:"notes"`
}

// NewWeighIn is the insert payload. PricePerKg is the product price at the
// moment of recording.
type NewWeighIn struct {
	ProductCode string
	WeightKg    decimal.Decimal
	SellerCode  string
	PricePerKg  decimal.NullDecimal
	Notes       string
	RecordedAt  time.Time
}

// SellerStats aggregates the weigh-ins of one seller.
type SellerStats struct {
	SellerCode  string              `json:"seller_code" db:"seller_code"`
	SellerName  string              `json:"seller_name" db:"seller_name"`
	Count       int64               `json:"count" db:"weigh_in_count"`
	TotalWeight decimal.Decimal     `json:"total_weight_kg" db:"total_weight"`
	AvgWeight   decimal.Decimal     `json:"avg_weight_kg" db:"avg_weight"`
	TotalAmount decimal.NullDecimal `json:"total_amount" db:"total_amount"`
}

// DateRange bounds a query. A zero bound means unbounded.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Bounded reports whether both ends are set.
func (r DateRange) Bounded() bool {
	return !r.From.IsZero() && !r.To.IsZero()
}

// Contains reports whether t falls inside the inclusive range. An unbounded
// range contains everything.
func (r DateRange) Contains(t time.Time) bool {
	if !r.Bounded() {
		return true
	}
	return !t.Before(r.From) && !t.After(r.To)
}

// EndOfDay extends t to the last second of its calendar day.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, t.Location())
}

var (
	// ErrNotFound indicates the product, seller or weigh-in does not exist
	// or is inactive.
	ErrNotFound = errors.New("weighing: not found")
	// ErrReferentialIntegrity indicates a weigh-in referencing a product or
	// seller that does not resolve to an active record.
	ErrReferentialIntegrity = errors.New("weighing: product or seller does not resolve to an active record")
	// ErrDuplicate indicates a code already in use.
	ErrDuplicate = errors.New("weighing: duplicate code")
	// ErrInvalidWeight indicates a weight outside (0, 100) kg.
	ErrInvalidWeight = errors.New("weighing: weight must be greater than 0 and less than 100 kg")
	// ErrValidation indicates missing or malformed input.
	ErrValidation = errors.New("weighing: validation failed")
	// ErrUnsupported indicates an operation the store profile cannot perform.
	ErrUnsupported = errors.New("weighing: not supported by this store profile")
	// ErrNothingToExport indicates an export filter matching no rows.
	ErrNothingToExport = errors.New("weighing: no weigh-ins to export")
)
