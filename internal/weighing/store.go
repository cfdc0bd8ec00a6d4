package weighing

import (
	"context"
	"time"
)

// ProductStore persists products.
type ProductStore interface {
	FindProduct(ctx context.Context, code string) (Product, error)
	ListProducts(ctx context.Context, includeInactive bool) ([]Product, error)
	CreateProduct(ctx context.Context, p Product) error
	UpdateProduct(ctx context.Context, code string, upd ProductUpdate) error
	DeactivateProduct(ctx context.Context, code string) error
}

// SellerStore persists sellers.
type SellerStore interface {
	FindSeller(ctx context.Context, code string) (Seller, error)
	ListSellers(ctx context.Context, includeInactive bool) ([]Seller, error)
	CreateSeller(ctx context.Context, s Seller) error
	UpdateSeller(ctx context.Context, code string, upd SellerUpdate) error
	DeactivateSeller(ctx context.Context, code string) error
}

// WeighInStore persists and reports on weigh-ins.
type WeighInStore interface {
	// CreateWeighIn inserts the row only when product and seller resolve to
	// active records, returning ErrReferentialIntegrity otherwise.
	CreateWeighIn(ctx context.Context, in NewWeighIn) (int64, error)
	GetWeighIn(ctx context.Context, id int64) (WeighIn, error)
	// ListWeighIns returns the most recent rows first.
	ListWeighIns(ctx context.Context, limit, offset int) ([]WeighIn, error)
	ListWeighInsBetween(ctx context.Context, from, to time.Time) ([]WeighIn, error)
	ListWeighInsBySeller(ctx context.Context, sellerCode string, limit int) ([]WeighIn, error)
	// AggregateBySeller groups by seller ordered by summed weight descending.
	// The range applies only when both bounds are set.
	AggregateBySeller(ctx context.Context, r DateRange) ([]SellerStats, error)
}

// Store is the Record Store handle passed explicitly to the service.
type Store interface {
	ProductStore
	SellerStore
	WeighInStore
	Profile() Profile
	Ping(ctx context.Context) error
	Close() error
}
