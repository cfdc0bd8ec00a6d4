package weighing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore is the server profile Record Store on PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

const pgWeighInSelect = `SELECT w.id, w.product_code, p.name, w.weight_kg::text, w.seller_code,
       s.first_name || ' ' || s.last_name, w.price_per_kg::text, w.total::text, w.recorded_at, COALESCE(w.notes, '')
FROM weigh_ins w
JOIN products p ON p.code = w.product_code
JOIN sellers s ON s.code = w.seller_code`

const pgProductSelect = `SELECT code, name, COALESCE(description, ''), price_per_kg::text, active, created_at, updated_at FROM products`

const pgSellerSelect = `SELECT code, first_name, last_name, COALESCE(document, ''), COALESCE(phone, ''), active, created_at, updated_at FROM sellers`

// Profile implements Store.
func (r *PostgresStore) Profile() Profile { return ProfileServer }

// Ping implements Store.
func (r *PostgresStore) Ping(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return errors.New("weighing: postgres store not initialised")
	}
	return r.pool.Ping(ctx)
}

// Close implements Store.
func (r *PostgresStore) Close() error {
	if r != nil && r.pool != nil {
		r.pool.Close()
	}
	return nil
}

func (r *PostgresStore) FindProduct(ctx context.Context, code string) (Product, error) {
	row := r.pool.QueryRow(ctx, pgProductSelect+` WHERE code = $1 AND active`, code)
	p, err := scanPGProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	return p, err
}

func (r *PostgresStore) ListProducts(ctx context.Context, includeInactive bool) ([]Product, error) {
	query := pgProductSelect
	if !includeInactive {
		query += ` WHERE active`
	}
	rows, err := r.pool.Query(ctx, query+` ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	products := []Product{}
	for rows.Next() {
		p, err := scanPGProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *PostgresStore) CreateProduct(ctx context.Context, p Product) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO products (code, name, description, price_per_kg, active, created_at, updated_at)
VALUES ($1, $2, NULLIF($3, ''), $4::numeric, $5, NOW(), NOW())`, p.Code, p.Name, p.Description, nullDecimalArg(p.PricePerKg), p.Active)
	return mapPGError(err)
}

func (r *PostgresStore) UpdateProduct(ctx context.Context, code string, upd ProductUpdate) error {
	if upd.Empty() {
		return nil
	}
	set := newPGSetBuilder()
	if upd.Name != nil {
		set.add("name", *upd.Name)
	}
	if upd.Description != nil {
		set.add("description", *upd.Description)
	}
	if upd.PricePerKg != nil {
		set.addCast("price_per_kg", upd.PricePerKg.String(), "numeric")
	}
	if upd.Active != nil {
		set.add("active", *upd.Active)
	}
	return r.execUpdate(ctx, "products", code, set)
}

func (r *PostgresStore) DeactivateProduct(ctx context.Context, code string) error {
	active := false
	return r.UpdateProduct(ctx, code, ProductUpdate{Active: &active})
}

func (r *PostgresStore) FindSeller(ctx context.Context, code string) (Seller, error) {
	row := r.pool.QueryRow(ctx, pgSellerSelect+` WHERE code = $1 AND active`, code)
	s, err := scanPGSeller(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Seller{}, ErrNotFound
	}
	return s, err
}

func (r *PostgresStore) ListSellers(ctx context.Context, includeInactive bool) ([]Seller, error) {
	query := pgSellerSelect
	if !includeInactive {
		query += ` WHERE active`
	}
	rows, err := r.pool.Query(ctx, query+` ORDER BY last_name ASC, first_name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sellers := []Seller{}
	for rows.Next() {
		s, err := scanPGSeller(rows)
		if err != nil {
			return nil, err
		}
		sellers = append(sellers, s)
	}
	return sellers, rows.Err()
}

func (r *PostgresStore) CreateSeller(ctx context.Context, s Seller) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO sellers (code, first_name, last_name, document, phone, active, created_at, updated_at)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, NOW(), NOW())`, s.Code, s.FirstName, s.LastName, s.Document, s.Phone, s.Active)
	return mapPGError(err)
}

func (r *PostgresStore) UpdateSeller(ctx context.Context, code string, upd SellerUpdate) error {
	if upd.Empty() {
		return nil
	}
	set := newPGSetBuilder()
	if upd.FirstName != nil {
		set.add("first_name", *upd.FirstName)
	}
	if upd.LastName != nil {
		set.add("last_name", *upd.LastName)
	}
	if upd.Document != nil {
		set.add("document", *upd.Document)
	}
	if upd.Phone != nil {
		set.add("phone", *upd.Phone)
	}
	if upd.Active != nil {
		set.add("active", *upd.Active)
	}
	return r.execUpdate(ctx, "sellers", code, set)
}

func (r *PostgresStore) DeactivateSeller(ctx context.Context, code string) error {
	active := false
	return r.UpdateSeller(ctx, code, SellerUpdate{Active: &active})
}

func (r *PostgresStore) CreateWeighIn(ctx context.Context, in NewWeighIn) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO weigh_ins (product_code, weight_kg, seller_code, price_per_kg, notes, recorded_at)
SELECT $1, $2::numeric, $3, $4::numeric, NULLIF($5, ''), $6
WHERE EXISTS (SELECT 1 FROM products WHERE code = $1 AND active)
  AND EXISTS (SELECT 1 FROM sellers WHERE code = $3 AND active)
RETURNING id`, in.ProductCode, in.WeightKg.String(), in.SellerCode, nullDecimalArg(in.PricePerKg), in.Notes, in.RecordedAt).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrReferentialIntegrity
	}
	if err != nil {
		return 0, mapPGError(err)
	}
	return id, nil
}

func (r *PostgresStore) GetWeighIn(ctx context.Context, id int64) (WeighIn, error) {
	w, err := scanPGWeighIn(r.pool.QueryRow(ctx, pgWeighInSelect+` WHERE w.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return WeighIn{}, ErrNotFound
	}
	return w, err
}

func (r *PostgresStore) ListWeighIns(ctx context.Context, limit, offset int) ([]WeighIn, error) {
	return r.queryWeighIns(ctx, pgWeighInSelect+`
ORDER BY w.recorded_at DESC, w.id DESC
LIMIT $1 OFFSET $2`, limit, offset)
}

func (r *PostgresStore) ListWeighInsBetween(ctx context.Context, from, to time.Time) ([]WeighIn, error) {
	return r.queryWeighIns(ctx, pgWeighInSelect+`
WHERE w.recorded_at BETWEEN $1 AND $2
ORDER BY w.recorded_at ASC, w.id ASC`, from, to)
}

func (r *PostgresStore) ListWeighInsBySeller(ctx context.Context, sellerCode string, limit int) ([]WeighIn, error) {
	return r.queryWeighIns(ctx, pgWeighInSelect+`
WHERE w.seller_code = $1
ORDER BY w.recorded_at ASC, w.id ASC
LIMIT $2`, sellerCode, limit)
}

func (r *PostgresStore) AggregateBySeller(ctx context.Context, rng DateRange) ([]SellerStats, error) {
	query := `SELECT s.code, s.first_name || ' ' || s.last_name, COUNT(w.id),
       SUM(w.weight_kg)::text, AVG(w.weight_kg)::text, SUM(w.total)::text
FROM weigh_ins w
JOIN sellers s ON s.code = w.seller_code`
	args := []any{}
	if rng.Bounded() {
		query += `
WHERE w.recorded_at BETWEEN $1 AND $2`
		args = append(args, rng.From, rng.To)
	}
	query += `
GROUP BY s.code, s.first_name, s.last_name
ORDER BY SUM(w.weight_kg) DESC, s.code ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	stats := []SellerStats{}
	for rows.Next() {
		var (
			st       SellerStats
			sum, avg string
			amount   *string
		)
		if err := rows.Scan(&st.SellerCode, &st.SellerName, &st.Count, &sum, &avg, &amount); err != nil {
			return nil, err
		}
		if st.TotalWeight, err = parseDecimal(sum); err != nil {
			return nil, err
		}
		if st.AvgWeight, err = parseDecimal(avg); err != nil {
			return nil, err
		}
		st.AvgWeight = st.AvgWeight.Round(weightScale)
		if st.TotalAmount, err = parseNullDecimal(amount); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

func (r *PostgresStore) queryWeighIns(ctx context.Context, query string, args ...any) ([]WeighIn, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []WeighIn{}
	for rows.Next() {
		w, err := scanPGWeighIn(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, w)
	}
	return list, rows.Err()
}

func (r *PostgresStore) execUpdate(ctx context.Context, table, code string, set *pgSetBuilder) error {
	set.raw("updated_at = NOW()")
	set.args = append(set.args, code)
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE code = $%d`, table, strings.Join(set.clauses, ", "), len(set.args))
	tag, err := r.pool.Exec(ctx, query, set.args...)
	if err != nil {
		return mapPGError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type pgSetBuilder struct {
	clauses []string
	args    []any
}

func newPGSetBuilder() *pgSetBuilder {
	return &pgSetBuilder{}
}

func (b *pgSetBuilder) add(column string, value any) {
	b.args = append(b.args, value)
	b.clauses = append(b.clauses, column+" = $"+strconv.Itoa(len(b.args)))
}

func (b *pgSetBuilder) addCast(column string, value any, cast string) {
	b.args = append(b.args, value)
	b.clauses = append(b.clauses, column+" = $"+strconv.Itoa(len(b.args))+"::"+cast)
}

func (b *pgSetBuilder) raw(clause string) {
	b.clauses = append(b.clauses, clause)
}

func scanPGProduct(row pgx.Row) (Product, error) {
	var (
		p     Product
		price *string
	)
	if err := row.Scan(&p.Code, &p.Name, &p.Description, &price, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Product{}, err
	}
	var err error
	p.PricePerKg, err = parseNullDecimal(price)
	return p, err
}

func scanPGSeller(row pgx.Row) (Seller, error) {
	var s Seller
	err := row.Scan(&s.Code, &s.FirstName, &s.LastName, &s.Document, &s.Phone, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func scanPGWeighIn(row pgx.Row) (WeighIn, error) {
	var (
		w            WeighIn
		weight       string
		price, total *string
	)
	if err := row.Scan(&w.ID, &w.ProductCode, &w.ProductName, &weight, &w.SellerCode, &w.SellerName, &price, &total, &w.RecordedAt, &w.Notes); err != nil {
		return WeighIn{}, err
	}
	var err error
	if w.WeightKg, err = parseDecimal(weight); err != nil {
		return WeighIn{}, err
	}
	if w.PricePerKg, err = parseNullDecimal(price); err != nil {
		return WeighIn{}, err
	}
	if w.Total, err = parseNullDecimal(total); err != nil {
		return WeighIn{}, err
	}
	return w, nil
}

func mapPGError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.Detail)
		case "23503":
			return ErrReferentialIntegrity
		}
	}
	return err
}

func nullDecimalArg(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}
