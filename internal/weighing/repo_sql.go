package weighing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// sqlDialect holds the statements that differ between the MySQL server
// profile and the SQLite embedded profile.
type sqlDialect struct {
	name          string
	profile       Profile
	productSelect string
	sellerSelect  string
	weighInSelect string
	activeClause  string
	insertWeighIn string
	aggregate     string
	betweenOrder  string
	bySellerOrder string
	mapError      func(error) error
}

var mysqlDialect = sqlDialect{
	name:    "mysql",
	profile: ProfileServer,
	productSelect: `SELECT code, name, COALESCE(description, '') AS description, price_per_kg, active, created_at, updated_at
FROM products`,
	sellerSelect: `SELECT code, first_name, last_name, COALESCE(document, '') AS document, COALESCE(phone, '') AS phone, active, created_at, updated_at
FROM sellers`,
	weighInSelect: `SELECT w.id, w.product_code, p.name AS product_name, w.weight_kg, w.seller_code,
       CONCAT(s.first_name, ' ', s.last_name) AS seller_name, w.price_per_kg, w.total, w.recorded_at,
       COALESCE(w.notes, '') AS notes
FROM weigh_ins w
JOIN products p ON p.code = w.product_code
JOIN sellers s ON s.code = w.seller_code`,
	activeClause: ` AND active = 1`,
	insertWeighIn: `INSERT INTO weigh_ins (product_code, weight_kg, seller_code, price_per_kg, notes, recorded_at)
SELECT ?, ?, ?, ?, NULLIF(?, ''), ? FROM DUAL
WHERE EXISTS (SELECT 1 FROM products WHERE code = ? AND active = 1)
  AND EXISTS (SELECT 1 FROM sellers WHERE code = ? AND active = 1)`,
	aggregate: `SELECT s.code AS seller_code, CONCAT(s.first_name, ' ', s.last_name) AS seller_name,
       COUNT(w.id) AS weigh_in_count, SUM(w.weight_kg) AS total_weight,
       AVG(w.weight_kg) AS avg_weight, SUM(w.total) AS total_amount
FROM weigh_ins w
JOIN sellers s ON s.code = w.seller_code`,
	betweenOrder:  `ORDER BY w.recorded_at ASC, w.id ASC`,
	bySellerOrder: `ORDER BY w.recorded_at ASC, w.id ASC`,
	mapError:      mapMySQLError,
}

var sqliteDialect = sqlDialect{
	name:    "sqlite",
	profile: ProfileEmbedded,
	productSelect: `SELECT code, name, COALESCE(description, '') AS description, 1 AS active
FROM products`,
	sellerSelect: `SELECT code, first_name, COALESCE(last_name, '') AS last_name, 1 AS active
FROM sellers`,
	weighInSelect: `SELECT w.id, w.product_code, p.name AS product_name, w.weight_kg, w.seller_code,
       s.first_name || ' ' || COALESCE(s.last_name, '') AS seller_name, w.recorded_at
FROM weigh_ins w
JOIN products p ON p.code = w.product_code
JOIN sellers s ON s.code = w.seller_code`,
	insertWeighIn: `INSERT INTO weigh_ins (product_code, weight_kg, seller_code, recorded_at)
SELECT ?, ?, ?, ?
WHERE EXISTS (SELECT 1 FROM products WHERE code = ?)
  AND EXISTS (SELECT 1 FROM sellers WHERE code = ?)`,
	aggregate: `SELECT s.code AS seller_code, s.first_name || ' ' || COALESCE(s.last_name, '') AS seller_name,
       COUNT(w.id) AS weigh_in_count, SUM(w.weight_kg) AS total_weight,
       AVG(w.weight_kg) AS avg_weight, NULL AS total_amount
FROM weigh_ins w
JOIN sellers s ON s.code = w.seller_code`,
	betweenOrder:  `ORDER BY w.recorded_at DESC, w.id DESC`,
	bySellerOrder: `ORDER BY w.recorded_at DESC, w.id DESC`,
	mapError:      mapSQLiteError,
}

// SQLStore is the Record Store over database/sql, used for the MySQL server
// profile and the SQLite embedded profile.
type SQLStore struct {
	db *sqlx.DB
	d  sqlDialect
}

var _ Store = (*SQLStore)(nil)

// NewMySQLStore constructs the server profile store on MySQL.
func NewMySQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db, d: mysqlDialect}
}

// NewSQLiteStore constructs the embedded profile store on SQLite.
func NewSQLiteStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db, d: sqliteDialect}
}

// Profile implements Store.
func (r *SQLStore) Profile() Profile { return r.d.profile }

// Ping implements Store.
func (r *SQLStore) Ping(ctx context.Context) error {
	if r == nil || r.db == nil {
		return errors.New("weighing: sql store not initialised")
	}
	return r.db.PingContext(ctx)
}

// Close implements Store.
func (r *SQLStore) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *SQLStore) embedded() bool { return r.d.profile == ProfileEmbedded }

func (r *SQLStore) FindProduct(ctx context.Context, code string) (Product, error) {
	var p Product
	err := r.db.GetContext(ctx, &p, r.d.productSelect+` WHERE code = ?`+r.d.activeClause, code)
	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	return p, err
}

func (r *SQLStore) ListProducts(ctx context.Context, includeInactive bool) ([]Product, error) {
	query := r.d.productSelect
	if !includeInactive && !r.embedded() {
		query += ` WHERE active = 1`
	}
	products := []Product{}
	if err := r.db.SelectContext(ctx, &products, query+` ORDER BY name ASC`); err != nil {
		return nil, err
	}
	return products, nil
}

func (r *SQLStore) CreateProduct(ctx context.Context, p Product) error {
	var err error
	if r.embedded() {
		_, err = r.db.ExecContext(ctx, `INSERT INTO products (code, name, description) VALUES (?, ?, NULLIF(?, ''))`,
			p.Code, p.Name, p.Description)
	} else {
		_, err = r.db.ExecContext(ctx, `INSERT INTO products (code, name, description, price_per_kg, active) VALUES (?, ?, NULLIF(?, ''), ?, ?)`,
			p.Code, p.Name, p.Description, p.PricePerKg, p.Active)
	}
	return r.d.mapError(err)
}

func (r *SQLStore) UpdateProduct(ctx context.Context, code string, upd ProductUpdate) error {
	if upd.Empty() {
		return nil
	}
	set := &sqlSetBuilder{}
	if upd.Name != nil {
		set.add("name", *upd.Name)
	}
	if upd.Description != nil {
		set.add("description", *upd.Description)
	}
	if upd.PricePerKg != nil || upd.Active != nil {
		if r.embedded() {
			return ErrUnsupported
		}
		if upd.PricePerKg != nil {
			set.add("price_per_kg", *upd.PricePerKg)
		}
		if upd.Active != nil {
			set.add("active", *upd.Active)
		}
	}
	return r.execUpdate(ctx, "products", code, set)
}

func (r *SQLStore) DeactivateProduct(ctx context.Context, code string) error {
	active := false
	return r.UpdateProduct(ctx, code, ProductUpdate{Active: &active})
}

func (r *SQLStore) FindSeller(ctx context.Context, code string) (Seller, error) {
	var s Seller
	err := r.db.GetContext(ctx, &s, r.d.sellerSelect+` WHERE code = ?`+r.d.activeClause, code)
	if errors.Is(err, sql.ErrNoRows) {
		return Seller{}, ErrNotFound
	}
	return s, err
}

func (r *SQLStore) ListSellers(ctx context.Context, includeInactive bool) ([]Seller, error) {
	query := r.d.sellerSelect
	if !includeInactive && !r.embedded() {
		query += ` WHERE active = 1`
	}
	sellers := []Seller{}
	if err := r.db.SelectContext(ctx, &sellers, query+` ORDER BY last_name ASC, first_name ASC`); err != nil {
		return nil, err
	}
	return sellers, nil
}

func (r *SQLStore) CreateSeller(ctx context.Context, s Seller) error {
	var err error
	if r.embedded() {
		_, err = r.db.ExecContext(ctx, `INSERT INTO sellers (code, first_name, last_name) VALUES (?, ?, ?)`,
			s.Code, s.FirstName, s.LastName)
	} else {
		_, err = r.db.ExecContext(ctx, `INSERT INTO sellers (code, first_name, last_name, document, phone, active) VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?)`,
			s.Code, s.FirstName, s.LastName, s.Document, s.Phone, s.Active)
	}
	return r.d.mapError(err)
}

func (r *SQLStore) UpdateSeller(ctx context.Context, code string, upd SellerUpdate) error {
	if upd.Empty() {
		return nil
	}
	set := &sqlSetBuilder{}
	if upd.FirstName != nil {
		set.add("first_name", *upd.FirstName)
	}
	if upd.LastName != nil {
		set.add("last_name", *upd.LastName)
	}
	if upd.Document != nil || upd.Phone != nil || upd.Active != nil {
		if r.embedded() {
			return ErrUnsupported
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
	}
	return r.execUpdate(ctx, "sellers", code, set)
}

func (r *SQLStore) DeactivateSeller(ctx context.Context, code string) error {
	active := false
	return r.UpdateSeller(ctx, code, SellerUpdate{Active: &active})
}

func (r *SQLStore) CreateWeighIn(ctx context.Context, in NewWeighIn) (int64, error) {
	recordedAt := in.RecordedAt.UTC()
	var args []any
	if r.embedded() {
		args = []any{in.ProductCode, in.WeightKg, in.SellerCode, recordedAt, in.ProductCode, in.SellerCode}
	} else {
		args = []any{in.ProductCode, in.WeightKg, in.SellerCode, in.PricePerKg, in.Notes, recordedAt, in.ProductCode, in.SellerCode}
	}
	res, err := r.db.ExecContext(ctx, r.d.insertWeighIn, args...)
	if err != nil {
		return 0, r.d.mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, ErrReferentialIntegrity
	}
	return res.LastInsertId()
}

func (r *SQLStore) GetWeighIn(ctx context.Context, id int64) (WeighIn, error) {
	var w WeighIn
	err := r.db.GetContext(ctx, &w, r.d.weighInSelect+` WHERE w.id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return WeighIn{}, ErrNotFound
	}
	return w, err
}

func (r *SQLStore) ListWeighIns(ctx context.Context, limit, offset int) ([]WeighIn, error) {
	return r.selectWeighIns(ctx, r.d.weighInSelect+`
ORDER BY w.recorded_at DESC, w.id DESC
LIMIT ? OFFSET ?`, limit, offset)
}

func (r *SQLStore) ListWeighInsBetween(ctx context.Context, from, to time.Time) ([]WeighIn, error) {
	return r.selectWeighIns(ctx, r.d.weighInSelect+`
WHERE w.recorded_at BETWEEN ? AND ?
`+r.d.betweenOrder, from.UTC(), to.UTC())
}

func (r *SQLStore) ListWeighInsBySeller(ctx context.Context, sellerCode string, limit int) ([]WeighIn, error) {
	return r.selectWeighIns(ctx, r.d.weighInSelect+`
WHERE w.seller_code = ?
`+r.d.bySellerOrder+`
LIMIT ?`, sellerCode, limit)
}

func (r *SQLStore) AggregateBySeller(ctx context.Context, rng DateRange) ([]SellerStats, error) {
	query := r.d.aggregate
	var args []any
	if rng.Bounded() {
		query += `
WHERE w.recorded_at BETWEEN ? AND ?`
		args = append(args, rng.From.UTC(), rng.To.UTC())
	}
	query += `
GROUP BY s.code, s.first_name, s.last_name
ORDER BY SUM(w.weight_kg) DESC, s.code ASC`

	stats := []SellerStats{}
	if err := r.db.SelectContext(ctx, &stats, query, args...); err != nil {
		return nil, err
	}
	for i := range stats {
		stats[i].TotalWeight = stats[i].TotalWeight.Round(weightScale)
		stats[i].AvgWeight = stats[i].AvgWeight.Round(weightScale)
	}
	return stats, nil
}

func (r *SQLStore) selectWeighIns(ctx context.Context, query string, args ...any) ([]WeighIn, error) {
	list := []WeighIn{}
	if err := r.db.SelectContext(ctx, &list, query, args...); err != nil {
		return nil, err
	}
	for i := range list {
		list[i].WeightKg = list[i].WeightKg.Round(weightScale)
	}
	return list, nil
}

func (r *SQLStore) execUpdate(ctx context.Context, table, code string, set *sqlSetBuilder) error {
	if !r.embedded() {
		set.clauses = append(set.clauses, "updated_at = CURRENT_TIMESTAMP")
	}
	set.args = append(set.args, code)
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE code = ?`, table, strings.Join(set.clauses, ", "))
	res, err := r.db.ExecContext(ctx, query, set.args...)
	if err != nil {
		return r.d.mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// MySQL reports zero for rows matched but unchanged.
		if !r.embedded() {
			var exists bool
			if err := r.db.GetContext(ctx, &exists, `SELECT COUNT(*) > 0 FROM `+table+` WHERE code = ?`, code); err != nil {
				return err
			}
			if exists {
				return nil
			}
		}
		return ErrNotFound
	}
	return nil
}

type sqlSetBuilder struct {
	clauses []string
	args    []any
}

func (b *sqlSetBuilder) add(column string, value any) {
	b.clauses = append(b.clauses, column+" = ?")
	b.args = append(b.args, value)
}

func mapMySQLError(err error) error {
	if err == nil {
		return nil
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1062:
			return fmt.Errorf("%w: %s", ErrDuplicate, myErr.Message)
		case 1452:
			return ErrReferentialIntegrity
		}
	}
	return err
}

func mapSQLiteError(err error) error {
	if err == nil {
		return nil
	}
	var liteErr *sqlite.Error
	if !errors.As(err, &liteErr) {
		return err
	}
	switch liteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return fmt.Errorf("%w: %s", ErrDuplicate, liteErr.Error())
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return ErrReferentialIntegrity
	}
	if liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		msg := liteErr.Error()
		switch {
		case strings.Contains(msg, "FOREIGN KEY"):
			return ErrReferentialIntegrity
		case strings.Contains(msg, "UNIQUE"):
			return fmt.Errorf("%w: %s", ErrDuplicate, msg)
		}
	}
	return err
}
