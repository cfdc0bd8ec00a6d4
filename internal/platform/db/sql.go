package db

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// MySQLConfig normalises a MySQL DSN for the store: times parsed into
// time.Time in UTC.
func MySQLConfig(dsn string) (*mysql.Config, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("platform/db: parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg, nil
}

// OpenMySQL connects to MySQL through sqlx.
func OpenMySQL(ctx context.Context, dsn string) (*sqlx.DB, error) {
	cfg, err := MySQLConfig(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.ConnectContext(ctx, "mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("platform/db: connect mysql: %w", err)
	}
	db.SetConnMaxLifetime(3 * time.Minute)
	return db, nil
}

// SQLiteDSN builds the modernc DSN for a database file with foreign keys
// enforced and times stored in a sortable text layout.
func SQLiteDSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Set("_time_format", "sqlite")
	return "file:" + path + "?" + q.Encode()
}

// OpenSQLite opens the embedded database file through sqlx. SQLite allows a
// single writer, so the pool is capped at one connection.
func OpenSQLite(ctx context.Context, path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", SQLiteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("platform/db: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("platform/db: ping sqlite: %w", err)
	}
	return db, nil
}
