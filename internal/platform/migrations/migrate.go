// Package migrations applies the embedded schema of each store profile with
// golang-migrate.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/chaquecarne/pesajes/internal/platform/db"
)

//go:embed postgres/*.sql mysql/*.sql sqlite/*.sql
var files embed.FS

// Driver names accepted by New, matching DB_PROFILE.
const (
	Postgres = "postgres"
	MySQL    = "mysql"
	SQLite   = "sqlite"
)

// New builds a migrator for the given driver. dsn is PG_DSN, MYSQL_DSN or the
// SQLite file path.
func New(driver, dsn string) (*migrate.Migrate, error) {
	databaseURL, err := databaseURL(driver, dsn)
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(files, driver)
	if err != nil {
		return nil, fmt.Errorf("migrations: open %s source: %w", driver, err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("migrations: init %s: %w", driver, err)
	}
	return m, nil
}

// Up applies all pending migrations. An up to date schema is not an error.
func Up(driver, dsn string) error {
	m, err := New(driver, dsn)
	if err != nil {
		return err
	}
	defer closeMigrator(m)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: up %s: %w", driver, err)
	}
	return nil
}

// Down rolls back every migration.
func Down(driver, dsn string) error {
	m, err := New(driver, dsn)
	if err != nil {
		return err
	}
	defer closeMigrator(m)
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: down %s: %w", driver, err)
	}
	return nil
}

func closeMigrator(m *migrate.Migrate) {
	_, _ = m.Close()
}

func databaseURL(driver, dsn string) (string, error) {
	switch driver {
	case Postgres:
		for _, scheme := range []string{"postgres://", "postgresql://"} {
			if strings.HasPrefix(dsn, scheme) {
				return "pgx5://" + strings.TrimPrefix(dsn, scheme), nil
			}
		}
		return "", fmt.Errorf("migrations: postgres dsn must be a postgres:// URL")
	case MySQL:
		cfg, err := db.MySQLConfig(dsn)
		if err != nil {
			return "", err
		}
		cfg.MultiStatements = true
		return "mysql://" + cfg.FormatDSN(), nil
	case SQLite:
		if dsn == "" {
			return "", fmt.Errorf("migrations: sqlite path required")
		}
		return "sqlite://" + dsn, nil
	default:
		return "", fmt.Errorf("migrations: unknown driver %q", driver)
	}
}
