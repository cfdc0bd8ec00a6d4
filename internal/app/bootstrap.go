package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/chaquecarne/pesajes/internal/observability"
	"github.com/chaquecarne/pesajes/internal/platform/cache"
	"github.com/chaquecarne/pesajes/internal/platform/db"
	"github.com/chaquecarne/pesajes/internal/platform/migrations"
	"github.com/chaquecarne/pesajes/internal/register"
	"github.com/chaquecarne/pesajes/internal/weighing"
	"github.com/chaquecarne/pesajes/internal/weighing/export"
)

// Runtime is the wired application shared by the server, the worker and the
// operator CLI.
type Runtime struct {
	Config     *Config
	Logger     *slog.Logger
	Store      weighing.Store
	Redis      *redis.Client
	Service    *weighing.Service
	Controller *register.Controller
	Location   *time.Location
}

// OpenStore connects the Record Store selected by DB_PROFILE.
func OpenStore(ctx context.Context, cfg *Config) (weighing.Store, error) {
	switch cfg.DBProfile {
	case DriverPostgres:
		pool, err := db.OpenPostgres(ctx, cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		return weighing.NewPostgresStore(pool), nil
	case DriverMySQL:
		conn, err := db.OpenMySQL(ctx, cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		return weighing.NewMySQLStore(conn), nil
	case DriverSQLite:
		conn, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return weighing.NewSQLiteStore(conn), nil
	default:
		return nil, fmt.Errorf("app: unsupported DB_PROFILE %q", cfg.DBProfile)
	}
}

// MigrationTarget returns the golang-migrate driver and DSN of the profile.
func (c *Config) MigrationTarget() (string, string) {
	switch c.DBProfile {
	case DriverPostgres:
		return migrations.Postgres, c.PGDSN
	case DriverMySQL:
		return migrations.MySQL, c.MySQLDSN
	default:
		return migrations.SQLite, c.SQLitePath
	}
}

// RedisClientOpt addresses the asynq queue on the configured Redis.
func (c *Config) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

// Bootstrap opens the store and, when configured, Redis, then builds the
// service and controller. metrics may be nil.
func Bootstrap(ctx context.Context, cfg *Config, logger *slog.Logger, metrics *observability.Metrics) (*Runtime, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Config: cfg, Logger: logger, Store: store, Location: loc}

	var statsCache *weighing.StatsCache
	if cfg.CacheEnabled() {
		client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			logger.Warn("redis unavailable, stats cache disabled", slog.Any("error", err))
		} else {
			rt.Redis = client
			statsCache = weighing.NewStatsCache(client, cfg.StatsCacheTTL)
		}
	}

	var (
		weighMetrics weighing.MetricsPort
		scanMetrics  register.ScanMetrics
	)
	if metrics != nil {
		weighMetrics, scanMetrics = metrics, metrics
	}
	rt.Service = weighing.NewService(store, statsCache, weighMetrics, logger, weighing.ServiceConfig{
		RecentLimit:  cfg.RecentLimit,
		HistoryLimit: cfg.HistoryLimit,
		ExportLimit:  cfg.ExportDefaultLimit,
	})
	rt.Controller = register.New(rt.Service, logger, scanMetrics, export.Options{
		Location: loc,
		Encoding: export.Encoding(cfg.ExportEncoding),
	})
	logger.Info("store ready", slog.String("driver", cfg.DBProfile), slog.String("profile", string(store.Profile())))
	return rt, nil
}

// Close releases the store and Redis connections.
func (rt *Runtime) Close() error {
	if rt == nil {
		return nil
	}
	var errs []error
	if rt.Redis != nil {
		errs = append(errs, rt.Redis.Close())
	}
	if rt.Store != nil {
		errs = append(errs, rt.Store.Close())
	}
	return errors.Join(errs...)
}
