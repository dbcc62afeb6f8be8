package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/loomery/loom/common/config"
	"github.com/loomery/loom/common/logger"
)

const (
	connectTimeout = 5 * time.Second
	healthTimeout  = 3 * time.Second
)

// DB wraps a pgx connection pool shared by the repositories
type DB struct {
	*pgxpool.Pool
	log *logger.Logger
}

// New opens a connection pool using the configured limits and
// verifies the database is reachable before returning.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxLifetime
	poolCfg.MaxConnIdleTime = cfg.Database.MaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("database connected",
		"host", cfg.Database.Host,
		"db", cfg.Database.Database,
		"max_conns", cfg.Database.MaxConns)

	return &DB{Pool: pool, log: log}, nil
}

// Health pings the pool with a short deadline
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	return db.Ping(ctx)
}

// Close drains and closes the pool
func (db *DB) Close() {
	db.log.Info("closing database connection pool")
	db.Pool.Close()
}
