// Package postgres provides pgx-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

// dbConn is the pool surface the stores need; *pgxpool.Pool and pgxmock
// pools both satisfy it.
type dbConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// NewPool builds a pgx pool from config.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// Stores bundles the pgx-backed store implementations sharing one pool.
type Stores struct {
	Sources       *SourceStore
	Versions      *VersionStore
	Changes       *ChangeStore
	Subscriptions *SubscriptionStore
	Reports       *ReportStore

	pool dbConn
}

// NewStores wires all stores onto one pool.
func NewStores(pool dbConn) *Stores {
	return &Stores{
		Sources:       &SourceStore{pool: pool},
		Versions:      &VersionStore{pool: pool},
		Changes:       &ChangeStore{pool: pool},
		Subscriptions: &SubscriptionStore{pool: pool},
		Reports:       &ReportStore{pool: pool},
		pool:          pool,
	}
}

// Close releases the underlying pool resources.
func (s *Stores) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
