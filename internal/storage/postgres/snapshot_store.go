// Package postgres provides a Postgres-backed snapshot archive.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/taped/internal/storage"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable is used when the configured table is empty.
const DefaultTable = "catalog_snapshots"

// Config controls the Postgres connection pool used for snapshot rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// SnapshotStore appends every saved snapshot as a row and loads the newest.
// Older rows are kept as a history of published catalogs.
type SnapshotStore struct {
	pool  querier
	table string
}

// New creates a Postgres-backed SnapshotStore using the provided config and
// ensures its table exists.
func New(ctx context.Context, cfg Config) (*SnapshotStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("snapshot.postgres_dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := &SnapshotStore{pool: pool, table: table}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool querier, table string) (*SnapshotStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &SnapshotStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *SnapshotStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the snapshot table when missing.
func (s *SnapshotStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	saved_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	body JSONB NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create snapshot table: %w", err)
	}
	return nil
}

// Save inserts data as the newest snapshot row.
func (s *SnapshotStore) Save(ctx context.Context, data []byte) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("snapshot store is not configured")
	}
	query := fmt.Sprintf(`INSERT INTO %s (body) VALUES ($1)`, s.table)
	if _, err := s.pool.Exec(ctx, query, data); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Load returns the body of the newest snapshot row.
func (s *SnapshotStore) Load(ctx context.Context) ([]byte, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("snapshot store is not configured")
	}
	query := fmt.Sprintf(`SELECT body FROM %s ORDER BY id DESC LIMIT 1`, s.table)
	var body []byte
	if err := s.pool.QueryRow(ctx, query).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("select snapshot: %w", err)
	}
	return body, nil
}
