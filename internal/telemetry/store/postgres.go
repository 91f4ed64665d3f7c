package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresKV stores state in the telemetry_state table created by the migrations in internal/db.
// Used when several agents share one database; keys are namespaced per agent by the caller.
type PostgresKV struct {
	db *sql.DB
}

// NewPostgresKV wraps an open database handle. Close closes the handle.
func NewPostgresKV(db *sql.DB) *PostgresKV {
	return &PostgresKV{db: db}
}

func (p *PostgresKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.db.QueryRowContext(ctx, `SELECT value FROM telemetry_state WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: postgres get %s: %w", key, err)
	}
	return value, nil
}

func (p *PostgresKV) Put(ctx context.Context, key string, value []byte) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO telemetry_state (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("store: postgres put %s: %w", key, err)
	}
	return nil
}

func (p *PostgresKV) Close() error {
	return p.db.Close()
}
