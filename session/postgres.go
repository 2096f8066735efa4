package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGMemory is a PostgreSQL-backed Memory using pgxpool.
type PGMemory struct {
	pool *pgxpool.Pool
}

// NewPGMemory creates a PGMemory and ensures the table exists.
func NewPGMemory(ctx context.Context, pool *pgxpool.Pool) (*PGMemory, error) {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schemachain_session (
			key     TEXT        PRIMARY KEY,
			item    TEXT        NOT NULL,
			phase   TEXT        NOT NULL,
			script  TEXT        NOT NULL,
			done_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("create schemachain_session table: %w", err)
	}
	return &PGMemory{pool: pool}, nil
}

func (m *PGMemory) IsDone(ctx context.Context, key Key) (bool, error) {
	var one int
	err := m.pool.QueryRow(ctx, `SELECT 1 FROM schemachain_session WHERE key = $1`, key.String()).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query session key %s: %w", key, err)
	}
	return true, nil
}

func (m *PGMemory) MarkDone(ctx context.Context, key Key) error {
	_, err := m.pool.Exec(ctx,
		`INSERT INTO schemachain_session (key, item, phase, script) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO NOTHING`,
		key.String(), key.Item, key.Phase.String(), key.Script)
	if err != nil {
		return fmt.Errorf("insert session key %s: %w", key, err)
	}
	return nil
}

func (m *PGMemory) Reset(ctx context.Context) error {
	if _, err := m.pool.Exec(ctx, `DELETE FROM schemachain_session`); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	return nil
}
