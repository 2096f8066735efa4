package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const sqliteCreateTableSQL = `
CREATE TABLE IF NOT EXISTS schemachain_session (
	key     TEXT PRIMARY KEY,
	item    TEXT NOT NULL,
	phase   TEXT NOT NULL,
	script  TEXT NOT NULL,
	done_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

// SQLiteMemory is a SQLite-backed Memory. The caller is responsible for
// opening and closing the *sql.DB connection.
type SQLiteMemory struct {
	db *sql.DB
}

// NewSQLiteMemory creates a SQLiteMemory and ensures the table exists.
func NewSQLiteMemory(db *sql.DB) (*SQLiteMemory, error) {
	if _, err := db.Exec(sqliteCreateTableSQL); err != nil {
		return nil, fmt.Errorf("create schemachain_session table: %w", err)
	}
	return &SQLiteMemory{db: db}, nil
}

func (m *SQLiteMemory) IsDone(ctx context.Context, key Key) (bool, error) {
	var one int
	err := m.db.QueryRowContext(ctx, `SELECT 1 FROM schemachain_session WHERE key = ?`, key.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query session key %s: %w", key, err)
	}
	return true, nil
}

func (m *SQLiteMemory) MarkDone(ctx context.Context, key Key) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO schemachain_session (key, item, phase, script) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO NOTHING`,
		key.String(), key.Item, key.Phase.String(), key.Script)
	if err != nil {
		return fmt.Errorf("insert session key %s: %w", key, err)
	}
	return nil
}

func (m *SQLiteMemory) Reset(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM schemachain_session`); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	return nil
}
