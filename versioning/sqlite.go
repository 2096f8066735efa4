package versioning

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/GoCodeAlone/schemachain/graph"
	"github.com/GoCodeAlone/schemachain/version"
)

const sqliteCreateTableSQL = `
CREATE TABLE IF NOT EXISTS schemachain_versions (
	name_key   TEXT PRIMARY KEY,
	full_name  TEXT NOT NULL,
	item_type  TEXT NOT NULL DEFAULT '',
	version    TEXT,
	deleted    INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

// SQLiteBackend stores records in a SQLite table. The caller is responsible
// for opening and closing the *sql.DB connection.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend creates a SQLiteBackend and ensures the table exists.
func NewSQLiteBackend(db *sql.DB) (*SQLiteBackend, error) {
	if _, err := db.Exec(sqliteCreateTableSQL); err != nil {
		return nil, fmt.Errorf("create schemachain_versions table: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Load(ctx context.Context) ([]Record, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT full_name, item_type, version, deleted FROM schemachain_versions ORDER BY name_key`)
	if err != nil {
		return nil, fmt.Errorf("query schemachain_versions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var v sql.NullString
		var deleted int
		if err := rows.Scan(&r.FullName, &r.ItemType, &v, &deleted); err != nil {
			return nil, fmt.Errorf("scan version record: %w", err)
		}
		if r.Version, err = parseNullable(r.FullName, v); err != nil {
			return nil, err
		}
		r.Deleted = deleted != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) Save(ctx context.Context, records []Record) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	for _, r := range records {
		deleted := 0
		if r.Deleted {
			deleted = 1
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO schemachain_versions (name_key, full_name, item_type, version, deleted, updated_at)
			 VALUES (?, ?, ?, ?, ?, datetime('now'))
			 ON CONFLICT(name_key) DO UPDATE SET
			   full_name = excluded.full_name,
			   item_type = excluded.item_type,
			   version = excluded.version,
			   deleted = excluded.deleted,
			   updated_at = excluded.updated_at`,
			graph.Key(r.FullName), r.FullName, r.ItemType, nullableVersion(r.Version), deleted)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert %s: %w", r.FullName, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit version records: %w", err)
	}
	return nil
}

func nullableVersion(v *version.Version) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.String(), Valid: true}
}

func parseNullable(name string, s sql.NullString) (*version.Version, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	v, err := version.Parse(s.String)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", name, err)
	}
	return &v, nil
}
