package versioning

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/GoCodeAlone/schemachain/graph"
)

// PGBackend stores records in PostgreSQL using pgxpool.
type PGBackend struct {
	pool *pgxpool.Pool
}

// NewPGBackend creates a PGBackend backed by the given connection pool and
// ensures the required table exists.
func NewPGBackend(ctx context.Context, pool *pgxpool.Pool) (*PGBackend, error) {
	b := &PGBackend{pool: pool}
	if err := b.createTable(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *PGBackend) createTable(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schemachain_versions (
			name_key   TEXT        PRIMARY KEY,
			full_name  TEXT        NOT NULL,
			item_type  TEXT        NOT NULL DEFAULT '',
			version    TEXT,
			deleted    BOOLEAN     NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return fmt.Errorf("create schemachain_versions table: %w", err)
	}
	return nil
}

func (b *PGBackend) Load(ctx context.Context) ([]Record, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT full_name, item_type, version, deleted FROM schemachain_versions ORDER BY name_key`)
	if err != nil {
		return nil, fmt.Errorf("query schemachain_versions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var v *string
		if err := rows.Scan(&r.FullName, &r.ItemType, &v, &r.Deleted); err != nil {
			return nil, fmt.Errorf("scan version record: %w", err)
		}
		ns := sql.NullString{}
		if v != nil {
			ns = sql.NullString{String: *v, Valid: true}
		}
		if r.Version, err = parseNullable(r.FullName, ns); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (b *PGBackend) Save(ctx context.Context, records []Record) error {
	batch := &pgx.Batch{}
	for _, r := range records {
		var v *string
		if r.Version != nil {
			s := r.Version.String()
			v = &s
		}
		batch.Queue(
			`INSERT INTO schemachain_versions (name_key, full_name, item_type, version, deleted, updated_at)
			 VALUES ($1, $2, $3, $4, $5, NOW())
			 ON CONFLICT (name_key) DO UPDATE SET
			   full_name = EXCLUDED.full_name,
			   item_type = EXCLUDED.item_type,
			   version = EXCLUDED.version,
			   deleted = EXCLUDED.deleted,
			   updated_at = EXCLUDED.updated_at`,
			graph.Key(r.FullName), r.FullName, r.ItemType, v, r.Deleted)
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert version records: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit version records: %w", err)
	}
	return nil
}
