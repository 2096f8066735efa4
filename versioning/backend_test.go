package versioning

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"

	"github.com/GoCodeAlone/schemachain/graph"
)

// exerciseBackend runs the same upsert and reload checks against any Backend.
func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	rows, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("initial load: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected empty backend, got %d rows", len(rows))
	}

	if err := b.Save(ctx, []Record{rec("Sales.Orders", "1.0.0"), rec("sales.items", "")}); err != nil {
		t.Fatalf("save: %v", err)
	}
	dead := rec("SALES.ORDERS", "1.0.1.7")
	dead.Deleted = true
	if err := b.Save(ctx, []Record{dead}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rows, err = b.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows after upsert, got %d", len(rows))
	}
	byKey := make(map[string]Record, len(rows))
	for _, r := range rows {
		byKey[graph.Key(r.FullName)] = r
	}
	orders := byKey["sales.orders"]
	if !orders.Deleted || orders.Version == nil || orders.Version.String() != "1.0.1.7" {
		t.Fatalf("orders = %+v", orders)
	}
	if orders.FullName != "SALES.ORDERS" {
		t.Fatalf("expected display name to follow the last write, got %q", orders.FullName)
	}
	items := byKey["sales.items"]
	if items.Version != nil || items.Deleted || items.ItemType != "table" {
		t.Fatalf("items = %+v", items)
	}
}

func TestMemoryBackend(t *testing.T) {
	exerciseBackend(t, NewMemoryBackend())
}

func TestSQLiteBackend(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	b, err := NewSQLiteBackend(db)
	if err != nil {
		t.Fatalf("create backend: %v", err)
	}
	exerciseBackend(t, b)

	// creating the backend twice must be harmless
	if _, err := NewSQLiteBackend(db); err != nil {
		t.Fatalf("second create: %v", err)
	}
}

func TestFileBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "versions.yaml")
	b := NewFileBackend(path)
	exerciseBackend(t, b)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if !strings.Contains(string(data), "version: 1.0.1.7") {
		t.Fatalf("unexpected document:\n%s", data)
	}
	matches, _ := filepath.Glob(path + ".tmp.*")
	if len(matches) != 0 {
		t.Fatalf("temporary files left behind: %v", matches)
	}
}

func TestFileBackend_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "versions.yaml")
	if err := os.WriteFile(path, []byte("records: [oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileBackend(path).Load(context.Background()); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFileBackend_StoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "versions.yaml")
	ctx := context.Background()

	s := NewVersionStore(NewFileBackend(path), nil)
	if _, err := s.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	s.RecordVersion("orders", v("1.2.0"), "table")
	if err := s.Commit(ctx, false); err != nil {
		t.Fatalf("commit: %v", err)
	}

	again := NewVersionStore(NewFileBackend(path), nil)
	if _, err := again.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := again.Lookup(&graph.Item{FullName: "ORDERS"}); got == nil || !got.Equal(v("1.2.0")) {
		t.Fatalf("Lookup after reload = %v", got)
	}
}

func TestPGBackend(t *testing.T) {
	dsn := os.Getenv("SCHEMACHAIN_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("SCHEMACHAIN_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS schemachain_versions`); err != nil {
		t.Fatalf("reset table: %v", err)
	}

	b, err := NewPGBackend(ctx, pool)
	if err != nil {
		t.Fatalf("create backend: %v", err)
	}
	exerciseBackend(t, b)
}
