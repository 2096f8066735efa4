// Package executor runs change script bodies against a target database.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/GoCodeAlone/schemachain/scripts"
)

// Executor runs one script. It returns only after the script took effect or
// failed.
type Executor interface {
	Execute(ctx context.Context, s *scripts.Script) error
}

// Func adapts a plain function to Executor.
type Func func(ctx context.Context, s *scripts.Script) error

func (f Func) Execute(ctx context.Context, s *scripts.Script) error { return f(ctx, s) }

// SQLExecutor runs each script inside its own transaction on a *sql.DB.
type SQLExecutor struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLExecutor creates a SQLExecutor. A nil logger falls back to
// slog.Default().
func NewSQLExecutor(db *sql.DB, logger *slog.Logger) *SQLExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLExecutor{db: db, logger: logger}
}

func (e *SQLExecutor) Execute(ctx context.Context, s *scripts.Script) error {
	if strings.TrimSpace(s.Body) == "" {
		e.logger.Debug("empty script body, nothing to execute", "script", s.String())
		return nil
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", s, err)
	}
	if _, err := tx.ExecContext(ctx, s.Body); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute %s: %w", s, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", s, err)
	}
	e.logger.Debug("script executed", "script", s.String(), "checksum", s.Checksum())
	return nil
}

// PoolExecutor runs each script inside its own transaction on a pgx pool.
type PoolExecutor struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPoolExecutor creates a PoolExecutor. A nil logger falls back to
// slog.Default().
func NewPoolExecutor(pool *pgxpool.Pool, logger *slog.Logger) *PoolExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PoolExecutor{pool: pool, logger: logger}
}

func (e *PoolExecutor) Execute(ctx context.Context, s *scripts.Script) error {
	if strings.TrimSpace(s.Body) == "" {
		return nil
	}
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", s, err)
	}
	if _, err := tx.Exec(ctx, s.Body); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("execute %s: %w", s, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s: %w", s, err)
	}
	e.logger.Debug("script executed", "script", s.String(), "checksum", s.Checksum())
	return nil
}

// DryRun logs scripts instead of running them and remembers what it saw.
type DryRun struct {
	logger *slog.Logger

	mu       sync.Mutex
	executed []*scripts.Script
}

// NewDryRun creates a DryRun. A nil logger falls back to slog.Default().
func NewDryRun(logger *slog.Logger) *DryRun {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRun{logger: logger}
}

func (d *DryRun) Execute(_ context.Context, s *scripts.Script) error {
	d.mu.Lock()
	d.executed = append(d.executed, s)
	d.mu.Unlock()
	d.logger.Info("dry run: would execute script", "script", s.String(), "source", s.Source, "checksum", s.Checksum())
	return nil
}

// Executed returns every script seen so far, in order.
func (d *DryRun) Executed() []*scripts.Script {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*scripts.Script, len(d.executed))
	copy(out, d.executed)
	return out
}
