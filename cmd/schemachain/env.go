package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/GoCodeAlone/schemachain/config"
	"github.com/GoCodeAlone/schemachain/executor"
	"github.com/GoCodeAlone/schemachain/graph"
	"github.com/GoCodeAlone/schemachain/manifest"
	"github.com/GoCodeAlone/schemachain/migration"
	"github.com/GoCodeAlone/schemachain/scripts"
	"github.com/GoCodeAlone/schemachain/session"
	"github.com/GoCodeAlone/schemachain/versioning"
)

// env is everything a command needs, built from the configuration.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	phases  []scripts.Phase
	project *manifest.Project
	seq     *graph.Sequence

	backend versioning.Backend
	memory  session.Memory
	locker  migration.DistributedLock
	exec    executor.Executor
	metrics *migration.Metrics

	targetDB   *sql.DB
	targetPool *pgxpool.Pool
	closers    []func() error
}

// envOptions selects the parts of env a command needs.
type envOptions struct {
	executor bool
	lock     bool
}

// loadProject reads and sorts the manifest named by the config.
func loadProject(cfg *config.Config, logger *slog.Logger) (*manifest.Project, *graph.Sequence, error) {
	p, err := manifest.Load(cfg.Manifest)
	if err != nil {
		return nil, nil, err
	}
	seq, err := graph.NewSorter(cfg.TieBreakReverted, logger).Sort(p.Graph)
	if err != nil {
		return nil, nil, err
	}
	return p, seq, nil
}

func openEnv(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts envOptions) (_ *env, err error) {
	e := &env{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = e.Close()
		}
	}()

	if e.phases, err = cfg.PhaseOrder(); err != nil {
		return nil, fmt.Errorf("%w: phases: %v", config.ErrInvalidConfig, err)
	}
	if e.project, e.seq, err = loadProject(cfg, logger); err != nil {
		return nil, err
	}
	if err := e.openTarget(ctx); err != nil {
		return nil, err
	}
	if e.backend, err = e.openBackend(ctx); err != nil {
		return nil, err
	}
	if e.memory, err = e.openMemory(ctx); err != nil {
		return nil, err
	}
	if opts.lock && cfg.Lock.Enabled {
		if e.locker, err = e.openLock(); err != nil {
			return nil, err
		}
	}
	if opts.executor {
		e.exec = e.openExecutor()
	}
	e.metrics = migration.NewMetrics(cfg.Metrics.Namespace)
	return e, nil
}

func (e *env) onClose(f func() error) { e.closers = append(e.closers, f) }

// Close releases connections in reverse order of opening.
func (e *env) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i]())
	}
	e.closers = nil
	return errors.Join(errs...)
}

func (e *env) openTarget(ctx context.Context) error {
	t := e.cfg.Target
	switch t.Driver {
	case config.DriverSQLite:
		db, err := executor.OpenDB(config.DriverSQLite, t.DSN)
		if err != nil {
			return fmt.Errorf("open target: %w", err)
		}
		e.targetDB = db
		e.onClose(db.Close)
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, t.DSN)
		if err != nil {
			return fmt.Errorf("open target: %w", err)
		}
		e.onClose(func() error { pool.Close(); return nil })
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("ping target: %w", err)
		}
		e.targetPool = pool
		e.targetDB = stdlib.OpenDBFromPool(pool)
		e.onClose(e.targetDB.Close)
	}
	return nil
}

func (e *env) openBackend(ctx context.Context) (versioning.Backend, error) {
	s := e.cfg.VersionStore
	switch s.Driver {
	case config.DriverTarget:
		if e.targetPool != nil {
			return versioning.NewPGBackend(ctx, e.targetPool)
		}
		return versioning.NewSQLiteBackend(e.targetDB)
	case config.DriverMemory:
		e.logger.Warn("version records are kept in memory and lost on exit")
		return versioning.NewMemoryBackend(), nil
	case config.DriverSQLite:
		db, err := executor.OpenDB(config.DriverSQLite, s.DSN)
		if err != nil {
			return nil, fmt.Errorf("open version store: %w", err)
		}
		e.onClose(db.Close)
		return versioning.NewSQLiteBackend(db)
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, s.DSN)
		if err != nil {
			return nil, fmt.Errorf("open version store: %w", err)
		}
		e.onClose(func() error { pool.Close(); return nil })
		return versioning.NewPGBackend(ctx, pool)
	case config.DriverFile:
		return versioning.NewFileBackend(s.Path), nil
	}
	return nil, fmt.Errorf("%w: versionStore.driver %q", config.ErrInvalidConfig, s.Driver)
}

func (e *env) openMemory(ctx context.Context) (session.Memory, error) {
	s := e.cfg.Session
	switch s.Driver {
	case config.DriverTarget:
		if e.targetPool != nil {
			return session.NewPGMemory(ctx, e.targetPool)
		}
		return session.NewSQLiteMemory(e.targetDB)
	case config.DriverMemory:
		return session.NewInMemory(), nil
	case config.DriverSQLite:
		db, err := executor.OpenDB(config.DriverSQLite, s.DSN)
		if err != nil {
			return nil, fmt.Errorf("open session memory: %w", err)
		}
		e.onClose(db.Close)
		return session.NewSQLiteMemory(db)
	case config.DriverRedis:
		m, err := session.NewRedisMemory(ctx, session.RedisConfig{
			Address:  s.Address,
			Password: s.Password,
			DB:       s.DB,
			Key:      s.Key,
		})
		if err != nil {
			return nil, fmt.Errorf("open session memory: %w", err)
		}
		e.onClose(m.Close)
		return m, nil
	}
	return nil, fmt.Errorf("%w: session.driver %q", config.ErrInvalidConfig, s.Driver)
}

func (e *env) openLock() (migration.DistributedLock, error) {
	l := e.cfg.Lock
	switch l.Driver {
	case config.DriverLocal:
		return migration.NewLocalLock(), nil
	case config.DriverPostgres:
		if e.targetDB == nil || e.targetPool == nil {
			return nil, fmt.Errorf("%w: postgres lock needs a postgres target", config.ErrInvalidConfig)
		}
		return migration.NewPostgresLock(e.targetDB), nil
	case config.DriverRedis:
		addr, password := l.Address, ""
		if addr == "" {
			addr, password = e.cfg.Session.Address, e.cfg.Session.Password
		}
		client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
		e.onClose(client.Close)
		return migration.NewRedisLock(client, l.TTL), nil
	}
	return nil, fmt.Errorf("%w: lock.driver %q", config.ErrInvalidConfig, l.Driver)
}

func (e *env) openExecutor() executor.Executor {
	switch {
	case e.targetPool != nil:
		return executor.NewPoolExecutor(e.targetPool, e.logger)
	case e.targetDB != nil:
		return executor.NewSQLExecutor(e.targetDB, e.logger)
	default:
		return executor.NewDryRun(e.logger)
	}
}

// store creates a fresh VersionStore over the backend; one per run.
func (e *env) store() *versioning.VersionStore {
	return versioning.NewVersionStore(e.backend, e.logger)
}

// runner creates a Runner configured from the environment.
func (e *env) runner() *migration.Runner {
	return migration.NewRunner(e.memory, e.locker, e.logger).
		WithMetrics(e.metrics).
		WithLockKey(e.cfg.Lock.Key).
		WithKeepUnaccessed(e.cfg.KeepUnaccessed)
}

// writeMetrics exports the textfile if configured. Failures are logged only.
func (e *env) writeMetrics() {
	if e.cfg.Metrics.Textfile == "" {
		return
	}
	if err := e.metrics.WriteTextfile(e.cfg.Metrics.Textfile); err != nil {
		e.logger.Warn("failed to write metrics textfile", "path", e.cfg.Metrics.Textfile, "error", err)
	}
}

// newLogger builds the slog logger described by the log section.
func newLogger(w io.Writer, cfg *config.Config) (*slog.Logger, error) {
	lvl, err := cfg.LogLevel()
	if err != nil {
		return nil, fmt.Errorf("%w: log.level: %v", config.ErrInvalidConfig, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch cfg.Log.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("%w: log.format %q", config.ErrInvalidConfig, cfg.Log.Format)
}
