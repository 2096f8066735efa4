// Package config holds the run configuration of schemachain: where the
// manifest lives, which databases hold the target schema, the version
// records and the session memory, and how runs are locked and observed.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/drone/envsubst"
	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/schemachain/scripts"
)

// Driver names accepted by the store, session, target and lock sections.
const (
	DriverTarget   = "target"
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverFile     = "file"
	DriverRedis    = "redis"
	DriverLocal    = "local"
	DriverDryRun   = "dryrun"
)

// ErrInvalidConfig is wrapped by every validation error.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the complete run configuration.
type Config struct {
	// Manifest is the path of the project manifest, relative to the config
	// file when loaded from one.
	Manifest string `json:"manifest" yaml:"manifest"`
	// Phases overrides the phase order. Empty means the default order.
	Phases []string `json:"phases,omitempty" yaml:"phases,omitempty"`
	// TieBreakReverted reverses the order of unrelated items.
	TieBreakReverted bool `json:"tieBreakReverted,omitempty" yaml:"tieBreakReverted,omitempty"`
	// KeepUnaccessed keeps version records no item looked up. When false a
	// successful run flags them deleted.
	KeepUnaccessed bool `json:"keepUnaccessed" yaml:"keepUnaccessed"`

	Target       TargetConfig  `json:"target" yaml:"target"`
	VersionStore StoreConfig   `json:"versionStore" yaml:"versionStore"`
	Session      SessionConfig `json:"session" yaml:"session"`
	Lock         LockConfig    `json:"lock" yaml:"lock"`
	Log          LogConfig     `json:"log" yaml:"log"`
	Metrics      MetricsConfig `json:"metrics" yaml:"metrics"`
	Tracing      TracingConfig `json:"tracing" yaml:"tracing"`

	// ConfigDir is the directory of the loaded file. Not serialized.
	ConfigDir string `json:"-" yaml:"-"`
}

// TargetConfig is the database the change scripts run against.
type TargetConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// StoreConfig selects the version store backend. Driver "target" stores the
// records in the target database.
type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
}

// SessionConfig selects where executed scripts are remembered between
// attempts of a run.
type SessionConfig struct {
	Driver   string `json:"driver" yaml:"driver"`
	DSN      string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	Address  string `json:"address,omitempty" yaml:"address,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db,omitempty" yaml:"db,omitempty"`
	Key      string `json:"key,omitempty" yaml:"key,omitempty"`
}

// LockConfig configures the lock that serializes runs.
type LockConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	Driver  string        `json:"driver" yaml:"driver"`
	Key     string        `json:"key,omitempty" yaml:"key,omitempty"`
	Address string        `json:"address,omitempty" yaml:"address,omitempty"`
	TTL     time.Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`
}

// LogConfig configures the slog handler of the CLI.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// MetricsConfig configures the metrics export. Textfile is written after
// every run when set.
type MetricsConfig struct {
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Textfile  string `json:"textfile,omitempty" yaml:"textfile,omitempty"`
}

// TracingConfig enables OTLP/HTTP span export when Endpoint is set.
type TracingConfig struct {
	Endpoint   string  `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Insecure   bool    `json:"insecure,omitempty" yaml:"insecure,omitempty"`
	SampleRate float64 `json:"sampleRate,omitempty" yaml:"sampleRate,omitempty"`
}

// Default returns the configuration used when no file is given: a local
// SQLite target that also holds version records and session memory.
func Default() *Config {
	return &Config{
		Manifest:       "schemachain.yaml",
		KeepUnaccessed: true,
		Target:         TargetConfig{Driver: DriverSQLite, DSN: "schemachain.db"},
		VersionStore:   StoreConfig{Driver: DriverTarget},
		Session:        SessionConfig{Driver: DriverTarget, Key: "schemachain:session"},
		Lock:           LockConfig{Enabled: true, Driver: DriverLocal, Key: "schemachain", TTL: 5 * time.Minute},
		Log:            LogConfig{Level: "info", Format: "text"},
		Metrics:        MetricsConfig{Namespace: "schemachain"},
	}
}

// Load reads the YAML config at path. ${VAR} references are expanded from
// the environment before parsing; relative paths resolve against the file's
// directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %w", ErrInvalidConfig, err)
	}
	cfg, err := Parse(data, os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	cfg.ConfigDir = abs
	cfg.resolvePaths()
	return cfg, nil
}

// Parse expands variables with lookup and decodes data over Default().
// Unknown fields are rejected.
func Parse(data []byte, lookup func(string) string) (*Config, error) {
	expanded, err := envsubst.Eval(string(data), lookup)
	if err != nil {
		return nil, fmt.Errorf("%w: expand variables: %v", ErrInvalidConfig, err)
	}

	cfg := Default()
	if strings.TrimSpace(expanded) == "" {
		return cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config file: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

func (c *Config) resolvePaths() {
	c.Manifest = c.resolve(c.Manifest)
	c.VersionStore.Path = c.resolve(c.VersionStore.Path)
	c.Metrics.Textfile = c.resolve(c.Metrics.Textfile)
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.ConfigDir == "" {
		return p
	}
	return filepath.Join(c.ConfigDir, p)
}

// PhaseOrder returns the configured phases as a validated order.
func (c *Config) PhaseOrder() ([]scripts.Phase, error) {
	return scripts.ParseOrder(c.Phases)
}

// LogLevel returns the slog level named by Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, err
	}
	return lvl, nil
}

// Validate checks the configuration and returns every problem found,
// joined.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if strings.TrimSpace(c.Manifest) == "" {
		bad("manifest path is required")
	}
	if _, err := c.PhaseOrder(); err != nil {
		bad("phases: %v", err)
	}

	switch c.Target.Driver {
	case DriverSQLite, DriverPostgres:
		if c.Target.DSN == "" {
			bad("target.dsn is required for driver %q", c.Target.Driver)
		}
	case DriverDryRun:
	default:
		bad("target.driver %q is not one of sqlite, postgres, dryrun", c.Target.Driver)
	}

	switch c.VersionStore.Driver {
	case DriverTarget:
		if c.Target.Driver == DriverDryRun {
			bad("versionStore.driver %q needs a database target, not dryrun", DriverTarget)
		}
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.VersionStore.DSN == "" {
			bad("versionStore.dsn is required for driver %q", c.VersionStore.Driver)
		}
	case DriverFile:
		if c.VersionStore.Path == "" {
			bad("versionStore.path is required for driver %q", DriverFile)
		}
	default:
		bad("versionStore.driver %q is not one of target, memory, sqlite, postgres, file", c.VersionStore.Driver)
	}

	switch c.Session.Driver {
	case DriverTarget:
		if c.Target.Driver == DriverDryRun {
			bad("session.driver %q needs a database target, not dryrun", DriverTarget)
		}
	case DriverMemory:
	case DriverSQLite:
		if c.Session.DSN == "" {
			bad("session.dsn is required for driver %q", DriverSQLite)
		}
	case DriverRedis:
		if c.Session.Address == "" {
			bad("session.address is required for driver %q", DriverRedis)
		}
	default:
		bad("session.driver %q is not one of target, memory, sqlite, redis", c.Session.Driver)
	}

	if c.Lock.Enabled {
		switch c.Lock.Driver {
		case DriverLocal:
		case DriverPostgres:
			if c.Target.Driver != DriverPostgres {
				bad("lock.driver %q requires a postgres target", DriverPostgres)
			}
		case DriverRedis:
			if c.Lock.Address == "" && c.Session.Address == "" {
				bad("lock.address (or session.address) is required for driver %q", DriverRedis)
			}
			if c.Lock.TTL <= 0 {
				bad("lock.ttl must be positive")
			}
		default:
			bad("lock.driver %q is not one of local, postgres, redis", c.Lock.Driver)
		}
	}

	if _, err := c.LogLevel(); err != nil {
		bad("log.level: %v", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		bad("log.format %q is not one of text, json", c.Log.Format)
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		bad("tracing.sampleRate %v is outside [0, 1]", c.Tracing.SampleRate)
	}

	return errors.Join(errs...)
}
