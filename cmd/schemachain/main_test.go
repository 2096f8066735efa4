package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/schemachain/config"
	"github.com/GoCodeAlone/schemachain/graph"
	"github.com/GoCodeAlone/schemachain/manifest"
	"github.com/GoCodeAlone/schemachain/migration"
)

const usersAndAudit = `
items:
  - name: users
    type: table
    target: 1.0.0
    scripts:
      - phase: install
        version: 1.0.0
        body: CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)
  - name: audit
    type: table
    target: 1.0.0
    requires: [users]
    scripts:
      - phase: install
        version: 1.0.0
        body: %s
`

const auditOK = "CREATE TABLE audit (id INTEGER PRIMARY KEY, user_id INTEGER REFERENCES users(id))"

// project writes a config and manifest into a temp dir and returns the
// config path.
func project(t *testing.T, auditBody string) (dir, cfgPath string) {
	t.Helper()
	dir = t.TempDir()
	writeManifest(t, dir, auditBody)
	cfgPath = filepath.Join(dir, "schemachain.yaml")
	cfg := fmt.Sprintf(`
manifest: schema.yaml
target:
  driver: sqlite
  dsn: %s
log:
  level: error
`, filepath.Join(dir, "target.db"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	return dir, cfgPath
}

func writeManifest(t *testing.T, dir, auditBody string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schema.yaml"), []byte(fmt.Sprintf(usersAndAudit, auditBody)), 0o644))
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestApply_FreshThenNoop(t *testing.T) {
	_, cfg := project(t, auditOK)

	code, out, errOut := run(t, "apply", "-c", cfg)
	require.Equal(t, ExitOK, code, errOut)
	assert.Contains(t, out, "2 executed, 0 skipped")

	code, out, errOut = run(t, "apply", "-c", cfg)
	require.Equal(t, ExitOK, code, errOut)
	assert.Contains(t, out, "0 executed, 0 skipped")

	code, out, _ = run(t, "status", "-c", cfg)
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "up to date")
	assert.NotContains(t, out, "not installed")
}

func TestApply_FailureThenResume(t *testing.T) {
	dir, cfg := project(t, "CREATE TABLE audit (")

	code, out, errOut := run(t, "apply", "-c", cfg)
	assert.Equal(t, ExitExecutionFailure, code)
	assert.Contains(t, out, "run apply again to resume")
	assert.Contains(t, errOut, "audit")

	code, out, _ = run(t, "plan", "-c", cfg)
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "1 script(s) to run.")

	writeManifest(t, dir, auditOK)
	code, out, errOut = run(t, "apply", "-c", cfg)
	require.Equal(t, ExitOK, code, errOut)
	assert.Contains(t, out, "1 executed, 0 skipped")
}

func TestPlan(t *testing.T) {
	_, cfg := project(t, auditOK)

	code, out, errOut := run(t, "plan", "-c", cfg)
	require.Equal(t, ExitOK, code, errOut)
	assert.Contains(t, out, "full@1.0.0")
	assert.Contains(t, out, "2 script(s) to run.")

	code, _, _ = run(t, "apply", "-c", cfg)
	require.Equal(t, ExitOK, code)

	code, out, _ = run(t, "plan", "-c", cfg)
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "Nothing to do")
}

func TestApply_DryRunWritesNothing(t *testing.T) {
	_, cfg := project(t, auditOK)

	code, out, errOut := run(t, "apply", "--dry-run", "-c", cfg)
	require.Equal(t, ExitOK, code, errOut)
	assert.Contains(t, out, "2 script(s) would run")

	code, out, _ = run(t, "status", "-c", cfg)
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "not installed")
}

func TestPrune(t *testing.T) {
	dir, cfg := project(t, auditOK)
	code, _, _ := run(t, "apply", "-c", cfg)
	require.Equal(t, ExitOK, code)

	only := `
items:
  - name: users
    type: table
    target: 1.0.0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schema.yaml"), []byte(only), 0o644))

	code, out, errOut := run(t, "prune", "-c", cfg)
	require.Equal(t, ExitOK, code, errOut)
	assert.Contains(t, out, "prune audit")
	assert.Contains(t, out, "1 record(s) flagged deleted.")

	code, out, _ = run(t, "status", "-c", cfg)
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "deleted")

	code, out, _ = run(t, "prune", "-c", cfg)
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "0 record(s) flagged deleted.")
}

func TestGraph(t *testing.T) {
	_, cfg := project(t, auditOK)
	code, out, errOut := run(t, "graph", "-c", cfg)
	require.Equal(t, ExitOK, code, errOut)
	assert.Less(t, bytes.Index([]byte(out), []byte("users")), bytes.Index([]byte(out), []byte("audit")))
}

func TestValidate(t *testing.T) {
	dir, cfg := project(t, auditOK)
	code, out, errOut := run(t, "validate", "-c", cfg)
	require.Equal(t, ExitOK, code, errOut)
	assert.Contains(t, out, "OK")

	bare := `
items:
  - name: users
    type: table
    target: 1.0.0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schema.yaml"), []byte(bare), 0o644))
	code, out, _ = run(t, "validate", "-c", cfg)
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out, "1 warning(s)")

	code, _, _ = run(t, "validate", "--strict", "-c", cfg)
	assert.Equal(t, ExitConfiguration, code)
}

func TestExitCodes(t *testing.T) {
	dir, cfg := project(t, auditOK)

	t.Run("unknown flag", func(t *testing.T) {
		code, _, _ := run(t, "apply", "--no-such-flag")
		assert.Equal(t, ExitUsage, code)
	})
	t.Run("unknown command", func(t *testing.T) {
		code, _, _ := run(t, "migrate")
		assert.Equal(t, ExitUsage, code)
	})
	t.Run("conflicting flags", func(t *testing.T) {
		code, _, _ := run(t, "apply", "--dry-run", "--watch", "-c", cfg)
		assert.Equal(t, ExitUsage, code)
	})
	t.Run("invalid config", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("target:\n  driver: oracle\n"), 0o644))
		code, _, errOut := run(t, "plan", "-c", bad)
		assert.Equal(t, ExitConfiguration, code)
		assert.Contains(t, errOut, "oracle")
	})
	t.Run("missing config", func(t *testing.T) {
		code, _, _ := run(t, "plan", "-c", filepath.Join(dir, "absent.yaml"))
		assert.Equal(t, ExitConfiguration, code)
	})
	t.Run("cycle", func(t *testing.T) {
		cyclic := `
items:
  - name: a
    target: 1.0.0
    requires: [b]
  - name: b
    target: 1.0.0
    requires: [a]
`
		require.NoError(t, os.WriteFile(filepath.Join(dir, "cyclic.yaml"), []byte(cyclic), 0o644))
		code, _, errOut := run(t, "graph", "-c", cfg, "-m", filepath.Join(dir, "cyclic.yaml"))
		assert.Equal(t, ExitConfiguration, code)
		assert.Contains(t, errOut, "cycle")
	})
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"usage", &usageError{err: errors.New("bad flag")}, ExitUsage},
		{"execution", fmt.Errorf("run: %w", &migration.ExecutionFailure{Cause: errors.New("boom")}), ExitExecutionFailure},
		{"config", fmt.Errorf("%w: x", config.ErrInvalidConfig), ExitConfiguration},
		{"manifest", fmt.Errorf("%w: x", manifest.ErrInvalidManifest), ExitConfiguration},
		{"graph", &graph.GraphError{Kind: graph.ErrCycle, Path: []string{"a", "b", "a"}}, ExitConfiguration},
		{"other", errors.New("connection refused"), ExitInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}
