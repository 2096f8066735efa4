package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/schemachain/config"
	"github.com/GoCodeAlone/schemachain/migration"
)

// globalFlags are shared by every command and override the config file.
type globalFlags struct {
	configPath string
	manifest   string
	phases     string
	logLevel   string
	logFormat  string
}

// cli carries state across the cobra command tree of one invocation.
type cli struct {
	flags  globalFlags
	stdout io.Writer
	stderr io.Writer

	cfg    *config.Config
	logger *slog.Logger
	// started is set once argument parsing succeeded and a command runs.
	started bool
	// shutdown flushes the tracer provider, if one was installed.
	shutdown func(context.Context) error
}

func newRootCmd(stdout, stderr io.Writer) (*cobra.Command, *cli) {
	c := &cli{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "schemachain",
		Short: "Versioned schema-object migrations",
		Long: `schemachain migrates the objects of a database schema, each to its own
target version. Objects are ordered by their dependencies, then every
lifecycle phase runs the shortest chain of full and delta scripts that moves
each object toward its target. Interrupted runs resume where they stopped.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVarP(&c.flags.configPath, "config", "c", "", "path to the schemachain config file")
	pf.StringVarP(&c.flags.manifest, "manifest", "m", "", "path to the project manifest (overrides config)")
	pf.StringVar(&c.flags.phases, "phases", "", "comma separated phase order (overrides config)")
	pf.StringVar(&c.flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&c.flags.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(
		c.newApplyCmd(),
		c.newPlanCmd(),
		c.newStatusCmd(),
		c.newPruneCmd(),
		c.newGraphCmd(),
		c.newValidateCmd(),
	)
	return root, c
}

// setup loads and validates the configuration, then builds the logger and
// the optional tracer provider.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	c.started = true

	cfg := config.Default()
	if c.flags.configPath != "" {
		loaded, err := config.Load(c.flags.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if c.flags.manifest != "" {
		cfg.Manifest = c.flags.manifest
	}
	if c.flags.phases != "" {
		cfg.Phases = strings.Split(c.flags.phases, ",")
		for i := range cfg.Phases {
			cfg.Phases[i] = strings.TrimSpace(cfg.Phases[i])
		}
	}
	if c.flags.logLevel != "" {
		cfg.Log.Level = c.flags.logLevel
	}
	if c.flags.logFormat != "" {
		cfg.Log.Format = c.flags.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(c.stderr, cfg)
	if err != nil {
		return err
	}
	c.cfg, c.logger = cfg, logger

	if cfg.Tracing.Endpoint != "" {
		tp, err := migration.NewTracerProvider(cmd.Context(), migration.ExportConfig{
			Endpoint:    cfg.Tracing.Endpoint,
			ServiceName: "schemachain",
			Insecure:    cfg.Tracing.Insecure,
			SampleRate:  cfg.Tracing.SampleRate,
		})
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		c.shutdown = tp.Shutdown
	}
	return nil
}

// execute runs the command tree and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root, c := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if c.shutdown != nil {
		if serr := c.shutdown(context.WithoutCancel(ctx)); serr != nil && c.logger != nil {
			c.logger.Warn("failed to flush traces", "error", serr)
		}
	}
	if err != nil && !c.started {
		err = &usageError{err: err}
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}
