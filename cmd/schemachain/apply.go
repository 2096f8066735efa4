package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/schemachain/executor"
	"github.com/GoCodeAlone/schemachain/graph"
	"github.com/GoCodeAlone/schemachain/manifest"
	"github.com/GoCodeAlone/schemachain/migration"
	"github.com/GoCodeAlone/schemachain/session"
	"github.com/GoCodeAlone/schemachain/version"
	"github.com/GoCodeAlone/schemachain/versioning"
)

func (c *cli) newApplyCmd() *cobra.Command {
	var (
		dryRun bool
		watch  bool
	)
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Migrate every item to its target version",
		Long: `Run every phase over the sorted items and execute the scripts that move
each item toward its target version. A failed run can be repeated: scripts
that already succeeded are skipped.

With --dry-run nothing is executed or recorded; the scripts that would run
are printed instead. With --watch the command stays running and applies the
project again whenever the manifest or one of its scripts changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dryRun && watch {
				return &usageError{err: errors.New("--dry-run and --watch cannot be combined")}
			}
			e, err := openEnv(cmd.Context(), c.cfg, c.logger, envOptions{executor: !dryRun, lock: !dryRun})
			if err != nil {
				return err
			}
			defer e.Close()

			if dryRun {
				return c.dryRun(cmd.Context(), e)
			}
			if watch {
				return c.watch(cmd.Context(), e)
			}
			_, err = c.apply(cmd.Context(), e)
			return err
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the scripts that would run without executing them")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "apply again when the manifest or its scripts change")
	return cmd
}

// apply runs the project once against the environment and prints a summary.
func (c *cli) apply(ctx context.Context, e *env) (*migration.RunResult, error) {
	res, err := e.runner().Run(ctx, e.seq, e.phases, e.store(), e.project.Index, e.exec)
	e.writeMetrics()
	if res != nil {
		printRunResult(c.stdout, res)
	}
	return res, err
}

// dryRun executes the project against a copy of the version records with a
// recording executor, so the real stores are never written.
func (c *cli) dryRun(ctx context.Context, e *env) error {
	rows, err := e.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("load version records: %w", err)
	}
	rec := executor.NewDryRun(c.logger)
	store := versioning.NewVersionStore(versioning.NewMemoryBackend(rows...), c.logger)
	runner := migration.NewRunner(session.NewInMemory(), nil, c.logger)

	res, err := runner.Run(ctx, e.seq, e.phases, store, e.project.Index, rec)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Dry run: %d script(s) would run\n", len(rec.Executed()))
	for _, s := range rec.Executed() {
		fmt.Fprintf(c.stdout, "  %s\n", s)
	}
	printGaps(c.stdout, res.Gaps)
	return nil
}

// watch applies the project, then again after every manifest change, until
// ctx is cancelled. Failed runs are reported and the watch continues.
func (c *cli) watch(ctx context.Context, e *env) error {
	changes := make(chan manifest.ChangeEvent, 1)
	w := manifest.NewWatcher(c.cfg.Manifest, func(ev manifest.ChangeEvent) {
		select {
		case changes <- ev:
		default:
			// A newer event replaces the one not yet consumed.
			select {
			case <-changes:
			default:
			}
			changes <- ev
		}
	}, manifest.WithWatchLogger(c.logger))
	if _, err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()

	c.reportWatchRun(ctx, e)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("watch stopped")
			return nil
		case ev := <-changes:
			seq, err := graph.NewSorter(c.cfg.TieBreakReverted, c.logger).Sort(ev.Project.Graph)
			if err != nil {
				c.logger.Error("changed manifest does not sort, keeping the previous project", "error", err)
				continue
			}
			e.project, e.seq = ev.Project, seq
			c.reportWatchRun(ctx, e)
		}
	}
}

func (c *cli) reportWatchRun(ctx context.Context, e *env) {
	if _, err := c.apply(ctx, e); err != nil {
		c.logger.Error("apply failed, waiting for the next change", "error", err)
	}
}

func printRunResult(w io.Writer, res *migration.RunResult) {
	for _, o := range res.Applied {
		if len(o.Executed) == 0 && len(o.Skipped) == 0 {
			continue
		}
		fmt.Fprintf(w, "%-16s %-32s %s -> %s", o.Phase, o.Item, version.Format(o.From), o.Final)
		if len(o.Skipped) > 0 {
			fmt.Fprintf(w, " (%d executed, %d resumed)\n", len(o.Executed), len(o.Skipped))
		} else {
			fmt.Fprintf(w, " (%d executed)\n", len(o.Executed))
		}
	}
	printGaps(w, res.Gaps)
	if res.Failure != nil {
		fmt.Fprintf(w, "Run %s failed at %s; run apply again to resume.\n", res.RunID, res.Failure.Script)
		return
	}
	fmt.Fprintf(w, "Run %s finished: %d executed, %d skipped, %d gap(s) in %s\n",
		res.RunID, res.ScriptsExecuted(), res.ScriptsSkipped(), len(res.Gaps), res.Duration.Round(time.Millisecond))
}

func printGaps(w io.Writer, gaps []migration.Gap) {
	for _, g := range gaps {
		fmt.Fprintf(w, "gap: %s in %s stays at %s, no script reaches %s\n", g.Item, g.Phase, version.Format(g.From), g.Target)
	}
}
