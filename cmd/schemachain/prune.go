package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/schemachain/graph"
)

// foldName is the case-insensitive key of a recorded item name.
func foldName(name string) string { return graph.Key(name) }

func (c *cli) newPruneCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Flag version records of removed items as deleted",
		Long: `Flag every live version record whose item is no longer in the manifest,
under its current or any previous name, as deleted. Records are never
removed, so a later apply that reintroduces the item starts from scratch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, c.cfg, c.logger, envOptions{lock: !dryRun})
			if err != nil {
				return err
			}
			defer e.Close()

			if e.locker != nil {
				release, err := e.locker.Acquire(ctx, c.cfg.Lock.Key)
				if err != nil {
					return fmt.Errorf("acquire run lock: %w", err)
				}
				defer release()
			}

			store := e.store()
			if _, err := store.Load(ctx); err != nil {
				return err
			}
			known := e.project.KnownNames()
			var pruned []string
			for _, r := range store.Records() {
				if !r.Installed() {
					continue
				}
				if _, ok := known[foldName(r.FullName)]; ok {
					continue
				}
				pruned = append(pruned, r.FullName)
				store.RecordDeleted(r.FullName)
			}

			for _, name := range pruned {
				fmt.Fprintf(c.stdout, "prune %s\n", name)
			}
			if dryRun {
				fmt.Fprintf(c.stdout, "%d record(s) would be flagged deleted.\n", len(pruned))
				return nil
			}
			if err := store.Commit(ctx, true); err != nil {
				return err
			}
			c.logger.Info("version records pruned", "count", len(pruned))
			fmt.Fprintf(c.stdout, "%d record(s) flagged deleted.\n", len(pruned))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list the records without changing them")
	return cmd
}
