package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/schemachain/version"
)

func (c *cli) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Compare recorded versions with the manifest targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd.Context(), c.cfg, c.logger, envOptions{})
			if err != nil {
				return err
			}
			defer e.Close()

			store := e.store()
			if _, err := store.Load(cmd.Context()); err != nil {
				return err
			}
			known := e.project.KnownNames()

			w := tabwriter.NewWriter(c.stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ITEM\tTYPE\tINSTALLED\tTARGET\tSTATE") //nolint:errcheck
			fmt.Fprintln(w, "----\t----\t---------\t------\t-----") //nolint:errcheck
			for _, it := range e.project.Graph.Items() {
				installed := store.Lookup(it)
				state := "up to date"
				switch {
				case installed == nil:
					state = "not installed"
				case installed.Less(it.Target):
					state = "pending"
				case it.Target.Less(*installed):
					state = "ahead of target"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", it.FullName, it.Type, version.Format(installed), it.Target, state) //nolint:errcheck
			}
			for _, r := range store.Records() {
				if _, ok := known[foldName(r.FullName)]; ok {
					continue
				}
				state := "not in manifest"
				if r.Deleted {
					state = "deleted"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t-\t%s\n", r.FullName, r.ItemType, version.Format(r.Version), state) //nolint:errcheck
			}
			return w.Flush()
		},
	}
}
