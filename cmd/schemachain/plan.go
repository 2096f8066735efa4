package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/schemachain/version"
)

func (c *cli) newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show the scripts the next apply would run",
		Long: `Resolve every item in every phase against the recorded versions and print
the script chain apply would execute. Scripts already executed by an
interrupted run are marked done and will be skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd.Context(), c.cfg, c.logger, envOptions{})
			if err != nil {
				return err
			}
			defer e.Close()

			steps, err := e.runner().Plan(cmd.Context(), e.seq, e.phases, e.store(), e.project.Index)
			if err != nil {
				return err
			}
			if len(steps) == 0 {
				fmt.Fprintln(c.stdout, "Nothing to do: every item is at its target version.")
				return nil
			}

			w := tabwriter.NewWriter(c.stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "PHASE\tITEM\tFROM\tTO\tSCRIPTS") //nolint:errcheck
			fmt.Fprintln(w, "-----\t----\t----\t--\t-------") //nolint:errcheck
			pending := 0
			for _, s := range steps {
				if s.Gap {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t(gap: no script applies)\n", s.Phase, s.Item, version.Format(s.From), s.Target) //nolint:errcheck
					continue
				}
				names := make([]string, len(s.Scripts))
				for i, ps := range s.Scripts {
					names[i] = ps.Script.ID()
					if ps.Done {
						names[i] += " [done]"
					} else {
						pending++
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.Phase, s.Item, version.Format(s.From), s.Final, strings.Join(names, ", ")) //nolint:errcheck
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "\n%d script(s) to run.\n", pending)
			return nil
		},
	}
}
