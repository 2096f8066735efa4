package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func (c *cli) newGraphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Print the items in execution order",
		Long: `Print the sorted item sequence. A container appears twice: where it opens,
before its children, and at its head after them. Phase work for the
container runs at its head.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			_, seq, err := loadProject(c.cfg, c.logger)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(c.stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "#\tRANK\tITEM\tKIND\tTARGET\tREQUIRES") //nolint:errcheck
			fmt.Fprintln(w, "-\t----\t----\t----\t------\t--------") //nolint:errcheck
			for _, e := range seq.Entries {
				kind, requires := e.Item.Kind.String(), ""
				if e.IsContainerHead() {
					kind = "head"
				} else {
					refs := make([]string, len(e.Item.Requires))
					for i, r := range e.Item.Requires {
						refs[i] = r.String()
					}
					requires = strings.Join(refs, ", ")
				}
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\n", e.Index, e.Rank, e.FullName, kind, e.Item.Target, requires) //nolint:errcheck
			}
			if err := w.Flush(); err != nil {
				return err
			}
			for _, n := range seq.Notes {
				fmt.Fprintf(c.stdout, "note: %s\n", n)
			}
			return nil
		},
	}
}
