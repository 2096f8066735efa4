package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/schemachain/config"
	"github.com/GoCodeAlone/schemachain/manifest"
)

func (c *cli) newValidateCmd() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the config and manifest without touching any database",
		Long: `Load the manifest, build and sort the item graph and report coverage
problems such as phases whose scripts can never reach an item's target.
With --strict any warning fails the command.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			phases, err := c.cfg.PhaseOrder()
			if err != nil {
				return fmt.Errorf("%w: phases: %v", config.ErrInvalidConfig, err)
			}
			p, _, err := loadProject(c.cfg, c.logger)
			if err != nil {
				return err
			}
			report := manifest.Analyze(p, phases)
			fmt.Fprint(c.stdout, report.Summary())

			warnings := report.Warnings()
			if len(warnings) > 0 {
				fmt.Fprintf(c.stdout, "%d warning(s)\n", len(warnings))
			}
			if strict && len(warnings) > 0 {
				return fmt.Errorf("%w: %d warning(s)", manifest.ErrInvalidManifest, len(warnings))
			}
			if len(warnings) == 0 {
				fmt.Fprintln(c.stdout, "OK")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "treat warnings as errors")
	return cmd
}
