package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRegionsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regions",
		Short: "Print the ROM layout of a bootloader or application build",
		Long: `Resolve the configuration of a target and print its ROM regions.

Regions exist when the target.bootloader_img or target.restrict_size
parameter is set. The ROM geometry of the target's device comes from the
device index given with --devices.`,
		Example: `  mbedconf regions --target K64F --devices devices.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd.Context(), "regions", stages{layout: true}, func(s *session) error {
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), s.regions)
				}
				if len(s.regions) == 0 {
					_, err := fmt.Fprintln(cmd.OutOrStdout(), "No ROM regions configured")
					return err
				}
				rows := make([][]string, 0, len(s.regions))
				for _, r := range s.regions {
					active := "no"
					if r.Active {
						active = "yes"
					}
					rows = append(rows, []string{r.Name, hex(r.Start), hex(r.Size), active, r.File})
				}
				return table(cmd.OutOrStdout(), []string{"NAME", "START", "SIZE", "ACTIVE", "FILE"}, rows)
			})
		},
	}
	return cmd
}
