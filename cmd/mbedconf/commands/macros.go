package commands

import (
	"github.com/spf13/cobra"
)

func newMacrosCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "macros",
		Short: "Print the compiled macro list",
		Long: `Resolve the configuration of a target and print its macros.

Every parameter with a value becomes a NAME=VALUE token, followed by the
macros declared by the application and libraries. The list is sorted by
name.`,
		Example: `  # Print the macros of a target
  mbedconf macros --target K64F

  # Use an explicit target catalog and application
  mbedconf macros -t targets/targets.json --app app/mbed_app.json -m K64F`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd.Context(), "macros", stages{}, func(s *session) error {
				tokens := s.compiled.Tokens()
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), tokens)
				}
				return writeLines(cmd.OutOrStdout(), tokens)
			})
		},
	}
	return cmd
}
