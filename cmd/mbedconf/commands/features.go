package commands

import (
	"github.com/spf13/cobra"
)

func newFeaturesCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "features",
		Short: "Print the resolved feature set",
		Long: `Resolve the configuration of a target and print its features.

Features come from the target's cumulative features attribute and from
target.features_add/target.features_remove overrides. Enabling a feature
loads the libraries under its FEATURE_<name> directories, which may change
the feature set again; resolution repeats until the set is stable.`,
		Example: `  mbedconf features --target K64F`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd.Context(), "features", stages{}, func(s *session) error {
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), s.features)
				}
				return writeLines(cmd.OutOrStdout(), s.features)
			})
		},
	}
	return cmd
}
