package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mbedconf/mbedconf/pkg/policy"
)

func newValidateCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration",
		Long: `Resolve the configuration of a target and validate it.

Validation performs every check of a build without producing output:
  - Target and document schemas
  - Override and label rules
  - Required parameters
  - ROM region layout
  - Built-in and user-supplied Rego policies

Policy violations of severity error or critical fail validation.`,
		Example: `  # Validate with the built-in policies
  mbedconf validate --target K64F

  # Add project policies
  mbedconf validate --target K64F --policy policies/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close(cmd.Context())

			err = s.execute(cmd.Context(), "validate", stages{layout: true, policies: true}, nil)
			if s.result != nil {
				if werr := writeResult(cmd, opts, s.result); werr != nil {
					return werr
				}
			}
			if err != nil {
				return err
			}
			log.Info().Str("target", opts.target).Msg("Configuration is valid")
			return nil
		},
	}
	return cmd
}

func writeResult(cmd *cobra.Command, opts *options, result *policy.Result) error {
	if opts.jsonOutput {
		return writeJSON(cmd.OutOrStdout(), result)
	}
	if len(result.Violations) == 0 {
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "%d policies passed\n", len(result.EvaluatedPolicies))
		return err
	}
	rows := make([][]string, 0, len(result.Violations))
	for _, v := range result.Violations {
		rows = append(rows, []string{string(v.Severity), v.Policy, v.Subject, v.Message})
	}
	return table(cmd.OutOrStdout(), []string{"SEVERITY", "POLICY", "SUBJECT", "MESSAGE"}, rows)
}
