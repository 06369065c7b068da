package commands

import (
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mbedconf/mbedconf/pkg/policy"
)

func newPoliciesCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "Inspect the policies validate evaluates",
		Long: `List the built-in policies and the policies loaded with --policy, with the
--enable-policy and --disable-policy toggles applied.`,
	}

	cmd.AddCommand(newPoliciesListCommand(opts))
	cmd.AddCommand(newPoliciesShowCommand(opts))

	return cmd
}

func newPoliciesListCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List policies",
		Example: `  # Built-in and project policies
  mbedconf policies list --policy policies/ --disable-policy string-values`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := opts.policyEngine(cmd.Context(), log.Logger, nil, true)
			if err != nil {
				return err
			}
			policies := eng.ListPolicies()
			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), policies)
			}

			rows := make([][]string, 0, len(policies))
			for _, p := range policies {
				rows = append(rows, []string{
					p.Name,
					string(p.Severity),
					strconv.FormatBool(p.Enabled),
					policySource(p),
					p.Description,
				})
			}
			return table(cmd.OutOrStdout(), []string{"NAME", "SEVERITY", "ENABLED", "SOURCE", "DESCRIPTION"}, rows)
		},
	}
}

func newPoliciesShowCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Print the Rego source of a policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := opts.policyEngine(cmd.Context(), log.Logger, nil, true)
			if err != nil {
				return err
			}
			p, err := eng.GetPolicy(args[0])
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), p)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), p.Rego)
			return err
		},
	}
}

// policySource names where a policy came from: a file, a bundle or "builtin".
func policySource(p policy.Policy) string {
	if bundle, ok := p.Metadata["bundle"].(string); ok {
		return "bundle:" + bundle
	}
	if path, ok := p.Metadata["source"].(string); ok {
		return path
	}
	return "builtin"
}
