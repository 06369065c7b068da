package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/mbedconf/mbedconf/pkg/params"
)

// paramReport is the JSON form of one parameter.
type paramReport struct {
	Name      string      `json:"name"`
	Value     interface{} `json:"value"`
	MacroName string      `json:"macro_name"`
	Required  bool        `json:"required,omitempty"`
	Help      string      `json:"help,omitempty"`
	DefinedBy string      `json:"defined_by"`
	SetBy     string      `json:"set_by"`
}

func newParamsCommand(opts *options) *cobra.Command {
	var (
		all    bool
		prefix string
	)

	cmd := &cobra.Command{
		Use:   "params",
		Short: "Report parameters with their provenance",
		Long: `Resolve the configuration of a target and report every parameter.

For each parameter the report shows its value, the macro it compiles to,
the unit that declared it and the unit that last set it. Units are the
target, a library, or the application, with the label of a target-specific
override when one applied.`,
		Example: `  # Parameters with a value
  mbedconf params --target K64F

  # Include unset parameters, restricted to one library
  mbedconf params --target K64F --all --prefix events.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd.Context(), "params", stages{}, func(s *session) error {
				var selected []*params.Parameter
				for _, p := range s.cfg.Parameters() {
					if !strings.HasPrefix(p.Name, prefix) || (!all && !p.HasValue()) {
						continue
					}
					selected = append(selected, p)
				}

				if opts.jsonOutput {
					report := make([]paramReport, 0, len(selected))
					for _, p := range selected {
						report = append(report, paramReport{
							Name:      p.Name,
							Value:     p.Value,
							MacroName: p.MacroName,
							Required:  p.Required,
							Help:      p.Help,
							DefinedBy: p.DefinedBy.String(),
							SetBy:     p.SetBy.String(),
						})
					}
					return writeJSON(cmd.OutOrStdout(), report)
				}

				rows := make([][]string, 0, len(selected))
				for _, p := range selected {
					value := "-"
					if p.HasValue() {
						value = p.ValueString()
					}
					rows = append(rows, []string{p.Name, value, p.MacroName, p.DefinedBy.String(), p.SetBy.String()})
				}
				return table(cmd.OutOrStdout(), []string{"NAME", "VALUE", "MACRO", "DEFINED BY", "SET BY"}, rows)
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include parameters without a value")
	cmd.Flags().StringVar(&prefix, "prefix", "", "only parameters whose name starts with prefix")

	return cmd
}
