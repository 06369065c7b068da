package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newTargetsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "Inspect the target catalog",
		Long: `Inspect the target catalog, including the application's custom targets.

Targets inherit from one or more parents. The resolution order lists a
target and its ancestors by inheritance depth; the first ancestor declaring
an attribute wins.`,
	}

	cmd.AddCommand(newTargetsListCommand(opts))
	cmd.AddCommand(newTargetsShowCommand(opts))
	cmd.AddCommand(newTargetsGraphCommand(opts))

	return cmd
}

func newTargetsListCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List target names",
		Example: `  mbedconf targets list -t targets.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close(cmd.Context())

			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), s.catalog.Names())
			}
			return writeLines(cmd.OutOrStdout(), s.catalog.Names())
		},
	}
}

// targetReport is the summary of one target.
type targetReport struct {
	Name            string   `json:"name"`
	ResolutionOrder []string `json:"resolution_order"`
	Labels          []string `json:"labels"`
	Features        []string `json:"features"`
	Core            string   `json:"core,omitempty"`
	Device          string   `json:"device_name,omitempty"`
	Public          bool     `json:"public"`
}

func newTargetsShowCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "show NAME",
		Short:   "Show the resolved attributes of a target",
		Args:    cobra.ExactArgs(1),
		Example: `  mbedconf targets show K64F`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close(cmd.Context())

			target, err := s.catalog.Target(args[0])
			if err != nil {
				return err
			}
			report := targetReport{
				Name:     target.Name,
				Labels:   target.Labels,
				Features: target.Cumulative("features"),
				Core:     target.String("core"),
				Device:   target.String("device_name"),
				Public:   target.Bool("public"),
			}
			for _, a := range target.ResolutionOrder {
				report.ResolutionOrder = append(report.ResolutionOrder, a.Name)
			}

			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Name:             %s\n", report.Name)
			fmt.Fprintf(w, "Resolution order: %s\n", strings.Join(report.ResolutionOrder, ", "))
			fmt.Fprintf(w, "Labels:           %s\n", strings.Join(report.Labels, ", "))
			fmt.Fprintf(w, "Features:         %s\n", strings.Join(report.Features, ", "))
			fmt.Fprintf(w, "Core:             %s\n", report.Core)
			fmt.Fprintf(w, "Device:           %s\n", report.Device)
			_, err = fmt.Fprintf(w, "Public:           %t\n", report.Public)
			return err
		},
	}
}

func newTargetsGraphCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "graph",
		Short:   "Render the inheritance graph in DOT format",
		Example: `  mbedconf targets graph | dot -Tsvg > targets.svg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close(cmd.Context())

			_, err = fmt.Fprint(cmd.OutOrStdout(), s.catalog.Graph().ToDOT())
			return err
		},
	}
}
