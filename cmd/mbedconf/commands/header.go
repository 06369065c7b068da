package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mbedconf/mbedconf/pkg/header"
)

func newHeaderCommand(opts *options) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "header",
		Short: "Generate the configuration header",
		Long: `Resolve the configuration of a target and render it as a C header.

Each parameter macro is annotated with the unit that set its value. The
header is written to stdout unless --output is given.`,
		Example: `  # Print the header
  mbedconf header --target K64F

  # Write it next to the build outputs
  mbedconf header --target K64F -o BUILD/mbed_config.h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd.Context(), "header", stages{}, func(s *session) error {
				if output == "" {
					return header.Render(cmd.OutOrStdout(), s.compiled)
				}
				if err := header.WriteFile(output, s.compiled); err != nil {
					return err
				}
				log.Info().Str("file", output).Int("macros", len(s.compiled.Tokens())).Msg("Header written")
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "header file to write")

	return cmd
}
