package commands

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mbedconf/mbedconf/pkg/header"
	"github.com/mbedconf/mbedconf/pkg/policy"
	"github.com/mbedconf/mbedconf/pkg/watch"
)

func newWatchCommand(opts *options) *cobra.Command {
	var (
		output   string
		debounce time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-resolve whenever an input changes",
		Long: `Resolve the configuration of a target and resolve it again whenever a
target document, library or application document, bootloader image, device
index or policy changes.

Each successful resolution rewrites the header given with --output, or
prints the macros. Failed resolutions are logged and the previous output is
kept. Policies given with --policy or --builtin-policies are checked on
every resolution; edited policy files are reloaded. With --metrics-addr the
resolution and reload counters are served in Prometheus format.`,
		Example: `  # Keep BUILD/mbed_config.h up to date
  mbedconf watch --target K64F -o BUILD/mbed_config.h

  # Expose metrics while watching
  mbedconf watch --target K64F -o BUILD/mbed_config.h --metrics-addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tel, err := opts.newTelemetry()
			if err != nil {
				return err
			}
			defer func() {
				_ = tel.Shutdown(context.Background())
			}()

			if server := tel.Metrics.StartMetricsServer(); server != nil {
				log.Info().Str("address", server.Addr).Msg("Serving metrics")
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = server.Shutdown(shutdownCtx)
				}()
			}

			// One policy engine serves every reload so unchanged policy
			// files stay parsed.
			var policies *policy.Engine
			preparePolicies := func(ctx context.Context, changed []string) error {
				if !opts.usesPolicies(false) {
					return nil
				}
				if policies == nil {
					eng, err := opts.policyEngine(ctx, tel.Logger.Zerolog(), tel.Metrics, opts.builtinPolicy)
					if err != nil {
						return err
					}
					policies = eng
					return nil
				}
				if !anyPolicyFile(changed) {
					return nil
				}
				if err := policies.ReloadPolicies(ctx, changed...); err != nil {
					policies = nil
					return err
				}
				return opts.togglePolicies(policies)
			}

			build := func(ctx context.Context, changed []string) error {
				if err := preparePolicies(ctx, changed); err != nil {
					return err
				}
				s, err := opts.newSession(ctx, tel)
				if err != nil {
					return err
				}
				s.policies = policies
				return s.execute(ctx, "watch", stages{layout: true}, func() error {
					if output == "" {
						return writeLines(cmd.OutOrStdout(), s.compiled.Tokens())
					}
					if err := header.WriteFile(output, s.compiled); err != nil {
						return err
					}
					log.Info().Str("file", output).Msg("Header written")
					return nil
				})
			}
			if err := build(ctx, nil); err != nil {
				log.Error().Err(err).Msg("Resolution failed")
			}

			w := watch.New(opts.watchPaths(),
				watch.WithDebounce(debounce),
				watch.WithLogger(tel.Logger.Zerolog()),
				watch.WithMetrics(tel.Metrics),
				watch.WithMatch(isWatched),
			)
			return w.Run(ctx, func(ctx context.Context, changed []string) error {
				log.Info().Strs("changed", changed).Msg("Inputs changed")
				return build(ctx, changed)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "header file to rewrite")
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before resolving again")

	return cmd
}

// watchPaths lists every input of a resolution.
func (o *options) watchPaths() []string {
	var paths []string
	paths = append(paths, o.targetFiles...)
	if o.appConfig != "" {
		paths = append(paths, o.appConfig)
	}
	paths = append(paths, o.sourceDirs...)
	if o.devices != "" {
		paths = append(paths, o.devices)
	}
	return append(paths, o.policies...)
}

func isWatched(path string) bool {
	return watch.IsInput(path) || policy.IsPolicyFile(path)
}

func anyPolicyFile(paths []string) bool {
	for _, path := range paths {
		if policy.IsPolicyFile(path) {
			return true
		}
	}
	return false
}
