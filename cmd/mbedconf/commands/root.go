package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// options holds the persistent flags shared by every command.
type options struct {
	version string

	targetFiles []string
	target      string
	appConfig   string
	sourceDirs  []string
	devices     string

	policies        []string
	builtinPolicy   bool
	enablePolicies  []string
	disablePolicies []string

	historyPath    string
	jsonOutput     bool
	logFormat      string
	traceExporter  string
	traceEndpoint  string
	metricsAddress string
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	opts := &options{version: version}

	rootCmd := &cobra.Command{
		Use:   "mbedconf",
		Short: "mbedconf - firmware build configuration resolver",
		Long: `mbedconf resolves the configuration of an embedded firmware build.

It combines a target catalog, library documents and an application document
into a single set of parameters and emits them as C preprocessor macros.

Features:
  - Target inheritance with cumulative attributes and labels
  - Feature-driven library discovery
  - Parameter provenance for every value
  - ROM region layout for bootloader builds
  - Rego policies over the resolved configuration
  - Resolution history with diffs between builds`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringSliceVarP(&opts.targetFiles, "targets", "t", []string{"targets.json"}, "target catalog documents, merged in order")
	flags.StringVarP(&opts.target, "target", "m", "", "name of the target to build for")
	flags.StringVar(&opts.appConfig, "app", "", "application document (default: mbed_app.json in a source directory)")
	flags.StringSliceVarP(&opts.sourceDirs, "source", "s", []string{"."}, "source directories to scan for libraries")
	flags.StringVar(&opts.devices, "devices", "", "device index YAML with ROM geometry")
	flags.StringSliceVar(&opts.policies, "policy", nil, "policy files, bundles or directories")
	flags.BoolVar(&opts.builtinPolicy, "builtin-policies", false, "evaluate the built-in policies")
	flags.StringSliceVar(&opts.enablePolicies, "enable-policy", nil, "enable policies disabled by their definition")
	flags.StringSliceVar(&opts.disablePolicies, "disable-policy", nil, "skip policies by name")
	flags.StringVar(&opts.historyPath, "history", "", "SQLite database recording every resolution")
	flags.BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")
	flags.StringVar(&opts.logFormat, "log-format", "console", "log format (console, json)")
	flags.StringVar(&opts.traceExporter, "trace", "", "trace exporter (stdout, otlp); tracing is off when empty")
	flags.StringVar(&opts.traceEndpoint, "trace-endpoint", "", "OTLP collector endpoint")
	flags.StringVar(&opts.metricsAddress, "metrics-addr", "", "serve Prometheus metrics on this address (watch only)")

	rootCmd.AddCommand(newMacrosCommand(opts))
	rootCmd.AddCommand(newHeaderCommand(opts))
	rootCmd.AddCommand(newFeaturesCommand(opts))
	rootCmd.AddCommand(newParamsCommand(opts))
	rootCmd.AddCommand(newRegionsCommand(opts))
	rootCmd.AddCommand(newValidateCommand(opts))
	rootCmd.AddCommand(newPoliciesCommand(opts))
	rootCmd.AddCommand(newTargetsCommand(opts))
	rootCmd.AddCommand(newWatchCommand(opts))
	rootCmd.AddCommand(newHistoryCommand(opts))

	return rootCmd
}
