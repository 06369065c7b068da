package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mbedconf/mbedconf/pkg/config"
	"github.com/mbedconf/mbedconf/pkg/engine"
	"github.com/mbedconf/mbedconf/pkg/policy"
	"github.com/mbedconf/mbedconf/pkg/regions"
	"github.com/mbedconf/mbedconf/pkg/resolver"
	"github.com/mbedconf/mbedconf/pkg/sources"
	"github.com/mbedconf/mbedconf/pkg/stores"
	"github.com/mbedconf/mbedconf/pkg/targets"
	"github.com/mbedconf/mbedconf/pkg/telemetry"
)

// session holds the loaded inputs of one command and the results of
// resolving them.
type session struct {
	opts    *options
	tel     *telemetry.Telemetry
	logger  zerolog.Logger
	loader  *config.Loader
	appPath string
	app     *engine.LibraryDoc
	catalog *targets.Catalog

	// policies is reused across sessions in watch mode; otherwise it is
	// built on first use.
	policies *policy.Engine

	cfg      *resolver.Config
	features []string
	compiled *resolver.Compiled
	regions  []engine.Region
	result   *policy.Result
}

// stages selects the optional steps of a resolution.
type stages struct {
	layout   bool
	policies bool
}

func (o *options) telemetryConfig() *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if o.version != "" {
		cfg.ServiceVersion = o.version
	}
	cfg.Logging.Level = logLevel()
	cfg.Logging.Format = o.logFormat
	if o.traceExporter != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = o.traceExporter
		cfg.Tracing.Endpoint = o.traceEndpoint
	}
	if o.metricsAddress != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddress = o.metricsAddress
	}
	return cfg
}

// logLevel follows the global level set from LOG_LEVEL.
func logLevel() string {
	switch level := zerolog.GlobalLevel(); level {
	case zerolog.TraceLevel, zerolog.DebugLevel, zerolog.InfoLevel,
		zerolog.WarnLevel, zerolog.ErrorLevel, zerolog.FatalLevel:
		return level.String()
	}
	return "info"
}

func (o *options) newTelemetry() (*telemetry.Telemetry, error) {
	tel, err := telemetry.NewTelemetry(o.telemetryConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	return tel, nil
}

// newSession loads the target catalog and application using tel.
func (o *options) newSession(ctx context.Context, tel *telemetry.Telemetry) (*session, error) {
	logger := tel.Logger.Zerolog()
	s := &session{
		opts:   o,
		tel:    tel,
		logger: logger,
		loader: config.NewLoader(config.WithLogger(logger)),
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// open sets up telemetry and starts a session. close shuts the telemetry
// down.
func (o *options) open(ctx context.Context) (*session, error) {
	tel, err := o.newTelemetry()
	if err != nil {
		return nil, err
	}
	s, err := o.newSession(ctx, tel)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	return s, nil
}

func (s *session) load(ctx context.Context) error {
	s.appPath = s.opts.appConfig
	if s.appPath == "" {
		path, err := config.FindApplication(s.opts.sourceDirs)
		if err != nil {
			return err
		}
		s.appPath = path
	}

	doc, app, err := s.loader.LoadInputs(ctx, config.Inputs{
		Targets:      s.opts.targetFiles,
		AppConfig:    s.appPath,
		TopLevelDirs: s.opts.sourceDirs,
	})
	if err != nil {
		return err
	}
	s.app = app

	s.catalog, err = targets.NewCatalog(doc, s.logger)
	return err
}

func (s *session) close(ctx context.Context) {
	if err := s.tel.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}

// resolve runs the feature loop for the selected target and compiles the
// macros.
func (s *session) resolve(ctx context.Context) error {
	if s.opts.target == "" {
		return fmt.Errorf("a target is required (--target)")
	}
	target, err := s.catalog.Target(s.opts.target)
	if err != nil {
		return err
	}

	tree, err := sources.NewScanner(s.loader, target.Labels, sources.WithLogger(s.logger)).
		Scan(ctx, s.opts.sourceDirs...)
	if err != nil {
		return err
	}

	s.cfg, err = resolver.New(target, s.app,
		resolver.WithLogger(s.logger),
		resolver.WithFeatureSources(tree),
		resolver.WithTracer(s.tel.Tracer.Tracer()),
		resolver.WithMetrics(s.tel.Metrics),
	)
	if err != nil {
		return err
	}
	if err := s.cfg.AddLibraries(tree.Libraries()...); err != nil {
		return err
	}

	if s.features, err = s.cfg.ResolveFeatures(ctx); err != nil {
		return err
	}
	s.compiled, err = s.cfg.Compile()
	return err
}

// layout computes the ROM regions of a configuration that has any.
func (s *session) layout() error {
	if !s.cfg.HasRegions() {
		return nil
	}
	var devices engine.DeviceIndex
	if s.opts.devices != "" {
		catalog, err := regions.LoadDevices(s.opts.devices)
		if err != nil {
			return err
		}
		devices = catalog
	}

	baseDir := "."
	if s.appPath != "" {
		baseDir = filepath.Dir(s.appPath)
	}
	partitioner := regions.NewPartitioner(devices, nil,
		regions.WithBaseDir(baseDir),
		regions.WithLogger(s.logger),
	)

	var err error
	s.regions, err = partitioner.Partition(s.cfg)
	return err
}

// policyEngine builds a policy engine with the --policy paths loaded and
// the --enable-policy and --disable-policy toggles applied.
func (o *options) policyEngine(ctx context.Context, logger zerolog.Logger, metrics *telemetry.Metrics, builtin bool) (*policy.Engine, error) {
	opts := []policy.Option{policy.WithMetrics(metrics)}
	if !builtin {
		opts = append(opts, policy.WithoutBuiltins())
	}
	eng, err := policy.NewEngine(logger, opts...)
	if err != nil {
		return nil, err
	}
	if len(o.policies) > 0 {
		if err := eng.LoadPolicies(ctx, o.policies); err != nil {
			return nil, err
		}
	}
	if err := o.togglePolicies(eng); err != nil {
		return nil, err
	}
	return eng, nil
}

// togglePolicies applies --enable-policy and --disable-policy. Reloading an
// engine resets the toggles, so this runs again after every reload.
func (o *options) togglePolicies(eng *policy.Engine) error {
	for _, name := range o.enablePolicies {
		if err := eng.EnablePolicy(name); err != nil {
			return err
		}
	}
	for _, name := range o.disablePolicies {
		if err := eng.DisablePolicy(name); err != nil {
			return err
		}
	}
	return nil
}

// usesPolicies reports whether any policy is evaluated.
func (o *options) usesPolicies(builtin bool) bool {
	return builtin || o.builtinPolicy || len(o.policies) > 0
}

// checkPolicies evaluates the configured policies. Blocking violations fail
// the command.
func (s *session) checkPolicies(ctx context.Context, operation string, builtin bool) error {
	if !s.opts.usesPolicies(builtin) {
		return nil
	}

	if s.policies == nil {
		eng, err := s.opts.policyEngine(ctx, s.logger, s.tel.Metrics, builtin || s.opts.builtinPolicy)
		if err != nil {
			return err
		}
		s.policies = eng
	}

	var err error
	s.result, err = s.policies.Evaluate(ctx, policy.NewInput(s.cfg, s.regions, operation))
	if err != nil {
		return err
	}
	for _, v := range s.result.Violations {
		s.logger.Warn().
			Str("policy", v.Policy).
			Str("severity", string(v.Severity)).
			Str("subject", v.Subject).
			Msg(v.Message)
	}
	if blocking := s.result.Blocking(); len(blocking) > 0 {
		return fmt.Errorf("configuration rejected by %d policy violation(s)", len(blocking))
	}
	return nil
}

// record saves the outcome of a resolution to the history database.
// Failures to record are logged and do not fail the command.
func (s *session) record(ctx context.Context, timer *telemetry.Timer, resErr error) {
	if s.opts.historyPath == "" {
		return
	}
	rec := stores.NewResolution(s.opts.target, s.appPath)
	if s.cfg != nil {
		rec.SetConfig(s.cfg)
	}
	if s.compiled != nil {
		rec.SetMacros(s.compiled.Tokens())
	}
	if s.result != nil {
		rec.SetPolicyResult(s.result)
	}
	if resErr != nil {
		rec.Fail(resErr)
	}
	rec.Duration = timer.Duration()

	err := withStore(ctx, s.opts.historyPath, func(store stores.Store) error {
		return store.SaveResolution(ctx, rec)
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("history", s.opts.historyPath).Msg("Failed to record resolution")
		return
	}
	s.logger.Debug().Str("id", rec.ID).Str("status", string(rec.Status)).Msg("Resolution recorded")
}

// execute resolves the selected target, runs the requested stages and
// then fn. The outcome is recorded in the history database.
func (s *session) execute(ctx context.Context, operation string, st stages, fn func() error) error {
	op := telemetry.StartOperation(s.tel.WithContext(ctx), operation,
		attribute.String("target", s.opts.target))
	err := s.resolve(op.Ctx)
	if err == nil && st.layout {
		err = s.layout()
	}
	if err == nil {
		err = s.checkPolicies(op.Ctx, operation, st.policies)
	}
	if err == nil && fn != nil {
		err = fn()
	}
	op.End(err)
	s.record(ctx, op.Timer, err)
	return err
}

// run opens a session, executes one resolution and closes it.
func (o *options) run(ctx context.Context, operation string, st stages, fn func(*session) error) error {
	s, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer s.close(ctx)
	return s.execute(ctx, operation, st, func() error { return fn(s) })
}

// withStore opens the history database, migrating it when needed.
func withStore(ctx context.Context, path string, fn func(stores.Store) error) error {
	if path != stores.MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create history directory: %w", err)
		}
	}
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	return fn(store)
}
