// Package resolver resolves configuration parameters, cumulative target
// attributes and macros for one target from its inheritance hierarchy, a set
// of libraries and an application.
package resolver

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/mbedconf/mbedconf/pkg/engine"
	"github.com/mbedconf/mbedconf/pkg/ledger"
	"github.com/mbedconf/mbedconf/pkg/params"
	"github.com/mbedconf/mbedconf/pkg/targets"
	"github.com/mbedconf/mbedconf/pkg/telemetry"
)

// Override keys that never name a parameter but are consumed by the region
// partitioner.
const (
	KeyBootloaderImage = "target.bootloader_img"
	KeyRestrictSize    = "target.restrict_size"
)

// AllowedFeatures is the set of features a configuration may activate.
var AllowedFeatures = []string{
	"UVISOR", "BLE", "CLIENT", "IPV4", "LWIP", "COMMON_PAL", "STORAGE", "NANOSTACK",
	"LOWPAN_BORDER_ROUTER", "LOWPAN_HOST", "LOWPAN_ROUTER", "NANOSTACK_FULL",
	"THREAD_BORDER_ROUTER", "THREAD_END_DEVICE", "THREAD_ROUTER", "ETHERNET_HOST",
}

// TargetOverride is a target attribute assigned by a library or the
// application.
type TargetOverride struct {
	Value interface{} `json:"value"`
	SetBy engine.Unit `json:"set_by"`
}

// Config is the resolution aggregate of one build. It owns its target
// snapshot, documents and ledgers; it must not be shared between builds.
type Config struct {
	target   *targets.Target
	labelSet map[string]bool
	app      *engine.LibraryDoc
	libs     map[string]*engine.LibraryDoc
	libPaths map[string]bool

	ledgers         *ledger.Set
	targetOverrides map[string]TargetOverride
	softErrors      []*engine.ConfigError

	params *params.Store
	macros *params.MacroSet

	sources engine.FeatureSources
	logger  zerolog.Logger
	tracer  trace.Tracer
	metrics *telemetry.Metrics
}

// Option configures a Config.
type Option func(*Config)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) {
		c.logger = logger.With().Str("component", "resolver").Logger()
	}
}

// WithFeatureSources sets the provider of feature-gated libraries.
func WithFeatureSources(sources engine.FeatureSources) Option {
	return func(c *Config) {
		c.sources = sources
	}
}

// WithTracer sets the tracer used for resolution spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Config) {
		c.tracer = tracer
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(c *Config) {
		c.metrics = metrics
	}
}

// New creates the aggregate for target. app may be nil for an application
// without a configuration document.
func New(target *targets.Target, app *engine.LibraryDoc, opts ...Option) (*Config, error) {
	if target == nil {
		return nil, engine.NewHardError(engine.KindInvalidTarget, "no target given")
	}
	if app == nil {
		app = engine.NewApplicationDoc()
	}
	if app.Kind != engine.UnitApplication {
		return nil, engine.Hardf(engine.KindInvalidDocument,
			"%s is not an application document", app.Path)
	}
	snapshot := target.Clone()
	c := &Config{
		target:          snapshot,
		labelSet:        snapshot.LabelSet(),
		app:             app,
		libs:            make(map[string]*engine.LibraryDoc),
		libPaths:        make(map[string]bool),
		ledgers:         ledger.NewSet(),
		targetOverrides: make(map[string]TargetOverride),
		params:          params.NewStore(),
		macros:          params.NewMacroSet(),
		logger:          zerolog.Nop(),
		tracer:          otel.Tracer("mbedconf/resolver"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AddLibraries registers library documents. A document whose path was
// already registered is skipped; two libraries with the same name are an
// error. Every ledger is reset because the set of overrides in scope changed.
func (c *Config) AddLibraries(docs ...*engine.LibraryDoc) error {
	added := 0
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		if doc.Path != "" && c.libPaths[doc.Path] {
			continue
		}
		if doc.Kind != engine.UnitLibrary {
			return engine.Hardf(engine.KindInvalidDocument,
				"%s is not a library document", doc.Path).WithUnit(doc.Unit())
		}
		if existing, ok := c.libs[doc.Name]; ok {
			return engine.Hardf(engine.KindDuplicateLibrary,
				"library name '%s' is not unique (defined in '%s' and '%s')",
				doc.Name, doc.Path, existing.Path).WithUnit(doc.Unit())
		}
		c.libs[doc.Name] = doc
		if doc.Path != "" {
			c.libPaths[doc.Path] = true
		}
		added++
		c.logger.Debug().Str("library", doc.Name).Str("path", doc.Path).Msg("Library added")
	}
	if added > 0 {
		c.ledgers.Reset()
	}
	return nil
}

// Target returns the snapshot owned by this configuration.
func (c *Config) Target() *targets.Target {
	return c.target
}

// Application returns the application document.
func (c *Config) Application() *engine.LibraryDoc {
	return c.app
}

// Libraries returns the registered library documents sorted by name.
func (c *Config) Libraries() []*engine.LibraryDoc {
	out := make([]*engine.LibraryDoc, 0, len(c.libs))
	for _, name := range c.libraryNames() {
		out = append(out, c.libs[name])
	}
	return out
}

func (c *Config) libraryNames() []string {
	names := make([]string, 0, len(c.libs))
	for name := range c.libs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Name returns the application's artifact name, or "".
func (c *Config) Name() string {
	return c.app.ArtifactName
}

// Parameters returns the parameters of the last resolution pass.
func (c *Config) Parameters() []*params.Parameter {
	return c.params.All()
}

// Parameter returns one parameter of the last resolution pass.
func (c *Config) Parameter(name string) (*params.Parameter, bool) {
	return c.params.Get(name)
}

// DeclaredMacros returns the macros declared by libraries and the
// application in the last resolution pass.
func (c *Config) DeclaredMacros() []params.Macro {
	return c.macros.All()
}

// TargetOverrides returns the target attributes assigned by libraries and
// the application in the last resolution pass.
func (c *Config) TargetOverrides() map[string]TargetOverride {
	out := make(map[string]TargetOverride, len(c.targetOverrides))
	for k, v := range c.targetOverrides {
		out[k] = v
	}
	return out
}

// Attribute looks up a target attribute as seen after resolution. Cumulative
// attributes come from the ledgers, then target overrides, then a fixed set
// of pass-through attributes of the snapshot. Other names are not visible.
func (c *Config) Attribute(name string) (interface{}, bool) {
	if ledger.IsCumulative(name) {
		return c.ledgers.Resolve(name, c.target.Cumulative(name)), true
	}
	if o, ok := c.targetOverrides["target."+name]; ok {
		return o.Value, true
	}
	for _, attr := range targets.PassThroughAttributes {
		if attr == name {
			return c.target.Attr(name)
		}
	}
	return nil, false
}

// Features returns the features active after the last resolution pass.
func (c *Config) Features() []string {
	return c.ledgers.Resolve(ledger.AttrFeatures, c.target.Cumulative(ledger.AttrFeatures))
}

// Labels returns the target labels after extra_labels overrides.
func (c *Config) Labels() []string {
	extra := c.ledgers.Resolve(ledger.AttrExtraLabels, c.target.Cumulative(ledger.AttrExtraLabels))
	return c.target.LabelsWith(extra)
}

// HasRegions reports whether a bootloader image or a size restriction was
// configured.
func (c *Config) HasRegions() bool {
	_, img := c.targetOverrides[KeyBootloaderImage]
	_, size := c.targetOverrides[KeyRestrictSize]
	return img || size
}

// OverrideSetBy returns the unit that assigned the target override key, e.g.
// "target.restrict_size".
func (c *Config) OverrideSetBy(key string) (engine.Unit, bool) {
	o, ok := c.targetOverrides[key]
	return o.SetBy, ok
}

// BootloaderImage returns the configured bootloader image path, or "".
func (c *Config) BootloaderImage() string {
	o, ok := c.targetOverrides[KeyBootloaderImage]
	if !ok || o.Value == nil {
		return ""
	}
	return fmt.Sprint(o.Value)
}

// RestrictSize returns the configured application size limit. Strings are
// parsed with base prefixes, so "0x20000" is accepted.
func (c *Config) RestrictSize() (uint64, bool, error) {
	o, ok := c.targetOverrides[KeyRestrictSize]
	if !ok || o.Value == nil {
		return 0, false, nil
	}
	switch v := o.Value.(type) {
	case int:
		if v < 0 {
			break
		}
		return uint64(v), true, nil
	case int64:
		if v < 0 {
			break
		}
		return uint64(v), true, nil
	case uint64:
		return v, true, nil
	case string:
		n, err := strconv.ParseUint(strings.TrimSpace(v), 0, 64)
		if err != nil {
			return 0, false, engine.Hardf(engine.KindInvalidDocument,
				"invalid %s value '%s'", KeyRestrictSize, v).
				WithParam(KeyRestrictSize).WithUnit(o.SetBy).WithCause(err)
		}
		return n, true, nil
	}
	return 0, false, engine.Hardf(engine.KindInvalidDocument,
		"invalid %s value '%v'", KeyRestrictSize, o.Value).
		WithParam(KeyRestrictSize).WithUnit(o.SetBy)
}

// SoftErrors returns every soft error of the last resolution pass.
func (c *Config) SoftErrors() []*engine.ConfigError {
	return append([]*engine.ConfigError(nil), c.softErrors...)
}

// Validate raises the first soft error of the last resolution pass.
func (c *Config) Validate() error {
	if len(c.softErrors) > 0 {
		return c.softErrors[0]
	}
	return nil
}
