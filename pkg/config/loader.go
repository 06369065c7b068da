package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mbedconf/mbedconf/pkg/engine"
)

// Loader reads and validates target, library and application documents.
type Loader struct {
	schemas   *SchemaRegistry
	validator *validator.Validate
	logger    zerolog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger.With().Str("component", "config").Logger()
	}
}

// WithSchemaRegistry replaces the built-in schema registry.
func WithSchemaRegistry(sr *SchemaRegistry) Option {
	return func(l *Loader) {
		l.schemas = sr
	}
}

// NewLoader creates a new document loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		schemas:   NewSchemaRegistry(),
		validator: validator.New(),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Schemas returns the schema registry.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.schemas
}

// DecodeFile reads a JSON or YAML document, keeping key order.
func (l *Loader) DecodeFile(path string) (engine.OrderedMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Decode(path, data)
}

// Decode parses a JSON or YAML document, keeping key order. name is used
// in error messages only.
func Decode(name string, data []byte) (engine.OrderedMap, error) {
	var doc engine.OrderedMap
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, engine.Hardf(engine.KindInvalidDocument,
			"could not parse configuration from %s", name).WithCause(err)
	}
	return doc, nil
}

// LoadTargets loads and merges target documents. Every target is checked
// against the target schema; a target defined twice is an error.
func (l *Loader) LoadTargets(ctx context.Context, paths ...string) (engine.OrderedMap, error) {
	var merged engine.OrderedMap
	origin := make(map[string]string)
	for _, path := range paths {
		doc, err := l.DecodeFile(path)
		if err != nil {
			return nil, err
		}
		for _, e := range doc {
			if prev, ok := origin[e.Key]; ok {
				return nil, engine.Hardf(engine.KindInvalidTarget,
					"target '%s' defined in both '%s' and '%s'", e.Key, prev, path)
			}
			if err := l.validateTarget(ctx, path, e); err != nil {
				return nil, err
			}
			origin[e.Key] = path
			merged = append(merged, e)
		}
		l.logger.Debug().Str("path", path).Int("targets", len(doc)).Msg("Target document loaded")
	}
	return merged, nil
}

// WithCustomTargets appends the application's custom targets to a target
// document. Targets already defined take precedence.
func (l *Loader) WithCustomTargets(ctx context.Context, targets engine.OrderedMap, app *engine.LibraryDoc) (engine.OrderedMap, error) {
	if app == nil || len(app.CustomTargets) == 0 {
		return targets, nil
	}
	out := append(engine.OrderedMap(nil), targets...)
	for _, e := range app.CustomTargets {
		if targets.Has(e.Key) {
			l.logger.Warn().Str("target", e.Key).Msg("Custom target shadowed by a built-in target")
			continue
		}
		if err := l.validateTarget(ctx, app.Path, e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (l *Loader) validateTarget(ctx context.Context, path string, e engine.Entry) error {
	block, ok := e.Value.(engine.OrderedMap)
	if !ok {
		return engine.Hardf(engine.KindInvalidTarget,
			"target '%s' in %s must be a mapping", e.Key, path)
	}
	if err := l.schemas.ValidateAgainstSchema(ctx, SchemaTarget, block); err != nil {
		return engine.Hardf(engine.KindInvalidTarget,
			"target '%s' in %s does not match the target schema", e.Key, path).WithCause(err)
	}
	return nil
}

// LoadLibrary loads a library document.
func (l *Loader) LoadLibrary(ctx context.Context, path string) (*engine.LibraryDoc, error) {
	return l.loadDocument(ctx, engine.UnitLibrary, SchemaLibrary, path)
}

// LoadApplication loads an application document. An empty path yields an
// empty application.
func (l *Loader) LoadApplication(ctx context.Context, path string) (*engine.LibraryDoc, error) {
	if path == "" {
		return engine.NewApplicationDoc(), nil
	}
	return l.loadDocument(ctx, engine.UnitApplication, SchemaApplication, path)
}

// ParseLibrary validates and builds a library document from raw bytes.
func (l *Loader) ParseLibrary(ctx context.Context, path string, data []byte) (*engine.LibraryDoc, error) {
	doc, err := Decode(path, data)
	if err != nil {
		return nil, err
	}
	return l.buildDocument(ctx, engine.UnitLibrary, SchemaLibrary, path, doc)
}

// ParseApplication validates and builds an application document from raw
// bytes.
func (l *Loader) ParseApplication(ctx context.Context, path string, data []byte) (*engine.LibraryDoc, error) {
	doc, err := Decode(path, data)
	if err != nil {
		return nil, err
	}
	return l.buildDocument(ctx, engine.UnitApplication, SchemaApplication, path, doc)
}

func (l *Loader) loadDocument(ctx context.Context, kind engine.UnitKind, schema, path string) (*engine.LibraryDoc, error) {
	doc, err := l.DecodeFile(path)
	if err != nil {
		return nil, err
	}
	return l.buildDocument(ctx, kind, schema, path, doc)
}

func (l *Loader) buildDocument(ctx context.Context, kind engine.UnitKind, schema, path string, doc engine.OrderedMap) (*engine.LibraryDoc, error) {
	if err := l.schemas.ValidateAgainstSchema(ctx, schema, doc); err != nil {
		return nil, engine.Hardf(engine.KindInvalidDocument,
			"%s does not match the %s schema", path, schema).WithCause(err)
	}
	lib, err := engine.DocumentFromMap(kind, path, doc)
	if err != nil {
		return nil, err
	}
	if err := l.validator.Struct(lib); err != nil {
		return nil, engine.Hardf(engine.KindInvalidDocument,
			"%s validation failed", path).WithCause(err)
	}
	l.logger.Debug().
		Str("path", path).
		Str("unit", lib.Unit().String()).
		Int("parameters", len(lib.Config)).
		Int("override_sections", len(lib.TargetOverrides)).
		Msg("Document loaded")
	return lib, nil
}

// FindApplication searches the top level directories for the application
// document. Finding more than one is an error; finding none returns "".
func FindApplication(dirs []string) (string, error) {
	found := ""
	for _, dir := range dirs {
		path := filepath.Join(dir, AppConfigName)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		if found != "" {
			return "", engine.Hardf(engine.KindInvalidDocument,
				"duplicate '%s' file in '%s' and '%s'", AppConfigName, found, path)
		}
		found = path
	}
	return found, nil
}

// LoadInputs loads the target document and the application of a build. The
// application's custom targets are merged into the returned targets.
func (l *Loader) LoadInputs(ctx context.Context, in Inputs) (engine.OrderedMap, *engine.LibraryDoc, error) {
	if err := l.validator.Struct(in); err != nil {
		return nil, nil, fmt.Errorf("invalid inputs: %w", err)
	}
	appPath := in.AppConfig
	if appPath == "" {
		var err error
		if appPath, err = FindApplication(in.TopLevelDirs); err != nil {
			return nil, nil, err
		}
	}
	app, err := l.LoadApplication(ctx, appPath)
	if err != nil {
		return nil, nil, err
	}
	targets, err := l.LoadTargets(ctx, in.Targets...)
	if err != nil {
		return nil, nil, err
	}
	targets, err = l.WithCustomTargets(ctx, targets, app)
	if err != nil {
		return nil, nil, err
	}
	return targets, app, nil
}
