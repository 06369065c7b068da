package resolver

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mbedconf/mbedconf/pkg/engine"
	"github.com/mbedconf/mbedconf/pkg/ledger"
	"github.com/mbedconf/mbedconf/pkg/telemetry"
)

// ResolveFeatures runs resolution passes until the set of active features
// stops changing. After every pass the features of the pass are checked
// against AllowedFeatures, and the libraries unlocked by newly active
// features are added. Soft errors are checked after the loop, so a nil
// result means the configuration is ready for macro compilation.
func (c *Config) ResolveFeatures(ctx context.Context) ([]string, error) {
	ctx, span := c.tracer.Start(ctx, "resolver.features")
	defer span.End()
	timer := telemetry.NewTimer()

	features, iterations, err := c.featureLoop(ctx)
	if err == nil {
		err = c.Validate()
	}
	if err == nil {
		err = c.params.CheckRequired()
	}

	span.SetAttributes(
		attribute.Int("iterations", iterations),
		attribute.StringSlice("features", features),
	)
	c.metrics.RecordResolution(c.target.Name, iterations, timer.Duration(), err)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.RecordSuccess(span)
	return features, nil
}

func (c *Config) featureLoop(ctx context.Context) ([]string, int, error) {
	loaded := make(map[string]bool)
	var prev []string
	for iteration := 1; ; iteration++ {
		features, err := c.resolveFeatureSet(ctx)
		if err != nil {
			return nil, iteration, err
		}
		c.logger.Debug().
			Int("iteration", iteration).
			Strs("features", features).
			Msg("Feature iteration")
		if equalSets(features, prev) {
			return features, iteration, nil
		}
		prev = features

		for _, feature := range features {
			if loaded[feature] || c.sources == nil {
				continue
			}
			loaded[feature] = true
			docs, err := c.sources.LibrariesFor(feature)
			if err != nil {
				return nil, iteration, err
			}
			if err := c.AddLibraries(docs...); err != nil {
				return nil, iteration, err
			}
		}
	}
}

// resolveFeatureSet runs one pass and returns its validated feature set.
func (c *Config) resolveFeatureSet(ctx context.Context) ([]string, error) {
	if err := c.Resolve(ctx); err != nil {
		return nil, err
	}
	if err := c.params.CheckRequired(); err != nil {
		return nil, err
	}
	features := c.Features()
	for _, feature := range features {
		if !isAllowedFeature(feature) {
			unit, ok := c.ledgers.AddedBy(ledger.AttrFeatures, feature)
			if !ok {
				unit = engine.TargetUnit(c.target.Name)
			}
			return nil, engine.Hardf(engine.KindUnsupportedFeature,
				"feature '%s' added by '%s' is not a supported feature", feature, unit).
				WithParam("target.features").WithUnit(unit)
		}
	}
	return features, nil
}

func isAllowedFeature(feature string) bool {
	for _, f := range AllowedFeatures {
		if f == feature {
			return true
		}
	}
	return false
}

func equalSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
