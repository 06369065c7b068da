package resolver

import (
	"context"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mbedconf/mbedconf/pkg/engine"
	"github.com/mbedconf/mbedconf/pkg/ledger"
	"github.com/mbedconf/mbedconf/pkg/params"
	"github.com/mbedconf/mbedconf/pkg/telemetry"
)

// Resolve runs one full resolution pass: target ancestors from the most
// distant to the target itself, then libraries by name, then the
// application. Soft errors are collected for Validate; hard errors abort the
// pass.
func (c *Config) Resolve(ctx context.Context) error {
	_, span := c.tracer.Start(ctx, "resolver.resolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("target.name", c.target.Name),
		attribute.Int("libraries", len(c.libs)),
	)

	pass := &pass{
		config:          c,
		store:           params.NewStore(),
		macros:          params.NewMacroSet(),
		ledgers:         ledger.NewSet(),
		targetOverrides: make(map[string]TargetOverride),
	}

	if err := pass.targets(); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	for _, name := range c.libraryNames() {
		if err := pass.unit(c.libs[name]); err != nil {
			telemetry.RecordError(span, err)
			return err
		}
	}
	if err := pass.unit(c.app); err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	c.params = pass.store
	c.macros = pass.macros
	c.ledgers = pass.ledgers
	c.targetOverrides = pass.targetOverrides
	c.softErrors = pass.softErrors

	span.SetAttributes(
		attribute.Int("parameters", c.params.Len()),
		attribute.Int("soft_errors", len(c.softErrors)),
	)
	c.logger.Debug().
		Str("target", c.target.Name).
		Int("parameters", c.params.Len()).
		Int("macros", c.macros.Len()).
		Int("soft_errors", len(c.softErrors)).
		Msg("Resolution pass complete")
	return nil
}

// pass holds the state built by one resolution pass.
type pass struct {
	config          *Config
	store           *params.Store
	macros          *params.MacroSet
	ledgers         *ledger.Set
	targetOverrides map[string]TargetOverride
	softErrors      []*engine.ConfigError
}

// targets processes the target layers. Ancestors at the same level keep
// their resolution order.
func (p *pass) targets() error {
	t := p.config.target
	order := append(t.ResolutionOrder[:0:0], t.ResolutionOrder...)
	sort.SliceStable(order, func(i, j int) bool {
		return order[i].Level > order[j].Level
	})

	for _, a := range order {
		unit := engine.TargetUnit(a.Name)
		block := t.Block(a.Name)
		if err := p.store.DeclareAll(block.Map("config"), unit); err != nil {
			return err
		}
		overrides := block.Map("overrides")
		if err := p.cumulative(overrides, unit); err != nil {
			return err
		}
		for _, e := range overrides {
			if err := p.targetOverride(a.Name, e.Key, e.Value); err != nil {
				return err
			}
		}
		p.config.logger.Debug().Str("layer", unit.String()).Int("level", a.Level).Msg("Layer processed")
	}
	return nil
}

// targetOverride applies one override of a target layer. The overriding
// target must inherit from the target that declared the parameter.
func (p *pass) targetOverride(targetName, key string, value interface{}) error {
	unit := engine.TargetUnit(targetName)
	fullName, err := params.FullName(key, unit, true)
	if err != nil {
		return err
	}
	if _, _, ok := ledger.ParseKey(fullName); ok {
		return nil
	}
	if fullName == KeyBootloaderImage || fullName == KeyRestrictSize {
		p.targetOverrides[fullName] = TargetOverride{Value: value, SetBy: unit}
		return nil
	}
	param, ok := p.store.Get(fullName)
	if !ok || !p.config.target.Inherits(targetName, param.DefinedBy.Name) {
		err := engine.Hardf(engine.KindUndefinedParameter,
			"attempt to override undefined parameter '%s' in '%s'", key, unit).
			WithParam(fullName).WithUnit(unit)
		if ok {
			err = err.WithDefinedBy(param.DefinedBy)
		}
		return err
	}
	param.Set(value, unit)
	return nil
}

// unit processes a library or the application: declarations, macros, then
// every override section whose condition matches the target.
func (p *pass) unit(doc *engine.LibraryDoc) error {
	unit := doc.Unit()
	if err := p.store.DeclareAll(doc.Config, unit); err != nil {
		return err
	}
	if err := p.macros.Declare(doc.Macros, unit); err != nil {
		return err
	}

	for _, section := range doc.TargetOverrides {
		if !section.Condition.Matches(p.config.labelSet) {
			continue
		}
		labeled := unit.WithLabel(section.Condition.Label())
		if unit.Kind == engine.UnitLibrary {
			for _, key := range section.Overrides.Keys() {
				if strings.HasPrefix(key, "target.extra_labels") {
					return engine.Hardf(engine.KindScopeViolation,
						"target override '%s' in '%s' is only allowed at the application level",
						key, labeled).WithParam(key).WithUnit(labeled)
				}
			}
		}
		if err := p.cumulative(section.Overrides, labeled); err != nil {
			return err
		}
		for _, e := range section.Overrides {
			if err := p.override(e.Key, e.Value, labeled); err != nil {
				return err
			}
		}
	}
	p.config.logger.Debug().Str("layer", unit.String()).Msg("Layer processed")
	return nil
}

// cumulative routes the cumulative attribute keys of an override block to
// the ledgers: per attribute the strict replacement first, then additions,
// then removals, independent of key order.
func (p *pass) cumulative(overrides engine.OrderedMap, unit engine.Unit) error {
	type slot struct {
		attr string
		op   ledger.Op
	}
	pending := make(map[slot][]string)
	for _, e := range overrides {
		fullName, err := params.FullName(e.Key, unit, true)
		if err != nil {
			return err
		}
		if attr, op, ok := ledger.ParseKey(fullName); ok {
			s := slot{attr: attr, op: op}
			pending[s] = append(pending[s], engine.ToStrings(e.Value)...)
		}
	}
	for _, attr := range ledger.Attributes {
		for _, op := range []ledger.Op{ledger.OpStrict, ledger.OpAdd, ledger.OpRemove} {
			items, ok := pending[slot{attr: attr, op: op}]
			if !ok {
				continue
			}
			if err := p.ledgers.Apply(attr, op, items, unit); err != nil {
				return err
			}
		}
	}
	return nil
}

// override applies one library or application override.
func (p *pass) override(key string, value interface{}, unit engine.Unit) error {
	fullName, err := params.FullName(key, unit, true)
	if err != nil {
		return err
	}
	if _, _, ok := ledger.ParseKey(fullName); ok {
		return nil
	}
	if param, ok := p.store.Get(fullName); ok {
		param.Set(value, unit)
		return nil
	}
	if strings.HasPrefix(fullName, "target.") {
		p.targetOverrides[fullName] = TargetOverride{Value: value, SetBy: unit}
		return nil
	}
	p.softErrors = append(p.softErrors, engine.NewSoftError(engine.KindUndefinedParameter,
		"attempt to override undefined parameter '"+fullName+"' in '"+unit.String()+"'").
		WithParam(fullName).WithUnit(unit))
	return nil
}
