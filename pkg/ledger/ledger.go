// Package ledger tracks additions, removals and strict replacements of the
// set-valued target attributes while configuration layers are resolved.
package ledger

import (
	"sort"
	"strings"

	"github.com/mbedconf/mbedconf/pkg/engine"
)

// Cumulative attributes recognized by the resolver.
const (
	AttrFeatures    = "features"
	AttrExtraLabels = "extra_labels"
	AttrMacros      = "macros"
	AttrDeviceHas   = "device_has"
)

// Attributes lists the cumulative attributes in a fixed order.
var Attributes = []string{AttrFeatures, AttrExtraLabels, AttrMacros, AttrDeviceHas}

// Op is the ledger operation encoded in an override key.
type Op int

const (
	// OpStrict replaces the attribute value ("target.features").
	OpStrict Op = iota

	// OpAdd adds items ("target.features_add").
	OpAdd

	// OpRemove removes items ("target.features_remove").
	OpRemove
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpRemove:
		return "remove"
	default:
		return "strict"
	}
}

// IsCumulative reports whether attr is a cumulative attribute.
func IsCumulative(attr string) bool {
	for _, a := range Attributes {
		if a == attr {
			return true
		}
	}
	return false
}

// ParseKey recognizes a fully qualified override key that targets a
// cumulative attribute, e.g. "target.device_has_remove".
func ParseKey(key string) (attr string, op Op, ok bool) {
	name, found := strings.CutPrefix(key, "target.")
	if !found {
		return "", OpStrict, false
	}
	if a, cut := strings.CutSuffix(name, "_add"); cut && IsCumulative(a) {
		return a, OpAdd, true
	}
	if a, cut := strings.CutSuffix(name, "_remove"); cut && IsCumulative(a) {
		return a, OpRemove, true
	}
	if IsCumulative(name) {
		return name, OpStrict, true
	}
	return "", OpStrict, false
}

// Override is the pending state of one cumulative attribute. Every pending
// item remembers the unit that recorded it.
type Override struct {
	Name      string
	additions map[string]engine.Unit
	removals  map[string]engine.Unit
	strict    bool
}

// NewOverride creates an empty ledger for attr.
func NewOverride(attr string) *Override {
	o := &Override{Name: attr}
	o.Reset()
	return o
}

// Reset clears all pending state.
func (o *Override) Reset() {
	o.additions = make(map[string]engine.Unit)
	o.removals = make(map[string]engine.Unit)
	o.strict = false
}

// Strict reports whether a strict replacement was applied.
func (o *Override) Strict() bool {
	return o.strict
}

// Additions returns the pending additions, sorted.
func (o *Override) Additions() []string {
	return sortedKeys(o.additions)
}

// Removals returns the pending removals, sorted.
func (o *Override) Removals() []string {
	return sortedKeys(o.removals)
}

// AddedBy returns the unit that recorded item as an addition.
func (o *Override) AddedBy(item string) (engine.Unit, bool) {
	unit, ok := o.additions[item]
	return unit, ok
}

// Add records items as pending additions. An item pending removal is a
// conflict.
func (o *Override) Add(items []string, unit engine.Unit) error {
	for _, item := range items {
		if prev, ok := o.removals[item]; ok {
			return o.conflict(item, unit, prev)
		}
	}
	for _, item := range items {
		o.additions[item] = unit
	}
	return nil
}

// Remove records items as pending removals. An item pending addition is a
// conflict.
func (o *Override) Remove(items []string, unit engine.Unit) error {
	for _, item := range items {
		if prev, ok := o.additions[item]; ok {
			return o.conflict(item, unit, prev)
		}
	}
	for _, item := range items {
		o.removals[item] = unit
	}
	return nil
}

// ReplaceStrict removes the pending additions that are not in items, adds
// items and marks the ledger strict. Withdrawing an addition is a removal of
// a pending addition, so it conflicts like Remove does.
func (o *Override) ReplaceStrict(items []string, unit engine.Unit) error {
	keep := make(map[string]bool, len(items))
	for _, item := range items {
		keep[item] = true
	}
	var withdrawn []string
	for _, item := range o.Additions() {
		if !keep[item] {
			withdrawn = append(withdrawn, item)
		}
	}
	if err := o.Remove(withdrawn, unit); err != nil {
		return err
	}
	if err := o.Add(items, unit); err != nil {
		return err
	}
	o.strict = true
	return nil
}

// Apply dispatches an operation.
func (o *Override) Apply(op Op, items []string, unit engine.Unit) error {
	switch op {
	case OpAdd:
		return o.Add(items, unit)
	case OpRemove:
		return o.Remove(items, unit)
	default:
		return o.ReplaceStrict(items, unit)
	}
}

// Resolve returns the effective value against base, sorted.
func (o *Override) Resolve(base []string) []string {
	if o.strict {
		return sortedKeys(o.additions)
	}
	set := make(map[string]bool, len(base)+len(o.additions))
	for _, item := range base {
		set[item] = true
	}
	for item := range o.additions {
		set[item] = true
	}
	for item := range o.removals {
		delete(set, item)
	}
	return sortedKeys(set)
}

// conflict reports item as both added and removed. unit is the current
// operation, previous the unit that recorded the opposite operation.
func (o *Override) conflict(item string, unit, previous engine.Unit) error {
	return engine.Hardf(engine.KindOverrideConflict,
		"configuration conflict: %s item %s is both added and removed (by '%s' and '%s')",
		o.Name, item, previous, unit).
		WithParam("target." + o.Name).WithUnit(unit).WithDefinedBy(previous)
}

func sortedKeys[V any](set map[string]V) []string {
	out := make([]string, 0, len(set))
	for item := range set {
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}

// Set holds one Override per cumulative attribute.
type Set struct {
	overrides map[string]*Override
}

// NewSet creates ledgers for every cumulative attribute.
func NewSet() *Set {
	s := &Set{overrides: make(map[string]*Override, len(Attributes))}
	for _, attr := range Attributes {
		s.overrides[attr] = NewOverride(attr)
	}
	return s
}

// Get returns the ledger of attr.
func (s *Set) Get(attr string) (*Override, bool) {
	o, ok := s.overrides[attr]
	return o, ok
}

// Apply routes an operation on attr, attributing conflicts to unit.
func (s *Set) Apply(attr string, op Op, items []string, unit engine.Unit) error {
	o, ok := s.overrides[attr]
	if !ok {
		return engine.Hardf(engine.KindInvalidParameterName,
			"'%s' is not a cumulative attribute", attr).WithParam(attr).WithUnit(unit)
	}
	return o.Apply(op, items, unit)
}

// AddedBy returns the unit that added item to attr.
func (s *Set) AddedBy(attr, item string) (engine.Unit, bool) {
	o, ok := s.overrides[attr]
	if !ok {
		return engine.Unit{}, false
	}
	return o.AddedBy(item)
}

// Resolve returns the effective value of attr against base.
func (s *Set) Resolve(attr string, base []string) []string {
	o, ok := s.overrides[attr]
	if !ok {
		return append([]string(nil), base...)
	}
	return o.Resolve(base)
}

// Reset clears every ledger.
func (s *Set) Reset() {
	for _, o := range s.overrides {
		o.Reset()
	}
}
