package targets

import (
	"strings"

	"github.com/mbedconf/mbedconf/pkg/engine"
	"github.com/mbedconf/mbedconf/pkg/ledger"
)

// CumulativeAttributes are accumulated through inheritance with "_add" and
// "_remove" keys instead of being overwritten.
var CumulativeAttributes = ledger.Attributes

// PassThroughAttributes are the plain target attributes visible through a
// resolved configuration.
var PassThroughAttributes = []string{
	"name",
	"core",
	"device_name",
	"bootloader_supported",
	"default_toolchain",
	"supported_toolchains",
	"public",
}

// Target is a resolved snapshot of one target and its ancestors.
type Target struct {
	Name            string     `json:"name"`
	ResolutionOrder []Ancestor `json:"resolution_order"`
	Labels          []string   `json:"labels"`

	blocks     map[string]engine.OrderedMap
	reachable  map[string]map[string]bool
	cumulative map[string][]string
	labelSet   map[string]bool
}

// Block returns the declaration block of an ancestor.
func (t *Target) Block(name string) engine.OrderedMap {
	return t.blocks[name]
}

// Inherits reports whether from has an inheritance path to to. A target
// inherits from itself.
func (t *Target) Inherits(from, to string) bool {
	return t.reachable[from][to]
}

// HasLabel reports whether the target carries label.
func (t *Target) HasLabel(label string) bool {
	return t.labelSet[label]
}

// LabelSet returns the label set used to evaluate override conditions.
func (t *Target) LabelSet() map[string]bool {
	out := make(map[string]bool, len(t.labelSet))
	for k, v := range t.labelSet {
		out[k] = v
	}
	return out
}

// Cumulative returns the inherited value of a cumulative attribute.
func (t *Target) Cumulative(attr string) []string {
	return append([]string(nil), t.cumulative[attr]...)
}

// Attr returns a plain attribute from the nearest ancestor declaring it.
// "public" is never inherited and defaults to true.
func (t *Target) Attr(name string) (interface{}, bool) {
	switch name {
	case "name":
		return t.Name, true
	case "public":
		v, ok := t.blocks[t.Name].Get("public")
		if !ok {
			return true, true
		}
		return v, true
	}
	for _, a := range t.ResolutionOrder {
		if v, ok := t.blocks[a.Name].Get(name); ok {
			return v, true
		}
	}
	return nil, false
}

// String returns a string attribute, or "".
func (t *Target) String(name string) string {
	v, _ := t.Attr(name)
	s, _ := v.(string)
	return s
}

// Bool returns a boolean attribute, false when absent.
func (t *Target) Bool(name string) bool {
	v, _ := t.Attr(name)
	b, _ := v.(bool)
	return b
}

// LabelsWith returns the label set computed with a different extra_labels
// value, as after configuration overrides were applied.
func (t *Target) LabelsWith(extraLabels []string) []string {
	labels := make([]string, 0, len(t.ResolutionOrder)+len(extraLabels))
	seen := make(map[string]bool)
	for _, a := range t.ResolutionOrder {
		if !seen[a.Name] {
			seen[a.Name] = true
			labels = append(labels, a.Name)
		}
	}
	for _, l := range extraLabels {
		if !seen[l] {
			seen[l] = true
			labels = append(labels, l)
		}
	}
	return labels
}

// Clone returns a deep copy of the snapshot.
func (t *Target) Clone() *Target {
	c := &Target{
		Name:            t.Name,
		ResolutionOrder: append([]Ancestor(nil), t.ResolutionOrder...),
		Labels:          append([]string(nil), t.Labels...),
		blocks:          make(map[string]engine.OrderedMap, len(t.blocks)),
		reachable:       make(map[string]map[string]bool, len(t.reachable)),
		cumulative:      make(map[string][]string, len(t.cumulative)),
		labelSet:        t.LabelSet(),
	}
	for name, block := range t.blocks {
		c.blocks[name] = block.Clone()
	}
	for name, set := range t.reachable {
		cp := make(map[string]bool, len(set))
		for k, v := range set {
			cp[k] = v
		}
		c.reachable[name] = cp
	}
	for attr, values := range t.cumulative {
		c.cumulative[attr] = append([]string(nil), values...)
	}
	return c
}

func (t *Target) computeLabels() {
	t.Labels = t.LabelsWith(t.cumulative[ledger.AttrExtraLabels])
	t.labelSet = make(map[string]bool, len(t.Labels))
	for _, l := range t.Labels {
		t.labelSet[l] = true
	}
}

// resolveCumulative starts from the nearest ancestor declaring attr and
// applies the "_add" and "_remove" keys of every closer ancestor, level by
// level towards the target.
func (t *Target) resolveCumulative(attr string) ([]string, error) {
	defIdx := -1
	for i, a := range t.ResolutionOrder {
		if t.blocks[a.Name].Has(attr) {
			defIdx = i
			break
		}
	}
	if defIdx < 0 {
		return nil, nil
	}
	value := t.blocks[t.ResolutionOrder[defIdx].Name].Strings(attr)

	for level := t.ResolutionOrder[defIdx].Level - 1; level >= 0; level-- {
		for _, a := range t.ResolutionOrder {
			if a.Level != level {
				continue
			}
			block := t.blocks[a.Name]
			for _, item := range block.Strings(attr + "_add") {
				if !contains(value, item) {
					value = append(value, item)
				}
			}
			removals := block.Strings(attr + "_remove")
			if len(removals) == 0 {
				continue
			}
			byName := make(map[string]string, len(value))
			for _, v := range value {
				name, _, _ := strings.Cut(v, "=")
				byName[name] = v
			}
			for _, item := range removals {
				full, ok := byName[item]
				if !ok {
					return nil, engine.Hardf(engine.KindInvalidTarget,
						"unable to remove '%s' in '%s.%s' since it doesn't exist", item, t.Name, attr).
						WithParam("target." + attr).WithUnit(engine.TargetUnit(a.Name))
				}
				value = without(value, full)
			}
		}
	}
	return value, nil
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}

func without(list []string, item string) []string {
	out := list[:0]
	for _, v := range list {
		if v != item {
			out = append(out, v)
		}
	}
	return out
}
