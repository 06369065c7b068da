package engine

import (
	"fmt"
)

// UnitKind is the layer a configuration unit belongs to.
type UnitKind string

const (
	// UnitTarget is one node of the target inheritance hierarchy.
	UnitTarget UnitKind = "target"

	// UnitLibrary is an independently authored library.
	UnitLibrary UnitKind = "library"

	// UnitApplication is the application being built.
	UnitApplication UnitKind = "application"
)

// AppUnitName is the scope prefix of application parameters.
const AppUnitName = "app"

// Unit identifies the source of a declaration: the unit that declared it and,
// for label-gated overrides, the label section it came from.
type Unit struct {
	Name  string   `json:"name"`
	Kind  UnitKind `json:"kind"`
	Label string   `json:"label,omitempty"`
}

// TargetUnit returns the unit for a target node.
func TargetUnit(name string) Unit {
	return Unit{Name: name, Kind: UnitTarget}
}

// LibraryUnit returns the unit for a library.
func LibraryUnit(name string) Unit {
	return Unit{Name: name, Kind: UnitLibrary}
}

// ApplicationUnit returns the unit for the application.
func ApplicationUnit() Unit {
	return Unit{Name: AppUnitName, Kind: UnitApplication}
}

// WithLabel returns a copy of u attributed to a label section.
func (u Unit) WithLabel(label string) Unit {
	u.Label = label
	return u
}

// Scope is the prefix of parameters declared by this unit.
func (u Unit) Scope() string {
	switch u.Kind {
	case UnitTarget:
		return "target"
	case UnitApplication:
		return AppUnitName
	default:
		return u.Name
	}
}

// String returns the display name used in provenance and error messages,
// e.g. "target:K64F", "library:events[*]" or "application[K64F]".
func (u Unit) String() string {
	label := ""
	if u.Label != "" {
		label = "[" + u.Label + "]"
	}
	switch u.Kind {
	case UnitTarget:
		return "target:" + u.Name
	case UnitApplication:
		return "application" + label
	default:
		return "library:" + u.Name + label
	}
}

// WildcardLabel is the label key whose overrides always apply.
const WildcardLabel = "*"

// Condition gates a block of overrides. The zero value matches nothing.
type Condition struct {
	always bool
	label  string
}

// Always returns the condition that matches every target.
func Always() Condition {
	return Condition{always: true}
}

// TargetHasLabel returns a condition that matches targets carrying label.
func TargetHasLabel(label string) Condition {
	return Condition{label: label}
}

// ParseCondition converts a target_overrides key into a condition.
func ParseCondition(key string) Condition {
	if key == WildcardLabel {
		return Always()
	}
	return TargetHasLabel(key)
}

// IsAlways reports whether the condition is unconditional.
func (c Condition) IsAlways() bool {
	return c.always
}

// Label returns the label key, "*" for Always.
func (c Condition) Label() string {
	if c.always {
		return WildcardLabel
	}
	return c.label
}

// Matches evaluates the condition against a target's label set. An empty
// label never matches.
func (c Condition) Matches(labels map[string]bool) bool {
	if c.always {
		return true
	}
	return c.label != "" && labels[c.label]
}

// LabeledOverrides is one section of a target_overrides block.
type LabeledOverrides struct {
	Condition Condition
	Overrides OrderedMap
}

// LibraryDoc is a schema-checked library or application document.
type LibraryDoc struct {
	// Name is the library name; "app" for the application.
	Name string `json:"name" validate:"required"`

	// Kind is UnitLibrary or UnitApplication.
	Kind UnitKind `json:"kind" validate:"required,oneof=library application"`

	// Path is the file the document was read from, if any.
	Path string `json:"path,omitempty"`

	// Config holds parameter declarations in declaration order.
	Config OrderedMap `json:"config,omitempty"`

	// TargetOverrides holds override sections in declaration order.
	TargetOverrides []LabeledOverrides `json:"-"`

	// Macros are bare NAME or NAME=VALUE declarations.
	Macros []string `json:"macros,omitempty"`

	// ArtifactName is the application's output name.
	ArtifactName string `json:"artifact_name,omitempty"`

	// CustomTargets are target definitions supplied by the application.
	CustomTargets OrderedMap `json:"custom_targets,omitempty"`
}

// Unit returns the unit identity of the document.
func (d *LibraryDoc) Unit() Unit {
	if d.Kind == UnitApplication {
		return ApplicationUnit()
	}
	return LibraryUnit(d.Name)
}

// NewApplicationDoc returns an empty application document.
func NewApplicationDoc() *LibraryDoc {
	return &LibraryDoc{Name: AppUnitName, Kind: UnitApplication}
}

// DocumentFromMap builds a LibraryDoc from a decoded document.
func DocumentFromMap(kind UnitKind, path string, m OrderedMap) (*LibraryDoc, error) {
	doc := &LibraryDoc{
		Kind:         kind,
		Path:         path,
		Config:       m.Map("config"),
		Macros:       m.Strings("macros"),
		ArtifactName: m.String("artifact_name"),
	}
	if kind == UnitApplication {
		doc.CustomTargets = m.Map("custom_targets")
	}
	if kind == UnitApplication {
		doc.Name = AppUnitName
	} else {
		doc.Name = m.String("name")
		if doc.Name == "" {
			return nil, Hardf(KindInvalidDocument, "library document %s has no name", path)
		}
	}
	overrides, ok := m.Get("target_overrides")
	if ok {
		sections, isMap := overrides.(OrderedMap)
		if !isMap {
			return nil, Hardf(KindInvalidDocument, "target_overrides in %s must be a mapping", path)
		}
		for _, section := range sections {
			block, isMap := section.Value.(OrderedMap)
			if !isMap {
				return nil, Hardf(KindInvalidDocument,
					"target_overrides[%s] in %s must be a mapping", section.Key, path)
			}
			doc.TargetOverrides = append(doc.TargetOverrides, LabeledOverrides{
				Condition: ParseCondition(section.Key),
				Overrides: block,
			})
		}
	}
	return doc, nil
}

// Region is a contiguous segment of the target's ROM.
type Region struct {
	Name   string `json:"name"`
	Start  uint64 `json:"start"`
	Size   uint64 `json:"size"`
	Active bool   `json:"active"`
	File   string `json:"file,omitempty"`
}

// End returns the first address after the region.
func (r Region) End() uint64 {
	return r.Start + r.Size
}

// String formats a region for reports.
func (r Region) String() string {
	file := "-"
	if r.File != "" {
		file = r.File
	}
	return fmt.Sprintf("%-16s 0x%08x 0x%08x active=%t %s", r.Name, r.Start, r.Size, r.Active, file)
}

// ROM is the flash geometry of a device.
type ROM struct {
	Start uint64 `json:"start" yaml:"start"`
	Size  uint64 `json:"size" yaml:"size" validate:"gt=0"`
}

// ImageExtent is the address range occupied by a firmware image.
type ImageExtent struct {
	MinAddr uint64
	MaxAddr uint64
}

// Size returns the number of bytes spanned by the image.
func (e ImageExtent) Size() uint64 {
	return e.MaxAddr - e.MinAddr + 1
}
