package params

import (
	"strings"

	"github.com/mbedconf/mbedconf/pkg/engine"
)

// Macro is a preprocessor macro declared directly by a library or the
// application.
type Macro struct {
	// Decl is the declaration text, "NAME" or "NAME=VALUE".
	Decl string `json:"decl"`

	// Name is the bare macro name.
	Name string `json:"name"`

	// Value is the macro value; meaningful only when HasValue is set.
	Value string `json:"value,omitempty"`

	// HasValue distinguishes "NAME" from "NAME=".
	HasValue bool `json:"has_value"`

	// DefinedBy is the declaring unit.
	DefinedBy engine.Unit `json:"defined_by"`
}

// ParseMacro parses a single declaration.
func ParseMacro(decl string, unit engine.Unit) (Macro, error) {
	m := Macro{Decl: decl, Name: decl, DefinedBy: unit}
	if !strings.Contains(decl, "=") {
		return m, nil
	}
	parts := strings.Split(decl, "=")
	if len(parts) != 2 || parts[0] == "" {
		return Macro{}, engine.Hardf(engine.KindInvalidMacro,
			"invalid macro definition '%s' in '%s'", decl, unit).
			WithParam(decl).WithUnit(unit)
	}
	m.Name, m.Value, m.HasValue = parts[0], parts[1], true
	return m, nil
}

// MacroSet collects macro declarations keyed by bare name, in first
// declaration order.
type MacroSet struct {
	order  []string
	macros map[string]Macro
}

// NewMacroSet creates an empty set.
func NewMacroSet() *MacroSet {
	return &MacroSet{macros: make(map[string]Macro)}
}

// Declare adds the declarations of one unit. Redeclaring a name is only
// allowed with identical declaration text.
func (s *MacroSet) Declare(decls []string, unit engine.Unit) error {
	for _, decl := range decls {
		m, err := ParseMacro(decl, unit)
		if err != nil {
			return err
		}
		existing, ok := s.macros[m.Name]
		if ok {
			if existing.Decl != m.Decl {
				return engine.Hardf(engine.KindInvalidMacro,
					"macro '%s' defined in both '%s' and '%s' with incompatible values",
					m.Name, existing.DefinedBy, unit).
					WithParam(m.Name).WithUnit(unit).WithDefinedBy(existing.DefinedBy)
			}
			continue
		}
		s.macros[m.Name] = m
		s.order = append(s.order, m.Name)
	}
	return nil
}

// All returns the macros in declaration order.
func (s *MacroSet) All() []Macro {
	out := make([]Macro, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.macros[name])
	}
	return out
}

// Tokens returns the declaration text of every macro.
func (s *MacroSet) Tokens() []string {
	out := make([]string, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.macros[name].Decl)
	}
	return out
}

// Len returns the number of distinct macros.
func (s *MacroSet) Len() int {
	return len(s.order)
}
