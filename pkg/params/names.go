package params

import (
	"strings"

	"github.com/mbedconf/mbedconf/pkg/engine"
)

// MacroPrefix is prepended to derived parameter macro names.
const MacroPrefix = "MBED_CONF_"

// FullName returns the fully qualified name of a parameter declared or
// overridden by unit. Unprefixed names get the unit's scope. Prefixed names
// are only accepted when allowPrefix is set, and then only with a prefix the
// unit may address: targets may only use "target", libraries "target" or
// their own name. The application may address any scope.
func FullName(name string, unit engine.Unit, allowPrefix bool) (string, error) {
	if !strings.Contains(name, ".") {
		return unit.Scope() + "." + name, nil
	}
	if !allowPrefix {
		return "", engine.Hardf(engine.KindInvalidParameterName,
			"invalid parameter name '%s' in '%s'", name, unit).
			WithParam(name).WithUnit(unit)
	}
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", engine.Hardf(engine.KindInvalidParameterName,
			"invalid parameter name '%s' in '%s'", name, unit).
			WithParam(name).WithUnit(unit)
	}
	prefix := parts[0]
	switch unit.Kind {
	case engine.UnitLibrary:
		if prefix != unit.Name && prefix != "target" {
			return "", invalidPrefix(prefix, name, unit)
		}
	case engine.UnitTarget:
		if prefix != "target" {
			return "", invalidPrefix(prefix, name, unit)
		}
	}
	return name, nil
}

func invalidPrefix(prefix, name string, unit engine.Unit) error {
	return engine.Hardf(engine.KindInvalidPrefix,
		"invalid prefix '%s' for parameter name '%s' in '%s'", prefix, name, unit).
		WithParam(name).WithUnit(unit)
}

// Sanitize turns a name into a valid C macro identifier fragment.
func Sanitize(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

// DefaultMacroName derives the macro name of a fully qualified parameter.
func DefaultMacroName(fullName string) string {
	return MacroPrefix + Sanitize(strings.ToUpper(fullName))
}
