package params

import (
	"fmt"
	"strconv"

	"github.com/mbedconf/mbedconf/pkg/engine"
)

// Parameter is a single typed configuration parameter.
type Parameter struct {
	// Name is the fully qualified name, e.g. "target.baud" or "events.size".
	Name string `json:"name"`

	// Value is the current value; nil when absent.
	Value interface{} `json:"value"`

	// Required parameters must have a value when macros are compiled.
	Required bool `json:"required,omitempty"`

	// MacroName is the name of the macro generated for this parameter.
	MacroName string `json:"macro_name"`

	// Help is the optional description from the declaration.
	Help string `json:"help,omitempty"`

	// DefinedBy is the unit that declared the parameter.
	DefinedBy engine.Unit `json:"defined_by"`

	// SetBy is the unit (and label) that last assigned Value.
	SetBy engine.Unit `json:"set_by"`
}

// NewParameter builds a parameter from its declaration. data is either a
// mapping with value/required/macro_name/help keys or a shortcut value.
func NewParameter(name string, data interface{}, unit engine.Unit) (*Parameter, error) {
	fullName, err := FullName(name, unit, false)
	if err != nil {
		return nil, err
	}
	p := &Parameter{
		Name:      fullName,
		MacroName: DefaultMacroName(fullName),
		DefinedBy: unit,
	}

	def, isMap := data.(engine.OrderedMap)
	if !isMap {
		p.Set(data, unit)
		return p, nil
	}
	if help, ok := def.Get("help"); ok && help != nil {
		p.Help = fmt.Sprint(help)
	}
	if req, ok := def.Get("required"); ok {
		b, isBool := req.(bool)
		if !isBool {
			return nil, engine.Hardf(engine.KindInvalidDocument,
				"'required' of parameter '%s' in '%s' must be a boolean", fullName, unit).
				WithParam(fullName).WithUnit(unit)
		}
		p.Required = b
	}
	if macro := def.String("macro_name"); macro != "" {
		p.MacroName = macro
	}
	value, _ := def.Get("value")
	p.Set(value, unit)
	return p, nil
}

// Set assigns a value and records where it came from. Booleans are stored
// as 1 and 0.
func (p *Parameter) Set(value interface{}, unit engine.Unit) {
	p.Value = Normalize(value)
	p.SetBy = unit
}

// HasValue reports whether the parameter has a value.
func (p *Parameter) HasValue() bool {
	return p.Value != nil
}

// ValueString renders the value as it appears in macros.
func (p *Parameter) ValueString() string {
	return FormatValue(p.Value)
}

// String implements fmt.Stringer.
func (p *Parameter) String() string {
	if !p.HasValue() {
		return p.Name + " has no value"
	}
	return fmt.Sprintf("%s = %s (macro name: \"%s\")", p.Name, p.ValueString(), p.MacroName)
}

// Clone returns a copy of the parameter.
func (p *Parameter) Clone() *Parameter {
	c := *p
	return &c
}

// Normalize converts booleans to integers.
func Normalize(value interface{}) interface{} {
	if b, ok := value.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return value
}

// FormatValue renders a parameter value as macro text.
func FormatValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
