package resolver

import (
	"github.com/mbedconf/mbedconf/pkg/params"
)

// ParamMacro is the macro generated for a parameter with a value.
type ParamMacro struct {
	Name  string            `json:"name"`
	Value string            `json:"value"`
	Param *params.Parameter `json:"-"`
}

// Compiled is the output of macro compilation.
type Compiled struct {
	// Declared are the macros declared by libraries and the application.
	Declared []params.Macro `json:"declared"`

	// Params are the macros derived from parameters with a value.
	Params []ParamMacro `json:"params"`
}

// Tokens returns the compiled macros as "NAME" or "NAME=VALUE" strings:
// declared macros first, then parameter macros.
func (m *Compiled) Tokens() []string {
	out := make([]string, 0, len(m.Declared)+len(m.Params))
	for _, macro := range m.Declared {
		out = append(out, macro.Decl)
	}
	for _, pm := range m.Params {
		out = append(out, pm.Name+"="+pm.Value)
	}
	return out
}

// Compile projects the last resolution pass into macros. It fails without
// output when a required parameter has no value.
func (c *Config) Compile() (*Compiled, error) {
	if err := c.params.CheckRequired(); err != nil {
		return nil, err
	}
	out := &Compiled{Declared: c.macros.All()}
	for _, p := range c.params.WithValues() {
		out.Params = append(out.Params, ParamMacro{
			Name:  p.MacroName,
			Value: p.ValueString(),
			Param: p,
		})
	}
	return out, nil
}

// Macros is a shorthand for Compile followed by Tokens.
func (c *Config) Macros() ([]string, error) {
	compiled, err := c.Compile()
	if err != nil {
		return nil, err
	}
	return compiled.Tokens(), nil
}
