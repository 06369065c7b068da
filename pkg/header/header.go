// Package header renders compiled configuration macros as a C header.
package header

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"text/template"

	"github.com/mbedconf/mbedconf/pkg/resolver"
)

// Guard is the include guard of generated headers.
const Guard = "__MBED_CONFIG_DATA__"

const headerTemplate = `// Automatically generated configuration file.
// DO NOT EDIT, content will be overwritten.

#ifndef {{.Guard}}
#define {{.Guard}}
{{- if .Params}}

// Configuration parameters
{{- range .Params}}
#define {{pad .Name $.NameLen}} {{pad .Value $.ValueLen}} // set by {{.Origin}}
{{- end}}
{{- end}}
{{- if .Macros}}

// Macros
{{- range .Macros}}
{{- if .Value}}
#define {{pad .Name $.NameLen}} {{pad .Value $.ValueLen}} // defined by {{.Origin}}
{{- else}}
#define {{.Name}} // defined by {{.Origin}}
{{- end}}
{{- end}}
{{- end}}

#endif
`

// line is one #define of the header.
type line struct {
	Name   string
	Value  string
	Origin string
}

type data struct {
	Guard    string
	Params   []line
	Macros   []line
	NameLen  int
	ValueLen int
}

var tmpl = template.Must(template.New("header").Funcs(template.FuncMap{
	"pad": func(s string, n int) string {
		if len(s) >= n {
			return s
		}
		return s + strings.Repeat(" ", n-len(s))
	},
}).Parse(headerTemplate))

// Render writes the header for compiled to w. Names and values are aligned
// in columns across parameters and macros.
func Render(w io.Writer, compiled *resolver.Compiled) error {
	d := data{Guard: Guard}
	for _, pm := range compiled.Params {
		origin := ""
		if pm.Param != nil {
			origin = pm.Param.SetBy.String()
		}
		d.Params = append(d.Params, line{Name: pm.Name, Value: pm.Value, Origin: origin})
	}
	for _, m := range compiled.Declared {
		d.Macros = append(d.Macros, line{Name: m.Name, Value: m.Value, Origin: m.DefinedBy.String()})
	}
	for _, l := range append(append([]line(nil), d.Params...), d.Macros...) {
		d.NameLen = max(d.NameLen, len(l.Name))
		d.ValueLen = max(d.ValueLen, len(l.Value))
	}

	if err := tmpl.Execute(w, d); err != nil {
		return fmt.Errorf("failed to render header: %w", err)
	}
	return nil
}

// String renders the header into a string.
func String(compiled *resolver.Compiled) (string, error) {
	var buf bytes.Buffer
	if err := Render(&buf, compiled); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// WriteFile renders the header into path, replacing any existing file.
func WriteFile(path string, compiled *resolver.Compiled) error {
	content, err := String(compiled)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write header %s: %w", path, err)
	}
	return nil
}
