package config

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue/errors"
)

// Document file names.
const (
	AppConfigName = "mbed_app.json"
	LibConfigName = "mbed_lib.json"
)

// ValidationError represents a schema violation with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the document path of the violation (e.g., "config.baud").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

// String formats the error as "path: message".
func (e ValidationError) String() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// ValidationErrors is the error returned by schema validation.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.String()
	}
	return strings.Join(msgs, "\n")
}

// Inputs names the documents of one build.
type Inputs struct {
	// Targets are target documents, merged in order.
	Targets []string `json:"targets" validate:"required,min=1"`

	// AppConfig is an explicit application document. When empty the
	// application document is searched in TopLevelDirs.
	AppConfig string `json:"app_config,omitempty"`

	// TopLevelDirs are the source roots.
	TopLevelDirs []string `json:"top_level_dirs,omitempty"`
}

// convertCUEErrors converts a CUE error into ValidationErrors.
func convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors
	for _, e := range errors.Errors(err) {
		ve := ValidationError{
			Path:     strings.Join(e.Path(), "."),
			Message:  errors.Details(e, nil),
			Severity: "error",
		}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: fmt.Sprint(err), Severity: "error"})
	}
	return out
}
