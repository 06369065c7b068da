package policy

import (
	"time"

	"github.com/mbedconf/mbedconf/pkg/engine"
	"github.com/mbedconf/mbedconf/pkg/resolver"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for findings that block header generation.
	SeverityError Severity = "error"

	// SeverityCritical is for findings that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of this severity reject a configuration.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Violations are read from the
	// deny set of its package.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Subject is the parameter, macro or region the violation is about.
	Subject string `json:"subject,omitempty"`

	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Result represents the result of evaluating every enabled policy.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that failed to evaluate.
	Warnings []string `json:"warnings,omitempty"`

	EvaluatedAt       time.Time     `json:"evaluated_at"`
	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}

// Blocking returns the violations that reject the configuration.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

// Input is the document policies are evaluated against. It is a plain
// snapshot of a resolved configuration.
type Input struct {
	Target     string           `json:"target"`
	Labels     []string         `json:"labels"`
	Features   []string         `json:"features"`
	Libraries  []string         `json:"libraries"`
	Parameters []ParameterInput `json:"parameters"`
	Macros     []MacroInput     `json:"macros"`
	Regions    []engine.Region  `json:"regions,omitempty"`
	Context    *Context         `json:"context"`
}

// ParameterInput is one resolved parameter.
type ParameterInput struct {
	Name      string      `json:"name"`
	Value     interface{} `json:"value"`
	MacroName string      `json:"macro_name"`
	Required  bool        `json:"required"`
	DefinedBy string      `json:"defined_by"`
	SetBy     string      `json:"set_by"`
}

// MacroInput is one macro declared by a library or the application.
type MacroInput struct {
	Name      string `json:"name"`
	Value     string `json:"value,omitempty"`
	DefinedBy string `json:"defined_by"`
}

// Context provides context information for policy evaluation.
type Context struct {
	// Environment is a free-form name such as "release" or "debug".
	Environment string `json:"environment,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// Operation is the command being run, e.g. "header" or "validate".
	Operation string `json:"operation,omitempty"`
}

// NewInput snapshots a resolved configuration. regions may be nil when the
// target has no region layout.
func NewInput(cfg *resolver.Config, regions []engine.Region, operation string) *Input {
	in := &Input{
		Target:    cfg.Target().Name,
		Labels:    cfg.Labels(),
		Features:  cfg.Features(),
		Regions:   regions,
		Libraries: []string{},
		Context: &Context{
			Timestamp: time.Now(),
			Operation: operation,
		},
	}
	for _, lib := range cfg.Libraries() {
		in.Libraries = append(in.Libraries, lib.Name)
	}
	for _, p := range cfg.Parameters() {
		in.Parameters = append(in.Parameters, ParameterInput{
			Name:      p.Name,
			Value:     p.Value,
			MacroName: p.MacroName,
			Required:  p.Required,
			DefinedBy: p.DefinedBy.String(),
			SetBy:     p.SetBy.String(),
		})
	}
	for _, m := range cfg.DeclaredMacros() {
		in.Macros = append(in.Macros, MacroInput{
			Name:      m.Name,
			Value:     m.Value,
			DefinedBy: m.DefinedBy.String(),
		})
	}
	return in
}

// Bundle represents a collection of related policies.
type Bundle struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
	Policies    []Policy  `json:"policies"`
	CreatedAt   time.Time `json:"created_at"`
}
