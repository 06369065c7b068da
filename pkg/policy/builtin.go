package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		macroNamingPolicy(),
		stringValuesPolicy(),
		targetScopePolicy(),
		regionLayoutPolicy(),
	}
}

// macroNamingPolicy checks that every generated macro is a C identifier.
func macroNamingPolicy() Policy {
	return Policy{
		Name:        "macro-naming",
		Description: "Macro names must be valid C identifiers and should be uppercase",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "macros"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package mbedconf.policies.naming

import rego.v1

identifier := "^[A-Za-z_][A-Za-z0-9_]*$"

names contains entry if {
	some p in input.parameters
	entry := {"name": p.macro_name, "subject": p.name}
}

names contains entry if {
	some m in input.macros
	entry := {"name": m.name, "subject": m.name}
}

deny contains violation if {
	some entry in names
	not regex.match(identifier, entry.name)
	violation := {
		"message": sprintf("Macro name '%s' is not a valid C identifier", [entry.name]),
		"severity": "error",
		"subject": entry.subject,
	}
}

deny contains violation if {
	some entry in names
	regex.match(identifier, entry.name)
	upper(entry.name) != entry.name
	violation := {
		"message": sprintf("Macro name '%s' should be uppercase", [entry.name]),
		"severity": "warning",
		"subject": entry.subject,
	}
}`,
	}
}

// stringValuesPolicy flags string values that expand to more than one
// preprocessor token.
func stringValuesPolicy() Policy {
	return Policy{
		Name:        "string-values",
		Description: "String parameter values containing whitespace should be quoted",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"macros", "values"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package mbedconf.policies.values

import rego.v1

deny contains violation if {
	some p in input.parameters
	is_string(p.value)
	regex.match("\\s", p.value)
	not startswith(p.value, "\"")
	violation := {
		"message": sprintf("Value of '%s' contains whitespace and is not quoted", [p.name]),
		"subject": p.name,
	}
}

deny contains violation if {
	some p in input.parameters
	p.value == ""
	violation := {
		"message": sprintf("Parameter '%s' is set to an empty string", [p.name]),
		"severity": "info",
		"subject": p.name,
	}
}`,
	}
}

// targetScopePolicy reports libraries that reach into target parameters.
func targetScopePolicy() Policy {
	return Policy{
		Name:        "target-scope",
		Description: "Target parameters should only be overridden by the application",
		Severity:    SeverityInfo,
		Enabled:     true,
		Tags:        []string{"overrides"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package mbedconf.policies.scope

import rego.v1

deny contains violation if {
	some p in input.parameters
	startswith(p.name, "target.")
	startswith(p.set_by, "library:")
	violation := {
		"message": sprintf("Target parameter '%s' is set by %s", [p.name, p.set_by]),
		"subject": p.name,
	}
}`,
	}
}

// regionLayoutPolicy checks the computed memory regions.
func regionLayoutPolicy() Policy {
	return Policy{
		Name:        "region-layout",
		Description: "The application region must be active and regions must not overlap",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"regions", "memory"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package mbedconf.policies.regions

import rego.v1

deny contains violation if {
	count(input.regions) > 0
	not active_application
	violation := {
		"message": "No active application region",
		"subject": "application",
	}
}

deny contains violation if {
	some r in input.regions
	r.size == 0
	violation := {
		"message": sprintf("Region '%s' is empty", [r.name]),
		"severity": "warning",
		"subject": r.name,
	}
}

deny contains violation if {
	some i, a in input.regions
	some j, b in input.regions
	i < j
	a.start < b.start + b.size
	b.start < a.start + a.size
	violation := {
		"message": sprintf("Regions '%s' and '%s' overlap", [a.name, b.name]),
		"subject": b.name,
	}
}

active_application if {
	some r in input.regions
	r.name == "application"
	r.active
	r.size > 0
}`,
	}
}
