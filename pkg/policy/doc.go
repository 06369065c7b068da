// Package policy evaluates Open Policy Agent (OPA) policies against resolved
// configurations.
//
// A resolved configuration is snapshotted into an Input: the target name,
// labels, features, libraries, parameters with their provenance, declared
// macros and, when the target has a region layout, the memory regions.
// Every enabled policy is evaluated against that document and contributes
// the elements of its deny set as violations.
//
// # Writing Policies
//
// Policies are Rego v1 modules. An element of the deny set is either a
// message or an object with message, severity and subject keys:
//
//	package org.baud
//
//	import rego.v1
//
//	deny contains violation if {
//	    some p in input.parameters
//	    p.name == "target.baud"
//	    p.value < 115200
//	    violation := {"message": "baud rate too slow", "subject": p.name}
//	}
//
// Violations with error or critical severity make Result.Allowed false.
//
// A JSON file holds either one policy definition (name, rego, severity,
// enabled) or a bundle: a name, a version and a policies list of such
// definitions.
//
// # Built-in Policies
//
//   - macro-naming: macro names are C identifiers and uppercase
//   - string-values: string values with whitespace are quoted
//   - target-scope: reports libraries that set target parameters
//   - region-layout: the application region is active and nothing overlaps
//
// # Usage
//
//	eng, err := policy.NewEngine(logger, policy.WithMetrics(metrics))
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"policies/", "release.bundle.json"}); err != nil {
//	    return err
//	}
//	result, err := eng.Evaluate(ctx, policy.NewInput(cfg, regions, "header"))
//
// # Thread Safety
//
// The Engine is safe for concurrent use. Parsed policy files are cached;
// Engine.ReloadPolicies rereads the files that changed.
package policy
