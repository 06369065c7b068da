// Package config loads the documents a configuration is resolved from.
//
// # Overview
//
// Three kinds of documents feed a resolution:
//
//   - a target document mapping target names to target definitions
//   - one mbed_lib.json per library
//   - at most one mbed_app.json for the application
//
// Documents may be written in JSON or YAML. They are decoded into
// engine.OrderedMap so that declaration order, which decides parameter and
// macro order, survives decoding.
//
// # Schema Validation
//
// Every document is unified with a built-in CUE definition before it is
// converted into an engine.LibraryDoc:
//
//	#Library: {
//	    name:              string & =~"^[A-Za-z0-9_-]+$"
//	    config?:           {[string]: #Parameter}
//	    target_overrides?: #TargetOverrides
//	    macros?:           [...string]
//	}
//
// Library and application definitions are closed, so misspelled keys are
// reported instead of ignored. Target definitions are open because targets
// carry many attributes the resolver never reads. Schema violations are
// returned as ValidationErrors wrapped in an engine InvalidDocument or
// InvalidTarget error.
//
// # Application Discovery
//
// Without an explicit path the application document is searched in the top
// level source directories. Finding it in two directories is an error.
//
// # Usage Example
//
//	loader := config.NewLoader(config.WithLogger(logger))
//	targets, app, err := loader.LoadInputs(ctx, config.Inputs{
//	    Targets:      []string{"targets/targets.json"},
//	    TopLevelDirs: []string{"."},
//	})
//	if err != nil {
//	    return err
//	}
//
// # Thread Safety
//
// A Loader and its SchemaRegistry are safe for concurrent use.
package config
