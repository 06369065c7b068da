// Package engine provides the shared types, collaborator interfaces and
// error surface of the mbedconf configuration resolution engine.
//
// # Overview
//
// A build configuration is resolved from three layers, in precedence order:
//
//  1. Targets - the inheritance hierarchy of the selected target, processed
//     from the most distant ancestor to the target itself
//  2. Libraries - every library document in scope, in name order
//  3. Application - the application document, processed last
//
// Each layer can declare parameters (config), override parameters and
// cumulative attributes (overrides / target_overrides) and, for libraries and
// the application, declare literal macros.
//
// # Core Types
//
//   - Unit: identity of a declaring layer, used for provenance
//   - Condition: Always or TargetHasLabel, gates a target_overrides section
//   - OrderedMap: a decoded document that keeps declaration order
//   - LibraryDoc: a library or application document
//   - Region: one segment of a flash layout
//
// # Collaborators
//
// The engine talks to the outside world through three narrow interfaces:
//
//   - DeviceIndex: ROM geometry keyed by device name
//   - ImageInspector: address range of a bootloader image
//   - FeatureSources: library documents unlocked by a feature
//
// # Error Classification
//
// Every failure is a *ConfigError carrying the offending parameter, the unit
// (and label) that triggered it and, where applicable, the unit that defined
// the conflicting entity.
//
//   - Hard errors abort the resolution pass immediately
//   - Soft errors ("attempt to override undefined parameter") are collected
//     and only the first one is raised at the validation checkpoint
//
// Use errors.Is with the Err* sentinels to test for a kind:
//
//	if errors.Is(err, engine.ErrRegionOverflow) {
//	    // ...
//	}
package engine
