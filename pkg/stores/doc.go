// Package stores records the history of configuration resolutions in
// SQLite. Every resolution keeps its target, features, libraries, resolved
// parameters with their provenance and the policy violations reported for
// it, so consecutive builds of a target can be compared with Diff.
//
// The schema is managed with embedded golang-migrate migrations; file
// databases run in WAL mode.
package stores
