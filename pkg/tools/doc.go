// Package tools registers external capabilities as named, schema-described
// functions the remote agent may invoke mid-run.
//
// Invariants:
//   - Tool names are unique; registration happens at startup.
//   - Arguments are schema-validated before the handler runs.
//   - Invoke never fails: lookup misses, validation errors and handler panics
//     all come back as human-readable result text, because the remote agent
//     treats any returned text as valid tool output.
//
// Handlers should be idempotent for identical arguments where feasible, for
// safe retry by the remote run scheduler. This is advisory, not enforced.
package tools
