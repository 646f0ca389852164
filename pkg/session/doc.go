// Package session persists conversations as one JSON record per session id.
//
// Invariants:
//   - Session ids are validated and path-safe.
//   - Turns are appended in order and never edited, except for the documented
//     reasoning-span redaction applied at save time.
//   - Saves replace the whole record atomically (temp file + rename).
//   - Remote agent and thread handles are stored on the record and are either
//     both set or both empty.
//
// Concurrent saves to the same session id from multiple processes are not a
// designed scenario; within one process a per-id mutex serializes writers.
//
// Usage:
//
//	store, _ := session.NewStore("/tmp/selune/conversations")
//	rec, _ := store.Load("b2f1…")
//	rec.Turns = append(rec.Turns, session.Turn{Role: session.RoleUser, Content: "hello"})
//	_ = store.Save("b2f1…", rec)
package session
