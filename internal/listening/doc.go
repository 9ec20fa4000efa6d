// Package listening implements the listening-session pipeline: the session
// state machine, the idempotent completion pipeline that turns a transcript
// and synthesis output into notes, transcript and artifact records, and the
// stuck-session recovery sweep.
//
// Storage, scheduling, and event fan-out are injected through the small
// interfaces in repository.go, so the package holds no I/O of its own. Every
// transition re-reads the session, re-checks ownership, validates the move
// against the transition table, and only then writes. Writes use optimistic
// versioning; a lost race re-runs the whole operation against fresh state.
//
// Multi-record effects (session patch, note upserts, transcript and artifact
// inserts) are ordered but not atomic as a unit. Existence checks before
// inserts and self-loop transitions make partial re-execution safe.
package listening
