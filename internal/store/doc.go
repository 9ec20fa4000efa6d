// Package store persists listening sessions, notes, transcripts, artifacts,
// and library books in SQLite.
//
// The schema ships embedded (schema.sql) and is versioned through the
// schema_version table; a mismatch is reported rather than migrated. Writes
// retry on SQLITE_BUSY with bounded backoff. Session updates are versioned:
// the row only changes when the caller holds the current version, which is how
// concurrent transitions on one session are detected. A partial unique index
// enforces one active session per (user, book).
//
// Timestamps are stored as fixed-width UTC text so that range predicates on
// updated_at compare correctly as strings.
package store
