// Package preflight provides readiness checks for the filesystem paths and
// external providers that marginalia depends on.
//
// The CLI "marginalia doctor" command runs RunAll and prints one line per
// check; the daemon runs the local-only checks on startup and logs failures.
//
// Each check is gated by its config toggle -- disabled features are skipped.
package preflight
