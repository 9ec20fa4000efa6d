// Package main hosts the marginalia CLI.
//
// The Cobra command tree covers configuration scaffolding, session inspection
// against the local document store, and operator actions (stuck session
// listing, recovery sweeps, context packing) that go through the daemon's
// HTTP API. Diagnostics live under `marginalia doctor`, `marginalia logs`,
// and `marginalia test-notify`.
//
// Keep commands thin: behavior belongs in the internal packages and is only
// surfaced here.
package main
