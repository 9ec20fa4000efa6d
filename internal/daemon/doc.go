// Package daemon coordinates the long-running marginalia process.
//
// It wires the document store, listening service, scheduler, and processing
// pipeline into a single lifecycle with flock-based locking to prevent
// multiple instances. On start it launches the scheduler, registers the
// recurring stuck-session sweep, and serves the HTTP API.
//
// The HTTP API exposes every listening-session operation as JSON, a WebSocket
// feed of session status changes with a long-poll fallback, Prometheus
// metrics, and a health probe. Caller identity arrives in the X-User-ID header
// set by the upstream auth proxy; the optional bearer token guards everything
// under /v1.
//
// Keep orchestration logic here: session semantics live in the listening
// package and the pipeline in processing, while the daemon focuses on startup,
// shutdown, and transport.
package daemon
