// Package api defines the wire-format types for the daemon's HTTP API and
// converts internal listening models into them.
//
// # Key Types
//
// SessionView: transport representation of a listening session. It never
// carries the audio URL; recordings are only visible inside the daemon.
//
// Request types (StartSessionRequest, TranscribingRequest, ...) mirror the
// listening service operations; the caller identity comes from the request
// header, never from the body.
//
// ErrorResponse and StatusForError: domain and infrastructure errors mapped to
// HTTP status codes by error kind (validation 400, authorization 404, conflict
// 409, anything else 500). Authorization failures answer 404 so a caller
// cannot probe for sessions they do not own.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for JavaScript/TypeScript consumers. Timestamps
// use RFC3339 with milliseconds in UTC.
package api
