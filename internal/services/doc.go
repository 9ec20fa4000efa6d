// Package services defines shared utilities consumed by the processing
// pipeline and its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp session IDs, stage names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that keep failures
//     classifiable after they cross package boundaries.
//   - ErrorKind, which maps any error onto the small vocabulary the HTTP layer
//     translates into status codes.
//
// Provider clients live in subpackages (llm, stt).
package services
