// Package processing drives a listening session from recorded audio to
// completed notes.
//
// Process loads the session, skips it unless it is transcribing or
// synthesizing, records a retry, then runs three stages:
//
//   - transcribe: the speech-to-text chain fetches the session's audio URL.
//   - synthesize: the session moves to synthesizing, reading context is packed
//     and the LLM produces structured notes. A disabled or failing synthesizer
//     downgrades the run to degraded mode instead of failing it.
//   - complete: the listening service writes the raw note, synthesized notes,
//     transcript and artifacts.
//
// Any stage error fails the session with the stage name. Cancellation leaves
// the session untouched for the recovery sweep.
package processing
