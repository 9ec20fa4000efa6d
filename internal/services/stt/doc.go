// Package stt transcribes recorded listening-session audio with hosted
// speech-to-text providers.
//
// Audio is never uploaded from this process: each provider fetches the
// recording directly from its storage URL. ElevenLabs Scribe and Deepgram
// Nova-3 are supported, and Chain tries a primary provider before an optional
// fallback. EstimateCostUSD converts a recording duration into an approximate
// provider charge.
package stt
