// Package llm provides an OpenAI-compatible chat completion client used to
// synthesize listening-session notes.
//
// The client sends a system and user prompt, requests a JSON object response,
// and returns the model's content together with token usage. Responses that
// arrive in legacy text, streaming delta, or tool-call argument form are
// accepted. DecodeLLMJSON tolerates code fences and leading prose around the
// JSON payload.
//
// # Configuration
//
// Requires api_key, model, and optionally base_url, referer, title, timeout.
// When synthesis is disabled or unconfigured, callers complete sessions in
// degraded mode without synthesized notes.
//
// # Retry Behaviour
//
// The client retries on HTTP 408/429/5xx errors, empty content and network
// timeouts with exponential backoff (base 1s, max 10s, up to 5 attempts by
// default). A Retry-After header overrides the computed delay. Context
// cancellation aborts retries immediately.
package llm
