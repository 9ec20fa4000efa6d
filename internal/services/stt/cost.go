package stt

import "math"

// Batch pricing in USD per minute of audio.
var costPerMinute = map[string]float64{
	ProviderElevenLabs: 0.22 / 60,
	ProviderDeepgram:   0.0043,
	ProviderAssemblyAI: 0.65 / 60,
}

// CostPerMinute returns the per-minute rate for provider, or zero when the
// provider is unknown.
func CostPerMinute(provider string) float64 {
	return costPerMinute[provider]
}

// EstimateCostUSD estimates the charge for transcribing durationMs of audio.
// The result is never negative.
func EstimateCostUSD(provider string, durationMs float64) float64 {
	if math.IsNaN(durationMs) || math.IsInf(durationMs, 0) || durationMs <= 0 {
		return 0
	}
	cost := costPerMinute[provider] * durationMs / 60000
	return math.Round(cost*1e6) / 1e6
}
