package preflight

import (
	"context"

	"marginalia/internal/config"
	"marginalia/internal/synthesis"
)

// MinFreeBytes is the free space below which the data directory check fails.
const MinFreeBytes = 512 << 20

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunLocal executes the checks that need no network access.
func RunLocal(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckFreeSpace("Data directory space", cfg.Paths.DataDir, MinFreeBytes),
		CheckProviderKey("Transcription provider", cfg.Transcription.Provider, cfg.APIKeyFor(cfg.Transcription.Provider)),
	}
	if fallback := cfg.Transcription.FallbackProvider; fallback != "" {
		results = append(results, CheckProviderKey("Transcription fallback", fallback, cfg.APIKeyFor(fallback)))
	}
	return results
}

// RunAll executes all applicable preflight checks for the given config.
// The synthesis LLM is only probed when synthesis is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	results := RunLocal(cfg)
	if cfg.Synthesis.Enabled {
		results = append(results, CheckLLM(ctx, "Synthesis LLM", synthesis.LLMConfig(cfg)))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, result := range results {
		if !result.Passed {
			failed = append(failed, result)
		}
	}
	return failed
}
