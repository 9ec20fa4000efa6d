package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"marginalia/internal/logging"
	"marginalia/internal/metrics"
)

// ChainResult is the outcome of a chained transcription.
type ChainResult struct {
	Result
	FallbackUsed bool
	// Latency covers every attempt, including a failed primary.
	Latency time.Duration
}

// Chain tries the primary transcriber, then the fallback when one is set.
type Chain struct {
	primary  Transcriber
	fallback Transcriber
	logger   *slog.Logger
}

// NewChain builds a chain. fallback may be nil.
func NewChain(primary, fallback Transcriber, logger *slog.Logger) *Chain {
	return &Chain{
		primary:  primary,
		fallback: fallback,
		logger:   logging.NewComponentLogger(logger, "stt"),
	}
}

// Providers lists the configured provider names in call order.
func (c *Chain) Providers() []string {
	var names []string
	if c.primary != nil {
		names = append(names, c.primary.Name())
	}
	if c.fallback != nil {
		names = append(names, c.fallback.Name())
	}
	return names
}

// Transcribe runs the primary and, when it fails for any reason other than
// cancellation, the fallback.
func (c *Chain) Transcribe(ctx context.Context, audioURL string) (ChainResult, error) {
	started := time.Now()
	if c.primary == nil {
		return ChainResult{}, errors.New("stt: no transcription provider configured")
	}
	result, primaryErr := c.attempt(ctx, c.primary, audioURL)
	if primaryErr == nil {
		return ChainResult{Result: result, Latency: time.Since(started)}, nil
	}
	if c.fallback == nil || ctx.Err() != nil {
		return ChainResult{}, primaryErr
	}

	logging.WarnWithContext(logging.WithContext(ctx, c.logger), "primary transcription failed; trying fallback", "transcription_fallback",
		logging.String("primary", c.primary.Name()),
		logging.String("fallback", c.fallback.Name()),
		logging.Error(primaryErr),
		logging.String(logging.FieldErrorHint, "check the primary provider key and quota"),
	)
	result, fallbackErr := c.attempt(ctx, c.fallback, audioURL)
	if fallbackErr != nil {
		return ChainResult{}, fmt.Errorf("all transcription providers failed: %w", errors.Join(primaryErr, fallbackErr))
	}
	metrics.TranscriptionFallbacks.Inc()
	return ChainResult{Result: result, FallbackUsed: true, Latency: time.Since(started)}, nil
}

func (c *Chain) attempt(ctx context.Context, t Transcriber, audioURL string) (Result, error) {
	result, err := t.Transcribe(ctx, audioURL)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.ProviderRequests.WithLabelValues(t.Name(), outcome).Inc()
	if err != nil {
		return Result{}, err
	}
	if result.Provider == "" {
		result.Provider = t.Name()
	}
	return result, nil
}
