package main

import (
	"errors"
	"fmt"
	"log/slog"

	"marginalia/internal/config"
	"marginalia/internal/daemon"
	"marginalia/internal/processing"
	"marginalia/internal/services/stt"
	"marginalia/internal/store"
	"marginalia/internal/synthesis"
)

// buildDependencies constructs the provider clients from config and hands
// them to daemon.Assemble. Synthesis that is disabled or unconfigured leaves
// processing in degraded mode rather than stopping the daemon.
func buildDependencies(cfg *config.Config, st *store.Store, logger *slog.Logger) (daemon.Dependencies, error) {
	transcriber, err := stt.NewChainFromConfig(cfg, logger)
	if err != nil {
		return daemon.Dependencies{}, fmt.Errorf("transcription: %w", err)
	}
	synth, err := newSynthesizer(cfg, logger)
	if err != nil {
		return daemon.Dependencies{}, err
	}
	return daemon.Assemble(cfg, st, transcriber, synth, logger), nil
}

func newSynthesizer(cfg *config.Config, logger *slog.Logger) (processing.Synthesizer, error) {
	synth, err := synthesis.NewFromConfig(cfg, logger)
	if errors.Is(err, synthesis.ErrDisabled) {
		logger.Info("synthesis disabled; sessions complete with raw notes only")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("synthesis: %w", err)
	}
	return synth, nil
}
