package stt

import (
	"fmt"
	"log/slog"
	"time"

	"marginalia/internal/config"
	"marginalia/internal/logging"
	"marginalia/internal/services"
)

// New returns the transcriber for provider using the key from cfg.
func New(cfg *config.Config, provider string) (Transcriber, error) {
	key := cfg.APIKeyFor(provider)
	if key == "" {
		return nil, services.Wrap(services.ErrConfiguration, "transcribe", "configure provider",
			fmt.Sprintf("%s api key is not set", provider), nil)
	}
	timeout := time.Duration(cfg.Transcription.TimeoutSeconds) * time.Second
	switch provider {
	case ProviderElevenLabs:
		return NewElevenLabs(key, "", timeout), nil
	case ProviderDeepgram:
		return NewDeepgram(key, "", timeout), nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "transcribe", "configure provider",
			fmt.Sprintf("unsupported provider %q", provider), nil)
	}
}

// NewChainFromConfig builds the configured primary/fallback chain. A fallback
// without an API key is skipped with a warning instead of failing startup.
func NewChainFromConfig(cfg *config.Config, logger *slog.Logger) (*Chain, error) {
	primary, err := New(cfg, cfg.Transcription.Provider)
	if err != nil {
		return nil, err
	}
	var fallback Transcriber
	if name := cfg.Transcription.FallbackProvider; name != "" && name != cfg.Transcription.Provider {
		fallback, err = New(cfg, name)
		if err != nil {
			logging.NewComponentLogger(logger, "stt").Warn("transcription fallback disabled",
				logging.String("provider", name),
				logging.Error(err),
			)
			fallback = nil
		}
	}
	return NewChain(primary, fallback, logger), nil
}
