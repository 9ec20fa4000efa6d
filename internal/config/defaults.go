package config

const (
	defaultConfigPath            = "~/.config/marginalia/config.toml"
	defaultDataDir               = "~/.local/share/marginalia"
	defaultLogDir                = "~/.local/share/marginalia/logs"
	defaultAPIBind               = "127.0.0.1:7611"
	defaultWatchdogDelaySeconds  = 300
	defaultRecoveryInterval      = 600
	defaultStuckThresholdSeconds = 600
	defaultMaxRetries            = 3
	defaultRecoveryBatchLimit    = 20
	defaultTokenBudget           = 4000
	defaultRecentNotesWindow     = 50
	defaultTranscriptionProvider = ProviderElevenLabs
	defaultTranscriptionFallback = ProviderDeepgram
	defaultTranscriptionTimeout  = 300
	defaultSynthesisBaseURL      = "https://openrouter.ai/api/v1/chat/completions"
	defaultSynthesisModel        = "google/gemini-3-flash-preview"
	defaultSynthesisReferer      = "https://github.com/marginalia-app/marginalia"
	defaultSynthesisTitle        = "Marginalia Listening Sessions"
	defaultSynthesisTimeout      = 90
	defaultNtfyRequestTimeout    = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

// Transcription provider identifiers.
const (
	ProviderElevenLabs = "elevenlabs"
	ProviderDeepgram   = "deepgram"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Sessions: Sessions{
			WatchdogDelaySeconds: defaultWatchdogDelaySeconds,
		},
		Recovery: Recovery{
			IntervalSeconds:       defaultRecoveryInterval,
			StuckThresholdSeconds: defaultStuckThresholdSeconds,
			MaxRetries:            defaultMaxRetries,
			BatchLimit:            defaultRecoveryBatchLimit,
		},
		Context: Context{
			TokenBudget:       defaultTokenBudget,
			RecentNotesWindow: defaultRecentNotesWindow,
		},
		Transcription: Transcription{
			Provider:         defaultTranscriptionProvider,
			FallbackProvider: defaultTranscriptionFallback,
			TimeoutSeconds:   defaultTranscriptionTimeout,
		},
		Synthesis: Synthesis{
			Enabled:        true,
			BaseURL:        defaultSynthesisBaseURL,
			Model:          defaultSynthesisModel,
			Referer:        defaultSynthesisReferer,
			Title:          defaultSynthesisTitle,
			TimeoutSeconds: defaultSynthesisTimeout,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyRequestTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
