package testsupport

import (
	"path/filepath"
	"testing"

	"marginalia/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Provider keys are filled with placeholders and synthesis is disabled unless
// an option turns it back on.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Transcription.ElevenLabsAPIKey = "test-elevenlabs"
	cfgVal.Transcription.DeepgramAPIKey = "test-deepgram"
	cfgVal.Synthesis.Enabled = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithAPIToken requires bearer authentication on the test API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithSynthesis enables synthesis against the given endpoint.
func WithSynthesis(baseURL, apiKey string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Synthesis.Enabled = true
		b.cfg.Synthesis.BaseURL = baseURL
		b.cfg.Synthesis.APIKey = apiKey
	}
}

// WithTranscriptionProviders overrides the primary and fallback providers.
func WithTranscriptionProviders(primary, fallback string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Transcription.Provider = primary
		b.cfg.Transcription.FallbackProvider = fallback
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}

// WithNtfyTopic routes session notifications to url.
func WithNtfyTopic(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = url
	}
}
