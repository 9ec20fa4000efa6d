package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// envFiles are read, in order, before environment fallbacks are resolved.
// Variables already present in the process environment are never overridden.
var envFiles = []string{".env.local", ".env"}

func (c *Config) normalize() error {
	loadEnvFiles()
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeTranscription()
	c.normalizeSynthesis()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func loadEnvFiles() {
	for _, name := range envFiles {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		// Load never overwrites existing variables. Malformed files are ignored.
		_ = godotenv.Load(name)
	}
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("MARGINALIA_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeTranscription() {
	c.Transcription.Provider = strings.ToLower(strings.TrimSpace(c.Transcription.Provider))
	if c.Transcription.Provider == "" {
		c.Transcription.Provider = defaultTranscriptionProvider
	}
	c.Transcription.FallbackProvider = strings.ToLower(strings.TrimSpace(c.Transcription.FallbackProvider))
	c.Transcription.ElevenLabsAPIKey = strings.TrimSpace(c.Transcription.ElevenLabsAPIKey)
	if c.Transcription.ElevenLabsAPIKey == "" {
		if value, ok := os.LookupEnv("ELEVENLABS_API_KEY"); ok {
			c.Transcription.ElevenLabsAPIKey = strings.TrimSpace(value)
		}
	}
	c.Transcription.DeepgramAPIKey = strings.TrimSpace(c.Transcription.DeepgramAPIKey)
	if c.Transcription.DeepgramAPIKey == "" {
		if value, ok := os.LookupEnv("DEEPGRAM_API_KEY"); ok {
			c.Transcription.DeepgramAPIKey = strings.TrimSpace(value)
		}
	}
	if c.Transcription.TimeoutSeconds <= 0 {
		c.Transcription.TimeoutSeconds = defaultTranscriptionTimeout
	}
}

func (c *Config) normalizeSynthesis() {
	c.Synthesis.APIKey = strings.TrimSpace(c.Synthesis.APIKey)
	if c.Synthesis.APIKey == "" {
		if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok {
			c.Synthesis.APIKey = strings.TrimSpace(value)
		}
	}
	c.Synthesis.BaseURL = strings.TrimSpace(c.Synthesis.BaseURL)
	c.Synthesis.Model = strings.TrimSpace(c.Synthesis.Model)
	c.Synthesis.Referer = strings.TrimSpace(c.Synthesis.Referer)
	c.Synthesis.Title = strings.TrimSpace(c.Synthesis.Title)
	if c.Synthesis.TimeoutSeconds <= 0 {
		c.Synthesis.TimeoutSeconds = defaultSynthesisTimeout
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("MARGINALIA_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNtfyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

// APIKeyFor returns the configured key for a transcription provider.
func (c *Config) APIKeyFor(provider string) string {
	switch provider {
	case ProviderElevenLabs:
		return c.Transcription.ElevenLabsAPIKey
	case ProviderDeepgram:
		return c.Transcription.DeepgramAPIKey
	default:
		return ""
	}
}
