package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTiming(); err != nil {
		return err
	}
	if err := c.validateRecovery(); err != nil {
		return err
	}
	if err := c.validateContext(); err != nil {
		return err
	}
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if err := c.validateSynthesis(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateTiming() error {
	return ensurePositiveMap(map[string]int{
		"sessions.watchdog_delay_seconds": c.Sessions.WatchdogDelaySeconds,
		"recovery.interval_seconds":       c.Recovery.IntervalSeconds,
		"transcription.timeout_seconds":   c.Transcription.TimeoutSeconds,
		"synthesis.timeout_seconds":       c.Synthesis.TimeoutSeconds,
	})
}

func (c *Config) validateRecovery() error {
	if c.Recovery.StuckThresholdSeconds < 60 {
		return errors.New("recovery.stuck_threshold_seconds must be at least 60")
	}
	if c.Recovery.MaxRetries < 1 {
		return errors.New("recovery.max_retries must be at least 1")
	}
	if c.Recovery.BatchLimit < 1 {
		return errors.New("recovery.batch_limit must be at least 1")
	}
	return nil
}

func (c *Config) validateContext() error {
	if c.Context.TokenBudget < 1 {
		return errors.New("context.token_budget must be positive")
	}
	if c.Context.RecentNotesWindow < 0 {
		return errors.New("context.recent_notes_window must not be negative")
	}
	return nil
}

func (c *Config) validateTranscription() error {
	if !knownProvider(c.Transcription.Provider) {
		return fmt.Errorf("transcription.provider: unsupported value %q (use %q or %q)", c.Transcription.Provider, ProviderElevenLabs, ProviderDeepgram)
	}
	if c.Transcription.FallbackProvider == "" {
		return nil
	}
	if !knownProvider(c.Transcription.FallbackProvider) {
		return fmt.Errorf("transcription.fallback_provider: unsupported value %q", c.Transcription.FallbackProvider)
	}
	if c.Transcription.FallbackProvider == c.Transcription.Provider {
		return errors.New("transcription.fallback_provider must differ from transcription.provider")
	}
	return nil
}

func (c *Config) validateSynthesis() error {
	if !c.Synthesis.Enabled {
		return nil
	}
	if c.Synthesis.BaseURL == "" {
		return errors.New("synthesis.base_url must be set when synthesis.enabled is true")
	}
	if c.Synthesis.Model == "" {
		return errors.New("synthesis.model must be set when synthesis.enabled is true")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic == "" {
		return nil
	}
	if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return fmt.Errorf("notifications.ntfy_topic must be a full http(s) URL, got %q", topic)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}

func knownProvider(name string) bool {
	return name == ProviderElevenLabs || name == ProviderDeepgram
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
