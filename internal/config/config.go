package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Sessions contains listening session timing.
type Sessions struct {
	WatchdogDelaySeconds int `toml:"watchdog_delay_seconds"`
}

// Recovery controls the stuck-session sweep.
type Recovery struct {
	IntervalSeconds       int `toml:"interval_seconds"`
	StuckThresholdSeconds int `toml:"stuck_threshold_seconds"`
	MaxRetries            int `toml:"max_retries"`
	BatchLimit            int `toml:"batch_limit"`
}

// Context controls context packing for synthesis.
type Context struct {
	TokenBudget       int `toml:"token_budget"`
	RecentNotesWindow int `toml:"recent_notes_window"`
}

// Transcription selects and authenticates speech-to-text providers.
type Transcription struct {
	Provider         string `toml:"provider"`
	FallbackProvider string `toml:"fallback_provider"`
	ElevenLabsAPIKey string `toml:"elevenlabs_api_key"`
	DeepgramAPIKey   string `toml:"deepgram_api_key"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
}

// Synthesis contains the LLM connection used to turn transcripts into notes.
type Synthesis struct {
	Enabled        bool   `toml:"enabled"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Notifications configures ntfy delivery of session outcomes.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	NotifyCompleted       bool   `toml:"notify_completed"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for marginalia.
//
// Configuration sections by subsystem:
//   - Paths: data and log directories, API bind address and token
//   - Sessions: watchdog delay after transcription starts
//   - Recovery: stuck-session sweep cadence, threshold, and retry budget
//   - Context: token budget and note window for context packing
//   - Transcription: speech-to-text providers and keys
//   - Synthesis: LLM connection for note synthesis
//   - Notifications: optional ntfy topic for session outcomes
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Sessions      Sessions      `toml:"sessions"`
	Recovery      Recovery      `toml:"recovery"`
	Context       Context       `toml:"context"`
	Transcription Transcription `toml:"transcription"`
	Synthesis     Synthesis     `toml:"synthesis"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("marginalia.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite file backing the document store.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "marginalia.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "marginaliad.lock")
}

// WatchdogDelay is how long after the first transcribing entry the watchdog fires.
func (c *Config) WatchdogDelay() time.Duration {
	return time.Duration(c.Sessions.WatchdogDelaySeconds) * time.Second
}

// RecoveryInterval is the cadence of the stuck-session sweep.
func (c *Config) RecoveryInterval() time.Duration {
	return time.Duration(c.Recovery.IntervalSeconds) * time.Second
}

// StuckThreshold is how long a processing session may sit idle before the sweep retries it.
func (c *Config) StuckThreshold() time.Duration {
	return time.Duration(c.Recovery.StuckThresholdSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
