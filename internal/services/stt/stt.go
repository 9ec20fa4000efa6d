package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Provider identifiers. They match the transcription provider names accepted
// in configuration and recorded on sessions.
const (
	ProviderElevenLabs = "elevenlabs"
	ProviderDeepgram   = "deepgram"
	ProviderAssemblyAI = "assemblyai"
)

// ErrEmptyTranscript is returned when a provider answers successfully but
// produces no text.
var ErrEmptyTranscript = errors.New("provider returned empty transcript")

// Result is a single provider transcription.
type Result struct {
	Text     string
	Provider string
	Latency  time.Duration
	// AudioSeconds is the duration the provider reported, when it reports one.
	AudioSeconds float64
}

// Transcriber converts audio at a URL into text.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, audioURL string) (Result, error)
}

// StatusError reports a non-2xx provider response.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.Join(strings.Fields(e.Body), " ")
	if runes := []rune(body); len(runes) > 200 {
		body = string(runes[:200]) + "..."
	}
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.StatusCode, body)
}

func validateAudioURL(provider, audioURL string) (string, error) {
	trimmed := strings.TrimSpace(audioURL)
	if trimmed == "" {
		return "", fmt.Errorf("%s: audio url required", provider)
	}
	if !strings.HasPrefix(trimmed, "https://") && !strings.HasPrefix(trimmed, "http://") {
		return "", fmt.Errorf("%s: audio url must be http(s)", provider)
	}
	return trimmed, nil
}
