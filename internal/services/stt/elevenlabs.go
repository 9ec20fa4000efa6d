package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	elevenLabsEndpoint = "https://api.elevenlabs.io/v1/speech-to-text"
	elevenLabsModel    = "scribe_v2"
)

// ElevenLabs calls the Scribe batch speech-to-text endpoint.
type ElevenLabs struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewElevenLabs constructs a Scribe client. An empty endpoint selects the
// public API.
func NewElevenLabs(apiKey, endpoint string, timeout time.Duration) *ElevenLabs {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = elevenLabsEndpoint
	}
	return &ElevenLabs{
		apiKey:   strings.TrimSpace(apiKey),
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (e *ElevenLabs) Name() string { return ProviderElevenLabs }

// Transcribe asks Scribe to fetch and transcribe the audio at audioURL.
func (e *ElevenLabs) Transcribe(ctx context.Context, audioURL string) (Result, error) {
	started := time.Now()
	source, err := validateAudioURL(ProviderElevenLabs, audioURL)
	if err != nil {
		return Result{}, err
	}
	body, contentType, err := buildScribeForm(source)
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, body)
	if err != nil {
		return Result{}, fmt.Errorf("elevenlabs: new request: %w", err)
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := e.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, &StatusError{Provider: ProviderElevenLabs, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var payload scribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Result{}, fmt.Errorf("decode elevenlabs response: %w", err)
	}
	text := strings.TrimSpace(payload.Text)
	if text == "" {
		return Result{}, fmt.Errorf("elevenlabs: %w", ErrEmptyTranscript)
	}
	return Result{
		Text:         text,
		Provider:     ProviderElevenLabs,
		Latency:      time.Since(started),
		AudioSeconds: payload.audioSeconds(),
	}, nil
}

type scribeResponse struct {
	Text         string `json:"text"`
	LanguageCode string `json:"language_code"`
	Words        []struct {
		End float64 `json:"end"`
	} `json:"words"`
}

func (r scribeResponse) audioSeconds() float64 {
	if len(r.Words) == 0 {
		return 0
	}
	return r.Words[len(r.Words)-1].End
}

func buildScribeForm(audioURL string) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	fields := [][2]string{
		{"model_id", elevenLabsModel},
		{"cloud_storage_url", audioURL},
		{"tag_audio_events", "false"},
	}
	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return nil, "", fmt.Errorf("write form field %s: %w", field[0], err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close form writer: %w", err)
	}
	return &body, writer.FormDataContentType(), nil
}
