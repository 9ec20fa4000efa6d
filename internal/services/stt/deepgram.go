package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	deepgramEndpoint = "https://api.deepgram.com/v1/listen"
	deepgramModel    = "nova-3"
)

// Deepgram calls the pre-recorded /v1/listen endpoint with a remote URL source.
type Deepgram struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewDeepgram constructs a Nova-3 client. An empty endpoint selects the public
// API.
func NewDeepgram(apiKey, endpoint string, timeout time.Duration) *Deepgram {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = deepgramEndpoint
	}
	return &Deepgram{
		apiKey:   strings.TrimSpace(apiKey),
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (d *Deepgram) Name() string { return ProviderDeepgram }

// Transcribe asks Deepgram to fetch and transcribe the audio at audioURL.
func (d *Deepgram) Transcribe(ctx context.Context, audioURL string) (Result, error) {
	started := time.Now()
	source, err := validateAudioURL(ProviderDeepgram, audioURL)
	if err != nil {
		return Result{}, err
	}
	endpoint, err := url.Parse(d.endpoint)
	if err != nil {
		return Result{}, fmt.Errorf("deepgram: parse endpoint: %w", err)
	}
	query := endpoint.Query()
	query.Set("model", deepgramModel)
	query.Set("punctuate", "true")
	query.Set("smart_format", "true")
	query.Set("diarize", "false")
	endpoint.RawQuery = query.Encode()

	encoded, err := json.Marshal(map[string]string{"url": source})
	if err != nil {
		return Result{}, fmt.Errorf("deepgram: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(encoded))
	if err != nil {
		return Result{}, fmt.Errorf("deepgram: new request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+d.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("deepgram request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, &StatusError{Provider: ProviderDeepgram, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var payload listenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Result{}, fmt.Errorf("decode deepgram response: %w", err)
	}
	if len(payload.Results.Channels) == 0 || len(payload.Results.Channels[0].Alternatives) == 0 {
		return Result{}, fmt.Errorf("deepgram: unexpected response shape")
	}
	text := strings.TrimSpace(payload.Results.Channels[0].Alternatives[0].Transcript)
	if text == "" {
		return Result{}, fmt.Errorf("deepgram: %w", ErrEmptyTranscript)
	}
	return Result{
		Text:         text,
		Provider:     ProviderDeepgram,
		Latency:      time.Since(started),
		AudioSeconds: payload.Metadata.Duration,
	}, nil
}

type listenResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}
