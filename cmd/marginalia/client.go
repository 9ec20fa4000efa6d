package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"marginalia/internal/api"
)

const clientTimeout = 30 * time.Second

// apiClient calls the daemon's HTTP API on behalf of CLI commands.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL, token string) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: clientTimeout},
	}
}

// apiError is a non-2xx reply decoded from the daemon's error body.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("daemon returned %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Message)
}

func (c *apiClient) Health(ctx context.Context) (api.HealthResponse, error) {
	var resp api.HealthResponse
	err := c.do(ctx, http.MethodGet, "/healthz", "", nil, &resp)
	return resp, err
}

func (c *apiClient) Stuck(ctx context.Context, all bool) ([]api.SessionView, error) {
	path := "/v1/admin/stuck"
	if all {
		path += "?all=1"
	}
	var resp api.SessionListResponse
	if err := c.do(ctx, http.MethodGet, path, "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

func (c *apiClient) Recover(ctx context.Context) (api.RecoverResponse, error) {
	var resp api.RecoverResponse
	err := c.do(ctx, http.MethodPost, "/v1/admin/recover", "", nil, &resp)
	return resp, err
}

func (c *apiClient) Pack(ctx context.Context, userID, bookID string, budget int) (api.PackResponse, error) {
	var resp api.PackResponse
	err := c.do(ctx, http.MethodPost, "/v1/context/pack", userID, api.PackRequest{BookID: bookID, TokenBudget: budget}, &resp)
	return resp, err
}

func (c *apiClient) do(ctx context.Context, method, path, userID string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.wrapDialError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var payload api.ErrorResponse
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) wrapDialError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("connect to daemon at %s: timed out", c.baseURL)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon: %s refused the connection; start it with `marginaliad`", c.baseURL)
	}
	return fmt.Errorf("connect to daemon: %w", err)
}
