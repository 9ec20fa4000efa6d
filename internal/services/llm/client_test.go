package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func writeChoice(t *testing.T, w http.ResponseWriter, choice map[string]any, extra map[string]any) {
	t.Helper()
	payload := map[string]any{"choices": []any{choice}}
	for key, value := range extra {
		payload[key] = value
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func messageChoice(content string) map[string]any {
	return map[string]any{
		"finish_reason": "stop",
		"message":       map[string]any{"content": content},
	}
}

func TestClientHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test" {
			t.Errorf("unexpected authorization header %q", got)
		}
		writeChoice(t, w, messageChoice("```json\n{\"ok\":true}\n```"), nil)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
}

func TestClientHealthCheckFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "bad", BaseURL: server.URL, Model: "demo"})
	err := client.HealthCheck(context.Background())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 status error, got %v", err)
	}
}

func TestCompleteSendsPromptsAndReadsUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req chatCompletionRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "demo-model" || len(req.Messages) != 2 {
			t.Errorf("unexpected request %+v", req)
		}
		if req.Messages[0].Role != "system" || req.Messages[1].Content != "transcript text" {
			t.Errorf("unexpected messages %+v", req.Messages)
		}
		if req.ResponseFormat["type"] != "json_object" {
			t.Errorf("expected json response format, got %v", req.ResponseFormat)
		}
		if r.Header.Get("X-Title") != "Marginalia" {
			t.Errorf("expected X-Title header")
		}
		writeChoice(t, w, messageChoice(`{"insights":[]}`), map[string]any{
			"usage": map[string]any{"prompt_tokens": 120, "completion_tokens": 30, "cost": 0.0012},
		})
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model", Title: "Marginalia"})
	completion, err := client.Complete(context.Background(), Request{System: "summarize", User: "transcript text"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if completion.Content != `{"insights":[]}` {
		t.Fatalf("unexpected content %q", completion.Content)
	}
	if completion.Usage.PromptTokens != 120 || completion.Usage.CompletionTokens != 30 || completion.Usage.CostUSD != 0.0012 {
		t.Fatalf("unexpected usage %+v", completion.Usage)
	}
	if completion.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", completion.Attempts)
	}
}

func TestCompleteRequiresPromptsAndKey(t *testing.T) {
	client := NewClient(Config{Model: "demo"})
	if _, err := client.Complete(context.Background(), Request{System: "s", User: "u"}); err == nil {
		t.Fatal("expected missing api key error")
	}
	client = NewClient(Config{APIKey: "k", Model: "demo"})
	if _, err := client.Complete(context.Background(), Request{System: " ", User: "u"}); err == nil {
		t.Fatal("expected missing system prompt error")
	}
	if _, err := client.CompleteJSON(context.Background(), "s", ""); err == nil {
		t.Fatal("expected missing user prompt error")
	}
}

func TestCompleteAcceptsAlternateShapes(t *testing.T) {
	cases := map[string]map[string]any{
		"tool call": {
			"finish_reason": "tool_calls",
			"message": map[string]any{
				"content": "",
				"tool_calls": []any{map[string]any{
					"type":     "function",
					"id":       "call_1",
					"function": map[string]any{"name": "synthesize", "arguments": `{"ok":true}`},
				}},
			},
		},
		"delta": {"delta": map[string]any{"content": `{"ok":true}`}},
		"text":  {"finish_reason": "stop", "text": `{"ok":true}`},
	}
	for name, choice := range cases {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeChoice(t, w, choice, nil)
			}))
			defer server.Close()
			client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo"})
			content, err := client.CompleteJSON(context.Background(), "system", "user")
			if err != nil {
				t.Fatalf("CompleteJSON failed: %v", err)
			}
			if content != `{"ok":true}` {
				t.Fatalf("unexpected content %q", content)
			}
		})
	}
}

func TestCompleteEmptyContentHasSnippet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeChoice(t, w, messageChoice(""), nil)
	}))
	defer server.Close()

	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithRetryBackoff(0, 0),
		WithSleeper(func(time.Duration) {}),
		WithRetryMaxAttempts(2),
	)
	_, err := client.CompleteJSON(context.Background(), "system", "user")
	if err == nil {
		t.Fatal("expected empty content to fail")
	}
	if !strings.Contains(err.Error(), "empty content") || !strings.Contains(err.Error(), "response_snippet=") {
		t.Fatalf("expected empty-content error to include snippet, got %v", err)
	}
	if !strings.Contains(err.Error(), "failed after 2 attempts") {
		t.Fatalf("expected attempt count in error, got %v", err)
	}
}

func TestClientRetriesOnHTTP429(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limited"})
			return
		}
		writeChoice(t, w, messageChoice(`{"ok":true}`), nil)
	}))
	defer server.Close()

	var slept []time.Duration
	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }),
		WithRetryBackoff(0, 10*time.Second),
		WithRetryMaxAttempts(5),
	)
	completion, err := client.Complete(context.Background(), Request{System: "system", User: "user"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if calls != 2 || completion.Attempts != 2 {
		t.Fatalf("expected 2 calls, got %d (attempts %d)", calls, completion.Attempts)
	}
	if len(slept) != 1 || slept[0] != time.Second {
		t.Fatalf("expected single sleep of 1s, got %v", slept)
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo"}, WithSleeper(func(time.Duration) {}))
	if _, err := client.CompleteJSON(context.Background(), "system", "user"); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	client := NewClient(Config{}, WithRetryBackoff(time.Second, 5*time.Second))
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}
	for i, expected := range want {
		if got := client.backoffDelay(i + 1); got != expected {
			t.Fatalf("attempt %d: expected %s, got %s", i+1, expected, got)
		}
	}
}

func TestDecodeLLMJSON(t *testing.T) {
	var target struct {
		Insights []string `json:"insights"`
	}
	inputs := []string{
		`{"insights":["a"]}`,
		"```json\n{\"insights\":[\"a\"]}\n```",
		"Here is the result: {\"insights\":[\"a\"]} hope it helps",
	}
	for _, input := range inputs {
		target.Insights = nil
		if err := DecodeLLMJSON(input, &target); err != nil {
			t.Fatalf("DecodeLLMJSON(%q) failed: %v", input, err)
		}
		if len(target.Insights) != 1 || target.Insights[0] != "a" {
			t.Fatalf("unexpected decode of %q: %+v", input, target)
		}
	}
	if err := DecodeLLMJSON("   ", &target); err == nil {
		t.Fatal("expected empty payload error")
	}
	if err := DecodeLLMJSON("no json here", &target); err == nil {
		t.Fatal("expected decode error")
	}
}
