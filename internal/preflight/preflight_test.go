package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"marginalia/internal/services/llm"
	"marginalia/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if result := CheckFreeSpace("space", dir, 1); !result.Passed {
		t.Fatalf("expected pass with a 1 byte floor, got: %s", result.Detail)
	}
	result := CheckFreeSpace("space", dir, ^uint64(0))
	if result.Passed {
		t.Fatal("expected failure with an impossible floor")
	}
	if !strings.Contains(result.Detail, "need") {
		t.Fatalf("expected requirement in detail, got %q", result.Detail)
	}
	if result := CheckFreeSpace("space", filepath.Join(dir, "missing"), 1); result.Passed {
		t.Fatal("expected failure for missing path")
	}
}

func TestCheckProviderKey(t *testing.T) {
	if result := CheckProviderKey("stt", "deepgram", "key"); !result.Passed {
		t.Fatalf("expected pass, got %s", result.Detail)
	}
	if result := CheckProviderKey("stt", "deepgram", " "); result.Passed {
		t.Fatal("expected failure for blank key")
	}
	if result := CheckProviderKey("stt", "", "key"); result.Passed {
		t.Fatal("expected failure without provider")
	}
}

func llmServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":` + content + `}}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckLLM_OK(t *testing.T) {
	srv := llmServer(t, http.StatusOK, `"{\"ok\":true}"`)
	result := CheckLLM(context.Background(), "LLM", llm.Config{APIKey: "k", BaseURL: srv.URL, Model: "m"})
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckLLM_BadKey(t *testing.T) {
	srv := llmServer(t, http.StatusUnauthorized, "")
	result := CheckLLM(context.Background(), "LLM", llm.Config{APIKey: "k", BaseURL: srv.URL, Model: "m"})
	if result.Passed {
		t.Fatal("expected failure for rejected key")
	}
	if result.Detail != "auth failed (invalid api key)" {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestCheckLLM_MissingKey(t *testing.T) {
	result := CheckLLM(context.Background(), "LLM", llm.Config{BaseURL: "http://localhost"})
	if result.Passed || result.Detail != "API key missing" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_LocalOnlyWhenSynthesisDisabled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	results := RunAll(context.Background(), cfg)
	// data dir, log dir, space, primary and fallback provider keys
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d: %+v", len(results), results)
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}

func TestRunAll_IncludesLLMWhenSynthesisEnabled(t *testing.T) {
	srv := llmServer(t, http.StatusOK, `"{\"ok\":true}"`)
	cfg := testsupport.NewConfig(t, testsupport.WithSynthesis(srv.URL, "key"))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	found := false
	for _, r := range RunAll(context.Background(), cfg) {
		if r.Name == "Synthesis LLM" {
			found = true
			if !r.Passed {
				t.Errorf("LLM check failed: %s", r.Detail)
			}
		}
	}
	if !found {
		t.Fatal("expected LLM check in results")
	}
}

func TestRunLocal_ReportsMissingProviderKey(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Transcription.DeepgramAPIKey = ""
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	failed := Failed(RunLocal(cfg))
	if len(failed) != 1 || failed[0].Name != "Transcription fallback" {
		t.Fatalf("expected only the fallback key to fail, got %+v", failed)
	}
}
