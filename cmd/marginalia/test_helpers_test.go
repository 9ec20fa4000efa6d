package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"marginalia/internal/config"
	"marginalia/internal/daemon"
	"marginalia/internal/listening"
	"marginalia/internal/services/stt"
	"marginalia/internal/store"
	"marginalia/internal/testsupport"
)

type stubTranscriber struct{}

func (stubTranscriber) Transcribe(context.Context, string) (stt.ChainResult, error) {
	return stt.ChainResult{
		Result:  stt.Result{Text: "a transcript", Provider: stt.ProviderElevenLabs, AudioSeconds: 30},
		Latency: 10 * time.Millisecond,
	}, nil
}

type cliTestEnv struct {
	cfg        *config.Config
	store      *store.Store
	daemon     *daemon.Daemon
	sessions   *listening.Service
	apiURL     string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	homeDir := filepath.Join(testsupport.BaseDir(cfg), "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	st := testsupport.MustOpenStore(t, cfg)
	deps := daemon.Assemble(cfg, st, stubTranscriber{}, nil, nil)
	d, err := daemon.New(cfg, deps, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		d.Stop()
	})

	// The CLI reads the bound address back from the config file.
	cfg.Paths.APIBind = d.APIAddress()
	configPath := filepath.Join(homeDir, ".config", "marginalia", "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{
		cfg:        cfg,
		store:      st,
		daemon:     d,
		sessions:   deps.Sessions,
		apiURL:     "http://" + d.APIAddress(),
		configPath: configPath,
	}
}

// startSession seeds a book and opens a recording session on it.
func (e *cliTestEnv) startSession(t *testing.T, userID, bookID string) *listening.Session {
	t.Helper()
	testsupport.SeedBook(t, e.store, bookID, userID, "Book "+bookID)
	session, err := e.sessions.StartSession(context.Background(), listening.StartRequest{UserID: userID, BookID: bookID})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	return session
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	content := fmt.Sprintf(
		"[paths]\ndata_dir = %q\nlog_dir = %q\napi_bind = %q\n\n[transcription]\nelevenlabs_api_key = %q\ndeepgram_api_key = %q\n\n[synthesis]\nenabled = false\n",
		cfg.Paths.DataDir,
		cfg.Paths.LogDir,
		cfg.Paths.APIBind,
		cfg.Transcription.ElevenLabsAPIKey,
		cfg.Transcription.DeepgramAPIKey,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func requireNotContains(t *testing.T, output, substr string) {
	t.Helper()
	if strings.Contains(output, substr) {
		t.Fatalf("expected %q not to contain %q", output, substr)
	}
}
