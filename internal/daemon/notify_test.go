package daemon_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"marginalia/internal/api"
	"marginalia/internal/testsupport"
)

func TestFailedSessionSendsNotification(t *testing.T) {
	bodies := make(chan string, 4)
	ntfy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies <- r.Header.Get("Title") + "|" + string(body)
	}))
	defer ntfy.Close()

	h := newHarness(t, testsupport.WithNtfyTopic(ntfy.URL))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := h.daemon.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	srv := httptest.NewServer(h.daemon.Handler())
	defer srv.Close()
	testsupport.SeedBook(t, h.store, "book-1", "user-1", "Gilead")
	session := startSession(t, srv, "user-1", "book-1")

	resp := doJSON(t, srv, http.MethodPost, "/v1/sessions/"+session.ID+"/fail", "user-1",
		api.FailRequest{Message: "microphone disconnected", FailedStage: "record"})
	expectStatus(t, resp, http.StatusOK)

	select {
	case got := <-bodies:
		if !strings.HasPrefix(got, "Marginalia - Session Failed|") {
			t.Fatalf("unexpected notification %q", got)
		}
		if !strings.Contains(got, "Gilead") || !strings.Contains(got, "microphone disconnected") {
			t.Fatalf("notification missing details: %q", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for failure notification")
	}
}
