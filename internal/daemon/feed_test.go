package daemon_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"marginalia/internal/api"
	"marginalia/internal/testsupport"
)

func TestSessionFeedStreamsUntilTerminal(t *testing.T) {
	h := newHarness(t)
	testsupport.SeedBook(t, h.store, "book-1", "user-1", "Middlemarch")
	srv := httptest.NewServer(h.daemon.Handler())
	defer srv.Close()

	session := startSession(t, srv, "user-1", "book-1")

	header := http.Header{}
	header.Set("X-User-ID", "user-1")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/sessions/" + session.ID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snapshot api.FeedMessage
	if err := conn.ReadJSON(&snapshot); err != nil {
		t.Fatalf("read snapshot failed: %v", err)
	}
	if snapshot.Type != api.FeedSnapshot || snapshot.Session == nil || snapshot.Session.Status != "recording" {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}

	resp := doJSON(t, srv, http.MethodPost, "/v1/sessions/"+session.ID+"/fail", "user-1",
		api.FailRequest{Message: "microphone unplugged", FailedStage: "recording"})
	expectStatus(t, resp, http.StatusOK)

	var evt api.FeedMessage
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read event failed: %v", err)
	}
	if evt.Type != api.FeedEvent || evt.Event == nil || evt.Event.From != "recording" || evt.Event.To != "failed" {
		t.Fatalf("unexpected event %+v", evt)
	}

	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close after terminal status, got %v", err)
	}
}

func TestSessionFeedRejectsOtherUsers(t *testing.T) {
	h := newHarness(t)
	testsupport.SeedBook(t, h.store, "book-1", "user-1", "Middlemarch")
	srv := httptest.NewServer(h.daemon.Handler())
	defer srv.Close()

	session := startSession(t, srv, "user-1", "book-1")

	header := http.Header{}
	header.Set("X-User-ID", "user-2")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/sessions/" + session.ID + "/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("expected dial to fail for another user")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 handshake response, got %v", resp)
	}
}
