package daemon

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"marginalia/internal/api"
	"marginalia/internal/events"
	"marginalia/internal/listening"
	"marginalia/internal/logging"
)

const (
	feedWriteWait    = 10 * time.Second
	feedPongWait     = 60 * time.Second
	feedPingInterval = 25 * time.Second
	longPollWait     = 25 * time.Second
	longPollLimit    = 200
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:   1024,
	WriteBufferSize:  4096,
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin:      func(r *http.Request) bool { return true },
}

// handleSessionFeed streams status changes of one session over a WebSocket.
// The first frame is a snapshot; the feed closes after a terminal status.
func (h *handlers) handleSessionFeed(w http.ResponseWriter, r *http.Request) {
	userID := callerFrom(r.Context())
	sessionID := mux.Vars(r)["id"]

	// Take the cursor before the snapshot so no change falls between them.
	cursor := h.hub.Cursor()
	session, err := h.sessions.Get(r.Context(), userID, sessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log(r.Context()).Debug("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go readUntilClosed(conn, cancel)

	view := api.FromSession(session)
	if err := writeFrame(conn, api.FeedMessage{Type: api.FeedSnapshot, Session: &view}); err != nil {
		return
	}
	if session.Status.IsTerminal() {
		closeFeed(conn)
		return
	}

	filter := events.ForSession(userID, sessionID)
	for {
		waitCtx, waitCancel := context.WithTimeout(ctx, feedPingInterval)
		evts, next, _ := h.hub.Fetch(waitCtx, cursor, filter, true)
		waitCancel()
		cursor = next
		if ctx.Err() != nil {
			return
		}
		if len(evts) == 0 {
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait)); err != nil {
				return
			}
			continue
		}
		for _, evt := range api.FromEvents(evts) {
			if err := writeFrame(conn, api.FeedMessage{Type: api.FeedEvent, Event: &evt}); err != nil {
				return
			}
			if listening.Status(evt.To).IsTerminal() {
				closeFeed(conn)
				return
			}
		}
	}
}

// readUntilClosed drains client frames so pongs and close frames are
// processed, and cancels the feed when the client goes away.
func readUntilClosed(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, msg api.FeedMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
	return conn.WriteJSON(msg)
}

func closeFeed(conn *websocket.Conn) {
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session finished")
	_ = conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(feedWriteWait))
}

// handleEvents is the long-poll fallback for clients without WebSockets. It
// returns the caller's events after ?since=, waiting up to longPollWait when
// ?follow=1 and nothing is pending.
func (h *handlers) handleEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	follow := query.Get("follow") == "1" || strings.EqualFold(query.Get("follow"), "true")

	ctx := r.Context()
	if follow {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, longPollWait)
		defer cancel()
	}
	evts, next, err := h.hub.Fetch(ctx, since, events.ForUser(callerFrom(r.Context())), follow)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		h.writeError(w, r, err)
		return
	}
	if len(evts) > longPollLimit {
		evts = evts[:longPollLimit]
		next = evts[len(evts)-1].Sequence
	}
	h.writeJSON(w, http.StatusOK, api.EventsResponse{Events: api.FromEvents(evts), Next: next})
}
