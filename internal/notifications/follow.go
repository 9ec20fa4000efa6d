package notifications

import (
	"context"
	"log/slog"
	"time"

	"marginalia/internal/events"
	"marginalia/internal/listening"
	"marginalia/internal/logging"
)

// SessionLookup resolves the stored session and book behind an event.
type SessionLookup interface {
	GetSession(ctx context.Context, id string) (*listening.Session, error)
	GetBook(ctx context.Context, id string) (*listening.Book, error)
}

// Options selects which outcomes are announced. Events at or below Since
// are skipped.
type Options struct {
	NotifyCompleted bool
	Since           uint64
}

const publishTimeout = 15 * time.Second

// Follow publishes a notification for every failed or review session event
// (and completions when enabled) until ctx ends.
func Follow(ctx context.Context, hub *events.Hub, lookup SessionLookup, svc Service, opts Options, logger *slog.Logger) {
	if hub == nil || svc == nil || !svc.Enabled() {
		return
	}
	logger = logging.NewComponentLogger(logger, "notifications")
	filter := func(evt events.SessionEvent) bool {
		return eventFor(listening.Status(evt.To), opts) != ""
	}

	cursor := opts.Since
	for {
		evts, next, _ := hub.Fetch(ctx, cursor, filter, true)
		cursor = next
		if ctx.Err() != nil {
			return
		}
		for _, evt := range evts {
			notifyOne(ctx, evt, lookup, svc, opts, logger)
		}
	}
}

func eventFor(status listening.Status, opts Options) Event {
	switch status {
	case listening.StatusFailed:
		return EventSessionFailed
	case listening.StatusReview:
		return EventSessionReview
	case listening.StatusComplete:
		if opts.NotifyCompleted {
			return EventSessionCompleted
		}
	}
	return ""
}

func notifyOne(ctx context.Context, evt events.SessionEvent, lookup SessionLookup, svc Service, opts Options, logger *slog.Logger) {
	event := eventFor(listening.Status(evt.To), opts)
	payload := Payload{"sessionId": evt.SessionID, "bookId": evt.BookID}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if lookup != nil {
		if session, err := lookup.GetSession(pubCtx, evt.SessionID); err == nil && session != nil {
			payload["failedStage"] = session.FailedStage
			payload["lastError"] = session.LastError
			payload["noteCount"] = len(session.SynthesizedNoteIDs)
		}
		if book, err := lookup.GetBook(pubCtx, evt.BookID); err == nil && book != nil {
			payload["bookTitle"] = book.Title
		}
	}

	if err := svc.Publish(pubCtx, event, payload); err != nil {
		logging.WarnWithContext(logger, "notification delivery failed", "notification_failed",
			logging.String(logging.FieldSessionID, evt.SessionID),
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
		return
	}
	logger.Debug("notification sent",
		logging.String(logging.FieldSessionID, evt.SessionID),
		logging.String("event", string(event)),
	)
}
