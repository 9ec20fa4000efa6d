package api

import (
	"time"

	"marginalia/internal/events"
	"marginalia/internal/listening"
)

// FromSession converts a session record into its client-safe representation.
// The audio URL is dropped here regardless of what the caller passed in.
func FromSession(session *listening.Session) SessionView {
	if session == nil {
		return SessionView{}
	}
	view := SessionView{
		ID:                     session.ID,
		BookID:                 session.BookID,
		Status:                 string(session.Status),
		StartedAt:              formatTime(session.StartedAt),
		EndedAt:                formatTimePtr(session.EndedAt),
		DurationMs:             session.DurationMs,
		CapDurationMs:          session.CapDurationMs,
		WarningDurationMs:      session.WarningDurationMs,
		CapReached:             session.CapReached,
		RetryCount:             session.RetryCount,
		LastRetryAt:            formatTimePtr(session.LastRetryAt),
		FailedStage:            session.FailedStage,
		LastError:              session.LastError,
		TranscriptLive:         session.TranscriptLive,
		TranscriptProvider:     session.TranscriptProvider,
		TranscriptChars:        session.TranscriptChars,
		TranscribeLatencyMs:    session.TranscribeLatencyMs,
		TranscribeFallbackUsed: session.TranscribeFallbackUsed,
		SynthesisProvider:      session.SynthesisProvider,
		SynthesisLatencyMs:     session.SynthesisLatencyMs,
		DegradedMode:           session.DegradedMode,
		EstimatedCostUSD:       session.EstimatedCostUSD,
		RawNoteID:              session.RawNoteID,
		CreatedAt:              formatTime(session.CreatedAt),
		UpdatedAt:              formatTime(session.UpdatedAt),
	}
	if len(session.SynthesizedNoteIDs) > 0 {
		view.SynthesizedNoteIDs = append([]string(nil), session.SynthesizedNoteIDs...)
	}
	return view
}

// FromSessions converts a slice of sessions. The result is never nil so it
// encodes as [].
func FromSessions(sessions []*listening.Session) []SessionView {
	out := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, FromSession(session))
	}
	return out
}

// FromEvents converts hub events.
func FromEvents(evts []events.SessionEvent) []EventView {
	out := make([]EventView, 0, len(evts))
	for _, evt := range evts {
		out = append(out, EventView{
			Sequence:  evt.Sequence,
			SessionID: evt.SessionID,
			BookID:    evt.BookID,
			From:      evt.From,
			To:        evt.To,
			At:        formatTime(evt.At),
		})
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
