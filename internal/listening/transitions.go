package listening

import (
	"context"
	"math"
	"strings"

	"marginalia/internal/logging"
)

// TranscribingRequest reports that recording stopped and transcription began.
type TranscribingRequest struct {
	UserID         string
	SessionID      string
	DurationMs     float64
	CapReached     bool
	TranscriptLive *string
	AudioURL       *string
}

// TranscribingResult tells the caller whether to enqueue the watchdog.
type TranscribingResult struct {
	ShouldScheduleWatchdog bool
	Session                *Session
}

// MarkTranscribing moves a recording session into transcribing. Repeating the
// call while already transcribing refreshes the telemetry without a status
// change and reports ShouldScheduleWatchdog=false, so the watchdog is queued
// once per session.
func (s *Service) MarkTranscribing(ctx context.Context, req TranscribingRequest) (TranscribingResult, error) {
	var firstEntry bool
	session, from, err := s.mutate(ctx, req.UserID, req.SessionID, func(session *Session) error {
		firstEntry = false
		if session.Status != StatusTranscribing {
			if err := checkTransition(session.Status, StatusTranscribing); err != nil {
				return err
			}
			firstEntry = true
		}
		session.Status = StatusTranscribing
		duration := NormalizeDuration(req.DurationMs)
		session.DurationMs = &duration
		session.CapReached = req.CapReached
		if req.TranscriptLive != nil {
			session.TranscriptLive = NormalizeTranscriptLive(*req.TranscriptLive)
		}
		if req.AudioURL != nil {
			if url := strings.TrimSpace(*req.AudioURL); url != "" {
				session.AudioURL = url
			}
		}
		if session.EndedAt == nil {
			ended := s.now()
			session.EndedAt = &ended
		}
		session.LastError = ""
		return nil
	})
	if err != nil {
		return TranscribingResult{}, err
	}
	s.sessionLogger(ctx, session).Info(
		"listening session transcribing",
		logging.String(logging.FieldEventType, "session_transcribing"),
		logging.String("from", string(from)),
		logging.Int64("duration_ms", *session.DurationMs),
		logging.Bool("cap_reached", session.CapReached),
		logging.Bool("first_entry", firstEntry),
	)
	return TranscribingResult{ShouldScheduleWatchdog: firstEntry, Session: session.Clone()}, nil
}

// SynthesizingRequest reports that transcription finished and synthesis began.
// Every telemetry field is optional.
type SynthesizingRequest struct {
	UserID                 string
	SessionID              string
	TranscribeLatencyMs    *int64
	TranscribeFallbackUsed *bool
	TranscriptProvider     string
	SynthesisLatencyMs     *int64
	SynthesisProvider      string
	DegradedMode           *bool
	EstimatedCostUSD       *float64
}

// MarkSynthesizing moves a transcribing session into synthesizing.
func (s *Service) MarkSynthesizing(ctx context.Context, req SynthesizingRequest) (*Session, error) {
	session, from, err := s.mutate(ctx, req.UserID, req.SessionID, func(session *Session) error {
		if err := checkTransition(session.Status, StatusSynthesizing); err != nil {
			return err
		}
		session.Status = StatusSynthesizing
		if req.TranscribeLatencyMs != nil {
			session.TranscribeLatencyMs = nonNegative(req.TranscribeLatencyMs)
		}
		if req.TranscribeFallbackUsed != nil {
			session.TranscribeFallbackUsed = clonePtr(req.TranscribeFallbackUsed)
		}
		if provider := strings.TrimSpace(req.TranscriptProvider); provider != "" {
			session.TranscriptProvider = provider
		}
		if req.SynthesisLatencyMs != nil {
			session.SynthesisLatencyMs = nonNegative(req.SynthesisLatencyMs)
		}
		if provider := strings.TrimSpace(req.SynthesisProvider); provider != "" {
			session.SynthesisProvider = provider
		}
		if req.DegradedMode != nil {
			session.DegradedMode = clonePtr(req.DegradedMode)
		}
		if req.EstimatedCostUSD != nil {
			session.EstimatedCostUSD = clampCost(*req.EstimatedCostUSD)
		}
		session.LastError = ""
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.sessionLogger(ctx, session).Info(
		"listening session synthesizing",
		logging.String(logging.FieldEventType, "session_synthesizing"),
		logging.String("from", string(from)),
	)
	return session.Clone(), nil
}

// FailRequest moves a session into failed.
type FailRequest struct {
	UserID      string
	SessionID   string
	Message     string
	FailedStage string
}

// Fail marks the session failed. Failing an already-failed session is
// accepted and re-applies the message.
func (s *Service) Fail(ctx context.Context, req FailRequest) (*Session, error) {
	session, from, err := s.mutate(ctx, req.UserID, req.SessionID, func(session *Session) error {
		if err := checkTransition(session.Status, StatusFailed); err != nil {
			return err
		}
		session.Status = StatusFailed
		session.LastError = NormalizeLastError(req.Message)
		if stage := NormalizeFailedStage(req.FailedStage); stage != "" {
			session.FailedStage = stage
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logging.WarnWithContext(
		s.sessionLogger(ctx, session),
		"listening session failed",
		"session_failed",
		logging.String("from", string(from)),
		logging.String("failed_stage", session.FailedStage),
		logging.String("last_error", session.LastError),
		logging.String(logging.FieldErrorHint, "inspect the session with `marginalia sessions show`"),
	)
	return session.Clone(), nil
}

func nonNegative(value *int64) *int64 {
	v := max(*value, 0)
	return &v
}

func clampCost(value float64) *float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		value = 0
	}
	return &value
}
