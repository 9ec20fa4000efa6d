package processing

import (
	"context"
	"errors"
	"strings"
	"time"

	"marginalia/internal/contextpack"
	"marginalia/internal/listening"
	"marginalia/internal/logging"
	"marginalia/internal/metrics"
	"marginalia/internal/services"
	"marginalia/internal/services/stt"
	"marginalia/internal/synthesis"
)

// run executes the stages in order and returns the stage that was active when
// an error occurred.
func (p *Processor) run(ctx context.Context, session *listening.Session) (string, error) {
	transcription, err := p.transcribe(services.WithStage(ctx, StageTranscribe), session)
	if err != nil {
		return StageTranscribe, err
	}

	costUSD := stt.EstimateCostUSD(transcription.Provider, audioDurationMs(session, transcription))
	synthCtx := services.WithStage(ctx, StageSynthesize)
	if session.Status == listening.StatusTranscribing {
		latency := transcription.Latency.Milliseconds()
		fallbackUsed := transcription.FallbackUsed
		degraded := p.synthesizer == nil
		if _, err := p.sessions.MarkSynthesizing(synthCtx, listening.SynthesizingRequest{
			UserID:                 session.UserID,
			SessionID:              session.ID,
			TranscribeLatencyMs:    &latency,
			TranscribeFallbackUsed: &fallbackUsed,
			TranscriptProvider:     transcription.Provider,
			DegradedMode:           &degraded,
			EstimatedCostUSD:       &costUSD,
		}); err != nil {
			return StageSynthesize, err
		}
	}

	outcome, err := p.synthesize(synthCtx, session, transcription.Text)
	if err != nil {
		return StageSynthesize, err
	}
	costUSD += outcome.CostUSD

	completeCtx := services.WithStage(ctx, StageComplete)
	stageStart := time.Now()
	synthesisLatency := outcome.Latency.Milliseconds()
	degraded := outcome.Synthesis == nil
	_, err = p.sessions.Complete(completeCtx, listening.CompleteRequest{
		UserID:             session.UserID,
		SessionID:          session.ID,
		Transcript:         transcription.Text,
		TranscriptProvider: transcription.Provider,
		Synthesis:          outcome.Synthesis,
		EstimatedCostUSD:   &costUSD,
		SynthesisProvider:  outcome.Provider,
		SynthesisLatencyMs: &synthesisLatency,
		DegradedMode:       &degraded,
	})
	metrics.StageDuration.WithLabelValues(StageComplete).Observe(time.Since(stageStart).Seconds())
	if err != nil {
		return StageComplete, err
	}
	return StageComplete, nil
}

func (p *Processor) transcribe(ctx context.Context, session *listening.Session) (stt.ChainResult, error) {
	if p.transcriber == nil {
		return stt.ChainResult{}, services.Wrap(services.ErrConfiguration, StageTranscribe, "transcribe audio", "no transcription provider configured", nil)
	}
	audioURL := strings.TrimSpace(session.AudioURL)
	if audioURL == "" {
		return stt.ChainResult{}, services.Wrap(services.ErrValidation, StageTranscribe, "transcribe audio", "session has no audio url", nil)
	}
	started := time.Now()
	result, err := p.transcriber.Transcribe(ctx, audioURL)
	metrics.StageDuration.WithLabelValues(StageTranscribe).Observe(time.Since(started).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return stt.ChainResult{}, ctx.Err()
		}
		return stt.ChainResult{}, services.Wrap(services.ErrExternalTool, StageTranscribe, "transcribe audio", "", err)
	}
	if strings.TrimSpace(result.Text) == "" {
		return stt.ChainResult{}, services.Wrap(services.ErrExternalTool, StageTranscribe, "transcribe audio", "", stt.ErrEmptyTranscript)
	}
	logging.WithContext(ctx, p.logger).Info("transcription finished",
		logging.String("provider", result.Provider),
		logging.Bool("fallback_used", result.FallbackUsed),
		logging.Int("transcript_chars", len([]rune(result.Text))),
		logging.Duration("latency", result.Latency),
	)
	return result, nil
}

// synthesize returns an empty output (degraded mode) when synthesis is off or
// the provider fails. Only cancellation is reported as an error.
func (p *Processor) synthesize(ctx context.Context, session *listening.Session, transcript string) (synthesis.Output, error) {
	if p.synthesizer == nil {
		return synthesis.Output{}, nil
	}
	logger := logging.WithContext(ctx, p.logger)
	started := time.Now()
	packed := p.packContext(ctx, session)
	output, err := p.synthesizer.Synthesize(ctx, synthesis.Input{Transcript: transcript, Context: packed})
	metrics.StageDuration.WithLabelValues(StageSynthesize).Observe(time.Since(started).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return synthesis.Output{}, ctx.Err()
		}
		metrics.Errors.WithLabelValues(StageSynthesize, services.ErrorKind(err)).Inc()
		logging.WarnWithContext(logger, "synthesis failed; completing in degraded mode", "synthesis_degraded",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check synthesis api key, model and base_url"),
		)
		return synthesis.Output{Latency: time.Since(started)}, nil
	}
	return output, nil
}

// packContext loads the session's reading context with the configured budget.
func (p *Processor) packContext(ctx context.Context, session *listening.Session) contextpack.Result {
	return p.PackContext(ctx, session.UserID, session.BookID, session.ID, p.tokenBudget)
}

// PackContext loads reading context for a user's book best-effort: a failed
// lookup shrinks the context instead of failing the caller. Notes written by
// excludeSession are left out. A non-positive tokenBudget uses the packer
// default.
func (p *Processor) PackContext(ctx context.Context, userID, bookID, excludeSession string, tokenBudget int) contextpack.Result {
	input := contextpack.Input{Book: listening.Book{ID: bookID, UserID: userID}}
	if p.library == nil {
		return contextpack.Pack(input, contextpack.Options{TokenBudget: tokenBudget})
	}
	logger := logging.WithContext(ctx, p.logger)

	if book, err := p.library.GetBook(ctx, bookID); err != nil {
		logger.Warn("load current book for context", logging.Error(err))
	} else if book != nil {
		input.Book = *book
	}
	if books, err := p.library.ListBooks(ctx, userID); err != nil {
		logger.Warn("load library for context", logging.Error(err))
	} else {
		input.Library = books
	}
	if notes, err := p.library.RecentNotes(ctx, userID, p.notesWindow); err != nil {
		logger.Warn("load recent notes for context", logging.Error(err))
	} else {
		input.Notes = notesOutsideSession(notes, excludeSession)
	}

	packed := contextpack.Pack(input, contextpack.Options{TokenBudget: tokenBudget})
	metrics.ContextTokens.Observe(float64(packed.Summary.TokensUsed))
	logger.Debug("context packed",
		logging.Int("tokens_used", packed.Summary.TokensUsed),
		logging.Int("notes_included", packed.Summary.NotesIncluded),
		logging.Int("notes_considered", packed.Summary.NotesConsidered),
	)
	return packed
}

// notesOutsideSession drops notes written by an earlier attempt on the same
// session so a retry does not feed its own raw transcript back as context.
func notesOutsideSession(notes []listening.Note, sessionID string) []listening.Note {
	out := notes[:0:0]
	for _, note := range notes {
		if sessionID != "" && note.SessionID == sessionID {
			continue
		}
		out = append(out, note)
	}
	return out
}

func audioDurationMs(session *listening.Session, result stt.ChainResult) float64 {
	if session.DurationMs != nil && *session.DurationMs > 0 {
		return float64(*session.DurationMs)
	}
	return result.AudioSeconds * 1000
}

func (p *Processor) handleStageFailure(ctx context.Context, session *listening.Session, stage string, stageErr error) {
	logger := logging.WithContext(services.WithStage(ctx, stage), p.logger)
	kind := services.ErrorKind(stageErr)
	metrics.Errors.WithLabelValues(stage, kind).Inc()

	if errors.Is(stageErr, listening.ErrInvalidTransition) {
		logger.Info("session moved on during processing; not failing it",
			logging.Error(stageErr),
		)
		return
	}
	logger.Error("processing stage failed",
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.Alert("stage_failure"),
		logging.String("error_kind", kind),
		logging.Error(stageErr),
	)
	if _, err := p.sessions.Fail(ctx, listening.FailRequest{
		UserID:      session.UserID,
		SessionID:   session.ID,
		Message:     stageErr.Error(),
		FailedStage: stage,
	}); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("shutting down, could not persist stage failure")
			return
		}
		logger.Error("failed to persist stage failure", logging.Error(err))
	}
}
