package processing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"marginalia/internal/listening"
	"marginalia/internal/logging"
	"marginalia/internal/scheduler"
	"marginalia/internal/services"
	"marginalia/internal/services/stt"
	"marginalia/internal/synthesis"
)

// Stage names recorded as a session's failedStage.
const (
	StageTranscribe = "transcribe"
	StageSynthesize = "synthesize"
	StageComplete   = "complete"
)

const defaultNotesWindow = 50

// SessionService is the listening service surface the processor drives.
type SessionService interface {
	Load(ctx context.Context, sessionID string) (*listening.Session, error)
	IncrementRetry(ctx context.Context, sessionID string) (*listening.Session, error)
	MarkSynthesizing(ctx context.Context, req listening.SynthesizingRequest) (*listening.Session, error)
	Complete(ctx context.Context, req listening.CompleteRequest) (listening.CompleteResult, error)
	Fail(ctx context.Context, req listening.FailRequest) (*listening.Session, error)
	RecoverStuck(ctx context.Context) (listening.RecoverResult, error)
}

// Transcriber converts a session's audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string) (stt.ChainResult, error)
}

// Synthesizer produces structured notes from a transcript.
type Synthesizer interface {
	Synthesize(ctx context.Context, input synthesis.Input) (synthesis.Output, error)
}

// ContextSource supplies the library and notes packed into the synthesis
// prompt.
type ContextSource interface {
	GetBook(ctx context.Context, id string) (*listening.Book, error)
	ListBooks(ctx context.Context, userID string) ([]listening.Book, error)
	RecentNotes(ctx context.Context, userID string, limit int) ([]listening.Note, error)
}

// Registrar accepts named scheduler operations.
type Registrar interface {
	Register(op string, handler scheduler.Handler)
}

// Processor runs the transcribe, synthesize, complete pipeline.
type Processor struct {
	sessions    SessionService
	transcriber Transcriber
	synthesizer Synthesizer
	library     ContextSource
	logger      *slog.Logger

	tokenBudget int
	notesWindow int
}

// Option customizes a Processor.
type Option func(*Processor)

// WithSynthesizer enables synthesis. Without one every run is degraded.
func WithSynthesizer(s Synthesizer) Option {
	return func(p *Processor) {
		p.synthesizer = s
	}
}

// WithContextSource sets where reading context is loaded from.
func WithContextSource(source ContextSource) Option {
	return func(p *Processor) {
		p.library = source
	}
}

// WithLogger sets the processor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logging.NewComponentLogger(logger, "processing")
	}
}

// WithContextLimits overrides the token budget and recent-notes window used
// when packing context.
func WithContextLimits(tokenBudget, notesWindow int) Option {
	return func(p *Processor) {
		if tokenBudget > 0 {
			p.tokenBudget = tokenBudget
		}
		if notesWindow > 0 {
			p.notesWindow = notesWindow
		}
	}
}

// New constructs a Processor.
func New(sessions SessionService, transcriber Transcriber, opts ...Option) *Processor {
	p := &Processor{
		sessions:    sessions,
		transcriber: transcriber,
		logger:      logging.NewComponentLogger(nil, "processing"),
		notesWindow: defaultNotesWindow,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register binds the processor to the process-session and recover-stuck
// operations.
func (p *Processor) Register(r Registrar) {
	r.Register(listening.OpProcessSession, p.handleProcess)
	r.Register(listening.OpRecoverStuck, p.handleRecover)
}

func (p *Processor) handleProcess(ctx context.Context, sessionID string) error {
	return p.Process(ctx, sessionID)
}

func (p *Processor) handleRecover(ctx context.Context, _ string) error {
	result, err := p.sessions.RecoverStuck(ctx)
	if err != nil {
		return err
	}
	if result.Recovered > 0 {
		p.logger.Info("recovery sweep scheduled sessions",
			logging.String(logging.FieldEventType, "recovery_sweep"),
			logging.Int("recovered", result.Recovered),
		)
	}
	return nil
}

// Process runs the pipeline for one session. It returns nil when the session
// is not in a processable state.
func (p *Processor) Process(ctx context.Context, sessionID string) error {
	ctx = services.WithSessionID(ctx, sessionID)
	logger := logging.WithContext(ctx, p.logger)

	session, err := p.sessions.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	if !Processable(session.Status) {
		logger.Debug("session not processable; skipping",
			logging.String("status", string(session.Status)),
		)
		return nil
	}
	if _, err := p.sessions.IncrementRetry(ctx, sessionID); err != nil {
		return err
	}

	started := time.Now()
	stage, err := p.run(ctx, session)
	if err == nil {
		logger.Info("session processed",
			logging.String(logging.FieldEventType, "session_processed"),
			logging.Duration("elapsed", time.Since(started)),
		)
		return nil
	}
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		logger.Info("processing interrupted; leaving session for recovery",
			logging.String(logging.FieldStage, stage),
		)
		return err
	}
	p.handleStageFailure(ctx, session, stage, err)
	return err
}

// Processable reports whether a session in status can be picked up by the
// pipeline.
func Processable(status listening.Status) bool {
	return status == listening.StatusTranscribing || status == listening.StatusSynthesizing
}
