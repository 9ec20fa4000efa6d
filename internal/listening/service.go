package listening

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"marginalia/internal/events"
	"marginalia/internal/logging"
	"marginalia/internal/metrics"
	"marginalia/internal/services"
)

const (
	maxWriteAttempts = 3
	maxIDLength      = 128
)

// Recovery defaults.
const (
	DefaultStuckThreshold = 10 * time.Minute
	DefaultMaxRetries     = 3
	DefaultBatchLimit     = 20
)

// Service runs the listening-session state machine against an injected store.
type Service struct {
	store     Store
	scheduler Scheduler
	events    EventPublisher
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	stuckThreshold time.Duration
	maxRetries     int
	batchLimit     int
}

// Option customises the Service.
type Option func(*Service)

// WithScheduler sets the scheduler used by RecoverStuck.
func WithScheduler(scheduler Scheduler) Option {
	return func(s *Service) {
		if scheduler != nil {
			s.scheduler = scheduler
		}
	}
}

// WithEvents sets the transition event sink.
func WithEvents(publisher EventPublisher) Option {
	return func(s *Service) {
		if publisher != nil {
			s.events = publisher
		}
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides record id generation (tests).
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithRecoveryDefaults overrides the stuck threshold, retry budget, and sweep
// batch size. Non-positive values keep the defaults.
func WithRecoveryDefaults(threshold time.Duration, maxRetries, batchLimit int) Option {
	return func(s *Service) {
		if threshold > 0 {
			s.stuckThreshold = threshold
		}
		if maxRetries > 0 {
			s.maxRetries = maxRetries
		}
		if batchLimit > 0 {
			s.batchLimit = batchLimit
		}
	}
}

// NewService constructs a Service bound to store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:          store,
		logger:         logging.NewNop(),
		now:            func() time.Time { return time.Now().UTC() },
		newID:          uuid.NewString,
		stuckThreshold: DefaultStuckThreshold,
		maxRetries:     DefaultMaxRetries,
		batchLimit:     DefaultBatchLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "listening")
	return s
}

// StartRequest carries the inputs of StartSession. Durations are optional and
// accept any float so that absent and non-finite client values share one path.
type StartRequest struct {
	UserID            string
	BookID            string
	CapDurationMs     *float64
	WarningDurationMs *float64
}

// StartSession creates a new recording session for a book the user owns.
func (s *Service) StartSession(ctx context.Context, req StartRequest) (*Session, error) {
	if err := validateIDs(req.UserID, req.BookID); err != nil {
		return nil, err
	}
	book, err := s.store.GetBook(ctx, req.BookID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "start", "load book", "", err)
	}
	if book == nil || book.UserID != req.UserID {
		return nil, ErrBookAccessDenied
	}
	active, err := s.store.FindActiveByOwnerAndSubject(ctx, req.UserID, req.BookID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "start", "find active session", "", err)
	}
	if active != nil {
		return nil, ErrOnlyOneActiveSession
	}

	now := s.now()
	capMs := NormalizeCapDuration(req.CapDurationMs)
	session := &Session{
		ID:                s.newID(),
		UserID:            req.UserID,
		BookID:            req.BookID,
		Status:            StatusRecording,
		StartedAt:         now,
		CapDurationMs:     capMs,
		WarningDurationMs: NormalizeWarningDuration(req.WarningDurationMs, capMs),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		if errors.Is(err, ErrOnlyOneActiveSession) {
			return nil, ErrOnlyOneActiveSession
		}
		return nil, services.Wrap(services.ErrTransient, "start", "create session", "", err)
	}
	metrics.SessionsStarted.Inc()
	s.publish(session, "")
	s.sessionLogger(ctx, session).Info(
		"listening session started",
		logging.String(logging.FieldEventType, "session_started"),
		logging.Int64("cap_duration_ms", session.CapDurationMs),
		logging.Int64("warning_duration_ms", session.WarningDurationMs),
	)
	return session.Clone(), nil
}

// Get returns the caller's session with the audio URL stripped.
func (s *Service) Get(ctx context.Context, userID, sessionID string) (*Session, error) {
	session, err := s.loadOwned(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return session.ClientView(), nil
}

// Load returns the full session record for internal callers such as the
// processing pipeline. It never leaves the process boundary.
func (s *Service) Load(ctx context.Context, sessionID string) (*Session, error) {
	if err := validateIDs(sessionID); err != nil {
		return nil, err
	}
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "", "load session", "", err)
	}
	if session == nil {
		return nil, ErrSessionAccessDenied
	}
	return session, nil
}

// ListForBook returns the caller's sessions for a book, newest first, with
// audio URLs stripped.
func (s *Service) ListForBook(ctx context.Context, userID, bookID string) ([]*Session, error) {
	if err := validateIDs(userID, bookID); err != nil {
		return nil, err
	}
	sessions, err := s.store.ListSessionsForBook(ctx, userID, bookID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "", "list sessions", "", err)
	}
	views := make([]*Session, 0, len(sessions))
	for _, session := range sessions {
		if session == nil || session.UserID != userID {
			continue
		}
		views = append(views, session.ClientView())
	}
	return views, nil
}

func (s *Service) loadOwned(ctx context.Context, userID, sessionID string) (*Session, error) {
	if err := validateIDs(userID, sessionID); err != nil {
		return nil, err
	}
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "", "load session", "", err)
	}
	if session == nil || session.UserID != userID {
		return nil, ErrSessionAccessDenied
	}
	return session, nil
}

// mutate re-reads the session, applies fn, and writes the result with a
// version check. A lost race re-runs the whole read-modify-write. fn must not
// write the session itself.
func (s *Service) mutate(ctx context.Context, userID, sessionID string, fn func(*Session) error) (*Session, Status, error) {
	var lastErr error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		session, err := s.loadOwned(ctx, userID, sessionID)
		if err != nil {
			return nil, "", err
		}
		from := session.Status
		if err := fn(session); err != nil {
			var transition *TransitionError
			if errors.As(err, &transition) {
				metrics.RejectedTransitions.WithLabelValues(string(transition.From), string(transition.To)).Inc()
			}
			return nil, from, err
		}
		session.UpdatedAt = s.now()
		err = s.store.UpdateSession(ctx, session)
		if err == nil {
			metrics.Transitions.WithLabelValues(string(from), string(session.Status)).Inc()
			s.publish(session, from)
			return session, from, nil
		}
		if !errors.Is(err, ErrConcurrentUpdate) {
			return nil, from, services.Wrap(services.ErrTransient, "", "update session", "", err)
		}
		lastErr = err
		s.sessionLogger(ctx, session).Debug(
			"session write lost a race; retrying",
			logging.Int("attempt", attempt+1),
		)
	}
	return nil, "", fmt.Errorf("update session %s: %w", sessionID, lastErr)
}

func (s *Service) publish(session *Session, from Status) {
	if s.events == nil || session == nil {
		return
	}
	s.events.Publish(events.SessionEvent{
		SessionID: session.ID,
		UserID:    session.UserID,
		BookID:    session.BookID,
		From:      string(from),
		To:        string(session.Status),
		At:        session.UpdatedAt,
	})
}

func (s *Service) sessionLogger(ctx context.Context, session *Session) *slog.Logger {
	logger := logging.WithContext(ctx, s.logger)
	if session == nil {
		return logger
	}
	if _, ok := services.SessionIDFromContext(ctx); ok {
		return logger.With(logging.String("book_id", session.BookID))
	}
	return logger.With(
		logging.String(logging.FieldSessionID, session.ID),
		logging.String("book_id", session.BookID),
	)
}

func validateIDs(ids ...string) error {
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" || trimmed != id || len(id) > maxIDLength {
			return ErrInvalidID
		}
	}
	return nil
}
