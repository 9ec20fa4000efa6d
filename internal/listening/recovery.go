package listening

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"marginalia/internal/logging"
	"marginalia/internal/metrics"
	"marginalia/internal/services"
)

// StuckQuery narrows ListStuckSessions. Zero values use the service defaults;
// a negative MaxRetries disables the retry filter so exhausted sessions are
// listed too.
type StuckQuery struct {
	Threshold  time.Duration
	MaxRetries int
	Limit      int
}

// ListStuckSessions returns transcribing and synthesizing sessions that have
// not been updated within the threshold and still have retry budget, oldest
// first.
func (s *Service) ListStuckSessions(ctx context.Context, query StuckQuery) ([]*Session, error) {
	threshold := query.Threshold
	if threshold <= 0 {
		threshold = s.stuckThreshold
	}
	maxRetries := query.MaxRetries
	if maxRetries == 0 {
		maxRetries = s.maxRetries
	}
	limit := query.Limit
	if limit <= 0 {
		limit = s.batchLimit
	}
	cutoff := s.now().Add(-threshold)

	var stuck []*Session
	for _, status := range ProcessingStatuses() {
		sessions, err := s.store.FindStaleByStatus(ctx, status, cutoff)
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "recovery", "find stale sessions", string(status), err)
		}
		for _, session := range sessions {
			if session == nil || !session.UpdatedAt.Before(cutoff) {
				continue
			}
			if maxRetries > 0 && session.RetryCount >= maxRetries {
				continue
			}
			stuck = append(stuck, session)
		}
	}
	sort.SliceStable(stuck, func(i, j int) bool {
		if stuck[i].UpdatedAt.Equal(stuck[j].UpdatedAt) {
			return stuck[i].ID < stuck[j].ID
		}
		return stuck[i].UpdatedAt.Before(stuck[j].UpdatedAt)
	})
	if len(stuck) > limit {
		stuck = stuck[:limit]
	}
	return stuck, nil
}

// IncrementRetry records that a processing retry actually started. It does
// not change the session status.
func (s *Service) IncrementRetry(ctx context.Context, sessionID string) (*Session, error) {
	if err := validateIDs(sessionID); err != nil {
		return nil, err
	}
	var lastErr error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		session, err := s.Load(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		now := s.now()
		session.RetryCount++
		session.LastRetryAt = &now
		session.UpdatedAt = now
		err = s.store.UpdateSession(ctx, session)
		if err == nil {
			s.sessionLogger(ctx, session).Info(
				"processing retry recorded",
				logging.String(logging.FieldEventType, "session_retry"),
				logging.Int("retry_count", session.RetryCount),
			)
			return session.Clone(), nil
		}
		if !errors.Is(err, ErrConcurrentUpdate) {
			return nil, services.Wrap(services.ErrTransient, "recovery", "increment retry", "", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("increment retry %s: %w", sessionID, lastErr)
}

// RecoverResult reports how many sessions the sweep re-queued.
type RecoverResult struct {
	Recovered int `json:"recovered"`
}

// RecoverStuck schedules an immediate processing run for every stuck session.
// Sessions out of retry budget are left untouched.
func (s *Service) RecoverStuck(ctx context.Context) (RecoverResult, error) {
	if s.scheduler == nil {
		return RecoverResult{}, services.Wrap(services.ErrConfiguration, "recovery", "recover stuck", "no scheduler configured", nil)
	}
	stuck, err := s.ListStuckSessions(ctx, StuckQuery{})
	if err != nil {
		return RecoverResult{}, err
	}
	metrics.StuckSessions.Set(float64(len(stuck)))

	logger := logging.WithContext(ctx, s.logger)
	var result RecoverResult
	for _, session := range stuck {
		if err := s.scheduler.ScheduleAfter(0, OpProcessSession, session.ID); err != nil {
			logging.WarnWithContext(
				logger,
				"failed to schedule stuck session",
				"recovery_schedule_failed",
				logging.String(logging.FieldSessionID, session.ID),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the next sweep will try again"),
			)
			continue
		}
		result.Recovered++
		metrics.RecoveriesScheduled.Inc()
	}
	if len(stuck) > 0 {
		logger.Info(
			"stuck session sweep",
			logging.String(logging.FieldEventType, "recovery_sweep"),
			logging.Int("stuck", len(stuck)),
			logging.Int("recovered", result.Recovered),
		)
	}
	return result, nil
}
