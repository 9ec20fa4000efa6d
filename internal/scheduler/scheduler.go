package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"marginalia/internal/logging"
)

// Handler executes one scheduled operation.
type Handler func(ctx context.Context, payload string) error

var (
	// ErrNotRunning is returned when tasks are scheduled outside Start/Stop.
	ErrNotRunning = errors.New("scheduler not running")
	// ErrUnknownOperation is returned for operations without a handler.
	ErrUnknownOperation = errors.New("unknown operation")
)

// Scheduler is an in-process task scheduler.
type Scheduler struct {
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// New constructs an idle scheduler.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		logger:   logging.NewComponentLogger(logger, "scheduler"),
		handlers: make(map[string]Handler),
		inflight: make(map[string]struct{}),
	}
}

// Register binds op to handler, replacing any previous binding.
func (s *Scheduler) Register(op string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[op] = handler
}

// Start enables scheduling. Tasks run under a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already running")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	return nil
}

// Stop cancels pending and recurring tasks and waits for running handlers to
// return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// ScheduleAfter runs op once with payload after delay. A zero delay runs it
// as soon as a goroutine is available.
func (s *Scheduler) ScheduleAfter(delay time.Duration, op, payload string) error {
	ctx, err := s.reserve(op)
	if err != nil {
		return err
	}
	go func() {
		defer s.wg.Done()
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
		}
		s.run(ctx, op, payload)
	}()
	return nil
}

// ScheduleEvery runs op with an empty payload every interval until Stop.
func (s *Scheduler) ScheduleEvery(interval time.Duration, op string) error {
	if interval <= 0 {
		return fmt.Errorf("schedule %s: interval must be positive", op)
	}
	ctx, err := s.reserve(op)
	if err != nil {
		return err
	}
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.run(ctx, op, "")
			}
		}
	}()
	return nil
}

func (s *Scheduler) reserve(op string) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil, ErrNotRunning
	}
	if _, ok := s.handlers[op]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, op)
	}
	s.wg.Add(1)
	return s.ctx, nil
}

func (s *Scheduler) run(ctx context.Context, op, payload string) {
	key := op + "\x00" + payload
	s.mu.Lock()
	handler := s.handlers[op]
	if _, busy := s.inflight[key]; busy {
		s.mu.Unlock()
		s.logger.Debug("operation already running; skipping",
			logging.String("operation", op),
			logging.String("payload", payload),
		)
		return
	}
	s.inflight[key] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inflight, key)
		s.mu.Unlock()
	}()

	started := time.Now()
	err := handler(ctx, payload)
	if err == nil {
		s.logger.Debug("operation finished",
			logging.String("operation", op),
			logging.String("payload", payload),
			logging.Duration("elapsed", time.Since(started)),
		)
		return
	}
	if errors.Is(err, context.Canceled) {
		s.logger.Info("operation cancelled by shutdown", logging.String("operation", op))
		return
	}
	logging.WarnWithContext(s.logger, "scheduled operation failed", "scheduler_task_failed",
		logging.String("operation", op),
		logging.String("payload", payload),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "the recovery sweep retries stuck sessions"),
	)
}
