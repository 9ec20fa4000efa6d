package daemon

import (
	"log/slog"

	"marginalia/internal/config"
	"marginalia/internal/events"
	"marginalia/internal/listening"
	"marginalia/internal/notifications"
	"marginalia/internal/processing"
	"marginalia/internal/scheduler"
	"marginalia/internal/store"
)

const eventBufferSize = 1024

// Assemble builds the daemon components around st. A nil synthesizer runs
// processing in degraded mode.
func Assemble(cfg *config.Config, st *store.Store, transcriber processing.Transcriber, synthesizer processing.Synthesizer, logger *slog.Logger) Dependencies {
	sched := scheduler.New(logger)
	hub := events.NewHub(eventBufferSize)
	sessions := listening.NewService(st,
		listening.WithScheduler(sched),
		listening.WithEvents(hub),
		listening.WithLogger(logger),
		listening.WithRecoveryDefaults(cfg.StuckThreshold(), cfg.Recovery.MaxRetries, cfg.Recovery.BatchLimit),
	)

	opts := []processing.Option{
		processing.WithContextSource(st),
		processing.WithLogger(logger),
		processing.WithContextLimits(cfg.Context.TokenBudget, cfg.Context.RecentNotesWindow),
	}
	if synthesizer != nil {
		opts = append(opts, processing.WithSynthesizer(synthesizer))
	}
	return Dependencies{
		Store:     st,
		Sessions:  sessions,
		Scheduler: sched,
		Events:    hub,
		Processor: processing.New(sessions, transcriber, opts...),
		Notifier:  notifications.NewService(cfg),
	}
}
