package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"marginalia/internal/config"
	"marginalia/internal/events"
	"marginalia/internal/listening"
	"marginalia/internal/logging"
	"marginalia/internal/notifications"
	"marginalia/internal/processing"
	"marginalia/internal/scheduler"
	"marginalia/internal/store"
)

// Dependencies are the components the daemon runs. All but Notifier are
// required.
type Dependencies struct {
	Store     *store.Store
	Sessions  *listening.Service
	Scheduler *scheduler.Scheduler
	Events    *events.Hub
	Processor *processing.Processor
	Notifier  notifications.Service
}

// Daemon coordinates the background scheduler and the HTTP API and enforces
// single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	sessions  *listening.Service
	scheduler *scheduler.Scheduler
	hub       *events.Hub
	notifier  notifications.Service
	api       *apiServer
	router    http.Handler

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	DatabasePath string
	LockFilePath string
	APIAddress   string
	Health       store.HealthSummary
}

// New constructs a daemon and registers the processing operations on the
// scheduler.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || deps.Store == nil || deps.Sessions == nil || deps.Scheduler == nil || deps.Events == nil || deps.Processor == nil {
		return nil, errors.New("daemon requires config, store, sessions, scheduler, events, and processor")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	deps.Processor.Register(deps.Scheduler)

	d := &Daemon{
		cfg:       cfg,
		logger:    logger,
		store:     deps.Store,
		sessions:  deps.Sessions,
		scheduler: deps.Scheduler,
		hub:       deps.Events,
		notifier:  deps.Notifier,
		lockPath:  cfg.LockPath(),
		lock:      flock.New(cfg.LockPath()),
	}
	h := &handlers{
		cfg:       cfg,
		logger:    logger,
		store:     deps.Store,
		sessions:  deps.Sessions,
		scheduler: deps.Scheduler,
		hub:       deps.Events,
		packer:    deps.Processor,
	}
	d.router = h.routes()
	d.api = newAPIServer(cfg.Paths.APIBind, d.router, logger)
	return d, nil
}

// Start acquires the daemon lock, launches the scheduler and recovery sweep,
// and begins serving the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another marginalia daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.startServices(d.ctx); err != nil {
		d.cancel()
		d.scheduler.Stop()
		d.api.stop()
		_ = d.lock.Unlock()
		d.ctx = nil
		d.cancel = nil
		return err
	}

	if d.notifier != nil && d.notifier.Enabled() {
		opts := notifications.Options{NotifyCompleted: d.cfg.Notifications.NotifyCompleted, Since: d.hub.Cursor()}
		d.wg.Add(1)
		go func(ctx context.Context) {
			defer d.wg.Done()
			notifications.Follow(ctx, d.hub, d.store, d.notifier, opts, d.logger)
		}(d.ctx)
	}

	d.running.Store(true)
	d.logger.Info("marginalia daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.address()),
		logging.Duration("recovery_interval", d.cfg.RecoveryInterval()),
	)
	return nil
}

func (d *Daemon) startServices(ctx context.Context) error {
	if err := d.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := d.scheduler.ScheduleEvery(d.cfg.RecoveryInterval(), listening.OpRecoverStuck); err != nil {
		return fmt.Errorf("schedule recovery sweep: %w", err)
	}
	if err := d.api.start(ctx); err != nil {
		return fmt.Errorf("start api: %w", err)
	}
	return nil
}

// Stop stops the API and scheduler and releases the daemon lock. In-flight
// processing runs are cancelled; the recovery sweep picks them up after the
// next start.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.scheduler.Stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("marginalia daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Handler returns the HTTP API handler. It is usable without Start.
func (d *Daemon) Handler() http.Handler {
	return d.router
}

// APIAddress returns the address the API listens on, or "" before Start.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		APIAddress:   d.api.address(),
	}
	health, err := d.store.Health(ctx, time.Now().Add(-d.cfg.StuckThreshold()))
	if err != nil {
		d.logger.Warn("session health unavailable", logging.Error(err))
		return status
	}
	status.Health = health
	return status
}
