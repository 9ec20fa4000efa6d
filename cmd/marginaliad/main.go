package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"marginalia/internal/config"
	"marginalia/internal/daemon"
	"marginalia/internal/logging"
	"marginalia/internal/preflight"
	"marginalia/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	for _, result := range preflight.Failed(preflight.RunLocal(cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "run `marginalia doctor` for details"),
		)
	}

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open document store", logging.Error(err))
		return
	}

	deps, err := buildDependencies(cfg, st, logger)
	if err != nil {
		_ = st.Close()
		logger.Error("build components", logging.Error(err))
		return
	}

	d, err := daemon.New(cfg, deps, logger)
	if err != nil {
		_ = st.Close()
		logger.Error("create daemon", logging.Error(err))
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("marginaliad shutting down")
}
