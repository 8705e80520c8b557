package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ArionMiles/spendnudge/internal/daemon"
	"github.com/ArionMiles/spendnudge/pkg/config"
)

// runDaemon starts the ingestion daemon. SIGHUP triggers a manual refresh
// and SIGUSR1 a re-evaluation of alerts.
func runDaemon(ctx context.Context, cfg *config.Config, cmd *RunCmd, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, true, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if cmd.Restore || cfg.RestoreOnStart {
		if err := a.restore(ctx); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	if a.dispatcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("backup dispatcher error", "error", err)
			}
		}()
	}

	runner := daemon.New(a.tracker, a.source, daemon.Config{
		ScanInterval:         cfg.ScanInterval,
		ScanLimit:            cfg.ScanLimit,
		QueueSize:            cfg.IngestQueueSize,
		GamificationInterval: cfg.GamificationInterval,
	}, logger.With("component", "daemon"))

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP, syscall.SIGUSR1)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-hup:
				if sig == syscall.SIGUSR1 {
					if !runner.RequestEvaluation() {
						logger.Warn("ingestion queue full, evaluation skipped")
					}
					continue
				}
				logger.Info("received SIGHUP, refreshing")
				go func() {
					if err := runner.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
						logger.Warn("refresh failed", "error", err)
					}
				}()
			}
		}
	}()

	logger.Info("starting spendnudge", "version", Version)
	if err := runner.Run(ctx); err != nil {
		return err
	}

	wg.Wait()
	logger.Info("spendnudge stopped")
	return nil
}
