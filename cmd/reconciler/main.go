// Command reconciler runs the Drift Reconciler (§4.9) as a standalone
// process: a ticker loop scanning for deployments due a recheck, separate
// from the operator's manager loop so it can be scaled/restarted
// independently.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/infraweave-io/infraweave/internal/config"
	"github.com/infraweave-io/infraweave/internal/deployment"
	"github.com/infraweave-io/infraweave/internal/drift"
	"github.com/infraweave-io/infraweave/internal/events"
	"github.com/infraweave-io/infraweave/internal/provider"
	"github.com/infraweave-io/infraweave/internal/runner"
)

func main() {
	cfg := config.FromEnv()

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "building logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	driver, err := provider.Select(cfg)
	if err != nil {
		log.Fatal("selecting provider driver", zap.Error(err))
	}

	evHandler := events.New(driver, cfg.TableName, cfg.BucketName)
	deployments := deployment.New(driver, evHandler, cfg.TableName)

	dispatcher := &runner.Dispatcher{
		Driver:      driver,
		Deployments: deployments,
		Events:      evHandler,
		RunnerImage: cfg.RunnerImage,
		Callback:    runner.NewCallbackTokenSource(cfg.ControlPlaneURL),
	}

	reconciler := &drift.Reconciler{
		Deployments:     deployments,
		Runner:          dispatcher,
		DispatchTimeout: cfg.PlanTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting drift reconciler", zap.Duration("interval", cfg.DriftPollInterval))
	runLoop(ctx, log, reconciler, cfg)
}

// runLoop implements §4.9's scheduled scan: run one pass immediately, then
// repeat on cfg.DriftPollInterval until the context is cancelled.
func runLoop(ctx context.Context, log *zap.Logger, reconciler *drift.Reconciler, cfg config.Config) {
	ticker := time.NewTicker(cfg.DriftPollInterval)
	defer ticker.Stop()

	for {
		dispatched, err := reconciler.Scan(ctx)
		if err != nil {
			log.Error("drift scan failed", zap.Error(err))
		} else {
			log.Info("drift scan complete", zap.Int("dispatched", len(dispatched)))
		}

		select {
		case <-ctx.Done():
			log.Info("drift reconciler shutting down")
			return
		case <-ticker.C:
		}
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	var l zap.AtomicLevel
	if err := l.UnmarshalText([]byte(level)); err == nil {
		cfg.Level = l
	}
	return cfg.Build()
}
