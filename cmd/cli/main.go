// Command infraweave is the CLI (§6): publish/list/get/deprecate modules,
// stacks, and policies, drive plan/apply from a claim file, and
// destroy/driftcheck by deployment id. plan/apply/destroy go through the
// same orchestration entry point the operator uses.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/infraweave-io/infraweave/internal/artifactstore"
	"github.com/infraweave-io/infraweave/internal/config"
	"github.com/infraweave-io/infraweave/internal/deployment"
	"github.com/infraweave-io/infraweave/internal/drift"
	"github.com/infraweave-io/infraweave/internal/events"
	"github.com/infraweave-io/infraweave/internal/orchestrator"
	"github.com/infraweave-io/infraweave/internal/policy"
	"github.com/infraweave-io/infraweave/internal/provider"
	"github.com/infraweave-io/infraweave/internal/runner"
)

// app bundles every component the CLI's subcommands share, constructed
// once in main() from the same config.FromEnv()/provider.Select() wiring
// the other binaries use (§9).
type app struct {
	Config       config.Config
	Log          *zap.Logger
	Store        *artifactstore.Store
	Events       *events.Handler
	Deployments  *deployment.Store
	Runner       *runner.Dispatcher
	Policies     *policy.Evaluator
	Orchestrator *orchestrator.Orchestrator
	Drift        *drift.Reconciler
}

func newApp() (*app, error) {
	cfg := config.FromEnv()

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	driver, err := provider.Select(cfg)
	if err != nil {
		return nil, err
	}

	evHandler := events.New(driver, cfg.TableName, cfg.BucketName)
	deployments := deployment.New(driver, evHandler, cfg.TableName)
	store := artifactstore.New(driver, cfg.TableName, cfg.BucketName, cfg.BypassFileSizeCheck)
	policies := &policy.Evaluator{Policies: store, Deployments: deployments, Events: evHandler}
	dispatcher := &runner.Dispatcher{
		Driver:        driver,
		Deployments:   deployments,
		Events:        evHandler,
		RunnerImage:   cfg.RunnerImage,
		BackendBucket: cfg.BucketName,
		BackendRegion: cfg.Region,
		Callback:      runner.NewCallbackTokenSource(cfg.ControlPlaneURL),
	}
	orch := &orchestrator.Orchestrator{
		Resolver:    store,
		Runner:      dispatcher,
		Deployments: deployments,
		Policies:    policies,
		Config:      cfg,
	}
	reconciler := &drift.Reconciler{
		Deployments:     deployments,
		Runner:          dispatcher,
		DispatchTimeout: cfg.PlanTimeout,
	}

	return &app{
		Config: cfg, Log: log, Store: store, Events: evHandler, Deployments: deployments,
		Runner: dispatcher, Policies: policies, Orchestrator: orch, Drift: reconciler,
	}, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	var l zap.AtomicLevel
	if err := l.UnmarshalText([]byte(level)); err == nil {
		cfg.Level = l
	}
	return cfg.Build()
}

func main() {
	a, err := newApp()
	if err != nil {
		fmt.Fprintln(os.Stderr, "infraweave:", err)
		os.Exit(1)
	}
	defer a.Log.Sync()

	root := &cobra.Command{
		Use:           "infraweave",
		Short:         "InfraWeave control-plane CLI",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		a.moduleCmd(),
		a.stackCmd(),
		a.policyCmd(),
		a.planCmd(),
		a.applyCmd(),
		a.destroyCmd(),
		a.driftcheckCmd(),
		a.environmentCmd(),
		a.upgradeCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
