// Command operator runs the Kubernetes Operator (§4.10): one controller
// per published module, generated and watched via the CRD-per-module
// lifecycle internal/operator owns.
package main

import (
	"os"

	"go.uber.org/zap"
	ctrl "sigs.k8s.io/controller-runtime"
	crzap "sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/infraweave-io/infraweave/internal/artifactstore"
	"github.com/infraweave-io/infraweave/internal/config"
	"github.com/infraweave-io/infraweave/internal/deployment"
	"github.com/infraweave-io/infraweave/internal/events"
	"github.com/infraweave-io/infraweave/internal/operator"
	"github.com/infraweave-io/infraweave/internal/orchestrator"
	"github.com/infraweave-io/infraweave/internal/policy"
	"github.com/infraweave-io/infraweave/internal/provider"
	"github.com/infraweave-io/infraweave/internal/runner"
)

var setupLog = ctrl.Log.WithName("setup")

func main() {
	if err := run(); err != nil {
		setupLog.Error(err, "operator exited")
		os.Exit(1)
	}
}

func run() error {
	ctrl.SetLogger(crzap.New(crzap.UseDevMode(false)))

	cfg := config.FromEnv()
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	driver, err := provider.Select(cfg)
	if err != nil {
		return err
	}

	evHandler := events.New(driver, cfg.TableName, cfg.BucketName)
	deployments := deployment.New(driver, evHandler, cfg.TableName)
	store := artifactstore.New(driver, cfg.TableName, cfg.BucketName, cfg.BypassFileSizeCheck)
	policies := &policy.Evaluator{Policies: store, Deployments: deployments, Events: evHandler}
	dispatcher := &runner.Dispatcher{
		Driver:      driver,
		Deployments: deployments,
		Events:      evHandler,
		RunnerImage: cfg.RunnerImage,
		Callback:    runner.NewCallbackTokenSource(cfg.ControlPlaneURL),
	}

	orch := &orchestrator.Orchestrator{
		Resolver:    store,
		Runner:      dispatcher,
		Deployments: deployments,
		Policies:    policies,
		Config:      cfg,
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{})
	if err != nil {
		return err
	}

	op := &operator.Operator{
		Manager:      mgr,
		Modules:      store,
		Deployments:  deployments,
		Orchestrator: orch,
		ProjectID:    cfg.ProjectID,
		Region:       cfg.Region,
		Environment:  cfg.Environment,
		Track:        "stable",
	}

	ctx := ctrl.SetupSignalHandler()
	if err := op.Bootstrap(ctx); err != nil {
		return err
	}

	setupLog.Info("starting operator manager")
	return mgr.Start(ctx)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	var l zap.AtomicLevel
	if err := l.UnmarshalText([]byte(level)); err == nil {
		cfg.Level = l
	}
	return cfg.Build()
}
