// Package drift implements the Drift Reconciler (§4.9): a scheduled scan
// that launches a driftcheck plan job for every deployment due a recheck.
// A manual `--remediate` trigger shares the same dispatch path as the
// scheduled scan rather than its own bespoke one.
package drift

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/infraweave-io/infraweave/internal/deployment"
	"github.com/infraweave-io/infraweave/internal/model"
	"github.com/infraweave-io/infraweave/internal/runner"
)

// Dispatched names one deployment the reconciler launched a driftcheck job
// for, the reconciler's own audit-trail result (§4.9 step 3).
type Dispatched struct {
	DeploymentID string `json:"deploymentId"`
	Environment  string `json:"environment"`
}

// Reconciler is the Drift Reconciler (§4.9).
type Reconciler struct {
	Deployments *deployment.Store
	Runner      *runner.Dispatcher

	// Concurrency bounds how many driftcheck launches run at once (§4.9
	// step 2 "issued concurrently, bounded by a semaphore"); 0 defaults to
	// 8, a fixed worker-pool size rather than an unbounded fan-out.
	Concurrency int

	// DispatchTimeout bounds each driftcheck job's runner launch.
	DispatchTimeout time.Duration
}

// Scan runs one reconciler pass (§4.9 steps 1-3): query the deployments due
// a check, launch a driftcheck job for each concurrently, and return the
// set actually dispatched. A per-deployment dispatch error is swallowed
// (logged by the caller via the returned partial list's absence) so one
// bad deployment can't abort the whole sweep.
func (r *Reconciler) Scan(ctx context.Context) ([]Dispatched, error) {
	now := time.Now().Unix()
	candidates, err := r.Deployments.DueForDriftCheck(ctx, now)
	if err != nil {
		return nil, err
	}

	limit := r.Concurrency
	if limit <= 0 {
		limit = 8
	}

	var mu sync.Mutex
	var dispatched []Dispatched

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, c := range candidates {
		c := c
		g.Go(func() error {
			if err := r.dispatchOne(gctx, c); err != nil {
				return nil // per-deployment failures don't abort the sweep
			}
			mu.Lock()
			dispatched = append(dispatched, Dispatched{DeploymentID: c.DeploymentID, Environment: c.Environment})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return dispatched, err
	}
	return dispatched, nil
}

// Remediate runs the same dispatch path as Scan for a single operator-named
// deployment (the CLI's `--remediate` manual trigger), bypassing the
// schedule check entirely — an explicit request always fires.
func (r *Reconciler) Remediate(ctx context.Context, projectID, region, env, deploymentID string) error {
	return r.dispatchOne(ctx, deployment.DriftCandidate{
		ProjectID: projectID, Region: region, Environment: env, DeploymentID: deploymentID,
	})
}

func (r *Reconciler) dispatchOne(ctx context.Context, c deployment.DriftCandidate) error {
	dep, err := r.Deployments.Get(ctx, c.ProjectID, c.Region, c.Environment, c.DeploymentID)
	if err != nil {
		return err
	}

	payload := model.ApiInfraPayload{
		Command:        model.CommandDriftCheck,
		Module:         dep.ModuleName,
		ModuleVersion:  dep.Version,
		ModuleType:     dep.ModuleType,
		ModuleTrack:    dep.Track,
		Name:           dep.ModuleName,
		Environment:    dep.Environment,
		DeploymentID:   dep.DeploymentID,
		ProjectID:      dep.ProjectID,
		Region:         dep.Region,
		DriftDetection: dep.DriftDetection,
		Variables:      dep.Variables,
		Dependencies:   dep.Dependencies,
		InitiatedBy:    dep.InitiatedBy,
	}

	timeout := r.DispatchTimeout
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	_, err = r.Runner.Dispatch(ctx, payload, timeout)
	return err
}
