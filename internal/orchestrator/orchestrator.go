// Package orchestrator wires the data-flow glue §2 describes: claim ->
// validate -> resolve -> (compose, if a stack) -> dispatch -> status ->
// policy -> drift-schedule. It has no logic of its own beyond sequencing
// calls into the already-grounded components; every step's invariant
// lives in the package that owns it.
package orchestrator

import (
	"context"
	"time"

	"github.com/infraweave-io/infraweave/internal/claimvalidator"
	"github.com/infraweave-io/infraweave/internal/config"
	"github.com/infraweave-io/infraweave/internal/deployment"
	"github.com/infraweave-io/infraweave/internal/events"
	"github.com/infraweave-io/infraweave/internal/model"
	"github.com/infraweave-io/infraweave/internal/operator"
	"github.com/infraweave-io/infraweave/internal/policy"
	"github.com/infraweave-io/infraweave/internal/runner"
)

// Orchestrator implements operator.Orchestrator and is also the entry
// point the CLI's plan/apply/destroy commands go through (§2's "claim (from
// CLI/CR/HTTP)"). The webhook validates claims with internal/claimvalidator
// directly and does not use it.
type Orchestrator struct {
	Resolver    claimvalidator.ModuleResolver
	Runner      *runner.Dispatcher
	Deployments *deployment.Store
	Policies    *policy.Evaluator
	Config      config.Config
}

var _ operator.Orchestrator = (*Orchestrator)(nil)

// Apply validates req.Claim and dispatches an apply job (§2 "validates ->
// resolves module version -> ... -> enqueues runner job").
func (o *Orchestrator) Apply(ctx context.Context, req operator.ClaimRequest) error {
	return o.dispatch(ctx, req, model.CommandApply)
}

// Destroy dispatches a destroy job without re-validating variables — a
// destroy doesn't need the variable map the module's inputs describe, it
// tears down what was already applied.
func (o *Orchestrator) Destroy(ctx context.Context, req operator.ClaimRequest) error {
	return o.dispatchCommand(ctx, req, model.CommandDestroy, req.Claim.Spec.Variables, req.Claim.Spec.ModuleVersion, "", "")
}

// Plan validates and dispatches a plan job, the path the CLI's `plan`
// starts from. The drift reconciler's scheduled rechecks do not use it;
// they call the Runner Dispatcher directly.
func (o *Orchestrator) Plan(ctx context.Context, req operator.ClaimRequest) error {
	return o.dispatch(ctx, req, model.CommandPlan)
}

func (o *Orchestrator) dispatch(ctx context.Context, req operator.ClaimRequest, command model.Command) error {
	result, err := claimvalidator.Validate(o.Resolver, &req.Claim)
	if err != nil {
		return err
	}
	return o.dispatchCommand(ctx, req, command, result.Variables, req.Claim.Spec.ModuleVersion, result.Module.ModuleType, result.Module.Track)
}

func (o *Orchestrator) dispatchCommand(ctx context.Context, req operator.ClaimRequest, command model.Command, variables map[string]any, moduleVersion string, moduleType model.ModuleType, track string) error {
	payload := model.ApiInfraPayload{
		Command:       command,
		Module:        req.ModuleName,
		ModuleVersion: moduleVersion,
		ModuleType:    moduleType,
		ModuleTrack:   track,
		Name:          req.Claim.Metadata.Name,
		Environment:   req.Environment,
		DeploymentID:  req.DeploymentID,
		ProjectID:     req.ProjectID,
		Region:        req.Claim.Spec.Region,
		Variables:     variables,
		Dependencies:  req.Claim.Spec.Dependencies,
	}
	if payload.Region == "" {
		payload.Region = req.Region
	}
	timeout := o.Config.TimeoutFor(string(command))
	_, err := o.Runner.Dispatch(ctx, payload, timeout)
	return err
}

// ReportPlanFinish implements §4.8's "at plan-finish" trigger and §4.6's
// "change records are written at plan completion time": called by the
// runner's status-reporting path once a plan job produces output. Policy
// evaluation failures transition the deployment to failed_policy
// themselves (internal/policy.Evaluator.Run); this also records the
// immutable plan change record alongside it.
func (o *Orchestrator) ReportPlanFinish(ctx context.Context, dep *model.Deployment, jobID string, planJSON []byte, ev *events.Handler) ([]model.PolicyResult, error) {
	plan, err := policy.PlanJSON(planJSON)
	if err != nil {
		return nil, err
	}
	results, err := o.Policies.Run(ctx, dep, policy.EvalInput{Plan: plan})
	if err != nil {
		return nil, err
	}
	rec := &model.ChangeRecord{
		ProjectID: dep.ProjectID, Region: dep.Region, Environment: dep.Environment,
		DeploymentID: dep.DeploymentID, JobID: jobID, ChangeType: model.ChangePlan,
	}
	if err := ev.RecordChange(ctx, rec, planJSON); err != nil {
		return results, err
	}
	return results, nil
}

// ReportDestroyFinish marks a deployment deleted once its destroy job
// completes successfully (§4.5 "soft-deleted on destroy finished"),
// through the usual Transition path so the dependents invariant and drift
// index stay consistent.
func (o *Orchestrator) ReportDestroyFinish(ctx context.Context, dep *model.Deployment, jobID string) error {
	dep.Status = model.StatusSuccessful
	dep.Deleted = true
	dep.JobID = jobID
	return o.Deployments.Transition(ctx, deployment.TransitionInput{
		Deployment: dep,
		Event: events.StatusUpdate{
			ProjectID: dep.ProjectID, Region: dep.Region, Environment: dep.Environment,
			DeploymentID: dep.DeploymentID, ModuleName: dep.ModuleName, Command: model.CommandDestroy,
			Status: model.StatusSuccessful, Deleted: true, Epoch: time.Now().UnixNano(),
		},
	})
}
