// Package runner implements the Runner Dispatcher (§4.7): turn a validated
// ApiInfraPayload into a runner job launch, recording `requested` and
// `initiated` events around the launch via the Status Handler, by building
// a providerapi.JobSpec for whichever Provider Driver is configured.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/infraweave-io/infraweave/internal/deployment"
	"github.com/infraweave-io/infraweave/internal/errs"
	"github.com/infraweave-io/infraweave/internal/events"
	"github.com/infraweave-io/infraweave/internal/hcl"
	"github.com/infraweave-io/infraweave/internal/model"
	"github.com/infraweave-io/infraweave/internal/provider/providerapi"
)

// Dispatcher is the Runner Dispatcher (§4.7).
type Dispatcher struct {
	Driver      providerapi.Driver
	Deployments *deployment.Store
	Events      *events.Handler

	// RunnerImage is the container image launched for every command.
	// InfraWeave has exactly one runner image per deployment process,
	// configured once at startup.
	RunnerImage string
	DefaultCPU    string
	DefaultMemory string

	// BackendBucket/BackendRegion parameterize the synthesized backend.tf
	// (§4.7 step 2); populated from config at startup.
	BackendBucket string
	BackendRegion string

	// Callback mints the bearer token the launched runner presents when it
	// reports status back to the control plane. Nil is valid for drivers
	// under test that never actually start a pod capable of calling back.
	Callback *CallbackTokenSource
}

// Dispatch runs §4.7 steps 1-4.
func (d *Dispatcher) Dispatch(ctx context.Context, payload model.ApiInfraPayload, timeout time.Duration) (jobID string, err error) {
	now := time.Now().UnixNano()

	dep := &model.Deployment{
		ProjectID:      payload.ProjectID,
		Region:         payload.Region,
		Environment:    payload.Environment,
		DeploymentID:   payload.DeploymentID,
		ModuleName:     payload.Module,
		Track:          payload.ModuleTrack,
		Version:        payload.ModuleVersion,
		ModuleType:     payload.ModuleType,
		Variables:      payload.Variables,
		Status:         model.StatusRequested,
		Dependencies:   payload.Dependencies,
		InitiatedBy:    payload.InitiatedBy,
		DriftDetection: payload.DriftDetection,
		GitProvider:    payload.ExtraData.Git,
	}
	dep.DriftDetection.NextCheckEpoch = -1

	// Step 1: requested event + initial deployment row.
	if err := d.Deployments.Transition(ctx, deployment.TransitionInput{
		Deployment: dep,
		IsPlan:     payload.Command == model.CommandPlan,
		Event: events.StatusUpdate{
			ProjectID: payload.ProjectID, Region: payload.Region, Environment: payload.Environment,
			DeploymentID: payload.DeploymentID, ModuleName: payload.Module, Track: payload.ModuleTrack,
			Version: payload.ModuleVersion, ModuleType: payload.ModuleType, Command: payload.Command,
			Status: model.StatusRequested, Variables: payload.Variables, Dependencies: payload.Dependencies,
			InitiatedBy: payload.InitiatedBy, DriftDetection: payload.DriftDetection, Epoch: now,
		},
	}); err != nil {
		return "", err
	}

	// Step 2: build the runner environment.
	env := buildEnv(payload)
	tfvars, err := json.Marshal(payload.Variables)
	if err != nil {
		return "", errs.Other(err)
	}
	env["INFRAWEAVE_TFVARS_JSON"] = string(tfvars)
	backendArgs := d.backendArgsFor(payload)
	env["INFRAWEAVE_BACKEND_TF"] = string(hcl.EmitBackendConfig(d.Driver.Name(), backendArgs))

	if d.Callback != nil {
		// The job id isn't known until StartRunner returns below, so the
		// callback token is scoped to the deployment; the runner includes
		// its own job id (read back from its environment) on every report.
		token, err := d.Callback.TokenFor(ctx, payload.DeploymentID, payload.DeploymentID)
		if err != nil {
			return "", err
		}
		env["INFRAWEAVE_CALLBACK_TOKEN"] = token
		env["INFRAWEAVE_CALLBACK_URL"] = d.Callback.ControlPlaneURL + "/api/internal/status-reports"
	}

	// Step 3: launch.
	spec := providerapi.JobSpec{
		Image:   d.RunnerImage,
		Env:     env,
		CPU:     d.DefaultCPU,
		Memory:  d.DefaultMemory,
		Command: []string{string(payload.Command)},
		Timeout: timeout,
	}
	jobID, err = d.Driver.StartRunner(ctx, spec)
	if err != nil {
		dep.Status = model.StatusFailedInit
		dep.Error = err.Error()
		_ = d.Deployments.Transition(ctx, deployment.TransitionInput{
			Deployment: dep,
			Event: events.StatusUpdate{
				ProjectID: payload.ProjectID, Region: payload.Region, Environment: payload.Environment,
				DeploymentID: payload.DeploymentID, ModuleName: payload.Module, Command: payload.Command,
				Status: model.StatusFailedInit, Error: err.Error(), Epoch: time.Now().UnixNano(),
			},
		})
		return "", err
	}

	// Step 4: initiated.
	dep.Status = model.StatusInitiated
	dep.JobID = jobID
	if err := d.Deployments.Transition(ctx, deployment.TransitionInput{
		Deployment: dep,
		Event: events.StatusUpdate{
			ProjectID: payload.ProjectID, Region: payload.Region, Environment: payload.Environment,
			DeploymentID: payload.DeploymentID, ModuleName: payload.Module, Command: payload.Command,
			Status: model.StatusInitiated, JobID: jobID, Epoch: time.Now().UnixNano(),
		},
	}); err != nil {
		return "", err
	}

	return jobID, nil
}

// buildEnv implements §4.7 step 2's env var list.
func buildEnv(payload model.ApiInfraPayload) map[string]string {
	env := map[string]string{
		"INFRAWEAVE_DEPLOYMENT_ID":         payload.DeploymentID,
		"INFRAWEAVE_ENVIRONMENT":           payload.Environment,
		"INFRAWEAVE_REFERENCE":             payload.Name,
		"INFRAWEAVE_MODULE_VERSION":        payload.ModuleVersion,
		"INFRAWEAVE_MODULE_TYPE":           string(payload.ModuleType),
		"INFRAWEAVE_MODULE_TRACK":          payload.ModuleTrack,
		"INFRAWEAVE_DRIFT_DETECTION":       fmt.Sprintf("%t", payload.DriftDetection.Enabled),
		"INFRAWEAVE_DRIFT_DETECTION_INTERVAL": fmt.Sprintf("%d", payload.DriftDetection.Interval),
	}
	for k, v := range payload.Annotations {
		env["INFRAWEAVE_ANNOTATION_"+k] = v
	}
	if g := payload.ExtraData.Git; g != nil {
		if g.GitHub != nil {
			env["INFRAWEAVE_GIT_PROVIDER"] = "github"
			env["INFRAWEAVE_GIT_OWNER"] = g.GitHub.Owner
			env["INFRAWEAVE_GIT_REPO"] = g.GitHub.Repo
			env["INFRAWEAVE_GIT_REF"] = g.GitHub.Ref
		} else if g.GitLab != nil {
			env["INFRAWEAVE_GIT_PROVIDER"] = "gitlab"
			env["INFRAWEAVE_GIT_PROJECT_ID"] = g.GitLab.ProjectID
			env["INFRAWEAVE_GIT_REF"] = g.GitLab.Ref
		}
	}
	return env
}

// backendArgsFor resolves the per-driver backend.tf attributes (§4.7 step 2
// "get_backend_provider_arguments(env, deployment_id)"). Each driver
// variant names its own state-storage shape; none of that detail crosses
// the providerapi.Driver boundary, so it's resolved here from the
// dispatcher's own config instead.
func (d *Dispatcher) backendArgsFor(payload model.ApiInfraPayload) map[string]string {
	key := fmt.Sprintf("states/%s/%s.tfstate", payload.Environment, payload.DeploymentID)
	switch d.Driver.Name() {
	case "aws":
		return map[string]string{"bucket": d.BackendBucket, "key": key, "region": d.BackendRegion}
	case "azure":
		return map[string]string{"storage_account_name": d.BackendBucket, "container_name": "tfstate", "key": key}
	default:
		return map[string]string{"path": key}
	}
}
