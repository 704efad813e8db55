// Package policy implements the Policy Evaluator Interface (§4.8): at
// plan-finish, fetch every policy published for the deployment's
// environment, run each against the plan output with OPA, and transition
// the deployment to failed_policy on any violation — one decision per
// published policy, accumulated.
package policy

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/open-policy-agent/opa/rego"

	"github.com/infraweave-io/infraweave/internal/deployment"
	"github.com/infraweave-io/infraweave/internal/errs"
	"github.com/infraweave-io/infraweave/internal/events"
	"github.com/infraweave-io/infraweave/internal/model"
)

// Store is the subset of *artifactstore.Store the evaluator needs: list
// the policies bound to an environment and pull down their archives.
// Declared locally so this package doesn't import the KV plumbing the
// store is built on, matching the ModuleResolver/Publisher seams already
// used by internal/claimvalidator and internal/stackcomposer.
type Store interface {
	GetAllPolicies(ctx context.Context, env string) ([]*model.Policy, error)
	DownloadArchive(ctx context.Context, key string) ([]byte, error)
}

// Evaluator is the Policy Evaluator Interface (§4.8).
type Evaluator struct {
	Policies    Store
	Deployments *deployment.Store
	Events      *events.Handler

	// ViolationTailLines bounds how much of a rego eval's violation output
	// is retained per policy (§4.8 step 2 "bounded tail buffer"); 0 means
	// unbounded.
	ViolationTailLines int
}

// EvalInput is the three JSON documents §4.8 step 2 feeds an eval
// (tf_plan.json, env_data.json, policy_input.json), combined under
// `data.infraweave`'s `input` rather than `opa eval`'s three separate
// `--input`/`--data` flags since rego.Input takes exactly one value.
type EvalInput struct {
	Plan    map[string]any `json:"tf_plan"`
	EnvData map[string]any `json:"env_data"`
	Policy  map[string]any `json:"policy_input"`
}

// Run implements §4.8 steps 1-4 for one deployment's finished plan: every
// policy bound to dep.Environment is evaluated against in; on any failure
// the deployment is transitioned to failed_policy with the accumulated
// results attached, otherwise the caller (the Runner Dispatcher's status
// poller) proceeds to record a successful plan.
func (e *Evaluator) Run(ctx context.Context, dep *model.Deployment, in EvalInput) ([]model.PolicyResult, error) {
	policies, err := e.Policies.GetAllPolicies(ctx, dep.Environment)
	if err != nil {
		return nil, err
	}

	results := make([]model.PolicyResult, 0, len(policies))
	anyFailed := false
	for _, p := range policies {
		if p.Deprecated {
			continue
		}
		result, err := e.evalOne(ctx, p, in)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
		if result.Failed {
			anyFailed = true
		}
	}

	if !anyFailed {
		return results, nil
	}

	failedDep := *dep
	failedDep.Status = model.StatusFailedPolicy
	failedDep.PolicyResults = results
	if err := e.Deployments.Transition(ctx, deployment.TransitionInput{
		Deployment: &failedDep,
		Event: events.StatusUpdate{
			ProjectID: dep.ProjectID, Region: dep.Region, Environment: dep.Environment,
			DeploymentID: dep.DeploymentID, ModuleName: dep.ModuleName, Track: dep.Track,
			Version: dep.Version, ModuleType: dep.ModuleType, Command: model.CommandPlan,
			Status: model.StatusFailedPolicy, PolicyResults: results, Epoch: time.Now().UnixNano(),
		},
	}); err != nil {
		return nil, err
	}
	return results, nil
}

// evalOne runs §4.8 steps 1-3 for a single policy bundle.
func (e *Evaluator) evalOne(ctx context.Context, p *model.Policy, in EvalInput) (model.PolicyResult, error) {
	result := model.PolicyResult{Policy: p.Name, Version: p.Version, Environment: p.Environment, PolicyName: p.Name}

	archive, err := e.Policies.DownloadArchive(ctx, p.S3Key)
	if err != nil {
		return result, err
	}
	modules, err := extractRegoFiles(archive)
	if err != nil {
		return result, err
	}
	if len(modules) == 0 {
		return result, errs.New(errs.KindPolicyEvaluationError, "policy %s/%s has no .rego files", p.Environment, p.Name)
	}

	input := map[string]any{
		"tf_plan":      in.Plan,
		"env_data":     in.EnvData,
		"policy_input": in.Policy,
	}

	opts := []func(*rego.Rego){
		rego.Query("data.infraweave"),
		rego.Input(input),
	}
	for name, src := range modules {
		opts = append(opts, rego.Module(name, string(src)))
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return result, errs.Wrap(errs.KindPolicyEvaluationError, err, "preparing policy %s/%s", p.Environment, p.Name)
	}
	set, err := prepared.Eval(ctx)
	if err != nil {
		return result, errs.Wrap(errs.KindPolicyEvaluationError, err, "evaluating policy %s/%s", p.Environment, p.Name)
	}

	violations := decodeViolations(set)
	if e.ViolationTailLines > 0 && len(violations) > e.ViolationTailLines {
		violations = violations[len(violations)-e.ViolationTailLines:]
	}
	result.Violations = violations
	result.Failed = len(violations) > 0
	return result, nil
}

// decodeViolations reads the `data.infraweave.deny`/`data.infraweave.violations`
// conventions off the eval's result set; anything else under `data.infraweave`
// that isn't one of those two keys is ignored, matching rego's own
// convention that a package need only populate the rules it cares about.
func decodeViolations(set rego.ResultSet) []string {
	var out []string
	for _, result := range set {
		for _, expr := range result.Expressions {
			obj, ok := expr.Value.(map[string]any)
			if !ok {
				continue
			}
			for _, key := range []string{"deny", "violations"} {
				list, ok := obj[key].([]any)
				if !ok {
					continue
				}
				for _, v := range list {
					out = append(out, fmt.Sprint(v))
				}
			}
		}
	}
	return out
}

// extractRegoFiles pulls the .rego members out of a downloaded policy
// archive (§4.8 step 1), mirroring artifactstore's unzipTerraformFiles but
// for rego sources instead of Terraform ones; kept local since that
// helper is unexported to its package.
func extractRegoFiles(archive []byte) (map[string][]byte, error) {
	r, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, errs.Wrap(errs.KindZipError, err, "reading policy archive")
	}
	modules := make(map[string][]byte)
	for _, f := range r.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(f.Name, ".rego") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errs.Wrap(errs.KindZipError, err, "opening %s", f.Name)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, errs.Wrap(errs.KindZipError, err, "reading %s", f.Name)
		}
		modules[f.Name] = content
	}
	return modules, nil
}

// PlanJSON decodes a terraform plan JSON blob into the map EvalInput.Plan
// expects, used by callers that only have the raw bytes the runner
// reported (Orchestrator.ReportPlanFinish, the plan-finish path).
func PlanJSON(raw []byte) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errs.Other(err)
	}
	return m, nil
}
