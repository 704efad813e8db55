package operator

import (
	"context"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/infraweave-io/infraweave/internal/deployment"
	"github.com/infraweave-io/infraweave/internal/model"
)

const claimFinalizer = "infraweave.io/finalizer"

// ClaimRequest is what the Reconciler hands to the orchestration entry
// point for one custom resource (§4.10 "translate the CR spec into a
// claim, call the orchestration entry point").
type ClaimRequest struct {
	ProjectID    string
	Region       string
	Environment  string
	ModuleName   string
	DeploymentID string
	Claim        model.Claim
}

// Orchestrator is the narrow seam into the data-flow glue (§2): apply
// submits/reapplies a claim, Destroy tears it down. internal/orchestrator
// satisfies this; declared locally the same way claimvalidator/
// stackcomposer/policy declare their own resolver seams rather than
// importing the glue package directly.
type Orchestrator interface {
	Apply(ctx context.Context, req ClaimRequest) error
	Destroy(ctx context.Context, req ClaimRequest) error
}

// ClaimReconciler reconciles one module's CRD kind into deployments
// (§4.10). One instance is constructed per watched kind — the Operator
// type below owns the set of running instances, one per published module.
type ClaimReconciler struct {
	client.Client
	Deployments  *deployment.Store
	Orchestrator Orchestrator

	ProjectID   string
	Region      string
	Environment string
	ModuleName  string
	GVK         schema.GroupVersionKind
}

// Reconcile implements §4.10's event handling: Applied (Create|Update)
// translates and (re)applies; Deleted submits a destroy and only clears
// the finalizer once the deployment reaches terminal `deleted`.
func (r *ClaimReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := logf.FromContext(ctx)

	cr := &unstructured.Unstructured{}
	cr.SetGroupVersionKind(r.GVK)
	if err := r.Get(ctx, req.NamespacedName, cr); err != nil {
		return ctrl.Result{}, client.IgnoreNotFound(err)
	}

	deploymentID := string(cr.GetUID())
	claimReq := ClaimRequest{
		ProjectID:    r.ProjectID,
		Region:       r.Region,
		Environment:  r.Environment,
		ModuleName:   r.ModuleName,
		DeploymentID: deploymentID,
		Claim:        translateClaim(cr, r.ModuleName),
	}

	if !cr.GetDeletionTimestamp().IsZero() {
		if controllerutil.ContainsFinalizer(cr, claimFinalizer) {
			if err := r.Orchestrator.Destroy(ctx, claimReq); err != nil {
				log.Error(err, "destroy failed", "name", cr.GetName())
				return ctrl.Result{RequeueAfter: 10 * time.Second}, nil
			}
			dep, err := r.Deployments.Get(ctx, r.ProjectID, r.Region, r.Environment, deploymentID)
			if err == nil && dep.Deleted && dep.Status.Terminal() {
				controllerutil.RemoveFinalizer(cr, claimFinalizer)
				if err := r.Update(ctx, cr); err != nil {
					return ctrl.Result{}, err
				}
				return ctrl.Result{}, nil
			}
			return ctrl.Result{RequeueAfter: 10 * time.Second}, nil
		}
		return ctrl.Result{}, nil
	}

	if !controllerutil.ContainsFinalizer(cr, claimFinalizer) {
		controllerutil.AddFinalizer(cr, claimFinalizer)
		if err := r.Update(ctx, cr); err != nil {
			return ctrl.Result{}, err
		}
	}

	if err := r.Orchestrator.Apply(ctx, claimReq); err != nil {
		log.Error(err, "apply failed", "name", cr.GetName())
		return ctrl.Result{RequeueAfter: 10 * time.Second}, nil
	}

	if err := r.patchStatus(ctx, cr, deploymentID); err != nil {
		return ctrl.Result{}, err
	}

	return ctrl.Result{RequeueAfter: 10 * time.Second}, nil
}

// patchStatus writes resourceStatus/lastStatusUpdate onto the CR, the
// poll-and-patch loop §4.10 describes ("polls deployment status every 10s
// and writes back to the CR").
func (r *ClaimReconciler) patchStatus(ctx context.Context, cr *unstructured.Unstructured, deploymentID string) error {
	dep, err := r.Deployments.Get(ctx, r.ProjectID, r.Region, r.Environment, deploymentID)
	if err != nil {
		return client.IgnoreNotFound(err)
	}
	if err := unstructured.SetNestedField(cr.Object, string(dep.Status), "status", "resourceStatus"); err != nil {
		return err
	}
	if err := unstructured.SetNestedField(cr.Object, time.Now().UTC().Format(time.RFC3339), "status", "lastStatusUpdate"); err != nil {
		return err
	}
	if err := r.Status().Update(ctx, cr); err != nil && !apierrors.IsConflict(err) {
		return err
	}
	return nil
}

// translateClaim builds the model.Claim the orchestration entry point
// consumes from a CR's unstructured spec (§4.10 "translate the CR spec
// into a claim").
func translateClaim(cr *unstructured.Unstructured, moduleName string) model.Claim {
	spec, _, _ := unstructured.NestedMap(cr.Object, "spec")
	variables := make(map[string]any, len(spec))
	var moduleVersion string
	var region string
	for k, v := range spec {
		switch k {
		case "moduleVersion":
			if s, ok := v.(string); ok {
				moduleVersion = s
			}
		case "region":
			if s, ok := v.(string); ok {
				region = s
			}
		default:
			variables[k] = v
		}
	}
	return model.Claim{
		APIVersion: cr.GetAPIVersion(),
		Kind:       cr.GetKind(),
		Metadata:   model.Metadata{Name: cr.GetName(), Namespace: cr.GetNamespace()},
		Spec: model.ClaimSpec{
			ModuleVersion: moduleVersion,
			Region:        region,
			Variables:     variables,
		},
	}
}
