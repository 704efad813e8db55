package operator

import (
	"context"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/infraweave-io/infraweave/internal/deployment"
	"github.com/infraweave-io/infraweave/internal/errs"
	"github.com/infraweave-io/infraweave/internal/model"
)

const fieldOwner = "infraweave-operator"

// ModuleLister is the narrow seam into the Artifact Store the Operator
// needs at startup (§4.10 "lists all published modules for the current
// environment").
type ModuleLister interface {
	GetAllLatestModules(ctx context.Context, track string) ([]*model.Module, error)
}

// Operator owns the CRD-per-module lifecycle: generate, apply, and watch.
// One ClaimReconciler is registered with the manager per published module,
// rather than a single fixed kind.
type Operator struct {
	Manager      ctrl.Manager
	Modules      ModuleLister
	Deployments  *deployment.Store
	Orchestrator Orchestrator

	ProjectID   string
	Region      string
	Environment string
	Track       string
}

// Bootstrap implements §4.10's startup sequence: list modules, generate +
// apply a CRD per module, then open a watch per kind.
func (o *Operator) Bootstrap(ctx context.Context) error {
	mods, err := o.Modules.GetAllLatestModules(ctx, o.Track)
	if err != nil {
		return err
	}
	for _, mod := range mods {
		if mod.ModuleType == model.ModuleTypeStack && mod.Name == "" {
			continue
		}
		if err := o.registerKind(ctx, mod); err != nil {
			return err
		}
	}
	return nil
}

func (o *Operator) registerKind(ctx context.Context, mod *model.Module) error {
	crd, err := GenerateCRD(mod)
	if err != nil {
		return err
	}
	if err := o.applyCRD(ctx, crd); err != nil {
		return err
	}

	gvk := schema.GroupVersionKind{Group: crdGroup, Version: crdVersion, Kind: crd.Spec.Names.Kind}

	reconciler := &ClaimReconciler{
		Client:       o.Manager.GetClient(),
		Deployments:  o.Deployments,
		Orchestrator: o.Orchestrator,
		ProjectID:    o.ProjectID,
		Region:       o.Region,
		Environment:  o.Environment,
		ModuleName:   mod.Name,
		GVK:          gvk,
	}

	watched := &unstructured.Unstructured{}
	watched.SetGroupVersionKind(gvk)

	return ctrl.NewControllerManagedBy(o.Manager).
		For(watched).
		Complete(reconciler)
}

// applyCRD server-side applies the generated CustomResourceDefinition, so
// re-running Bootstrap after a module's schema changes converges instead
// of erroring on "already exists".
func (o *Operator) applyCRD(ctx context.Context, crd *apiextensionsv1.CustomResourceDefinition) error {
	crd.APIVersion = "apiextensions.k8s.io/v1"
	crd.Kind = "CustomResourceDefinition"
	c := o.Manager.GetClient()
	if err := c.Patch(ctx, crd, client.Apply, client.ForceOwnership, client.FieldOwner(fieldOwner)); err != nil {
		return errs.Wrap(errs.KindBackend, err, "applying CRD %s", crd.Name)
	}
	return nil
}
