package artifactstore

import (
	"context"
	"fmt"

	"helm.sh/helm/v3/pkg/registry"

	"github.com/infraweave-io/infraweave/internal/errs"
	"github.com/infraweave-io/infraweave/internal/model"
)

// OCIRegistry pushes and pulls module archives through an OCI-compliant
// registry (§4.2 step 9 "optional OCI push"), using Helm's registry client
// against a plain (non-chart) content layer — the archive is the zipped
// module source tree produced by zipSourceTree, not a Helm chart.
type OCIRegistry struct {
	Host     string
	Username string
	Password string
	Insecure bool

	client *registry.Client
}

// NewOCIRegistry builds a registry client bound to one OCI host, logging in
// when credentials are supplied.
func NewOCIRegistry(host, username, password string, insecure bool) (*OCIRegistry, error) {
	client, err := registry.NewClient()
	if err != nil {
		return nil, errs.Wrap(errs.KindBackend, err, "constructing OCI registry client")
	}
	r := &OCIRegistry{Host: host, Username: username, Password: password, Insecure: insecure, client: client}
	if username != "" {
		if err := client.Login(host,
			registry.LoginOptBasicAuth(username, password),
			registry.LoginOptInsecure(insecure),
		); err != nil {
			return nil, errs.Wrap(errs.KindBackend, err, "logging into OCI registry %s", host)
		}
	}
	return r, nil
}

// Push implements the PublishOptions.OCIPush hook store.go's publish
// pipeline calls at step 9: push the archive under
// oci://<host>/<name>:<version> and return the resolved reference recorded
// on the Module. The context is unused since registry.Client's Push/Pull
// predate context plumbing; kept in the signature to match the OCIPush
// hook's shape.
func (r *OCIRegistry) Push(_ context.Context, name, ver string, archive []byte, _ *model.Module) (string, error) {
	ref := fmt.Sprintf("%s/%s:%s", r.Host, name, ver)
	result, err := r.client.Push(archive, ref, registry.PushOptStrictMode(false))
	if err != nil {
		return "", errs.Wrap(errs.KindBackend, err, "pushing %s to OCI registry", ref)
	}
	return result.Ref, nil
}

// Pull fetches a previously pushed archive back out, for a path that
// resolves a module purely by OCI reference rather than by the
// object-store key recorded at publish time.
func (r *OCIRegistry) Pull(_ context.Context, ref string) ([]byte, error) {
	result, err := r.client.Pull(ref, registry.PullOptWithChart(true))
	if err != nil {
		return nil, errs.Wrap(errs.KindBackend, err, "pulling %s from OCI registry", ref)
	}
	if result.Chart == nil {
		return nil, errs.New(errs.KindNotFound, "%s has no content layer", ref)
	}
	return result.Chart.Data, nil
}
