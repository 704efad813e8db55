package runner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/infraweave-io/infraweave/internal/errs"
)

// CallbackTokenSource mints the bearer token a runner job uses to call back
// into the control plane's status-report endpoint (§4.7 step 2 "the runner
// ... must call back into the control plane"). The Dispatcher calls it
// before launching the runner: it reads the dispatching process's own
// mounted ServiceAccount token and exchanges it against the control plane's
// internal endpoint for a short-lived callback token scoped to one job.
type CallbackTokenSource struct {
	ControlPlaneURL string
	HTTPClient      *http.Client

	// ServiceAccountTokenPath is where the dispatching process's own
	// ServiceAccount token is mounted, the credential presented to request a callback
	// token.
	ServiceAccountTokenPath string
}

// NewCallbackTokenSource returns a source configured with the default
// in-cluster ServiceAccount token mount path.
func NewCallbackTokenSource(controlPlaneURL string) *CallbackTokenSource {
	return &CallbackTokenSource{
		ControlPlaneURL:         controlPlaneURL,
		HTTPClient:              &http.Client{Timeout: 10 * time.Second},
		ServiceAccountTokenPath: "/var/run/secrets/kubernetes.io/serviceaccount/token",
	}
}

// TokenFor requests a callback token scoped to one deployment's job, which
// the runner presents when it reports plan/apply/destroy results back to
// the control plane.
func (c *CallbackTokenSource) TokenFor(ctx context.Context, deploymentID, jobID string) (string, error) {
	saToken, err := os.ReadFile(c.ServiceAccountTokenPath)
	if err != nil {
		return "", errs.Wrap(errs.KindOther, err, "reading ServiceAccount token")
	}

	url := fmt.Sprintf("%s/api/internal/callback-tokens/%s/%s", c.ControlPlaneURL, deploymentID, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", errs.Other(err)
	}
	req.Header.Set("Authorization", "Bearer "+string(saToken))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", errs.Wrap(errs.KindBackend, err, "requesting callback token for job %s", jobID)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", errs.New(errs.KindBackend, "callback token request for job %s: status %d: %s", jobID, resp.StatusCode, string(body))
	}

	token, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errs.Other(err)
	}
	return string(token), nil
}
