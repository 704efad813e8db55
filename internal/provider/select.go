// Package provider selects the concrete Provider Driver variant named by
// configuration (§4.1, §9). The interface itself lives in providerapi to
// avoid an import cycle between this package and the variants.
package provider

import (
	"fmt"

	"github.com/infraweave-io/infraweave/internal/config"
	"github.com/infraweave-io/infraweave/internal/provider/awsdriver"
	"github.com/infraweave-io/infraweave/internal/provider/azuredriver"
	"github.com/infraweave-io/infraweave/internal/provider/nodriver"
	"github.com/infraweave-io/infraweave/internal/provider/providerapi"
)

// Driver re-exports providerapi.Driver so most call sites only need to
// import package provider.
type Driver = providerapi.Driver

// JobSpec re-exports providerapi.JobSpec.
type JobSpec = providerapi.JobSpec

// LogCursor re-exports providerapi.LogCursor.
type LogCursor = providerapi.LogCursor

// Select constructs the Driver named by cfg.CloudProvider. It is called
// exactly once at process start; the result is the only piece of
// cross-cutting global state besides the tracing logger (§9).
func Select(cfg config.Config) (Driver, error) {
	switch cfg.CloudProvider {
	case config.CloudProviderAWS:
		return awsdriver.New(cfg)
	case config.CloudProviderAzure:
		return azuredriver.New(cfg)
	case config.CloudProviderNone, "":
		return nodriver.New(), nil
	default:
		return nil, fmt.Errorf("unknown CLOUD_PROVIDER %q", cfg.CloudProvider)
	}
}
