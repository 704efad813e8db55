package artifactstore

import (
	"context"
	"time"

	"github.com/infraweave-io/infraweave/internal/errs"
	"github.com/infraweave-io/infraweave/internal/kv"
	"github.com/infraweave-io/infraweave/internal/model"
	"github.com/infraweave-io/infraweave/internal/version"
)

// PolicyPublishOptions parameterizes PublishPolicy — analogous to
// PublishOptions, but keyed by environment rather than track (§4.2
// "Publish policy — analogous, under policies/").
type PolicyPublishOptions struct {
	SourceDir       string
	Environment     string
	Name            string
	Description     string
	VersionOverride string
}

// PublishPolicy bundles a rego policy source tree under `policies/` and
// records it keyed by (environment, name, version) rather than
// (track, name, version) — policies aren't versioned per track, they're
// scoped to the environment they guard (§4.8).
func (s *Store) PublishPolicy(ctx context.Context, opts PolicyPublishOptions) (*model.Policy, error) {
	if opts.Name == "" || opts.Environment == "" {
		return nil, errs.New(errs.KindValidationError, "policy publish requires name and environment")
	}
	ver, err := version.Parse(opts.VersionOverride)
	if err != nil {
		return nil, err
	}

	latest, err := s.getLatestPolicy(ctx, opts.Name, opts.Environment)
	if err != nil && !errs.Is(err, errs.KindModuleVersionNotFound) {
		return nil, err
	}
	if latest != nil {
		latestVer, err := version.Parse(latest.Version)
		if err != nil {
			return nil, err
		}
		if version.Compare(ver, latestVer) <= 0 {
			return nil, errs.New(errs.KindModuleVersionExists, "policy %s is not newer than published %s", ver.String(), latestVer.String())
		}
	}

	archive, err := zipSourceTree(opts.SourceDir, nil)
	if err != nil {
		return nil, err
	}
	if !s.BypassFileSizeCheck && len(archive) > maxArchiveBytes {
		return nil, errs.New(errs.KindZipError, "policy archive is %d bytes, exceeds 1MB limit", len(archive))
	}

	key := kv.PolicyArchiveKey(opts.Name, ver.String())
	if err := s.Driver.UploadFileBase64(ctx, s.Bucket, key, archive); err != nil {
		return nil, err
	}

	policy := &model.Policy{
		Name:        opts.Name,
		Environment: opts.Environment,
		Version:     ver.String(),
		S3Key:       key,
		Description: opts.Description,
		Timestamp:   timestampNow(),
	}

	zeroPadded := version.ZeroPadded(ver)
	if err := s.Driver.TransactWrite(ctx, []kv.Op{
		{Item: kv.Item{Table: s.Table, PK: kv.PolicyEnvPK(opts.Environment), SK: kv.PolicyVersionSK(opts.Name, zeroPadded), Value: policy}, Condition: &kv.Condition{Expression: "attribute_not_exists(PK)"}},
		{Item: kv.Item{Table: s.Table, PK: kv.CurrentPK, SK: kv.CurrentPolicySK(opts.Environment, opts.Name), Value: policy}},
	}); err != nil {
		return nil, err
	}
	return policy, nil
}

func (s *Store) getLatestPolicy(ctx context.Context, name, env string) (*model.Policy, error) {
	rows, err := s.Driver.ReadDB(ctx, kv.Query{
		Table:    s.Table,
		PK:       kv.CurrentPK,
		SKEquals: kv.CurrentPolicySK(env, name),
		Limit:    1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errs.New(errs.KindModuleVersionNotFound, "policy %s/%s", env, name)
	}
	p, err := decodePolicy(rows[0])
	if err != nil {
		return nil, err
	}
	return p, nil
}

// timestampNow is a seam so tests can observe a deterministic clock; real
// callers get the wall clock.
var timestampNow = func() time.Time { return time.Now() }
