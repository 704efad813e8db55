package artifactstore

import (
	"context"

	"github.com/infraweave-io/infraweave/internal/kv"
	"github.com/infraweave-io/infraweave/internal/model"
)

// DeprecateModule flags one published module version as deprecated (the
// CLI's `module deprecate` form, §6 CLI). The version row and its CURRENT
// pointer (when this version is still the latest on its track) are
// overwritten unconditionally; deprecating a version never changes which
// version is current.
func (s *Store) DeprecateModule(ctx context.Context, name, track, ver string) (*model.Module, error) {
	mod, err := s.GetModuleVersion(name, track, ver)
	if err != nil {
		return nil, err
	}
	mod.Deprecated = true
	return mod, s.putModule(ctx, mod)
}

// DeprecateStack is the stack-symmetric form of DeprecateModule.
func (s *Store) DeprecateStack(ctx context.Context, name, track, ver string) (*model.Module, error) {
	return s.DeprecateModule(ctx, name, track, ver)
}

// DeprecatePolicy flags one published policy version as deprecated;
// internal/policy.Evaluator.Run already skips deprecated policies outright.
func (s *Store) DeprecatePolicy(ctx context.Context, name, env, ver string) (*model.Policy, error) {
	p, err := s.GetPolicy(ctx, name, env, ver)
	if err != nil {
		return nil, err
	}
	p.Deprecated = true
	return p, s.putPolicy(ctx, p)
}

func (s *Store) putModule(ctx context.Context, mod *model.Module) error {
	zeroPadded := zeroPadIfNeeded(mod.Version)
	ops := []kv.Op{
		{Item: kv.Item{Table: s.Table, PK: kv.ModulePK(mod.Track, mod.Name), SK: kv.VersionSK(zeroPadded), Value: mod}},
	}
	latest, err := s.GetLatestModuleVersion(ctx, mod.Name, mod.Track)
	if err == nil && latest != nil && latest.Version == mod.Version {
		sk := kv.CurrentModuleSK(mod.Track, mod.Name)
		if mod.ModuleType == model.ModuleTypeStack {
			sk = kv.CurrentStackSK(mod.Track, mod.Name)
		}
		ops = append(ops, kv.Op{Item: kv.Item{Table: s.Table, PK: kv.CurrentPK, SK: sk, Value: mod}})
	}
	return s.Driver.TransactWrite(ctx, ops)
}

func (s *Store) putPolicy(ctx context.Context, p *model.Policy) error {
	zeroPadded := zeroPadIfNeeded(p.Version)
	ops := []kv.Op{
		{Item: kv.Item{Table: s.Table, PK: kv.PolicyEnvPK(p.Environment), SK: kv.PolicyVersionSK(p.Name, zeroPadded), Value: p}},
	}
	if latest, err := s.getLatestPolicy(ctx, p.Name, p.Environment); err == nil && latest != nil && latest.Version == p.Version {
		ops = append(ops, kv.Op{Item: kv.Item{Table: s.Table, PK: kv.CurrentPK, SK: kv.CurrentPolicySK(p.Environment, p.Name), Value: p}})
	}
	return s.Driver.TransactWrite(ctx, ops)
}
