package artifactstore

import (
	"context"
	"encoding/json"

	"github.com/infraweave-io/infraweave/internal/errs"
	"github.com/infraweave-io/infraweave/internal/kv"
	"github.com/infraweave-io/infraweave/internal/model"
	"github.com/infraweave-io/infraweave/internal/version"
)

// GetLatestModuleVersion implements `get_latest_module_version(name, track)`
// (§4.2 "Queries").
func (s *Store) GetLatestModuleVersion(ctx context.Context, name, track string) (*model.Module, error) {
	rows, err := s.Driver.ReadDB(ctx, kv.Query{
		Table:    s.Table,
		PK:       kv.CurrentPK,
		SKEquals: kv.CurrentModuleSK(track, name),
		Limit:    1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errs.New(errs.KindModuleVersionNotFound, "%s/%s", track, name)
	}
	return decodeModule(rows[0])
}

// GetAllLatestModules implements `get_all_latest_module(track)`.
func (s *Store) GetAllLatestModules(ctx context.Context, track string) ([]*model.Module, error) {
	rows, err := s.Driver.ReadDB(ctx, kv.Query{Table: s.Table, PK: kv.CurrentPK, SKPrefix: "MODULE#" + track})
	if err != nil {
		return nil, err
	}
	return decodeModules(rows)
}

// GetAllModuleVersions implements `get_all_module_versions(name, track)`.
func (s *Store) GetAllModuleVersions(ctx context.Context, name, track string) ([]*model.Module, error) {
	rows, err := s.Driver.ReadDB(ctx, kv.Query{
		Table:      s.Table,
		PK:         kv.ModulePK(track, name),
		SKPrefix:   "VERSION#",
		Descending: true,
	})
	if err != nil {
		return nil, err
	}
	return decodeModules(rows)
}

// GetModuleVersion implements `get_module_version(name, track, version)`,
// and also serves as the claimvalidator.ModuleResolver implementation
// (§4.4 step 1).
func (s *Store) GetModuleVersion(kindOrName, track, ver string) (*model.Module, error) {
	rows, err := s.Driver.ReadDB(context.Background(), kv.Query{
		Table:    s.Table,
		PK:       kv.ModulePK(track, kindOrName),
		SKEquals: kv.VersionSK(zeroPadIfNeeded(ver)),
		Limit:    1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errs.New(errs.KindModuleVersionNotFound, "%s/%s@%s", track, kindOrName, ver)
	}
	return decodeModule(rows[0])
}

// GetLatestStackVersion is the stack-symmetric form of GetLatestModuleVersion.
func (s *Store) GetLatestStackVersion(ctx context.Context, name, track string) (*model.Module, error) {
	rows, err := s.Driver.ReadDB(ctx, kv.Query{
		Table:    s.Table,
		PK:       kv.CurrentPK,
		SKEquals: kv.CurrentStackSK(track, name),
		Limit:    1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errs.New(errs.KindModuleVersionNotFound, "%s/%s", track, name)
	}
	return decodeModule(rows[0])
}

// GetAllLatestStacks is the stack-symmetric form of GetAllLatestModules.
func (s *Store) GetAllLatestStacks(ctx context.Context, track string) ([]*model.Module, error) {
	rows, err := s.Driver.ReadDB(ctx, kv.Query{Table: s.Table, PK: kv.CurrentPK, SKPrefix: "STACK#" + track})
	if err != nil {
		return nil, err
	}
	return decodeModules(rows)
}

// GetAllStackVersions is the stack-symmetric form of GetAllModuleVersions.
func (s *Store) GetAllStackVersions(ctx context.Context, name, track string) ([]*model.Module, error) {
	rows, err := s.Driver.ReadDB(ctx, kv.Query{
		Table:      s.Table,
		PK:         kv.StackPK(track, name),
		SKPrefix:   "VERSION#",
		Descending: true,
	})
	if err != nil {
		return nil, err
	}
	return decodeModules(rows)
}

// GetAllPolicies implements `get_all_policies(env)`: the latest version of
// every policy published in that environment.
func (s *Store) GetAllPolicies(ctx context.Context, env string) ([]*model.Policy, error) {
	rows, err := s.Driver.ReadDB(ctx, kv.Query{Table: s.Table, PK: kv.CurrentPK, SKPrefix: kv.CurrentPolicySKPrefix(env)})
	if err != nil {
		return nil, err
	}
	out := make([]*model.Policy, 0, len(rows))
	for _, row := range rows {
		p, err := decodePolicy(row)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// GetAllPolicyVersions lists every published version of one policy within
// an environment, newest first.
func (s *Store) GetAllPolicyVersions(ctx context.Context, name, env string) ([]*model.Policy, error) {
	rows, err := s.Driver.ReadDB(ctx, kv.Query{
		Table:      s.Table,
		PK:         kv.PolicyEnvPK(env),
		SKPrefix:   kv.PolicyNameSKPrefix(name),
		Descending: true,
	})
	if err != nil {
		return nil, err
	}
	out := make([]*model.Policy, 0, len(rows))
	for _, row := range rows {
		p, err := decodePolicy(row)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// GetPolicy implements `get_policy(name, env, version)`.
func (s *Store) GetPolicy(ctx context.Context, name, env, ver string) (*model.Policy, error) {
	rows, err := s.Driver.ReadDB(ctx, kv.Query{
		Table:    s.Table,
		PK:       kv.PolicyEnvPK(env),
		SKEquals: kv.PolicyVersionSK(name, zeroPadIfNeeded(ver)),
		Limit:    1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errs.New(errs.KindModuleVersionNotFound, "policy %s/%s@%s", env, name, ver)
	}
	return decodePolicy(rows[0])
}

func decodePolicy(raw []byte) (*model.Policy, error) {
	var p model.Policy
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errs.Other(err)
	}
	return &p, nil
}

func decodeModule(raw []byte) (*model.Module, error) {
	var m model.Module
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errs.Other(err)
	}
	return &m, nil
}

func decodeModules(rows [][]byte) ([]*model.Module, error) {
	out := make([]*model.Module, 0, len(rows))
	for _, row := range rows {
		m, err := decodeModule(row)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// zeroPadIfNeeded accepts a raw semver string and renders it as the
// zero-padded sort key GetModuleVersion's callers store version rows under;
// an unparseable input (already zero-padded, or malformed) passes through
// unchanged.
func zeroPadIfNeeded(ver string) string {
	v, err := version.Parse(ver)
	if err != nil {
		return ver
	}
	return version.ZeroPadded(v)
}
