// Package claimvalidator resolves a claim's module and checks its variable
// map against the module's declared inputs (§4.4). Grounded on
// `original_source/env_common/src/handlers.rs`'s validate path: resolve
// module -> required-variable check -> camelCase enforcement -> best-effort
// type check -> normalized snake_case variable map.
package claimvalidator

import (
	"strings"

	"github.com/infraweave-io/infraweave/internal/errs"
	"github.com/infraweave-io/infraweave/internal/model"
	"github.com/infraweave-io/infraweave/internal/naming"
	"github.com/infraweave-io/infraweave/internal/version"
)

// ModuleResolver looks up a published module by (kind, track, moduleVersion)
// — implemented by internal/artifactstore, kept as an interface here so
// this package has no dependency on the store's KV plumbing.
type ModuleResolver interface {
	GetModuleVersion(kind, track, ver string) (*model.Module, error)
}

// Result is the outcome of validating one claim (§4.4 step 5).
type Result struct {
	Module    *model.Module
	Variables map[string]any // snake_case keys, nulls preserved
}

// Validate implements §4.4 steps 1-5.
func Validate(resolver ModuleResolver, claim *model.Claim) (*Result, error) {
	ver, err := version.Parse(claim.Spec.ModuleVersion)
	if err != nil {
		return nil, err
	}
	track := string(version.TrackOf(ver))

	mod, err := resolver.GetModuleVersion(strings.ToLower(claim.Kind), track, claim.Spec.ModuleVersion)
	if err != nil {
		return nil, err
	}

	normalized := make(map[string]any, len(claim.Spec.Variables))
	seen := make(map[string]bool, len(claim.Spec.Variables))

	for claimKey, val := range claim.Spec.Variables {
		if !naming.IsCamelCase(claimKey) {
			return nil, errs.New(errs.KindValidationError, "claim variable %q must be camelCase", claimKey)
		}
		snakeKey := naming.ToSnake(claimKey)
		seen[snakeKey] = true
		normalized[snakeKey] = val
	}

	declared := make(map[string]model.Variable, len(mod.Variables))
	for _, v := range mod.Variables {
		declared[v.Name] = v
	}

	// Unknown variable keys are an error (§4.4 step 3).
	for snakeKey := range seen {
		if _, ok := declared[snakeKey]; !ok {
			return nil, errs.New(errs.KindUnknownVariable, "%s", snakeKey)
		}
	}

	// Required variables: not nullable and no default must be present
	// (§4.4 step 2).
	for name, v := range declared {
		if v.Nullable || v.HasDefault {
			continue
		}
		if _, ok := seen[name]; !ok {
			return nil, errs.New(errs.KindMissingRequiredVariable, "%s", name)
		}
	}

	// Best-effort type check against the verbatim HCL type expression
	// (§4.4 step 4): distinguish string/number/bool/list/map, accept
	// complex types opaquely.
	for snakeKey, val := range normalized {
		if err := checkType(declared[snakeKey].Type, val); err != nil {
			return nil, errs.Wrap(errs.KindTypeMismatch, err, "variable %s", snakeKey)
		}
	}

	return &Result{Module: mod, Variables: normalized}, nil
}

func checkType(typeExpr string, val any) error {
	if val == nil {
		return nil // null passes the type check for every variable; nullability is not checked against the declaration
	}
	base := strings.TrimSpace(typeExpr)
	if i := strings.IndexAny(base, "(["); i >= 0 {
		base = base[:i]
	}
	switch base {
	case "string":
		if _, ok := val.(string); !ok {
			return errs.New(errs.KindTypeMismatch, "expected string, got %T", val)
		}
	case "number":
		switch val.(type) {
		case float64, int, int64:
		default:
			return errs.New(errs.KindTypeMismatch, "expected number, got %T", val)
		}
	case "bool":
		if _, ok := val.(bool); !ok {
			return errs.New(errs.KindTypeMismatch, "expected bool, got %T", val)
		}
	case "list", "set", "tuple":
		if _, ok := val.([]any); !ok {
			return errs.New(errs.KindTypeMismatch, "expected list, got %T", val)
		}
	case "map", "object":
		if _, ok := val.(map[string]any); !ok {
			return errs.New(errs.KindTypeMismatch, "expected map, got %T", val)
		}
	default:
		// Complex/unrecognized HCL type expressions (e.g. a raw object()
		// constructor) are accepted as opaque (§4.4 step 4).
	}
	return nil
}
