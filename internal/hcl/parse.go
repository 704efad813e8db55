// Package hcl parses Terraform configuration (variables, outputs, provider
// requirements), detects backend blocks, and produces the canonical diff
// tree the Artifact Store's version diff walks (§4.2 step 2, §4.2.1). It
// also emits the root module the Stack Composer writes out (§4.3 step 5),
// using `github.com/hashicorp/hcl/v2/hclwrite`'s block/attribute builders.
package hcl

import (
	"fmt"
	"sort"

	hclv2 "github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/infraweave-io/infraweave/internal/errs"
	"github.com/infraweave-io/infraweave/internal/model"
)

// ModuleDef is everything the Artifact Store needs out of a module's *.tf
// sources (§4.2 step 2).
type ModuleDef struct {
	Variables []model.Variable
	Outputs   []model.Output
	Providers []model.ProviderRequirement
	// HasBackendBlock is true if any file declares `terraform { backend
	// "..." {} }`; publish must reject this (§4.2 step 2).
	HasBackendBlock bool
}

// ParseModule parses every *.tf source (keyed by filename, for diagnostics)
// and extracts its variable/output/provider surface.
func ParseModule(files map[string][]byte) (*ModuleDef, error) {
	def := &ModuleDef{}
	parser := hclparse.NewParser()

	for name, content := range files {
		f, diags := parser.ParseHCL(content, name)
		if diags.HasErrors() {
			return nil, errs.New(errs.KindValidationError, "parsing %s: %s", name, diags.Error())
		}
		body, ok := f.Body.(*hclsyntax.Body)
		if !ok {
			continue
		}
		for _, block := range body.Blocks {
			switch block.Type {
			case "variable":
				v, err := parseVariableBlock(block, content)
				if err != nil {
					return nil, err
				}
				def.Variables = append(def.Variables, v)
			case "output":
				o, err := parseOutputBlock(block, content)
				if err != nil {
					return nil, err
				}
				def.Outputs = append(def.Outputs, o)
			case "terraform":
				for _, inner := range block.Body.Blocks {
					if inner.Type == "backend" {
						def.HasBackendBlock = true
					}
					if inner.Type == "required_providers" {
						reqs := parseRequiredProviders(inner)
						def.Providers = append(def.Providers, reqs...)
					}
				}
			}
		}
	}

	sort.Slice(def.Variables, func(i, j int) bool { return def.Variables[i].Name < def.Variables[j].Name })
	sort.Slice(def.Outputs, func(i, j int) bool { return def.Outputs[i].Name < def.Outputs[j].Name })
	return def, nil
}

func parseVariableBlock(block *hclsyntax.Block, src []byte) (model.Variable, error) {
	if len(block.Labels) != 1 {
		return model.Variable{}, errs.New(errs.KindValidationError, "variable block missing name label")
	}
	v := model.Variable{Name: block.Labels[0], Nullable: true}

	for name, attr := range block.Body.Attributes {
		switch name {
		case "type":
			// Kept verbatim (spec.md §4.2 step 2 "preserving the verbatim
			// type expression") rather than resolved to a Go type: HCL's
			// type grammar (e.g. `list(object({ id = string }))`) isn't a
			// valid standalone cty value.
			v.Type = sourceSlice(src, attr.Expr.Range())
		case "default":
			if val, diags := attr.Expr.Value(nil); !diags.HasErrors() {
				v.Default = ctyToGo(val)
				v.HasDefault = true
			}
		case "nullable":
			if val, diags := attr.Expr.Value(nil); !diags.HasErrors() && val.Type() == cty.Bool {
				v.Nullable = val.True()
			}
		case "sensitive":
			if val, diags := attr.Expr.Value(nil); !diags.HasErrors() && val.Type() == cty.Bool {
				v.Sensitive = val.True()
			}
		case "description":
			if val, diags := attr.Expr.Value(nil); !diags.HasErrors() && val.Type() == cty.String {
				v.Description = val.AsString()
			}
		}
	}
	return v, nil
}

func parseOutputBlock(block *hclsyntax.Block, src []byte) (model.Output, error) {
	if len(block.Labels) != 1 {
		return model.Output{}, errs.New(errs.KindValidationError, "output block missing name label")
	}
	o := model.Output{Name: block.Labels[0]}
	for name, attr := range block.Body.Attributes {
		switch name {
		case "value":
			// Kept verbatim: the value is near-always a traversal
			// expression (`module.x.y`), not a literal.
			o.Value = sourceSlice(src, attr.Expr.Range())
		case "description":
			if val, diags := attr.Expr.Value(nil); !diags.HasErrors() && val.Type() == cty.String {
				o.Description = val.AsString()
			}
		case "sensitive":
			if val, diags := attr.Expr.Value(nil); !diags.HasErrors() && val.Type() == cty.Bool {
				o.Sensitive = val.True()
			}
		}
	}
	return o, nil
}

func parseRequiredProviders(block *hclsyntax.Block) []model.ProviderRequirement {
	var out []model.ProviderRequirement
	for name, attr := range block.Body.Attributes {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() || val.IsNull() || !val.Type().IsObjectType() {
			continue
		}
		req := model.ProviderRequirement{Name: name}
		m := val.AsValueMap()
		if source, ok := m["source"]; ok && source.Type() == cty.String {
			req.Source = source.AsString()
		}
		if version, ok := m["version"]; ok && version.Type() == cty.String {
			req.Version = version.AsString()
		}
		out = append(out, req)
	}
	return out
}

// sourceSlice extracts the raw source text an hcl.Range covers, used for
// expressions that must be preserved verbatim rather than evaluated.
func sourceSlice(src []byte, rng hclv2.Range) string {
	if rng.Start.Byte < 0 || rng.End.Byte > len(src) || rng.Start.Byte > rng.End.Byte {
		return ""
	}
	return string(src[rng.Start.Byte:rng.End.Byte])
}

// ctyToGo converts a cty.Value into a plain Go value for the model types
// (map[string]any/[]any/string/float64/bool), mirroring how
// `sigs.k8s.io/yaml` decodes YAML scalars elsewhere in this module.
func ctyToGo(val cty.Value) any {
	if val.IsNull() {
		return nil
	}
	switch {
	case val.Type() == cty.String:
		return val.AsString()
	case val.Type() == cty.Number:
		f, _ := val.AsBigFloat().Float64()
		return f
	case val.Type() == cty.Bool:
		return val.True()
	case val.Type().IsListType() || val.Type().IsTupleType() || val.Type().IsSetType():
		out := make([]any, 0)
		for it := val.ElementIterator(); it.Next(); {
			_, v := it.Element()
			out = append(out, ctyToGo(v))
		}
		return out
	case val.Type().IsObjectType() || val.Type().IsMapType():
		out := make(map[string]any)
		for it := val.ElementIterator(); it.Next(); {
			k, v := it.Element()
			out[k.AsString()] = ctyToGo(v)
		}
		return out
	default:
		return fmt.Sprintf("%v", val)
	}
}
