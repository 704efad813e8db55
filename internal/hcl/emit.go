package hcl

import (
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// ChildModule is one claim folded into a composed stack root module.
type ChildModule struct {
	ClaimName string
	ModuleDir string // "./{module}-{version}", §4.3 step 5
	Def       *ModuleDef
	// VariableSources maps a variable name to either a top-level variable
	// reference ("var.{childName}__{varName}") or a cross-module traversal
	// ("module.{otherChild}.{outputName}") when §4.3 step 3 resolved a
	// `{{ ClaimName::outputName }}` reference.
	VariableSources map[string]string
}

// EmitRootModule writes the single root IaC template the Stack Composer
// publishes (§4.3 step 5), grounded on
// `original_source/env_common/src/logic/tf_root_module.rs`'s `module_block`
// builder — reproduced here with `hclwrite` instead of the Rust `hcl`
// crate's block builder, same shape: a backend stub, one top-level
// `variable` per child input, one `module` block per child wired to either
// a top-level variable or a sibling's output, and one top-level `output`
// per child output.
func EmitRootModule(backendDriver string, children []ChildModule) ([]byte, error) {
	f := hclwrite.NewEmptyFile()
	body := f.Body()

	// An empty backendDriver omits the terraform/backend block entirely:
	// the Stack Composer's published archive must not declare one (§4.2
	// step 2 rejects a backend block in any published source tree), so it
	// emits the merged root module without one and the runner synthesizes
	// backend.tf separately at plan/apply time via EmitBackendConfig.
	if backendDriver != "" {
		tfBlock := body.AppendNewBlock("terraform", nil)
		tfBlock.Body().AppendNewBlock("backend", []string{backendDriver})
	}

	for _, child := range children {
		for _, v := range child.Def.Variables {
			varBlock := body.AppendNewBlock("variable", []string{topLevelVarName(child.ClaimName, v.Name)})
			vb := varBlock.Body()
			if v.Type != "" {
				vb.SetAttributeRaw("type", hclwrite.TokensForIdentifier(v.Type))
			}
			if v.HasDefault {
				setAttributeGoValue(vb, "default", v.Default)
			}
			vb.SetAttributeValue("nullable", cty.BoolVal(v.Nullable))
			vb.SetAttributeValue("sensitive", cty.BoolVal(v.Sensitive))
			if v.Description != "" {
				vb.SetAttributeValue("description", cty.StringVal(v.Description))
			}
		}
	}

	for _, child := range children {
		modBlock := body.AppendNewBlock("module", []string{child.ClaimName})
		mb := modBlock.Body()
		mb.SetAttributeValue("source", cty.StringVal(child.ModuleDir))
		for _, v := range child.Def.Variables {
			source := child.VariableSources[v.Name]
			if source == "" {
				source = "var." + topLevelVarName(child.ClaimName, v.Name)
			}
			mb.SetAttributeRaw(v.Name, hclwrite.TokensForIdentifier(source))
		}
	}

	for _, child := range children {
		for _, o := range child.Def.Outputs {
			outBlock := body.AppendNewBlock("output", []string{fmt.Sprintf("%s__%s", child.ClaimName, o.Name)})
			ob := outBlock.Body()
			ob.SetAttributeRaw("value", hclwrite.TokensForIdentifier(fmt.Sprintf("module.%s.%s", child.ClaimName, o.Name)))
			if o.Sensitive {
				ob.SetAttributeValue("sensitive", cty.BoolVal(true))
			}
		}
	}

	return f.Bytes(), nil
}

// EmitBackendConfig writes the standalone backend.tf the Runner Dispatcher
// drops alongside a resolved deployment's working directory before plan/
// apply/destroy (§4.7's "backend.tf synthesized from the driver's
// get_backend_provider()/get_backend_provider_arguments(env,
// deployment_id)"): the same terraform/backend block EmitRootModule would
// have produced, kept out of the published archive, with the driver's
// resolved backend arguments (bucket/key/region for S3, storage
// account/container for Azure Blob) set as string attributes.
func EmitBackendConfig(backendDriver string, args map[string]string) []byte {
	f := hclwrite.NewEmptyFile()
	tfBlock := f.Body().AppendNewBlock("terraform", nil)
	backendBlock := tfBlock.Body().AppendNewBlock("backend", []string{backendDriver})
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		backendBlock.Body().SetAttributeValue(k, cty.StringVal(args[k]))
	}
	return f.Bytes()
}

func topLevelVarName(claimName, varName string) string {
	return fmt.Sprintf("%s__%s", claimName, varName)
}

func setAttributeGoValue(body *hclwrite.Body, name string, val any) {
	switch v := val.(type) {
	case string:
		body.SetAttributeValue(name, cty.StringVal(v))
	case bool:
		body.SetAttributeValue(name, cty.BoolVal(v))
	case float64:
		body.SetAttributeValue(name, cty.NumberFloatVal(v))
	default:
		body.SetAttributeRaw(name, hclwrite.TokensForIdentifier(fmt.Sprintf("%v", v)))
	}
}
