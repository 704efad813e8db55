// Package manifest decodes and schema-validates module.yaml/stack.yaml and
// claim YAML/JSON documents (§4.2 step 1, §4.4), using the same
// CRD-shaped `apiVersion`/`kind`/`metadata`/`spec` YAML envelope
// Kubernetes custom resources use.
package manifest

import (
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"sigs.k8s.io/yaml"

	"github.com/infraweave-io/infraweave/internal/errs"
	"github.com/infraweave-io/infraweave/internal/model"
)

// Module is the decoded shape of module.yaml's apiVersion/kind/metadata/spec
// envelope.
type Module struct {
	APIVersion string       `json:"apiVersion"`
	Kind       string       `json:"kind"`
	Metadata   Metadata     `json:"metadata"`
	Spec       ModuleSpec   `json:"spec"`
}

type Metadata struct {
	Name string `json:"name"`
}

type ModuleSpec struct {
	ModuleName  string             `json:"moduleName"`
	Version     string             `json:"version,omitempty"`
	Description string             `json:"description"`
	Reference   string             `json:"reference"`
	Examples    []Example          `json:"examples,omitempty"`
	CPU         string             `json:"cpu,omitempty"`
	Memory      string             `json:"memory,omitempty"`
	Providers   []ProviderSelector `json:"providers,omitempty"`
}

type Example struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Variables   map[string]any `json:"variables"`
}

type ProviderSelector struct {
	Name string `json:"name"`
}

const moduleSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["apiVersion", "kind", "metadata", "spec"],
  "properties": {
    "apiVersion": {"type": "string"},
    "kind": {"type": "string", "minLength": 1},
    "metadata": {
      "type": "object",
      "required": ["name"],
      "properties": {"name": {"type": "string", "minLength": 1}}
    },
    "spec": {
      "type": "object",
      "required": ["moduleName", "description", "reference"],
      "properties": {
        "moduleName": {"type": "string", "minLength": 1},
        "version": {"type": "string"},
        "description": {"type": "string"},
        "reference": {"type": "string"},
        "cpu": {"type": "string"},
        "memory": {"type": "string"},
        "examples": {"type": "array"},
        "providers": {"type": "array"}
      }
    }
  }
}`

var moduleSchema = mustCompile("module.yaml", moduleSchemaJSON)

func mustCompile(name, schemaJSON string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("manifest: invalid embedded schema %s: %v", name, err))
	}
	resourceURL := "mem://" + name
	if err := compiler.AddResource(resourceURL, doc); err != nil {
		panic(fmt.Sprintf("manifest: registering schema %s: %v", name, err))
	}
	schema, err := compiler.Compile(resourceURL)
	if err != nil {
		panic(fmt.Sprintf("manifest: compiling schema %s: %v", name, err))
	}
	return schema
}

// LoadModule decodes and schema-validates a module.yaml/stack.yaml document
// (§4.2 step 1: "Read and schema-validate the module manifest").
func LoadModule(raw []byte) (*Module, error) {
	jsonBytes, err := yaml.YAMLToJSON(raw)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidationError, err, "decoding module manifest YAML")
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(jsonBytes)))
	if err != nil {
		return nil, errs.Wrap(errs.KindValidationError, err, "parsing module manifest JSON")
	}
	if err := moduleSchema.Validate(doc); err != nil {
		return nil, errs.Wrap(errs.KindValidationError, err, "module manifest failed schema validation")
	}

	var m Module
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, errs.Wrap(errs.KindValidationError, err, "unmarshalling module manifest")
	}
	return &m, nil
}

// LoadClaim decodes (without the stricter module schema — claims are
// validated against the resolved module's variable set by
// internal/claimvalidator, not a static schema) a claim document (§4.4).
func LoadClaim(raw []byte) (*model.Claim, error) {
	var c model.Claim
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, errs.Wrap(errs.KindValidationError, err, "unmarshalling claim")
	}
	if c.APIVersion == "" || c.Kind == "" || c.Metadata.Name == "" {
		return nil, errs.New(errs.KindValidationError, "claim missing apiVersion/kind/metadata.name")
	}
	return &c, nil
}

// LoadStack decodes stack.yaml, which shares the module manifest shape
// (§4.3: "Load the stack manifest").
func LoadStack(raw []byte) (*Module, error) {
	return LoadModule(raw)
}
