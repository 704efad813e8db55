// Package operator implements the Kubernetes Operator (§4.10): generate one
// CRD per published module, apply it with server-side apply, and reconcile
// custom resources of that kind into claims — finalizer handling,
// status-subresource patching, RequeueAfter polling — one CRD per module,
// generated from its variable schema.
package operator

import (
	"strings"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/infraweave-io/infraweave/internal/errs"
	"github.com/infraweave-io/infraweave/internal/model"
	"github.com/infraweave-io/infraweave/internal/naming"
)

const crdGroup = "infraweave.io"
const crdVersion = "v1"

// GenerateCRD builds the CustomResourceDefinition for one published module
// (§4.10 "group infraweave.io, version v1, kind = module name, plural =
// lowercased+s, OpenAPI schema derived from the module's variable schema").
func GenerateCRD(mod *model.Module) (*apiextensionsv1.CustomResourceDefinition, error) {
	if mod.Name == "" {
		return nil, errs.New(errs.KindValidationError, "module has no name")
	}
	kind := toKind(mod.Name)
	plural := strings.ToLower(mod.Name) + "s"
	resourceName := plural + "." + crdGroup

	schema := variableSchema(mod.Variables)

	crd := &apiextensionsv1.CustomResourceDefinition{
		ObjectMeta: metav1.ObjectMeta{Name: resourceName},
		Spec: apiextensionsv1.CustomResourceDefinitionSpec{
			Group: crdGroup,
			Names: apiextensionsv1.CustomResourceDefinitionNames{
				Kind:     kind,
				ListKind: kind + "List",
				Plural:   plural,
				Singular: strings.ToLower(mod.Name),
			},
			Scope: apiextensionsv1.NamespaceScoped,
			Versions: []apiextensionsv1.CustomResourceDefinitionVersion{
				{
					Name:    crdVersion,
					Served:  true,
					Storage: true,
					Schema: &apiextensionsv1.CustomResourceValidation{
						OpenAPIV3Schema: &apiextensionsv1.JSONSchemaProps{
							Type: "object",
							Properties: map[string]apiextensionsv1.JSONSchemaProps{
								"spec": {
									Type:       "object",
									Properties: schema,
								},
								"status": {
									Type: "object",
									Properties: map[string]apiextensionsv1.JSONSchemaProps{
										"resourceStatus":   {Type: "string"},
										"lastStatusUpdate": {Type: "string"},
									},
								},
							},
						},
					},
					Subresources: &apiextensionsv1.CustomResourceSubresources{
						Status: &apiextensionsv1.CustomResourceSubresourceStatus{},
					},
				},
			},
		},
	}
	return crd, nil
}

// variableSchema translates a module's declared variables into OpenAPI v3
// property schemas keyed by the camelCase form of each variable name (the
// form a claim's spec uses), with a coarse HCL-type-to-JSON-type mapping.
// Unlike internal/claimvalidator, which accepts values of unrecognized type
// expressions as opaque, this maps such types to "string".
func variableSchema(vars []model.Variable) map[string]apiextensionsv1.JSONSchemaProps {
	props := make(map[string]apiextensionsv1.JSONSchemaProps, len(vars))
	for _, v := range vars {
		props[naming.ToCamel(v.Name)] = apiextensionsv1.JSONSchemaProps{
			Type:        jsonType(v.Type),
			Description: v.Description,
		}
	}
	return props
}

func jsonType(hclType string) string {
	switch {
	case strings.HasPrefix(hclType, "number"):
		return "number"
	case strings.HasPrefix(hclType, "bool"):
		return "boolean"
	case strings.HasPrefix(hclType, "list") || strings.HasPrefix(hclType, "set") || strings.HasPrefix(hclType, "tuple"):
		return "array"
	case strings.HasPrefix(hclType, "map") || strings.HasPrefix(hclType, "object"):
		return "object"
	default:
		return "string"
	}
}

// toKind renders a module name as a CRD Kind: PascalCase, hyphen/underscore
// boundaries promoted to a capital letter, mirroring internal/naming's
// camelCase<->snake_case conversions but one step further (title case) to
// match Kubernetes Kind conventions.
func toKind(moduleName string) string {
	parts := strings.FieldsFunc(moduleName, func(r rune) bool { return r == '-' || r == '_' })
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	if b.Len() == 0 {
		return moduleName
	}
	return b.String()
}
