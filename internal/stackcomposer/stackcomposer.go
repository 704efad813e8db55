// Package stackcomposer implements the Stack Composer (§4.3): merge a
// directory of child claims into one root IaC template, validate the
// reference graph between them, and hand the result to the Artifact Store
// to publish as module_type=stack. Grounded on
// `original_source/env_common/src/logic/tf_root_module.rs` (module merge)
// and `env_aws/src/api_stack.rs` (publish-as-stack flow); the Tarjan SCC
// cycle check is a textbook algorithm, not ported from either.
package stackcomposer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/infraweave-io/infraweave/internal/artifactstore"
	"github.com/infraweave-io/infraweave/internal/errs"
	"github.com/infraweave-io/infraweave/internal/hcl"
	"github.com/infraweave-io/infraweave/internal/manifest"
	"github.com/infraweave-io/infraweave/internal/model"
	"github.com/infraweave-io/infraweave/internal/naming"
	"github.com/infraweave-io/infraweave/internal/version"
)

// ModuleResolver looks up a published module by (kind, track, moduleVersion)
// — satisfied by *artifactstore.Store, kept as an interface so this package
// doesn't depend on the store's KV plumbing directly.
type ModuleResolver interface {
	GetModuleVersion(kind, track, ver string) (*model.Module, error)
}

// Publisher is the subset of *artifactstore.Store the composer hands its
// merged output to.
type Publisher interface {
	PublishStack(ctx context.Context, opts artifactstore.PublishOptions, stackData []model.StackChildRef) (*model.Module, error)
}

// referencePattern matches the chosen reference syntax `{{ ClaimName::outputName }}`
// (§4.3 step 3: "or the equivalent recognized syntax" — this implementation
// picks the double-brace/double-colon form and documents it here).
var referencePattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_-]+)::([A-Za-z0-9_-]+)\s*\}\}`)

// reference is one resolved `{{ ClaimName::outputName }}` occurrence found
// in a child claim's variable value.
type reference struct {
	fromClaim  string
	varName    string // camelCase claim variable key carrying the reference
	toClaim    string
	outputName string
}

// ComposeOptions parameterizes Compose.
type ComposeOptions struct {
	// StackDir holds stack.yaml plus one claim file per child (any
	// filename ending in .yaml or .yml; other files are skipped).
	StackDir string
	Track    version.Track
	// VersionOverride, if set, overrides stack.yaml's spec.version.
	VersionOverride string
	// BackendDriver is unused for publish (the composed archive never
	// carries a backend block, see internal/hcl.EmitRootModule) but is
	// accepted for symmetry with the runner's later backend.tf synthesis.
	BackendDriver string
}

// Compose runs §4.3 steps 1-6: load, validate, resolve, emit, and publish.
func Compose(ctx context.Context, resolver ModuleResolver, publisher Publisher, opts ComposeOptions) (*model.Module, error) {
	stackManifest, err := loadStackManifest(opts.StackDir)
	if err != nil {
		return nil, err
	}
	claims, err := loadChildClaims(opts.StackDir)
	if err != nil {
		return nil, err
	}

	// Step 2: uniqueness and namespace checks.
	seen := make(map[string]bool, len(claims))
	for _, c := range claims {
		if seen[c.claim.Metadata.Name] {
			return nil, errs.New(errs.KindDuplicateClaimNames, "%s", c.claim.Metadata.Name)
		}
		seen[c.claim.Metadata.Name] = true
		if c.claim.Metadata.Namespace != "" {
			return nil, errs.New(errs.KindStackModuleNamespaceIsSet, "%s", c.claim.Metadata.Name)
		}
	}

	// Step 1 (continued): resolve each child's module.
	byName := make(map[string]*childClaim, len(claims))
	for _, c := range claims {
		ver, err := version.Parse(c.claim.Spec.ModuleVersion)
		if err != nil {
			return nil, err
		}
		track := string(version.TrackOf(ver))
		mod, err := resolver.GetModuleVersion(strings.ToLower(c.claim.Kind), track, c.claim.Spec.ModuleVersion)
		if err != nil {
			return nil, err
		}
		c.module = mod
		byName[c.claim.Metadata.Name] = c
	}

	// Step 3: find references and build the dependency graph.
	adj := make(map[string][]string, len(claims))
	refs := make(map[string][]reference) // claim name -> its outgoing refs
	for _, c := range claims {
		adj[c.claim.Metadata.Name] = nil
		for varKey, val := range c.claim.Spec.Variables {
			s, ok := val.(string)
			if !ok {
				continue
			}
			for _, m := range referencePattern.FindAllStringSubmatch(s, -1) {
				toClaim, outputName := m[1], m[2]
				if toClaim == c.claim.Metadata.Name {
					return nil, errs.New(errs.KindSelfReferencingClaim, "%s", c.claim.Metadata.Name)
				}
				adj[c.claim.Metadata.Name] = append(adj[c.claim.Metadata.Name], toClaim)
				refs[c.claim.Metadata.Name] = append(refs[c.claim.Metadata.Name], reference{
					fromClaim: c.claim.Metadata.Name, varName: varKey, toClaim: toClaim, outputName: outputName,
				})
			}
		}
	}

	for _, scc := range tarjanSCC(adj) {
		if len(scc) > 1 {
			sort.Strings(scc)
			return nil, errs.New(errs.KindCircularDependency, "%s", strings.Join(scc, ","))
		}
		if len(scc) == 1 && hasSelfLoop(adj, scc[0]) {
			return nil, errs.New(errs.KindSelfReferencingClaim, "%s", scc[0])
		}
	}

	// Step 4: validate reference targets.
	varSources := make(map[string]map[string]string, len(claims)) // claim -> snake var name -> source expr
	for name := range byName {
		varSources[name] = make(map[string]string)
	}
	for fromClaim, rs := range refs {
		for _, r := range rs {
			target, ok := byName[r.toClaim]
			if !ok {
				return nil, errs.New(errs.KindStackClaimReferenceNotFound, "%s -> %s", fromClaim, r.toClaim)
			}
			found := false
			for _, o := range target.module.Outputs {
				if o.Name == r.outputName || o.Name == naming.ToSnake(r.outputName) {
					found = true
					break
				}
			}
			if !found {
				return nil, errs.New(errs.KindOutputKeyNotFound, "%s.%s", r.toClaim, r.outputName)
			}
			snakeVar := naming.ToSnake(r.varName)
			varSources[fromClaim][snakeVar] = fmt.Sprintf("module.%s.%s", r.toClaim, r.outputName)
		}
	}

	// Step 5: emit the merged root module (no backend block, see
	// internal/hcl.EmitRootModule doc).
	children := make([]hcl.ChildModule, 0, len(claims))
	stackData := make([]model.StackChildRef, 0, len(claims))
	for _, c := range claims {
		def := &hcl.ModuleDef{
			Variables: c.module.Variables,
			Outputs:   c.module.Outputs,
			Providers: c.module.Providers,
		}
		children = append(children, hcl.ChildModule{
			ClaimName:       c.claim.Metadata.Name,
			ModuleDir:       fmt.Sprintf("./%s-%s", c.module.ModuleName, c.module.Version),
			Def:             def,
			VariableSources: varSources[c.claim.Metadata.Name],
		})
		stackData = append(stackData, model.StackChildRef{
			ClaimName: c.claim.Metadata.Name,
			Module:    c.module.ModuleName,
			Track:     c.module.Track,
			Version:   c.module.Version,
			S3Key:     c.module.ArchiveS3Key,
		})
	}
	sort.Slice(children, func(i, j int) bool { return children[i].ClaimName < children[j].ClaimName })
	sort.Slice(stackData, func(i, j int) bool { return stackData[i].ClaimName < stackData[j].ClaimName })

	rootModule, err := hcl.EmitRootModule("", children)
	if err != nil {
		return nil, err
	}

	srcDir, err := stageSourceTree(stackManifest, rootModule, mergedProviders(claims))
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(srcDir)

	// Step 6: publish as module_type=stack.
	return publisher.PublishStack(ctx, artifactstore.PublishOptions{
		SourceDir:       srcDir,
		Track:           opts.Track,
		VersionOverride: opts.VersionOverride,
	}, stackData)
}

type childClaim struct {
	claim  *model.Claim
	module *model.Module
}

func loadStackManifest(dir string) (*manifest.Module, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "stack.yaml"))
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidModuleSchema, err, "reading stack.yaml")
	}
	return manifest.LoadStack(raw)
}

func loadChildClaims(dir string) ([]*childClaim, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.Other(err)
	}
	var claims []*childClaim
	for _, e := range entries {
		if e.IsDir() || e.Name() == "stack.yaml" {
			continue
		}
		if !strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, errs.Other(err)
		}
		claim, err := manifest.LoadClaim(raw)
		if err != nil {
			return nil, err
		}
		claims = append(claims, &childClaim{claim: claim})
	}
	return claims, nil
}

// mergedProviders unions every child module's pinned provider requirements,
// the source for the composed stack's synthesized lockfile (§4.3 step 6
// implies the merged root module still needs a satisfiable lockfile to pass
// through the ordinary publish pipeline, §4.2 step 2).
func mergedProviders(claims []*childClaim) []model.ProviderRequirement {
	seen := make(map[string]model.ProviderRequirement)
	for _, c := range claims {
		if c.module == nil {
			continue
		}
		for _, p := range c.module.Providers {
			seen[p.Source] = p
		}
	}
	out := make([]model.ProviderRequirement, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// stageSourceTree writes a throwaway directory with everything the
// ordinary publish pipeline (§4.2 steps 1-2) expects: module.yaml, the
// merged root.tf, and a synthesized non-empty lockfile listing every child
// provider.
func stageSourceTree(man *manifest.Module, rootModule []byte, providers []model.ProviderRequirement) (string, error) {
	dir, err := os.MkdirTemp("", "stack-compose-*")
	if err != nil {
		return "", errs.Other(err)
	}

	manifestRaw, err := manifestYAML(man)
	if err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "module.yaml"), manifestRaw, 0o644); err != nil {
		os.RemoveAll(dir)
		return "", errs.Other(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "root.tf"), rootModule, 0o644); err != nil {
		os.RemoveAll(dir)
		return "", errs.Other(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".terraform.lock.hcl"), lockfileContents(providers), 0o644); err != nil {
		os.RemoveAll(dir)
		return "", errs.Other(err)
	}
	return dir, nil
}

// manifestYAML re-serializes a decoded manifest back to YAML for the staged
// source tree the Artifact Store reads module.yaml from.
func manifestYAML(man *manifest.Module) ([]byte, error) {
	out, err := yaml.Marshal(man)
	if err != nil {
		return nil, errs.Other(err)
	}
	return out, nil
}

func lockfileContents(providers []model.ProviderRequirement) []byte {
	var b strings.Builder
	for _, p := range providers {
		fmt.Fprintf(&b, "provider %q {\n  version = %q\n}\n\n", p.Source, p.Version)
	}
	if b.Len() == 0 {
		b.WriteString("# no providers required by any composed child module\n")
	}
	return []byte(b.String())
}
