// Package artifactstore implements the Artifact Store (§4.2): publish and
// query modules, stacks, and policies, following §4.2's numbered steps
// directly. The git-sourced fetch path (gitsource.go) clones a source tree
// to a tempdir before the same publish pipeline runs over it, and the OCI
// push/pull path (ociregistry.go) talks to an OCI-compliant registry
// through Helm's registry client.
package artifactstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/infraweave-io/infraweave/internal/errs"
	"github.com/infraweave-io/infraweave/internal/hcl"
	"github.com/infraweave-io/infraweave/internal/kv"
	"github.com/infraweave-io/infraweave/internal/manifest"
	"github.com/infraweave-io/infraweave/internal/model"
	"github.com/infraweave-io/infraweave/internal/naming"
	"github.com/infraweave-io/infraweave/internal/provider/providerapi"
	"github.com/infraweave-io/infraweave/internal/version"
)

// Store is the Artifact Store (§4.2), backed by one Provider Driver.
type Store struct {
	Driver              providerapi.Driver
	Table               string
	Bucket              string
	BypassFileSizeCheck bool
}

// New constructs a Store bound to a Provider Driver and its table/bucket
// names (resolved once at startup, §9).
func New(driver providerapi.Driver, table, bucket string, bypassFileSizeCheck bool) *Store {
	return &Store{Driver: driver, Table: table, Bucket: bucket, BypassFileSizeCheck: bypassFileSizeCheck}
}

const maxArchiveBytes = 1 << 20 // 1 MB (§4.2 step 6)

// PublishOptions parameterizes PublishModule/PublishStack (§4.2 inputs:
// "source directory, track, optional version override").
type PublishOptions struct {
	SourceDir       string
	Track           version.Track
	VersionOverride string
	PublishOCI      bool
	OCIPush         func(ctx context.Context, name, ver string, archive []byte, mod *model.Module) (string, error)
}

// PublishModule runs §4.2 steps 1-9 for a plain module.
func (s *Store) PublishModule(ctx context.Context, opts PublishOptions) (*model.Module, error) {
	return s.publish(ctx, opts, model.ModuleTypeModule)
}

// PublishStack runs the same pipeline for an already-composed stack module
// (§4.3 step 6: "The composed module is then published as an ordinary
// module with module_type = stack").
func (s *Store) PublishStack(ctx context.Context, opts PublishOptions, stackData []model.StackChildRef) (*model.Module, error) {
	mod, err := s.publish(ctx, opts, model.ModuleTypeStack)
	if err != nil {
		return nil, err
	}
	mod.StackData = stackData
	return mod, nil
}

func (s *Store) publish(ctx context.Context, opts PublishOptions, moduleType model.ModuleType) (*model.Module, error) {
	// Step 1: read and schema-validate the manifest.
	manifestPath := filepath.Join(opts.SourceDir, "module.yaml")
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidModuleSchema, err, "reading %s", manifestPath)
	}
	man, err := manifest.LoadModule(raw)
	if err != nil {
		return nil, err
	}

	// Step 2: parse *.tf files, reject a backend block, require a
	// non-empty provider lockfile.
	tfFiles, err := readTerraformFiles(opts.SourceDir)
	if err != nil {
		return nil, err
	}
	def, err := hcl.ParseModule(tfFiles)
	if err != nil {
		return nil, err
	}
	if def.HasBackendBlock {
		return nil, errs.New(errs.KindTerraformLockfileExists, "module source declares a backend block")
	}
	if err := checkLockfile(opts.SourceDir); err != nil {
		return nil, err
	}

	// Step 3: validate examples reference only declared inputs.
	if err := validateExamples(man, def); err != nil {
		return nil, err
	}

	// Step 4: determine and validate the version.
	rawVersion := opts.VersionOverride
	if rawVersion == "" {
		rawVersion = man.Spec.Version
	}
	if rawVersion == "" {
		return nil, errs.New(errs.KindModuleVersionNotSet, "no version supplied or declared in manifest")
	}
	ver, err := version.Parse(rawVersion)
	if err != nil {
		return nil, err
	}
	if err := version.ValidateTrack(opts.Track, ver); err != nil {
		return nil, err
	}

	// Step 5: compare against the newest published version on this track.
	latest, err := s.GetLatestModuleVersion(ctx, man.Spec.ModuleName, string(opts.Track))
	if err != nil && !errs.Is(err, errs.KindModuleVersionNotFound) {
		return nil, err
	}
	if latest != nil {
		latestVer, err := version.Parse(latest.Version)
		if err != nil {
			return nil, err
		}
		if version.Compare(ver, latestVer) <= 0 {
			return nil, errs.New(errs.KindModuleVersionExists, "%s %s is not newer than published %s", man.Spec.ModuleName, ver.String(), latestVer.String())
		}
	}

	// Step 6: zip the source tree (excluding module.yaml), enforce size
	// limit, upload.
	archive, err := zipSourceTree(opts.SourceDir, []string{"module.yaml"})
	if err != nil {
		return nil, err
	}
	if !s.BypassFileSizeCheck && len(archive) > maxArchiveBytes {
		return nil, errs.New(errs.KindZipError, "archive is %d bytes, exceeds 1MB limit", len(archive))
	}
	archiveKey := kv.ModuleArchiveKey(man.Spec.ModuleName, ver.String())
	if err := s.Driver.UploadFileBase64(ctx, s.Bucket, archiveKey, archive); err != nil {
		return nil, err
	}

	// Step 7: structural diff vs the previous version on any track.
	var diff *model.VersionDiff
	if prev, err := s.getAnyPreviousVersion(ctx, man.Spec.ModuleName); err == nil && prev != nil {
		prevArchive, err := s.downloadArchive(ctx, prev.ArchiveS3Key)
		if err == nil {
			prevFiles, err := unzipTerraformFiles(prevArchive)
			if err == nil {
				prevDef, err := hcl.ParseModule(prevFiles)
				if err == nil {
					diff = hcl.Diff(hcl.CanonicalTree(prevDef), hcl.CanonicalTree(def))
				}
			}
		}
	}

	mod := &model.Module{
		Name:         man.Spec.ModuleName,
		Track:        string(opts.Track),
		Version:      ver.String(),
		ModuleName:   man.Spec.ModuleName,
		Description:  man.Spec.Description,
		ModuleType:   moduleType,
		Variables:    def.Variables,
		Outputs:      def.Outputs,
		Providers:    def.Providers,
		ArchiveS3Key: archiveKey,
		CPU:          man.Spec.CPU,
		Memory:       man.Spec.Memory,
		Reference:    man.Spec.Reference,
		Diff:         diff,
	}

	// Step 8: transactional write: insert the version record, upsert
	// CURRENT.
	zeroPadded := version.ZeroPadded(ver)
	pk := kv.ModulePK(string(opts.Track), mod.Name)
	ops := []kv.Op{
		{Item: kv.Item{Table: s.Table, PK: pk, SK: kv.VersionSK(zeroPadded), Value: mod}, Condition: &kv.Condition{Expression: "attribute_not_exists(PK)"}},
		{Item: kv.Item{Table: s.Table, PK: kv.CurrentPK, SK: kv.CurrentModuleSK(string(opts.Track), mod.Name), Value: mod}},
	}
	if err := s.Driver.TransactWrite(ctx, ops); err != nil {
		return nil, err
	}

	// Step 9: optional OCI push.
	if opts.PublishOCI && opts.OCIPush != nil {
		ref, err := opts.OCIPush(ctx, mod.Name, mod.Version, archive, mod)
		if err != nil {
			return nil, err
		}
		mod.OCIReference = ref
	}

	return mod, nil
}

func checkLockfile(sourceDir string) error {
	path := filepath.Join(sourceDir, ".terraform.lock.hcl")
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return errs.New(errs.KindTerraformNoLockfile, "%s", path)
	}
	if err != nil {
		return errs.Other(err)
	}
	if info.Size() == 0 {
		return errs.New(errs.KindTerraformLockfileEmpty, "%s", path)
	}
	return nil
}

func validateExamples(man *manifest.Module, def *hcl.ModuleDef) error {
	declared := make(map[string]bool, len(def.Variables))
	for _, v := range def.Variables {
		declared[v.Name] = true
	}
	for _, ex := range man.Spec.Examples {
		for key := range ex.Variables {
			snake := naming.ToSnake(key)
			if !declared[snake] {
				return errs.New(errs.KindInvalidExampleVariable, "example %q references undeclared variable %q", ex.Name, key)
			}
		}
	}
	return nil
}

func readTerraformFiles(dir string) (map[string][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.Other(err)
	}
	files := make(map[string][]byte)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tf") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, errs.Other(err)
		}
		files[e.Name()] = content
	}
	return files, nil
}

func (s *Store) getAnyPreviousVersion(ctx context.Context, name string) (*model.Module, error) {
	for _, track := range []version.Track{version.TrackStable, version.TrackRC, version.TrackBeta, version.TrackAlpha, version.TrackDev} {
		if mod, err := s.GetLatestModuleVersion(ctx, name, string(track)); err == nil && mod != nil {
			return mod, nil
		}
	}
	return nil, nil
}

func (s *Store) downloadArchive(ctx context.Context, key string) ([]byte, error) {
	type objectReader interface {
		ReadObject(bucket, key string) ([]byte, bool)
	}
	if reader, ok := s.Driver.(objectReader); ok {
		if data, ok := reader.ReadObject(s.Bucket, key); ok {
			return data, nil
		}
		return nil, errs.New(errs.KindNotFound, "%s/%s", s.Bucket, key)
	}
	return nil, errs.New(errs.KindNotFound, "driver %s has no direct object read; use a presigned URL fetch instead", s.Driver.Name())
}

// DownloadArchive exposes downloadArchive to callers outside the package
// that need the raw bytes behind an S3 key recorded on a Module or Policy
// (the Policy Evaluator fetching a policy bundle's .rego files).
func (s *Store) DownloadArchive(ctx context.Context, key string) ([]byte, error) {
	return s.downloadArchive(ctx, key)
}
