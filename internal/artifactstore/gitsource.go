package artifactstore

import (
	"context"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/infraweave-io/infraweave/internal/errs"
	"github.com/infraweave-io/infraweave/internal/model"
)

// GitSource is a module or stack source tree addressed by git URL + ref
// rather than a local directory, the `module publish <git-url>` form of
// §4.2's "source directory" input.
type GitSource struct {
	RepositoryURL string
	Ref           string // branch name; empty clones the default branch
	CommitSHA     string // when set, checked out after clone
	Path          string // subdirectory within the repo holding module.yaml
}

// Clone fetches the source tree into a tempdir and returns its path plus a
// cleanup func the caller must run once publish has read the files out of
// it. Uses a shallow (depth 1) clone when no specific commit is requested,
// and a full-history clone otherwise, since not every server supports
// fetching an arbitrary commit from a shallow clone. The clone is limited
// to a single branch only when Ref names one; otherwise every branch is
// fetched.
func (g GitSource) Clone() (dir string, cleanup func(), err error) {
	tempDir, err := os.MkdirTemp("", "infraweave-module-*")
	if err != nil {
		return "", nil, errs.Other(err)
	}
	cleanup = func() { os.RemoveAll(tempDir) }

	cloneOpts := &git.CloneOptions{URL: g.RepositoryURL}
	if g.Ref != "" {
		cloneOpts.SingleBranch = true
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(g.Ref)
	}
	if g.CommitSHA == "" {
		cloneOpts.Depth = 1
	}

	if _, err := git.PlainClone(tempDir, false, cloneOpts); err != nil {
		cleanup()
		return "", nil, errs.Wrap(errs.KindOther, err, "cloning %s", g.RepositoryURL)
	}

	if g.CommitSHA != "" {
		repo, err := git.PlainOpen(tempDir)
		if err != nil {
			cleanup()
			return "", nil, errs.Wrap(errs.KindOther, err, "opening cloned repo %s", g.RepositoryURL)
		}
		w, err := repo.Worktree()
		if err != nil {
			cleanup()
			return "", nil, errs.Other(err)
		}
		if err := w.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(g.CommitSHA)}); err != nil {
			cleanup()
			return "", nil, errs.Wrap(errs.KindOther, err, "checking out commit %s", g.CommitSHA)
		}
	}

	sourceDir := tempDir
	if g.Path != "" {
		sourceDir = filepath.Join(tempDir, g.Path)
	}
	if _, err := os.Stat(sourceDir); err != nil {
		cleanup()
		return "", nil, errs.New(errs.KindNotFound, "%s not found in %s", g.Path, g.RepositoryURL)
	}
	return sourceDir, cleanup, nil
}

// PublishModuleFromGit clones src, then runs the ordinary publish pipeline
// against the checked-out tree.
func (s *Store) PublishModuleFromGit(ctx context.Context, src GitSource, opts PublishOptions) (*model.Module, error) {
	dir, cleanup, err := src.Clone()
	if err != nil {
		return nil, err
	}
	defer cleanup()
	opts.SourceDir = dir
	return s.PublishModule(ctx, opts)
}
