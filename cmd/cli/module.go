package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/infraweave-io/infraweave/internal/artifactstore"
	"github.com/infraweave-io/infraweave/internal/errs"
	"github.com/infraweave-io/infraweave/internal/stackcomposer"
	"github.com/infraweave-io/infraweave/internal/version"
)

// publishFlags collects the options shared by `module publish` and `stack
// publish` (§6 CLI: "module publish <path> --track <track> [--version <v>]
// [--no-fail-on-exist]").
type publishFlags struct {
	track           string
	versionOverride string
	noFailOnExist   bool
	gitRef          string
	gitCommit       string
	gitPath         string
	publishOCI      bool
	ociHost         string
	ociUser         string
	ociPass         string
	ociInsecure     bool
}

func (f *publishFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.track, "track", "", "version track (stable, rc, beta, alpha, dev)")
	cmd.Flags().StringVar(&f.versionOverride, "version", "", "override the version declared in the manifest")
	cmd.Flags().BoolVar(&f.noFailOnExist, "no-fail-on-exist", false, "exit 0 instead of 1 when the version already exists")
	cmd.Flags().StringVar(&f.gitRef, "git-ref", "", "branch to clone when the source is a git URL")
	cmd.Flags().StringVar(&f.gitCommit, "git-commit", "", "commit to check out after cloning")
	cmd.Flags().StringVar(&f.gitPath, "git-path", "", "subdirectory within the cloned repo holding module.yaml")
	cmd.Flags().BoolVar(&f.publishOCI, "oci", false, "also push the archive to an OCI registry")
	cmd.Flags().StringVar(&f.ociHost, "oci-host", os.Getenv("OCI_REGISTRY_HOST"), "OCI registry host")
	cmd.Flags().StringVar(&f.ociUser, "oci-username", os.Getenv("OCI_REGISTRY_USERNAME"), "OCI registry username")
	cmd.Flags().StringVar(&f.ociPass, "oci-password", os.Getenv("OCI_REGISTRY_PASSWORD"), "OCI registry password")
	cmd.Flags().BoolVar(&f.ociInsecure, "oci-insecure", false, "allow an insecure (HTTP) OCI registry connection")
}

func (f *publishFlags) options(sourceDir string) (artifactstore.PublishOptions, error) {
	opts := artifactstore.PublishOptions{
		SourceDir:       sourceDir,
		Track:           version.Track(f.track),
		VersionOverride: f.versionOverride,
		PublishOCI:      f.publishOCI,
	}
	if opts.PublishOCI {
		reg, err := artifactstore.NewOCIRegistry(f.ociHost, f.ociUser, f.ociPass, f.ociInsecure)
		if err != nil {
			return opts, err
		}
		opts.OCIPush = reg.Push
	}
	return opts, nil
}

func looksLikeGitURL(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") ||
		strings.HasPrefix(src, "git@") || strings.HasSuffix(src, ".git")
}

func handlePublishErr(err error, noFailOnExist bool) error {
	if err != nil && noFailOnExist && errs.Is(err, errs.KindModuleVersionExists) {
		fmt.Fprintln(os.Stdout, err)
		return nil
	}
	return err
}

func (a *app) moduleCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "module", Short: "Manage published modules"}
	cmd.AddCommand(a.publishCmd(), a.listCmd("module"), a.getCmd("module"), a.deprecateCmd("module"))
	return cmd
}

func (a *app) stackCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "stack", Short: "Manage published stacks"}
	cmd.AddCommand(a.stackPublishCmd(), a.listCmd("stack"), a.getCmd("stack"), a.deprecateCmd("stack"))
	return cmd
}

// publishCmd implements `module publish <path-or-git-url> --track <track>`
// (§4.2's git-sourced fetch path is picked whenever the source argument
// looks like a URL rather than a local directory).
func (a *app) publishCmd() *cobra.Command {
	var f publishFlags
	cmd := &cobra.Command{
		Use:   "publish <source>",
		Short: "Publish a new module version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			src := args[0]

			var mod any
			var err error
			if looksLikeGitURL(src) {
				gs := artifactstore.GitSource{RepositoryURL: src, Ref: f.gitRef, CommitSHA: f.gitCommit, Path: f.gitPath}
				opts, oerr := f.options("")
				if oerr != nil {
					return oerr
				}
				mod, err = a.Store.PublishModuleFromGit(ctx, gs, opts)
			} else {
				opts, oerr := f.options(src)
				if oerr != nil {
					return oerr
				}
				mod, err = a.Store.PublishModule(ctx, opts)
			}
			if err = handlePublishErr(err, f.noFailOnExist); err != nil {
				return err
			}
			if err != nil || mod == nil {
				return nil
			}
			return printJSON(mod)
		},
	}
	f.register(cmd)
	return cmd
}

// stackPublishCmd implements `stack publish <stack-dir> --track <track>`
// via the Stack Composer instead of a direct PublishModule call, since a
// stack's source is a directory of child claims rather than Terraform
// files (§4.3). It registers the same flags as `module publish` but uses
// only --track, --version and --no-fail-on-exist; the git and OCI flags
// have no effect here.
func (a *app) stackPublishCmd() *cobra.Command {
	var f publishFlags
	cmd := &cobra.Command{
		Use:   "publish <stack-dir>",
		Short: "Compose and publish a stack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := stackcomposer.ComposeOptions{
				StackDir:        args[0],
				Track:           version.Track(f.track),
				VersionOverride: f.versionOverride,
			}
			mod, err := stackcomposer.Compose(cmd.Context(), a.Store, a.Store, opts)
			if err = handlePublishErr(err, f.noFailOnExist); err != nil {
				return err
			}
			if err != nil || mod == nil {
				return nil
			}
			return printJSON(mod)
		},
	}
	f.register(cmd)
	return cmd
}

// listCmd implements `module list --track <track>` / `stack list --track
// <track>`.
func (a *app) listCmd(kind string) *cobra.Command {
	var track string
	cmd := &cobra.Command{
		Use:   "list",
		Short: fmt.Sprintf("List the latest version of every published %s", kind),
		RunE: func(cmd *cobra.Command, args []string) error {
			var mods any
			var err error
			if kind == "stack" {
				mods, err = a.Store.GetAllLatestStacks(cmd.Context(), track)
			} else {
				mods, err = a.Store.GetAllLatestModules(cmd.Context(), track)
			}
			if err != nil {
				return err
			}
			return printJSON(mods)
		},
	}
	cmd.Flags().StringVar(&track, "track", string(version.TrackStable), "version track to list")
	return cmd
}

// getCmd implements `module get <name> <version> --track <track>`.
func (a *app) getCmd(kind string) *cobra.Command {
	var track string
	cmd := &cobra.Command{
		Use:   "get <name> <version>",
		Short: fmt.Sprintf("Fetch one published %s version", kind),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, ver := args[0], args[1]
			var mod any
			var err error
			switch {
			case kind == "stack" && ver == "latest":
				mod, err = a.Store.GetLatestStackVersion(cmd.Context(), name, track)
			case kind == "stack":
				mod, err = a.getStackVersion(cmd.Context(), name, track, ver)
			case ver == "latest":
				mod, err = a.Store.GetLatestModuleVersion(cmd.Context(), name, track)
			default:
				mod, err = a.Store.GetModuleVersion(name, track, ver)
			}
			if err != nil {
				return err
			}
			return printJSON(mod)
		},
	}
	cmd.Flags().StringVar(&track, "track", string(version.TrackStable), "version track")
	return cmd
}

func (a *app) getStackVersion(ctx context.Context, name, track, ver string) (any, error) {
	versions, err := a.Store.GetAllStackVersions(ctx, name, track)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if v.Version == ver {
			return v, nil
		}
	}
	return nil, errs.New(errs.KindModuleVersionNotFound, "stack %s/%s@%s", track, name, ver)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// deprecateCmd implements `module deprecate <name> <version> --track
// <track>`.
func (a *app) deprecateCmd(kind string) *cobra.Command {
	var track string
	cmd := &cobra.Command{
		Use:   "deprecate <name> <version>",
		Short: fmt.Sprintf("Flag a published %s version as deprecated", kind),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var mod any
			var err error
			if kind == "stack" {
				mod, err = a.Store.DeprecateStack(cmd.Context(), args[0], track, args[1])
			} else {
				mod, err = a.Store.DeprecateModule(cmd.Context(), args[0], track, args[1])
			}
			if err != nil {
				return err
			}
			return printJSON(mod)
		},
	}
	cmd.Flags().StringVar(&track, "track", string(version.TrackStable), "version track")
	return cmd
}
