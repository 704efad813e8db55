package main

import (
	"github.com/spf13/cobra"

	"github.com/infraweave-io/infraweave/internal/artifactstore"
)

// policyCmd implements `policy publish|list|get|deprecate` (§4.8).
func (a *app) policyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "policy", Short: "Manage published OPA policies"}
	cmd.AddCommand(a.policyPublishCmd(), a.policyListCmd(), a.policyGetCmd(), a.policyDeprecateCmd())
	return cmd
}

func (a *app) policyPublishCmd() *cobra.Command {
	var opts artifactstore.PolicyPublishOptions
	cmd := &cobra.Command{
		Use:   "publish <source-dir>",
		Short: "Publish a new policy version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.SourceDir = args[0]
			p, err := a.Store.PublishPolicy(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return printJSON(p)
		},
	}
	cmd.Flags().StringVar(&opts.Environment, "environment", "", "environment this policy guards")
	cmd.Flags().StringVar(&opts.Name, "name", "", "policy name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "human-readable description")
	cmd.Flags().StringVar(&opts.VersionOverride, "version", "", "override the published version")
	cmd.MarkFlagRequired("environment")
	cmd.MarkFlagRequired("name")
	return cmd
}

func (a *app) policyListCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the latest version of every published policy in an environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			policies, err := a.Store.GetAllPolicies(cmd.Context(), env)
			if err != nil {
				return err
			}
			return printJSON(policies)
		},
	}
	cmd.Flags().StringVar(&env, "environment", "", "environment to list")
	cmd.MarkFlagRequired("environment")
	return cmd
}

func (a *app) policyGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <name> <environment> <version>",
		Short: "Fetch one published policy version",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.Store.GetPolicy(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			return printJSON(p)
		},
	}
	return cmd
}

func (a *app) policyDeprecateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deprecate <name> <environment> <version>",
		Short: "Flag a published policy version as deprecated",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.Store.DeprecatePolicy(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			return printJSON(p)
		},
	}
	return cmd
}
