package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/infraweave-io/infraweave/internal/manifest"
	"github.com/infraweave-io/infraweave/internal/operator"
)

// loadClaimRequest reads a claim YAML file and wraps it into the
// operator.ClaimRequest the Orchestrator consumes, the same shape the
// Kubernetes Reconciler builds from a custom resource (§4.10
// translateClaim) and the CLI builds directly from a file here (§6).
func (a *app) loadClaimRequest(path, env, deploymentID string) (operator.ClaimRequest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return operator.ClaimRequest{}, err
	}
	claim, err := manifest.LoadClaim(raw)
	if err != nil {
		return operator.ClaimRequest{}, err
	}
	if deploymentID == "" {
		deploymentID = uuid.NewString()
	}
	return operator.ClaimRequest{
		ProjectID:    a.Config.ProjectID,
		Region:       a.Config.Region,
		Environment:  env,
		ModuleName:   claim.Kind,
		DeploymentID: deploymentID,
		Claim:        *claim,
	}, nil
}

// planCmd implements `plan <env> <claim>`.
func (a *app) planCmd() *cobra.Command {
	var deploymentID string
	cmd := &cobra.Command{
		Use:   "plan <env> <claim>",
		Short: "Validate a claim and dispatch a plan job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := a.loadClaimRequest(args[1], args[0], deploymentID)
			if err != nil {
				return err
			}
			if err := a.Orchestrator.Plan(cmd.Context(), req); err != nil {
				return err
			}
			fmt.Printf("plan dispatched: deployment %s\n", req.DeploymentID)
			return nil
		},
	}
	cmd.Flags().StringVar(&deploymentID, "deployment-id", "", "reuse an existing deployment ID instead of generating one")
	cmd.Flags().Bool("follow", false, "stream runner logs until the job finishes (unimplemented outside the runner container)")
	cmd.Flags().Bool("store-files", false, "unused for plan, accepted for flag-surface parity with apply")
	return cmd
}

// applyCmd implements `apply <env> <claim> [--store-files] [--follow]`.
func (a *app) applyCmd() *cobra.Command {
	var deploymentID string
	cmd := &cobra.Command{
		Use:   "apply <env> <claim>",
		Short: "Validate a claim and dispatch an apply job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := a.loadClaimRequest(args[1], args[0], deploymentID)
			if err != nil {
				return err
			}
			if err := a.Orchestrator.Apply(cmd.Context(), req); err != nil {
				return err
			}
			fmt.Printf("apply dispatched: deployment %s\n", req.DeploymentID)
			return nil
		},
	}
	cmd.Flags().StringVar(&deploymentID, "deployment-id", "", "reuse an existing deployment ID instead of generating one")
	cmd.Flags().Bool("follow", false, "stream runner logs until the job finishes (unimplemented outside the runner container)")
	cmd.Flags().Bool("store-files", false, "accepted for flag-surface parity; apply does not persist the claim's files")
	return cmd
}

// destroyCmd implements `destroy <deployment_id> <env> [--version <v>]`.
func (a *app) destroyCmd() *cobra.Command {
	var moduleVersion string
	cmd := &cobra.Command{
		Use:   "destroy <deployment_id> <env>",
		Short: "Tear down a deployment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			deploymentID, env := args[0], args[1]
			dep, err := a.Deployments.Get(cmd.Context(), a.Config.ProjectID, a.Config.Region, env, deploymentID)
			if err != nil {
				return err
			}
			ver := moduleVersion
			if ver == "" {
				ver = dep.Version
			}
			req := operator.ClaimRequest{
				ProjectID:    a.Config.ProjectID,
				Region:       a.Config.Region,
				Environment:  env,
				ModuleName:   dep.ModuleName,
				DeploymentID: deploymentID,
			}
			req.Claim.Spec.ModuleVersion = ver
			req.Claim.Spec.Variables = dep.Variables
			if err := a.Orchestrator.Destroy(cmd.Context(), req); err != nil {
				return err
			}
			fmt.Printf("destroy dispatched: deployment %s\n", deploymentID)
			return nil
		},
	}
	cmd.Flags().StringVar(&moduleVersion, "version", "", "destroy using a specific module version instead of the deployment's current one")
	return cmd
}
