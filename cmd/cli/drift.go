package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// driftcheckCmd implements `driftcheck <deployment_id> <env> [--remediate]`
// (§4.9): without --remediate it runs one manual full-sweep scan; with it,
// it dispatches a driftcheck job for the named deployment specifically.
func (a *app) driftcheckCmd() *cobra.Command {
	var remediate bool
	cmd := &cobra.Command{
		Use:   "driftcheck <deployment_id> <env>",
		Short: "Check (or remediate) drift for a deployment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			deploymentID, env := args[0], args[1]
			if remediate {
				if err := a.Drift.Remediate(cmd.Context(), a.Config.ProjectID, a.Config.Region, env, deploymentID); err != nil {
					return err
				}
				fmt.Printf("driftcheck dispatched: deployment %s\n", deploymentID)
				return nil
			}

			dispatched, err := a.Drift.Scan(cmd.Context())
			if err != nil {
				return err
			}
			for _, d := range dispatched {
				if d.DeploymentID == deploymentID && d.Environment == env {
					fmt.Printf("driftcheck dispatched: deployment %s\n", deploymentID)
					return nil
				}
			}
			fmt.Printf("deployment %s was not due for a drift check\n", deploymentID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&remediate, "remediate", false, "force a driftcheck dispatch regardless of the scheduled due time")
	return cmd
}
