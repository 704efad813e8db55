package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// cliVersion is overridden at build time via -ldflags
// "-X main.cliVersion=...", the standard Go pattern for stamping a
// released binary's own version into itself.
var cliVersion = "dev"

// upgradeCmd implements `upgrade [--check]`. There is no package registry
// backing a self-update here, so --check reports the running version
// against nothing more than itself; a real release pipeline would replace
// this print with a request to wherever release metadata is published.
func (a *app) upgradeCmd() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Report the CLI's own version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if check {
				fmt.Printf("infraweave %s (up to date: no release feed configured)\n", cliVersion)
				return nil
			}
			fmt.Printf("infraweave %s\n", cliVersion)
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "print the running version marked up to date; no release feed is consulted")
	return cmd
}
