package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/infraweave-io/infraweave/internal/config"
)

func envIsUnset(name string) bool {
	_, ok := os.LookupEnv(name)
	return !ok
}

// requiredEnvVars names every variable config.FromEnv reads (§6
// "Environment variables"), grouped the way config.Config declares them.
var requiredEnvVars = []struct {
	name, purpose string
}{
	{"CLOUD_PROVIDER", "aws, azure, or none — selects the Provider Driver"},
	{"REGION", "cloud region the Provider Driver operates in"},
	{"PROJECT_ID", "tenant/project scoping every deployment record"},
	{"INFRAWEAVE_ENVIRONMENT", "default environment for commands that don't take one explicitly"},
	{"LOG_LEVEL", "zap level: debug, info, warn, error"},
	{"TABLE_NAME", "backend table every store is bound to"},
	{"BUCKET_NAME", "backend object bucket for archives and state"},
	{"RUNNER_IMAGE", "container image the Runner Dispatcher launches"},
	{"CONTROL_PLANE_URL", "base URL a launched runner calls back to report status"},
	{"BYPASS_FILE_SIZE_CHECK", "\"true\" to skip the 1MB archive size limit"},
	{"MODE", "operator mode; read into config but not acted on"},
	{"WEBHOOK_PORT", "admission webhook listen port"},
	{"WEBHOOK_CERT_FILE", "admission webhook TLS certificate path"},
	{"WEBHOOK_KEY_FILE", "admission webhook TLS key path"},
}

// environmentCmd implements `environment setup`: print the environment
// variables config.FromEnv reads and whether each is currently set, so an
// operator can confirm a shell is ready to run the other binaries (§6, §9).
func (a *app) environmentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "environment", Short: "Inspect the process environment"}
	cmd.AddCommand(&cobra.Command{
		Use:   "setup",
		Short: "List the environment variables every InfraWeave binary reads",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			fmt.Printf("resolved cloud provider: %s\n\n", cfg.CloudProvider)
			for _, v := range requiredEnvVars {
				state := "set"
				if envIsUnset(v.name) {
					state = "UNSET"
				}
				fmt.Printf("%-24s %-8s %s\n", v.name, state, v.purpose)
			}
			return nil
		},
	})
	return cmd
}
