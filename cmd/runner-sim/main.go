// Command runner-sim stands in for the IaC runner container the None
// driver's StartRunner names but never actually launches (§4.1 "a None
// no-op used in tests"). It reads the INFRAWEAVE_* environment the Runner
// Dispatcher's buildEnv sets (internal/runner/runner.go), prints what a
// real plan/apply/destroy would have done, and — when a callback token and
// URL are present — posts a synthetic status report back to the control
// plane the same way a real runner job would (§4.7 step 2).
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// statusReport mirrors the fields a real runner posts back at
// INFRAWEAVE_CALLBACK_URL; it is a local shape since no inbound status-
// report server exists in this repository — the runner container itself,
// and its control-plane-side receiver, are external collaborators this
// repo dispatches to but does not implement.
type statusReport struct {
	DeploymentID string    `json:"deploymentId"`
	Command      string    `json:"command"`
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
}

func main() {
	command := os.Args[len(os.Args)-1]
	deploymentID := os.Getenv("INFRAWEAVE_DEPLOYMENT_ID")

	fmt.Printf("runner-sim: simulating %s for deployment %s (module version %s)\n",
		command, deploymentID, os.Getenv("INFRAWEAVE_MODULE_VERSION"))
	fmt.Printf("runner-sim: tfvars = %s\n", os.Getenv("INFRAWEAVE_TFVARS_JSON"))
	fmt.Printf("runner-sim: backend.tf = %s\n", os.Getenv("INFRAWEAVE_BACKEND_TF"))

	report := statusReport{
		DeploymentID: deploymentID,
		Command:      command,
		Status:       "successful",
		Timestamp:    time.Now(),
	}

	callbackURL := os.Getenv("INFRAWEAVE_CALLBACK_URL")
	callbackToken := os.Getenv("INFRAWEAVE_CALLBACK_TOKEN")
	if callbackURL == "" || callbackToken == "" {
		fmt.Println("runner-sim: no callback configured, nothing reported")
		return
	}
	if err := postReport(callbackURL, callbackToken, report); err != nil {
		fmt.Fprintln(os.Stderr, "runner-sim: reporting status failed:", err)
		os.Exit(1)
	}
}

func postReport(url, token string, report statusReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status report rejected: %d", resp.StatusCode)
	}
	return nil
}
