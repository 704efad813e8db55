// Package config reads the process-wide environment variables (spec §6) into
// a single struct at startup, collected in one place so every binary
// (operator, webhook, reconciler, cli) agrees on the same knobs.
package config

import (
	"os"
	"strconv"
	"time"
)

type CloudProvider string

const (
	CloudProviderAWS   CloudProvider = "aws"
	CloudProviderAzure CloudProvider = "azure"
	CloudProviderNone  CloudProvider = "none"
)

// Config is the resolved environment for one process (§6 "Environment
// variables").
type Config struct {
	CloudProvider CloudProvider
	Region        string
	ProjectID     string
	Environment   string
	LogLevel      string

	// TableName/BucketName name the backend table and object bucket every
	// store (artifactstore, deployment, events) is bound to (§9).
	TableName  string
	BucketName string

	// RunnerImage is the container image the Runner Dispatcher launches
	// for every command (§4.7).
	RunnerImage string

	// ControlPlaneURL is where a launched runner calls back to report
	// status (§4.7 step 2).
	ControlPlaneURL string

	BypassFileSizeCheck bool

	// Mode holds MODE; no binary in this repository reads it back.
	// WebhookPort is the admission webhook's listen port.
	Mode       string
	WebhookPort int

	// WebhookCertFile/WebhookKeyFile name the Admission Webhook's TLS
	// material; empty falls back to plaintext (§4.11, development only).
	WebhookCertFile string
	WebhookKeyFile  string

	// Runner launch timeout caps (§5 "Timeouts"), overridable per command.
	PlanTimeout    time.Duration
	ApplyTimeout   time.Duration
	DestroyTimeout time.Duration

	// DriftPollInterval is how often the drift reconciler scans (§4.9).
	DriftPollInterval time.Duration

	// LogPollInterval is the nominal sleep between empty log polls (§5).
	LogPollInterval time.Duration
}

// FromEnv reads the process environment into a Config, falling back to an
// explicit default wherever the variable is unset.
func FromEnv() Config {
	c := Config{
		CloudProvider:       CloudProvider(getenvDefault("CLOUD_PROVIDER", string(CloudProviderNone))),
		Region:              os.Getenv("REGION"),
		ProjectID:           os.Getenv("PROJECT_ID"),
		Environment:         os.Getenv("INFRAWEAVE_ENVIRONMENT"),
		LogLevel:            getenvDefault("LOG_LEVEL", "info"),
		TableName:           os.Getenv("TABLE_NAME"),
		BucketName:          os.Getenv("BUCKET_NAME"),
		RunnerImage:         os.Getenv("RUNNER_IMAGE"),
		ControlPlaneURL:     os.Getenv("CONTROL_PLANE_URL"),
		BypassFileSizeCheck: os.Getenv("BYPASS_FILE_SIZE_CHECK") == "true",
		Mode:                os.Getenv("MODE"),
		WebhookPort:         getenvIntDefault("WEBHOOK_PORT", 8443),
		WebhookCertFile:     os.Getenv("WEBHOOK_CERT_FILE"),
		WebhookKeyFile:      os.Getenv("WEBHOOK_KEY_FILE"),
		PlanTimeout:         30 * time.Minute,
		ApplyTimeout:        2 * time.Hour,
		DestroyTimeout:      1 * time.Hour,
		DriftPollInterval:   1 * time.Minute,
		LogPollInterval:     1 * time.Second,
	}
	return c
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// TimeoutFor returns the per-command launch cap (§5).
func (c Config) TimeoutFor(command string) time.Duration {
	switch command {
	case "apply":
		return c.ApplyTimeout
	case "destroy":
		return c.DestroyTimeout
	default:
		return c.PlanTimeout
	}
}
