package model

import "time"

// DeploymentStatus is the free-form status field with distinguished values
// (§3).
type DeploymentStatus string

const (
	StatusNew          DeploymentStatus = "new"
	StatusRequested    DeploymentStatus = "requested"
	StatusInitiated    DeploymentStatus = "initiated"
	StatusRunning      DeploymentStatus = "running"
	StatusSuccessful   DeploymentStatus = "successful"
	StatusFailed       DeploymentStatus = "failed"
	StatusFailedInit   DeploymentStatus = "failed_init"
	StatusFailedPolicy DeploymentStatus = "failed_policy"
)

// Terminal reports whether a status ends the deployment's in-flight job.
func (s DeploymentStatus) Terminal() bool {
	switch s {
	case StatusSuccessful, StatusFailed, StatusFailedInit, StatusFailedPolicy:
		return true
	default:
		return false
	}
}

// Command is the IaC command the runner executes (§3, §4.7).
type Command string

const (
	CommandPlan       Command = "plan"
	CommandApply      Command = "apply"
	CommandDestroy    Command = "destroy"
	CommandDriftCheck Command = "driftcheck"
)

// DependencyRef names another deployment this one depends on (§4.5.1).
type DependencyRef struct {
	DeploymentID string `json:"deploymentId"`
	Environment  string `json:"environment"`
}

// DriftDetection configures periodic re-planning (§3, §4.9).
type DriftDetection struct {
	Enabled          bool     `json:"enabled"`
	Interval         int64    `json:"interval"` // seconds
	AutoRemediate    bool     `json:"autoRemediate"`
	Webhooks         []string `json:"webhooks,omitempty"`
	NextCheckEpoch   int64    `json:"nextCheckEpoch"`
}

// PolicyResult is the outcome of evaluating one policy against a plan (§4.8).
type PolicyResult struct {
	Policy      string   `json:"policy"`
	Version     string   `json:"version"`
	Environment string   `json:"environment"`
	PolicyName  string   `json:"policyName"`
	Failed      bool     `json:"failed"`
	Violations  []string `json:"violations,omitempty"`
}

// GitProvider carries the GitHub/GitLab fields forwarded into the runner
// environment (§4.7 step 2 "plus git fields from extra_data"). Exactly one
// of GitHub/GitLab is set, matching the "GitHub or GitLab variants" note.
type GitProvider struct {
	GitHub *GitHubRef `json:"github,omitempty"`
	GitLab *GitLabRef `json:"gitlab,omitempty"`
}

type GitHubRef struct {
	Owner      string `json:"owner"`
	Repo       string `json:"repo"`
	Ref        string `json:"ref"`
	RunID      string `json:"runId,omitempty"`
	InstallID  string `json:"installId,omitempty"`
}

type GitLabRef struct {
	ProjectID string `json:"projectId"`
	Ref       string `json:"ref"`
	PipelineID string `json:"pipelineId,omitempty"`
}

// Deployment is the identity (project_id, region, environment, deployment_id)
// record (§3).
type Deployment struct {
	ProjectID    string `json:"projectId"`
	Region       string `json:"region"`
	Environment  string `json:"environment"`
	DeploymentID string `json:"deploymentId"`

	ModuleName string `json:"moduleName"`
	Track      string `json:"track"`
	Version    string `json:"version"`
	ModuleType ModuleType `json:"moduleType"`

	Variables map[string]any `json:"variables"`
	Outputs   map[string]any `json:"outputs,omitempty"`

	Status     DeploymentStatus `json:"status"`
	Epoch      int64            `json:"epoch"`
	JobID      string           `json:"jobId,omitempty"`
	Deleted    bool             `json:"deleted"`

	DriftDetection DriftDetection `json:"driftDetection"`
	HasDrifted     bool           `json:"hasDrifted"`
	PolicyResults  []PolicyResult `json:"policyResults,omitempty"`
	Error          string         `json:"error,omitempty"`

	Dependencies []DependencyRef `json:"dependencies"`
	InitiatedBy  string          `json:"initiatedBy"`

	GitProvider *GitProvider `json:"gitProvider,omitempty"`
}

// PK renders the deployment's partition key (§6).
func (d Deployment) PK() string {
	return "DEPLOYMENT#" + d.ProjectID + "::" + d.Region + "::" + d.Environment + "::" + d.DeploymentID
}

// Event is an append-only record keyed by deployment_id + monotonic epoch
// (§3, §4.6).
type Event struct {
	DeploymentID  string           `json:"deploymentId"`
	Epoch         int64            `json:"epoch"`
	ID            string           `json:"id"`
	Event         Command          `json:"event"`
	Status        DeploymentStatus `json:"status"`
	Error         string           `json:"error,omitempty"`
	JobID         string           `json:"jobId,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
	Output        map[string]any   `json:"output,omitempty"`
	PolicyResults []PolicyResult   `json:"policyResults,omitempty"`
}

// ChangeType distinguishes the three change-record kinds (§3, §6).
type ChangeType string

const (
	ChangeApply   ChangeType = "APPLY"
	ChangePlan    ChangeType = "PLAN"
	ChangeDestroy ChangeType = "DESTROY"
)

// ChangeRecord is an immutable plan/apply/destroy execution record (§3).
type ChangeRecord struct {
	ProjectID      string     `json:"projectId"`
	Region         string     `json:"region"`
	Environment    string     `json:"environment"`
	DeploymentID   string     `json:"deploymentId"`
	JobID          string     `json:"jobId"`
	ChangeType     ChangeType `json:"changeType"`
	Summary        string     `json:"summary"`
	PlanRawJSONKey string     `json:"planRawJsonKey,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
}

// PK renders the change record's partition key (§6).
func (c ChangeRecord) PK() string {
	return string(c.ChangeType) + "#" + c.ProjectID + "::" + c.Region + "::" + c.Environment + "::" + c.DeploymentID
}
