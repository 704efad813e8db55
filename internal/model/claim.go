package model

// Claim is a declarative YAML/JSON document binding a module version to
// variable values and an environment (GLOSSARY, §4.4, §6 "Runner manifest").
type Claim struct {
	APIVersion string   `json:"apiVersion"`
	Kind       string   `json:"kind"`
	Metadata   Metadata `json:"metadata"`
	Spec       ClaimSpec `json:"spec"`
}

type Metadata struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace,omitempty"`
}

type ClaimSpec struct {
	ModuleVersion string          `json:"moduleVersion"`
	Region        string          `json:"region,omitempty"`
	Variables     map[string]any  `json:"variables"`
	Dependencies  []DependencyRef `json:"dependencies,omitempty"`
}

// ApiInfraPayload is the validated, resolved request the Runner Dispatcher
// consumes (§4.7).
type ApiInfraPayload struct {
	Command        Command
	Module         string
	ModuleVersion  string
	ModuleType     ModuleType
	ModuleTrack    string
	Name           string
	Environment    string
	DeploymentID   string
	ProjectID      string
	Region         string
	DriftDetection DriftDetection
	Variables      map[string]any
	Annotations    map[string]string
	Dependencies   []DependencyRef
	InitiatedBy    string
	ExtraData      ExtraData
}

// ExtraData carries ancillary fields forwarded into the runner environment
// (§4.7 step 2).
type ExtraData struct {
	Git *GitProvider
}
