package provision

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/monica-infra/deployer/pkg/model"
)

// Redacted replaces sensitive output values.
const Redacted = "**REDACTED**"

// State records the outcome of an apply attempt.
type State struct {
	ID         uuid.UUID                `json:"id"`
	StackName  string                   `json:"stackName"`
	Variant    string                   `json:"variant"`
	StartedAt  time.Time                `json:"startedAt"`
	FinishedAt time.Time                `json:"finishedAt"`
	Status     Status                   `json:"status"`
	Error      string                   `json:"error,omitempty"`
	Resources  map[string]ResourceState `json:"resources"`
}

type Status string

const (
	StatusApplying  Status = "Applying"
	StatusSucceeded Status = "Succeeded"
	StatusFailed    Status = "Failed"
)

type ResourceState struct {
	Kind       model.Kind        `json:"kind"`
	PhysicalID string            `json:"physicalId"`
	Outputs    map[string]string `json:"outputs"`
	Sensitive  []string          `json:"sensitive,omitempty"`
	AppliedAt  time.Time         `json:"appliedAt"`
}

// Redacted returns a copy of the state with the values of all sensitive outputs replaced.
func (s *State) Redacted() *State {
	redacted := *s
	redacted.Resources = make(map[string]ResourceState, len(s.Resources))
	for id, r := range s.Resources {
		outputs := maps.Clone(r.Outputs)
		for _, key := range r.Sensitive {
			if _, ok := outputs[key]; ok {
				outputs[key] = Redacted
			}
		}
		r.Outputs = outputs
		r.Sensitive = slices.Clone(r.Sensitive)
		redacted.Resources[id] = r
	}
	return &redacted
}

// IsRedacted returns true if no sensitive output carries its value.
func (s *State) IsRedacted() bool {
	for _, r := range s.Resources {
		for _, key := range r.Sensitive {
			if value, ok := r.Outputs[key]; ok && value != Redacted {
				return false
			}
		}
	}
	return true
}
