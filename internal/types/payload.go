package types

import (
	"encoding/json"
	"fmt"
)

// JobPayload is a tagged union over PlanPayload and ExecutePayload.
// Exactly one arm must be set, matching the job's Type; this is validated at
// job-creation time so workers never need runtime type guards.
type JobPayload struct {
	Plan    *PlanPayload    `json:"plan,omitempty"`
	Execute *ExecutePayload `json:"execute,omitempty"`
}

// PlanPayload drives a PLAN job: it identifies the stage, the model the plan
// is scoped to, and the recipe step to decompose next.
type PlanPayload struct {
	ProjectID string `json:"project_id"`
	SessionID string `json:"session_id"`
	StageSlug string `json:"stage_slug"`
	Iteration int    `json:"iteration_number"`
	ModelID   string `json:"model_id"`
	StepIndex int    `json:"step_index"` // index into the stage recipe's ordered steps
}

// ExecutePayload drives an EXECUTE job: one model call producing one document.
type ExecutePayload struct {
	ProjectID   string `json:"project_id"`
	SessionID   string `json:"session_id"`
	StageSlug   string `json:"stage_slug"`
	Iteration   int    `json:"iteration_number"`
	ModelID     string `json:"model_id"`
	StepSlug    string `json:"step_slug"`
	DocumentKey string `json:"document_key"`
	OutputType  ContributionType `json:"output_type"`

	// Inputs maps contribution types to the specific source artifact ids this
	// job may read, as resolved by the planner.
	Inputs map[string][]string `json:"inputs,omitempty"`

	// Relationships carries lineage for the contribution this job produces.
	Relationships *DocumentRelationships `json:"document_relationships,omitempty"`

	// Continuation bookkeeping. TargetContributionID points at the partial
	// contribution being continued; ContinuationCount is the turn index.
	TargetContributionID string `json:"target_contribution_id,omitempty"`
	ContinuationCount    int    `json:"continuation_count,omitempty"`
}

// PayloadFor wraps a payload arm in a JobPayload.
func PayloadForPlan(p PlanPayload) JobPayload       { return JobPayload{Plan: &p} }
func PayloadForExecute(p ExecutePayload) JobPayload { return JobPayload{Execute: &p} }

// Validate checks the payload against the declared job type.
func (p JobPayload) Validate(jobType JobType) error {
	switch jobType {
	case JobTypePlan:
		if p.Plan == nil || p.Execute != nil {
			return fmt.Errorf("PLAN job requires exactly a plan payload")
		}
		return p.Plan.validate()
	case JobTypeExecute:
		if p.Execute == nil || p.Plan != nil {
			return fmt.Errorf("EXECUTE job requires exactly an execute payload")
		}
		return p.Execute.validate()
	default:
		return fmt.Errorf("unknown job type %q", jobType)
	}
}

func (p *PlanPayload) validate() error {
	if p.ProjectID == "" || p.SessionID == "" || p.StageSlug == "" {
		return fmt.Errorf("plan payload missing project/session/stage identifiers")
	}
	if p.ModelID == "" {
		return fmt.Errorf("plan payload missing model_id")
	}
	if p.Iteration < 1 {
		return fmt.Errorf("plan payload iteration must be >= 1, got %d", p.Iteration)
	}
	return nil
}

func (p *ExecutePayload) validate() error {
	if p.ProjectID == "" || p.SessionID == "" || p.StageSlug == "" {
		return fmt.Errorf("execute payload missing project/session/stage identifiers")
	}
	if p.ModelID == "" {
		return fmt.Errorf("execute payload missing model_id")
	}
	if p.DocumentKey == "" {
		return fmt.Errorf("execute payload missing document_key")
	}
	if p.Iteration < 1 {
		return fmt.Errorf("execute payload iteration must be >= 1, got %d", p.Iteration)
	}
	return nil
}

// SessionID returns the session the payload belongs to, regardless of arm.
func (p JobPayload) SessionID() string {
	if p.Plan != nil {
		return p.Plan.SessionID
	}
	if p.Execute != nil {
		return p.Execute.SessionID
	}
	return ""
}

// ModelID returns the model the payload is scoped to, regardless of arm.
func (p JobPayload) ModelID() string {
	if p.Plan != nil {
		return p.Plan.ModelID
	}
	if p.Execute != nil {
		return p.Execute.ModelID
	}
	return ""
}

// MarshalPayload serializes a payload for the durable job row.
func MarshalPayload(p JobPayload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}
	return data, nil
}

// UnmarshalPayload deserializes a durable payload and re-validates it.
func UnmarshalPayload(data []byte, jobType JobType) (JobPayload, error) {
	var p JobPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return JobPayload{}, fmt.Errorf("failed to parse job payload: %w", err)
	}
	if err := p.Validate(jobType); err != nil {
		return JobPayload{}, err
	}
	return p, nil
}
