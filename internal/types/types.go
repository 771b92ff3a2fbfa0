// Package types provides shared type definitions used across dialectica packages.
// This package exists to break import cycles between planner, worker, and stage.
// Types in this package should be foundational data structures with no complex dependencies.
package types

import (
	"time"
)

// =============================================================================
// JOB MODEL
// =============================================================================

// JobType discriminates planner jobs from leaf execution jobs.
type JobType string

const (
	JobTypePlan    JobType = "PLAN"
	JobTypeExecute JobType = "EXECUTE"
)

// JobStatus is the lifecycle state of a job row.
type JobStatus string

const (
	JobStatusPending             JobStatus = "pending"
	JobStatusProcessing          JobStatus = "processing"
	JobStatusRetrying            JobStatus = "retrying"
	JobStatusPendingContinuation JobStatus = "pending_continuation"
	JobStatusPendingNextStep     JobStatus = "pending_next_step"
	JobStatusWaitingForChildren  JobStatus = "waiting_for_children"
	JobStatusCompleted           JobStatus = "completed"
	JobStatusFailed              JobStatus = "failed"
)

// IsTerminal reports whether the status is a final state.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is one durable unit of pipeline work. Jobs are created by the planner,
// mutated by the executor and continuation manager, and never deleted.
type Job struct {
	ID           string     `json:"id"`
	Type         JobType    `json:"job_type"`
	ParentJobID  string     `json:"parent_job_id,omitempty"`
	SessionID    string     `json:"session_id"`
	StageSlug    string     `json:"stage_slug"`
	Iteration    int        `json:"iteration_number"`
	Status       JobStatus  `json:"status"`
	AttemptCount int        `json:"attempt_count"`
	MaxRetries   int        `json:"max_retries"`
	Payload      JobPayload `json:"payload"`
	Results      *JobResults `json:"results,omitempty"`
	ErrorDetails string     `json:"error_details,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// JobResults records the outcome of a completed job.
type JobResults struct {
	ContributionIDs []string `json:"contribution_ids,omitempty"`
	InputTokens     int      `json:"input_tokens"`
	OutputTokens    int      `json:"output_tokens"`
	FinishReason    string   `json:"finish_reason,omitempty"`
	ProcessingMs    int64    `json:"processing_time_ms"`
}

// =============================================================================
// PROJECT / SESSION MODEL
// =============================================================================

// Project is the root aggregate. Immutable after creation except status.
type Project struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	Name              string    `json:"name"`
	InitialPrompt     string    `json:"initial_user_prompt"`
	DomainID          string    `json:"domain_id,omitempty"`
	ProcessTemplateID string    `json:"process_template_id"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
}

// Session drives one full pipeline iteration for a project.
// Status is a free-text state tag following the pattern
// pending_<stage> -> running_<stage> -> <stage>_completed -> pending_<next>.
type Session struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"project_id"`
	Status         string    `json:"status"`
	CurrentStage   string    `json:"current_stage_id"`
	Iteration      int       `json:"iteration_count"`
	SelectedModels []string  `json:"selected_model_ids"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Session status helpers. Statuses are strings, not an enum, but the engine
// only ever writes these shapes.

func StatusPending(stageSlug string) string   { return "pending_" + stageSlug }
func StatusRunning(stageSlug string) string   { return "running_" + stageSlug }
func StatusCompleted(stageSlug string) string { return stageSlug + "_completed" }

// StatusIterationComplete marks the end of a full iteration, awaiting review.
const StatusIterationComplete = "iteration_complete_pending_review"

// =============================================================================
// CONTRIBUTION / FEEDBACK MODEL
// =============================================================================

// ContributionType labels what kind of artifact a contribution is.
type ContributionType string

const (
	ContributionThesis        ContributionType = "thesis"
	ContributionAntithesis    ContributionType = "antithesis"
	ContributionSynthesis     ContributionType = "synthesis"
	ContributionParenthesis   ContributionType = "parenthesis"
	ContributionParalysis     ContributionType = "paralysis"
	ContributionHeaderContext ContributionType = "header_context"
	ContributionSeedPrompt    ContributionType = "seed_prompt"
	ContributionFeedback      ContributionType = "feedback"
)

// DocumentRelationships links a contribution back to the artifact it was
// derived from. SourceDocumentID is an explicit foreign key; for a
// header-context pairing the referenced artifact must share this
// contribution's ModelID.
type DocumentRelationships struct {
	SourceDocumentID string `json:"source_document_id,omitempty"`
	SourceGroup      string `json:"source_group,omitempty"`
	PairedModelID    string `json:"paired_model_id,omitempty"`
}

// Contribution is one produced artifact registered against blob storage.
// A new row is created per edit version; superseded versions keep
// IsLatestEdit=false and are retained for audit.
type Contribution struct {
	ID                     string                 `json:"id"`
	SessionID              string                 `json:"session_id"`
	ProjectID              string                 `json:"project_id"`
	StageSlug              string                 `json:"stage"`
	Iteration              int                    `json:"iteration_number"`
	ModelID                string                 `json:"model_id"`
	ModelSlug              string                 `json:"model_slug"`
	Type                   ContributionType       `json:"contribution_type"`
	DocumentKey            string                 `json:"document_key"`
	StoragePath            string                 `json:"storage_path"`
	FileName               string                 `json:"file_name"`
	RawResponsePath        string                 `json:"raw_response_storage_path,omitempty"`
	SeedPromptPath         string                 `json:"seed_prompt_url,omitempty"`
	EditVersion            int                    `json:"edit_version"`
	IsLatestEdit           bool                   `json:"is_latest_edit"`
	OriginalContributionID string                 `json:"original_model_contribution_id,omitempty"`
	Relationships          *DocumentRelationships `json:"document_relationships,omitempty"`
	AttemptCount           int                    `json:"attempt_count"`
	TokensInput            int                    `json:"tokens_used_input"`
	TokensOutput           int                    `json:"tokens_used_output"`
	ProcessingMs           int64                  `json:"processing_time_ms"`
	CreatedAt              time.Time              `json:"created_at"`
	UpdatedAt              time.Time              `json:"updated_at"`
}

// FullPath returns the blob location of the contribution content.
func (c *Contribution) FullPath() string {
	if c.StoragePath == "" {
		return c.FileName
	}
	return c.StoragePath + "/" + c.FileName
}

// ValidateRelationships enforces the same-model invariant for header-context
// pairings. sourceModelID is the ModelID of the referenced artifact. A
// cross-model source is only legal when the relationship declares it: either
// SourceGroup names the source model or an explicit pairing is set.
func (c *Contribution) ValidateRelationships(sourceModelID string) error {
	if c.Relationships == nil || c.Relationships.SourceDocumentID == "" {
		return nil
	}
	if c.Type != ContributionHeaderContext && !isStageContribution(c.Type) {
		return nil
	}
	if sourceModelID == "" || c.ModelID == "" || sourceModelID == c.ModelID {
		return nil
	}
	if c.Relationships.SourceGroup == sourceModelID || c.Relationships.PairedModelID != "" {
		return nil
	}
	return NewValidationError("contribution %s: source document belongs to model %s, not %s",
		c.ID, sourceModelID, c.ModelID)
}

func isStageContribution(t ContributionType) bool {
	switch t {
	case ContributionThesis, ContributionAntithesis, ContributionSynthesis,
		ContributionParenthesis, ContributionParalysis:
		return true
	}
	return false
}

// Feedback is user-submitted commentary on one document, keyed by
// (session, stage, iteration, model, document key). At most one logically
// current record exists per key; it is consumed only by the input gatherer
// for the same model id.
type Feedback struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	ProjectID   string    `json:"project_id"`
	StageSlug   string    `json:"stage_slug"`
	Iteration   int       `json:"iteration_number"`
	ModelID     string    `json:"model_id"`
	DocumentKey string    `json:"document_key"`
	StoragePath string    `json:"storage_path"`
	FileName    string    `json:"file_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FullPath returns the blob location of the feedback content.
func (f *Feedback) FullPath() string {
	if f.StoragePath == "" {
		return f.FileName
	}
	return f.StoragePath + "/" + f.FileName
}

// =============================================================================
// SOURCE DOCUMENTS (gatherer output)
// =============================================================================

// SourceDocument is a resolved input artifact with its content loaded.
// Planners receive these with empty content; the executor loads content
// before prompt assembly.
type SourceDocument struct {
	ID            string                 `json:"id"`
	Type          ContributionType       `json:"contribution_type"`
	StageSlug     string                 `json:"stage"`
	Iteration     int                    `json:"iteration_number"`
	ModelID       string                 `json:"model_id,omitempty"`
	DocumentKey   string                 `json:"document_key"`
	Content       string                 `json:"content"`
	Relationships *DocumentRelationships `json:"document_relationships,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// SourceDocuments groups gathered inputs by rule type for prompt assembly.
type SourceDocuments struct {
	Documents     []SourceDocument // document + contribution rules
	Feedback      []SourceDocument // feedback rules (model-scoped)
	HeaderContext []SourceDocument // header_context rules (same-model only)
	SeedPrompt    string           // seed_prompt rule content
}

// All returns every gathered document in rule order.
func (s *SourceDocuments) All() []SourceDocument {
	out := make([]SourceDocument, 0, len(s.Documents)+len(s.Feedback)+len(s.HeaderContext))
	out = append(out, s.Documents...)
	out = append(out, s.Feedback...)
	out = append(out, s.HeaderContext...)
	return out
}
