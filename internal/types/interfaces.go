package types

import (
	"context"
	"encoding/json"
	"fmt"
)

// =============================================================================
// EXTERNAL COLLABORATOR CONTRACTS
// =============================================================================

// FinishReason is the adapter's signal for why generation stopped.
type FinishReason string

const (
	FinishStop   FinishReason = "stop"   // terminal, output is complete
	FinishLength FinishReason = "length" // truncated, needs continuation
	FinishError  FinishReason = "error"  // adapter-level failure
)

// ModelRequest is one call to an AI model.
type ModelRequest struct {
	ModelID   string
	Prompt    string
	MaxTokens int

	// PartialContent is the accumulated output of prior continuation turns;
	// empty on the first turn.
	PartialContent string
	TurnIndex      int
}

// ModelResponse is the adapter's structured result.
type ModelResponse struct {
	Content      string
	FinishReason FinishReason
	InputTokens  int
	OutputTokens int
	RawResponse  json.RawMessage
}

// ModelAdapter invokes an AI model. The core treats this as an opaque
// dependency; adapters map provider-specific rate-limit and backoff signals
// to TransientError so the retry machinery can act on them.
type ModelAdapter interface {
	CallModel(ctx context.Context, req ModelRequest) (*ModelResponse, error)
}

// IndexMetadata describes a document handed to the RAG indexer.
type IndexMetadata struct {
	StageSlug   string
	ModelID     string
	DocumentKey string
	Iteration   int
}

// IndexResult reports the outcome of indexing one document.
type IndexResult struct {
	Success    bool
	TokensUsed int
	Err        error
}

// DocumentIndexer makes long prior-stage documents retrievable as condensed
// context. Indexing failures must degrade gracefully: log and continue, never
// block stage progress.
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, sessionID, sourceContributionID, content string, meta IndexMetadata) *IndexResult
}

// =============================================================================
// HEADER-CONTEXT RESPONSE SHAPE
// =============================================================================

// DocumentContext is one per-document context entry inside a header-context
// response.
type DocumentContext struct {
	DocumentKey string `json:"document_key"`
	Content     string `json:"content"`
}

// HeaderContextResponse is the structured shape a model must return for a
// header_context output. A response that does not carry context_for_documents
// is a hard validation failure, not a retry.
type HeaderContextResponse struct {
	ContextForDocuments []DocumentContext `json:"context_for_documents"`
}

// ParseHeaderContext validates and decodes a header-context model response.
func ParseHeaderContext(content string) (*HeaderContextResponse, error) {
	var hc HeaderContextResponse
	if err := json.Unmarshal([]byte(content), &hc); err != nil {
		return nil, NewValidationError("header_context response is not valid JSON: %v", err)
	}
	if hc.ContextForDocuments == nil {
		return nil, NewValidationError("header_context response missing context_for_documents")
	}
	for i, dc := range hc.ContextForDocuments {
		if dc.DocumentKey == "" {
			return nil, NewValidationError("context_for_documents[%d] missing document_key", i)
		}
	}
	return &hc, nil
}

// ExecutionResult is what the executor hands back to the worker loop.
type ExecutionResult struct {
	Job          *Job
	Status       JobStatus // completed, pending_continuation, retrying, or failed
	Contribution *Contribution
	Response     *ModelResponse
	Err          error
}

func (r *ExecutionResult) String() string {
	if r.Err != nil {
		return fmt.Sprintf("job %s -> %s (%v)", r.Job.ID, r.Status, r.Err)
	}
	return fmt.Sprintf("job %s -> %s", r.Job.ID, r.Status)
}
