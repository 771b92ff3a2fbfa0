// Package worker executes the job DAG: the Executor runs one EXECUTE job end
// to end (gather, assemble, model call, validate, persist), the Pool claims
// and dispatches jobs concurrently, and the Watcher propagates completion up
// the DAG and into the session status.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dialectica/internal/artifact"
	"dialectica/internal/gather"
	"dialectica/internal/logging"
	"dialectica/internal/prompt"
	"dialectica/internal/recipe"
	"dialectica/internal/store"
	"dialectica/internal/types"
)

const (
	// DefaultCallTimeout bounds one model invocation.
	DefaultCallTimeout = 5 * time.Minute

	// DefaultMaxContinuations bounds the length-truncation continuation chain
	// for a single logical document.
	DefaultMaxContinuations = 5
)

// Executor runs EXECUTE jobs.
type Executor struct {
	store     *store.Store
	files     *artifact.FileStore
	gatherer  *gather.Gatherer
	assembler *prompt.Assembler
	template  *recipe.ProcessTemplate
	adapter   types.ModelAdapter

	// indexer is optional; indexing failures never fail the job.
	indexer types.DocumentIndexer

	callTimeout      time.Duration
	maxContinuations int
}

// NewExecutor wires an Executor. indexer may be nil.
func NewExecutor(s *store.Store, files *artifact.FileStore, g *gather.Gatherer,
	a *prompt.Assembler, template *recipe.ProcessTemplate, adapter types.ModelAdapter,
	indexer types.DocumentIndexer) *Executor {
	return &Executor{
		store:            s,
		files:            files,
		gatherer:         g,
		assembler:        a,
		template:         template,
		adapter:          adapter,
		indexer:          indexer,
		callTimeout:      DefaultCallTimeout,
		maxContinuations: DefaultMaxContinuations,
	}
}

// SetCallTimeout overrides the per-call timeout.
func (e *Executor) SetCallTimeout(d time.Duration) {
	if d > 0 {
		e.callTimeout = d
	}
}

// Execute runs one EXECUTE job: gather inputs scoped to the job's model,
// assemble the prompt, call the model under a bounded timeout, validate the
// response shape, persist artifacts at attempt-keyed paths, and register the
// contribution. The returned result tells the pool which status to apply;
// Execute itself never writes job status.
func (e *Executor) Execute(ctx context.Context, job *types.Job) *types.ExecutionResult {
	started := time.Now()
	payload := job.Payload.Execute
	if job.Type != types.JobTypeExecute || payload == nil {
		return failResult(job, types.NewValidationError("job %s is not an EXECUTE job", job.ID))
	}

	stage, err := e.template.Stage(payload.StageSlug)
	if err != nil {
		return failResult(job, err)
	}
	step := findStep(stage, payload.StepSlug)
	if step == nil {
		return failResult(job, types.NewConfigError("stage %q has no step %q", stage.Slug, payload.StepSlug))
	}

	// Continuation turns resume from the partial the prior turn persisted.
	var partial string
	if payload.TargetContributionID != "" {
		if payload.ContinuationCount > e.maxContinuations {
			return failResult(job, types.NewValidationError(
				"job %s exceeded continuation limit of %d", job.ID, e.maxContinuations))
		}
		target, err := e.store.GetContribution(payload.TargetContributionID)
		if err != nil {
			return failResult(job, err)
		}
		data, err := e.files.Read(target.FullPath())
		if err != nil {
			return failResult(job, err)
		}
		partial = string(data)
	}

	sources, err := e.gatherer.Gather(gather.Request{
		ProjectID:  payload.ProjectID,
		SessionID:  payload.SessionID,
		StageSlug:  payload.StageSlug,
		Iteration:  payload.Iteration,
		ModelID:    payload.ModelID,
		AllowedIDs: flattenInputs(payload.Inputs),
	}, step.InputsRequired)
	if err != nil {
		return e.classify(job, err)
	}

	promptText, err := e.assembler.ExecutePrompt(prompt.ExecuteRequest{
		Step:           step,
		Payload:        payload,
		Sources:        sources,
		PartialContent: partial,
	})
	if err != nil {
		return e.classify(job, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	resp, err := e.adapter.CallModel(callCtx, types.ModelRequest{
		ModelID:        payload.ModelID,
		Prompt:         promptText,
		PartialContent: partial,
		TurnIndex:      payload.ContinuationCount,
	})
	if err != nil {
		return e.classify(job, err)
	}
	if resp.FinishReason == types.FinishError {
		return e.classify(job, types.NewTransientError(
			fmt.Errorf("adapter reported finish_reason=error for job %s", job.ID)))
	}

	// Hard shape validation for header-context outputs. A mismatch is fatal
	// for this job, never retried.
	isHeader := step.IsHeaderContext() && step.Outputs.HeaderContext.DocumentKey == payload.DocumentKey
	if isHeader && resp.FinishReason == types.FinishStop {
		if _, err := types.ParseHeaderContext(resp.Content); err != nil {
			return failResult(job, err)
		}
	}

	assembled := partial + resp.Content
	contribution, err := e.persist(job, payload, step, assembled, resp, started)
	if err != nil {
		return e.classify(job, err)
	}

	if e.indexer != nil && !isHeader && resp.FinishReason == types.FinishStop {
		res := e.indexer.IndexDocument(ctx, payload.SessionID, contribution.ID, assembled, types.IndexMetadata{
			StageSlug:   payload.StageSlug,
			ModelID:     payload.ModelID,
			DocumentKey: payload.DocumentKey,
			Iteration:   payload.Iteration,
		})
		if res != nil && !res.Success {
			logging.Worker("indexing failed for contribution %s, continuing: %v", contribution.ID, res.Err)
		}
	}

	status := types.JobStatusCompleted
	if resp.FinishReason == types.FinishLength {
		status = types.JobStatusPendingContinuation
	}
	return &types.ExecutionResult{
		Job:          job,
		Status:       status,
		Contribution: contribution,
		Response:     resp,
	}
}

// persist writes the document and raw response at attempt-keyed paths, then
// registers the contribution row. On a continuation turn the new contribution
// supersedes the partial it extends, so the latest edit always carries the
// full assembled content.
func (e *Executor) persist(job *types.Job, payload *types.ExecutePayload, step *recipe.Step,
	content string, resp *types.ModelResponse, started time.Time) (*types.Contribution, error) {

	pathCtx := artifact.PathContext{
		ProjectID:   payload.ProjectID,
		SessionID:   payload.SessionID,
		Iteration:   payload.Iteration,
		StageSlug:   payload.StageSlug,
		ModelSlug:   artifact.Sanitize(payload.ModelID),
		DocumentKey: payload.DocumentKey,
		Attempt:     job.AttemptCount,
		FileType:    artifact.FileTypeDocument,
	}
	if rel := payload.Relationships; rel != nil {
		pathCtx.SourceModelSlug = artifact.Sanitize(rel.SourceGroup)
		pathCtx.PairedModelSlug = artifact.Sanitize(rel.PairedModelID)
	}
	if payload.OutputType == types.ContributionHeaderContext {
		pathCtx.FileType = artifact.FileTypeHeaderContext
	}

	dir, file, err := artifact.ConstructPath(pathCtx)
	if err != nil {
		return nil, err
	}
	if _, err := e.files.Write(dir, file, []byte(content)); err != nil {
		return nil, err
	}

	var rawPath string
	if len(resp.RawResponse) > 0 {
		rawCtx := pathCtx
		rawCtx.FileType = artifact.FileTypeRawResponse
		rawDir, rawFile, err := artifact.ConstructPath(rawCtx)
		if err != nil {
			return nil, err
		}
		rawPath, err = e.files.Write(rawDir, rawFile, resp.RawResponse)
		if err != nil {
			return nil, err
		}
	}

	c := &types.Contribution{
		ID:              uuid.NewString(),
		SessionID:       payload.SessionID,
		ProjectID:       payload.ProjectID,
		StageSlug:       payload.StageSlug,
		Iteration:       payload.Iteration,
		ModelID:         payload.ModelID,
		ModelSlug:       artifact.Sanitize(payload.ModelID),
		Type:            payload.OutputType,
		DocumentKey:     payload.DocumentKey,
		StoragePath:     dir,
		FileName:        file,
		RawResponsePath: rawPath,
		EditVersion:     1,
		IsLatestEdit:    true,
		Relationships:   payload.Relationships,
		AttemptCount:    job.AttemptCount,
		TokensInput:     resp.InputTokens,
		TokensOutput:    resp.OutputTokens,
		ProcessingMs:    time.Since(started).Milliseconds(),
	}
	if payload.TargetContributionID != "" {
		target, err := e.store.GetContribution(payload.TargetContributionID)
		if err != nil {
			return nil, err
		}
		c.EditVersion = target.EditVersion + 1
		c.OriginalContributionID = target.ID
	}

	if err := e.store.InsertContribution(c); err != nil {
		return nil, err
	}
	return c, nil
}

// classify maps an execution error to the retry taxonomy.
func (e *Executor) classify(job *types.Job, err error) *types.ExecutionResult {
	if !types.IsRetryable(err) {
		return failResult(job, err)
	}
	return &types.ExecutionResult{Job: job, Status: types.JobStatusRetrying, Err: err}
}

func failResult(job *types.Job, err error) *types.ExecutionResult {
	return &types.ExecutionResult{Job: job, Status: types.JobStatusFailed, Err: err}
}

func findStep(stage *recipe.Stage, slug string) *recipe.Step {
	for i := range stage.Steps {
		if stage.Steps[i].Slug == slug {
			return &stage.Steps[i]
		}
	}
	return nil
}

func flattenInputs(inputs map[string][]string) map[string]bool {
	if len(inputs) == 0 {
		return nil
	}
	out := make(map[string]bool)
	for _, ids := range inputs {
		for _, id := range ids {
			out[id] = true
		}
	}
	return out
}

// ContinuationPayload builds the payload for the next continuation turn of a
// job whose response was truncated. The new turn targets the contribution the
// current turn persisted.
func ContinuationPayload(payload *types.ExecutePayload, contribution *types.Contribution) *types.JobPayload {
	next := *payload
	next.TargetContributionID = contribution.ID
	next.ContinuationCount = payload.ContinuationCount + 1
	p := types.PayloadForExecute(next)
	return &p
}
