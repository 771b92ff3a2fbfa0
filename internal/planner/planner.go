// Package planner builds the job DAG for a stage. PlanStage creates one root
// PLAN job per selected model; Expand decomposes a claimed PLAN job into
// EXECUTE children using the recipe step's granularity strategy.
//
// Strategies are pluggable through a registry. A recipe naming a granularity
// with no registered strategy is a configuration error surfaced at plan time,
// never a silent fallback.
package planner

import (
	"github.com/google/uuid"

	"dialectica/internal/logging"
	"dialectica/internal/recipe"
	"dialectica/internal/store"
	"dialectica/internal/types"
)

// DefaultMaxRetries bounds transient-failure retries per job.
const DefaultMaxRetries = 3

// Planner owns strategy resolution and job creation.
type Planner struct {
	store      *store.Store
	template   *recipe.ProcessTemplate
	strategies map[string]Strategy
	maxRetries int
}

// New creates a Planner with the built-in strategies registered.
func New(s *store.Store, template *recipe.ProcessTemplate) *Planner {
	p := &Planner{
		store:      s,
		template:   template,
		strategies: make(map[string]Strategy),
		maxRetries: DefaultMaxRetries,
	}
	for _, strat := range []Strategy{perModel{}, pairwiseByOrigin{}, perSourceGroup{}, perSourceDocument{}} {
		p.RegisterStrategy(strat)
	}
	return p
}

// RegisterStrategy adds or replaces a granularity strategy.
func (p *Planner) RegisterStrategy(s Strategy) {
	p.strategies[s.Name()] = s
}

// SetMaxRetries overrides the per-job retry bound for newly planned jobs.
func (p *Planner) SetMaxRetries(n int) {
	if n >= 0 {
		p.maxRetries = n
	}
}

// PlanStage creates the root PLAN jobs for a stage: one per selected model,
// starting at the stage's first recipe step. Returns the created jobs.
func (p *Planner) PlanStage(session *types.Session, stageSlug string, iteration int) ([]*types.Job, error) {
	if _, err := p.template.Stage(stageSlug); err != nil {
		return nil, err
	}
	if len(session.SelectedModels) == 0 {
		return nil, types.NewValidationError("session %s has no selected models", session.ID)
	}

	jobs := make([]*types.Job, 0, len(session.SelectedModels))
	for _, modelID := range session.SelectedModels {
		jobs = append(jobs, &types.Job{
			ID:         uuid.NewString(),
			Type:       types.JobTypePlan,
			SessionID:  session.ID,
			StageSlug:  stageSlug,
			Iteration:  iteration,
			Status:     types.JobStatusPending,
			MaxRetries: p.maxRetries,
			Payload: types.PayloadForPlan(types.PlanPayload{
				ProjectID: session.ProjectID,
				SessionID: session.ID,
				StageSlug: stageSlug,
				Iteration: iteration,
				ModelID:   modelID,
				StepIndex: 0,
			}),
		})
	}
	if err := p.store.CreateJobs(jobs); err != nil {
		return nil, err
	}
	logging.Planner("planned stage %s: %d root PLAN jobs (session %s, iteration %d)",
		stageSlug, len(jobs), session.ID, iteration)
	return jobs, nil
}

// Expand decomposes a claimed PLAN job into its EXECUTE children for the
// step the payload points at, creates them, and returns them. The parent is
// not transitioned here; the worker moves it to waiting_for_children after a
// successful expansion.
func (p *Planner) Expand(job *types.Job) ([]*types.Job, error) {
	payload := job.Payload.Plan
	if job.Type != types.JobTypePlan || payload == nil {
		return nil, types.NewValidationError("job %s is not a PLAN job", job.ID)
	}

	stage, err := p.template.Stage(payload.StageSlug)
	if err != nil {
		return nil, err
	}
	step, err := stage.Step(payload.StepIndex)
	if err != nil {
		return nil, err
	}
	strategy, ok := p.strategies[step.Granularity]
	if !ok {
		return nil, types.NewConfigError("no granularity strategy registered for %q (stage %s step %s)",
			step.Granularity, stage.Slug, step.Slug)
	}

	session, err := p.store.GetSession(payload.SessionID)
	if err != nil {
		return nil, err
	}
	sources, err := p.loadStepSources(payload, step)
	if err != nil {
		return nil, err
	}

	units, err := strategy.Units(StrategyRequest{
		ModelID: payload.ModelID,
		Models:  session.SelectedModels,
		Step:    step,
		Sources: sources,
	})
	if err != nil {
		return nil, err
	}

	var children []*types.Job
	for _, unit := range units {
		for _, key := range step.DocumentKeys() {
			outputType := step.Outputs.OutputType
			var allowed map[string][]string
			if len(unit.SourceIDs) > 0 {
				allowed = map[string][]string{"contribution": unit.SourceIDs}
			}
			children = append(children, &types.Job{
				ID:          uuid.NewString(),
				Type:        types.JobTypeExecute,
				ParentJobID: job.ID,
				SessionID:   payload.SessionID,
				StageSlug:   payload.StageSlug,
				Iteration:   payload.Iteration,
				Status:      types.JobStatusPending,
				MaxRetries:  p.maxRetries,
				Payload: types.PayloadForExecute(types.ExecutePayload{
					ProjectID:     payload.ProjectID,
					SessionID:     payload.SessionID,
					StageSlug:     payload.StageSlug,
					Iteration:     payload.Iteration,
					ModelID:       payload.ModelID,
					StepSlug:      step.Slug,
					DocumentKey:   key,
					OutputType:    outputType,
					Inputs:        allowed,
					Relationships: unit.Relationships,
				}),
			})
		}
	}

	if err := p.store.CreateJobs(children); err != nil {
		return nil, err
	}
	logging.Planner("expanded PLAN job %s (%s/%s step %s): %d units -> %d EXECUTE children",
		job.ID, payload.SessionID, payload.StageSlug, step.Slug, len(units), len(children))
	return children, nil
}

// loadStepSources loads the latest prior-stage contributions the step's
// contribution and document rules reference. Header contexts, seed prompts,
// and feedback never participate in unit shaping.
func (p *Planner) loadStepSources(payload *types.PlanPayload, step *recipe.Step) ([]*types.Contribution, error) {
	var sources []*types.Contribution
	seen := make(map[string]bool)
	for _, rule := range step.InputsRequired {
		if rule.Type != recipe.InputContribution && rule.Type != recipe.InputDocument {
			continue
		}
		stageSlug := rule.Slug
		if stageSlug == "any" {
			stageSlug = ""
		}
		contribs, err := p.store.LatestContributions(payload.SessionID, payload.Iteration, store.ContributionFilter{
			StageSlug:   stageSlug,
			DocumentKey: rule.DocumentKey,
		})
		if err != nil {
			return nil, err
		}
		for _, c := range contribs {
			switch c.Type {
			case types.ContributionHeaderContext, types.ContributionSeedPrompt, types.ContributionFeedback:
				continue
			}
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			sources = append(sources, c)
		}
	}
	return sources, nil
}

// NextStepJob builds the follow-up PLAN job payload for a parent whose
// children all completed and whose stage recipe has another step. The caller
// requeues the parent with this payload.
func (p *Planner) NextStepJob(job *types.Job) (*types.JobPayload, bool, error) {
	payload := job.Payload.Plan
	if payload == nil {
		return nil, false, types.NewValidationError("job %s is not a PLAN job", job.ID)
	}
	stage, err := p.template.Stage(payload.StageSlug)
	if err != nil {
		return nil, false, err
	}
	if !stage.HasNextStep(payload.StepIndex) {
		return nil, false, nil
	}
	next := types.PayloadForPlan(types.PlanPayload{
		ProjectID: payload.ProjectID,
		SessionID: payload.SessionID,
		StageSlug: payload.StageSlug,
		Iteration: payload.Iteration,
		ModelID:   payload.ModelID,
		StepIndex: payload.StepIndex + 1,
	})
	return &next, true, nil
}
