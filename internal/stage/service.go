// Package stage implements the session lifecycle: starting a session at the
// initial stage, kicking off generation for the current stage, and handling
// user submission that advances the stage pointer.
//
// The status model is strict: completion aggregation (in the worker watcher)
// only ever sets <stage>_completed, and only the submission path here moves
// current_stage_slug forward. Both sides use optimistic conditional updates
// on the session row.
package stage

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"dialectica/internal/artifact"
	"dialectica/internal/gather"
	"dialectica/internal/logging"
	"dialectica/internal/planner"
	"dialectica/internal/prompt"
	"dialectica/internal/recipe"
	"dialectica/internal/store"
	"dialectica/internal/types"
)

// Service exposes the session-facing operations.
type Service struct {
	store     *store.Store
	files     *artifact.FileStore
	planner   *planner.Planner
	assembler *prompt.Assembler
	gatherer  *gather.Gatherer
	template  *recipe.ProcessTemplate
}

// NewService wires the stage service.
func NewService(s *store.Store, files *artifact.FileStore, p *planner.Planner,
	a *prompt.Assembler, g *gather.Gatherer, template *recipe.ProcessTemplate) *Service {
	return &Service{store: s, files: files, planner: p, assembler: a, gatherer: g, template: template}
}

// StartSession creates a session for the project at the pipeline's initial
// stage and persists that stage's seed prompt.
func (s *Service) StartSession(projectID string, selectedModels []string) (*types.Session, error) {
	if len(selectedModels) == 0 {
		return nil, types.NewValidationError("a session requires at least one selected model")
	}
	project, err := s.store.GetProject(projectID)
	if err != nil {
		return nil, err
	}
	initial, err := s.template.InitialStage()
	if err != nil {
		return nil, err
	}

	sess := &types.Session{
		ID:             uuid.NewString(),
		ProjectID:      project.ID,
		Status:         types.StatusPending(initial.Slug),
		CurrentStage:   initial.Slug,
		Iteration:      1,
		SelectedModels: selectedModels,
	}
	if err := s.store.CreateSession(sess); err != nil {
		return nil, err
	}
	if err := s.persistSeedPrompt(project, sess, initial); err != nil {
		return nil, err
	}
	logging.Stage("session %s started at stage %s with %d models",
		sess.ID, initial.Slug, len(selectedModels))
	return sess, nil
}

// GenerateContributions moves the session from pending to running for its
// current stage and creates the stage's root PLAN jobs. Racing callers lose
// the optimistic update and get ErrConflict.
func (s *Service) GenerateContributions(sessionID string) ([]*types.Job, error) {
	sess, err := s.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	stageSlug := sess.CurrentStage

	if err := s.store.UpdateSessionStatus(sessionID,
		types.StatusPending(stageSlug), types.StatusRunning(stageSlug)); err != nil {
		return nil, fmt.Errorf("cannot start generation for stage %s: %w", stageSlug, err)
	}
	jobs, err := s.planner.PlanStage(sess, stageSlug, sess.Iteration)
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// FeedbackItem is one per-document feedback entry in a submission.
type FeedbackItem struct {
	ModelID     string
	DocumentKey string
	Content     string
}

// Submission is the user's explicit stage sign-off.
type Submission struct {
	SessionID string
	StageSlug string
	Feedback  []FeedbackItem
}

// SubmitStageResponses validates the submitted stage is complete, persists
// feedback, assembles and persists the next stage's seed prompt, and
// advances the stage pointer. Re-submitting an already-advanced stage is a
// safe no-op.
func (s *Service) SubmitStageResponses(sub Submission) (*types.Session, error) {
	sess, err := s.store.GetSession(sub.SessionID)
	if err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(sess.ProjectID)
	if err != nil {
		return nil, err
	}

	submittedIdx, err := s.stageIndex(sub.StageSlug)
	if err != nil {
		return nil, err
	}
	currentIdx, err := s.stageIndex(sess.CurrentStage)
	if err != nil {
		return nil, err
	}

	// Idempotency: the session already moved past the submitted stage, or the
	// terminal stage was already signed off.
	if submittedIdx < currentIdx || sess.Status == types.StatusIterationComplete {
		logging.StageDebug("session %s already advanced past %s, submission is a no-op",
			sess.ID, sub.StageSlug)
		return sess, nil
	}
	if submittedIdx > currentIdx {
		return nil, types.NewValidationError(
			"cannot submit stage %s while session is at %s", sub.StageSlug, sess.CurrentStage)
	}
	if sess.Status != types.StatusCompleted(sub.StageSlug) {
		return nil, fmt.Errorf("session %s status is %q: %w",
			sess.ID, sess.Status, types.ErrStageNotComplete)
	}

	if err := s.persistFeedback(project, sess, sub); err != nil {
		return nil, err
	}

	next, hasNext, err := s.template.NextStage(sub.StageSlug)
	if err != nil {
		return nil, err
	}
	if !hasNext {
		if err := s.store.UpdateSessionStatus(sess.ID,
			types.StatusCompleted(sub.StageSlug), types.StatusIterationComplete); err != nil {
			if errors.Is(err, types.ErrConflict) {
				// Concurrent submission won; treat as the no-op path.
				return s.store.GetSession(sess.ID)
			}
			return nil, err
		}
		logging.Stage("session %s iteration %d complete, pending review", sess.ID, sess.Iteration)
		return s.store.GetSession(sess.ID)
	}

	if err := s.persistSeedPrompt(project, sess, next); err != nil {
		return nil, err
	}
	if err := s.store.AdvanceSessionStage(sess.ID,
		types.StatusCompleted(sub.StageSlug), types.StatusPending(next.Slug), next.Slug); err != nil {
		if errors.Is(err, types.ErrConflict) {
			return s.store.GetSession(sess.ID)
		}
		return nil, err
	}
	logging.Stage("session %s advanced %s -> %s", sess.ID, sub.StageSlug, next.Slug)
	return s.store.GetSession(sess.ID)
}

// persistSeedPrompt assembles the stage's seed prompt over the stage recipe's
// gatherable inputs and stores it as a seed_prompt contribution at the
// deterministic seed path. EXECUTE jobs read it back via the seed_prompt rule.
func (s *Service) persistSeedPrompt(project *types.Project, sess *types.Session, st *recipe.Stage) error {
	sources, err := s.gatherSeedSources(sess, st)
	if err != nil {
		return err
	}
	text := s.assembler.SeedPrompt(project, st, sources)

	dir, file, err := artifact.ConstructPath(artifact.PathContext{
		ProjectID: project.ID,
		SessionID: sess.ID,
		Iteration: sess.Iteration,
		StageSlug: st.Slug,
		FileType:  artifact.FileTypeSeedPrompt,
	})
	if err != nil {
		return err
	}
	if _, err := s.files.Write(dir, file, []byte(text)); err != nil {
		return err
	}

	return s.store.InsertContribution(&types.Contribution{
		ID:           uuid.NewString(),
		SessionID:    sess.ID,
		ProjectID:    project.ID,
		StageSlug:    st.Slug,
		Iteration:    sess.Iteration,
		ModelID:      "",
		ModelSlug:    "",
		Type:         types.ContributionSeedPrompt,
		DocumentKey:  "seed_prompt",
		StoragePath:  dir,
		FileName:     file,
		EditVersion:  1,
		IsLatestEdit: true,
	})
}

// gatherSeedSources resolves the stage's first-step inputs for seed assembly,
// skipping seed_prompt rules (the seed prompt is what is being built) and
// header_context rules (model-scoped, meaningless at stage level). Feedback
// is gathered across all models here.
func (s *Service) gatherSeedSources(sess *types.Session, st *recipe.Stage) (*types.SourceDocuments, error) {
	first, err := st.Step(0)
	if err != nil {
		return nil, err
	}
	var rules []recipe.InputRule
	for _, rule := range first.InputsRequired {
		if rule.Type == recipe.InputSeedPrompt || rule.Type == recipe.InputHeaderContext {
			continue
		}
		rules = append(rules, rule)
	}
	return s.gatherer.Gather(gather.Request{
		ProjectID: sess.ProjectID,
		SessionID: sess.ID,
		StageSlug: st.Slug,
		Iteration: sess.Iteration,
	}, rules)
}

func (s *Service) persistFeedback(project *types.Project, sess *types.Session, sub Submission) error {
	for _, item := range sub.Feedback {
		if item.ModelID == "" || item.DocumentKey == "" {
			return types.NewValidationError("feedback entries require model_id and document_key")
		}
		dir, file, err := artifact.ConstructPath(artifact.PathContext{
			ProjectID:   project.ID,
			SessionID:   sess.ID,
			Iteration:   sess.Iteration,
			StageSlug:   sub.StageSlug,
			ModelSlug:   artifact.Sanitize(item.ModelID),
			DocumentKey: item.DocumentKey,
			FileType:    artifact.FileTypeFeedback,
		})
		if err != nil {
			return err
		}
		if _, err := s.files.Write(dir, file, []byte(item.Content)); err != nil {
			return err
		}
		if err := s.store.UpsertFeedback(&types.Feedback{
			ID:          uuid.NewString(),
			SessionID:   sess.ID,
			ProjectID:   project.ID,
			StageSlug:   sub.StageSlug,
			Iteration:   sess.Iteration,
			ModelID:     item.ModelID,
			DocumentKey: item.DocumentKey,
			StoragePath: dir,
			FileName:    file,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) stageIndex(slug string) (int, error) {
	for i := range s.template.Stages {
		if s.template.Stages[i].Slug == slug {
			return i, nil
		}
	}
	return 0, types.NewConfigError("process template %q has no stage %q", s.template.ID, slug)
}
