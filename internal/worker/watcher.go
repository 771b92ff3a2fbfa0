package worker

import (
	"errors"
	"fmt"

	"dialectica/internal/logging"
	"dialectica/internal/planner"
	"dialectica/internal/store"
	"dialectica/internal/types"
)

// Watcher propagates completion through the DAG after every job status
// transition: barrier joins for PLAN parents, and stage-level aggregation
// into the session status. It is invoked in-process after each transition
// rather than by a database trigger, so completion handling is ordinary
// testable code.
type Watcher struct {
	store   *store.Store
	planner *planner.Planner
}

// NewWatcher wires a Watcher.
func NewWatcher(s *store.Store, p *planner.Planner) *Watcher {
	return &Watcher{store: s, planner: p}
}

// OnJobFinished handles a job that just reached a terminal state (completed
// or failed). It closes the parent's barrier when this was the last open
// child, and aggregates the stage when every job in the stage is terminal.
func (w *Watcher) OnJobFinished(job *types.Job) error {
	if job.ParentJobID != "" {
		if err := w.checkParentBarrier(job.ParentJobID); err != nil {
			return err
		}
	}
	return w.checkStageCompletion(job.SessionID, job.StageSlug, job.Iteration)
}

// checkParentBarrier moves a waiting parent forward once ALL of its children
// are terminal: either on to the next recipe step, or to its own terminal
// state (failed if any child failed, completed otherwise).
func (w *Watcher) checkParentBarrier(parentID string) error {
	open, err := w.store.CountUnfinishedChildren(parentID)
	if err != nil {
		return err
	}
	if open > 0 {
		return nil
	}

	parent, err := w.store.GetJob(parentID)
	if err != nil {
		return err
	}
	if parent.Status != types.JobStatusWaitingForChildren {
		// Barrier already handled by a concurrent worker.
		return nil
	}

	failed, err := w.store.CountFailedChildren(parentID)
	if err != nil {
		return err
	}
	if failed > 0 {
		logging.Worker("PLAN job %s: %d children failed, marking parent failed", parentID, failed)
		if err := w.store.UpdateJobStatus(parentID, types.JobStatusFailed,
			fmt.Sprintf("%d child jobs failed", failed)); err != nil {
			return err
		}
		parent.Status = types.JobStatusFailed
		return w.OnJobFinished(parent)
	}

	nextPayload, hasNext, err := w.planner.NextStepJob(parent)
	if err != nil {
		return err
	}
	if hasNext {
		logging.WorkerDebug("PLAN job %s advancing to recipe step %d",
			parentID, nextPayload.Plan.StepIndex)
		if err := w.store.UpdateJobStatus(parentID, types.JobStatusPendingNextStep, ""); err != nil {
			return err
		}
		return w.store.RequeueJob(parentID, nextPayload, types.JobTypePlan)
	}

	if err := w.store.UpdateJobStatus(parentID, types.JobStatusCompleted, ""); err != nil {
		return err
	}
	parent.Status = types.JobStatusCompleted
	return w.OnJobFinished(parent)
}

// checkStageCompletion flips the session to <stage>_completed once every job
// for (session, stage, iteration) is terminal. The stage pointer is never
// touched here; only user submission advances it. The optimistic update
// losing the race is not an error.
func (w *Watcher) checkStageCompletion(sessionID, stageSlug string, iteration int) error {
	open, err := w.store.CountUnfinishedStageJobs(sessionID, stageSlug, iteration)
	if err != nil {
		return err
	}
	if open > 0 {
		return nil
	}

	err = w.store.UpdateSessionStatus(sessionID,
		types.StatusRunning(stageSlug), types.StatusCompleted(stageSlug))
	if errors.Is(err, types.ErrConflict) {
		logging.WorkerDebug("session %s already past running_%s, skipping aggregation", sessionID, stageSlug)
		return nil
	}
	if err != nil {
		return err
	}
	logging.Worker("session %s: stage %s completed (iteration %d)", sessionID, stageSlug, iteration)
	return nil
}
