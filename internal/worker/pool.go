package worker

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"dialectica/internal/logging"
	"dialectica/internal/planner"
	"dialectica/internal/store"
	"dialectica/internal/types"
)

const (
	// DefaultWorkers is the pool's default concurrency.
	DefaultWorkers = 4

	// DefaultPollInterval is how long an idle worker waits before polling the
	// queue again.
	DefaultPollInterval = 250 * time.Millisecond

	// DefaultBackoffBase seeds the exponential retry backoff.
	DefaultBackoffBase = 500 * time.Millisecond

	// maxBackoff caps a single retry delay.
	maxBackoff = 30 * time.Second
)

// Pool claims jobs and dispatches them: PLAN jobs to the planner for
// expansion, EXECUTE jobs to the executor. Every terminal transition is
// followed by a watcher pass.
type Pool struct {
	store    *store.Store
	executor *Executor
	planner  *planner.Planner
	watcher  *Watcher

	workers      int
	pollInterval time.Duration
	backoffBase  time.Duration
}

// NewPool wires a Pool with default concurrency and timing.
func NewPool(s *store.Store, e *Executor, p *planner.Planner, w *Watcher) *Pool {
	return &Pool{
		store:        s,
		executor:     e,
		planner:      p,
		watcher:      w,
		workers:      DefaultWorkers,
		pollInterval: DefaultPollInterval,
		backoffBase:  DefaultBackoffBase,
	}
}

// SetWorkers overrides the concurrency.
func (p *Pool) SetWorkers(n int) {
	if n > 0 {
		p.workers = n
	}
}

// SetTiming overrides poll interval and backoff base; used by tests to keep
// retry paths fast.
func (p *Pool) SetTiming(poll, backoff time.Duration) {
	if poll > 0 {
		p.pollInterval = poll
	}
	if backoff > 0 {
		p.backoffBase = backoff
	}
}

// Run processes jobs until the context is cancelled. Worker errors are
// job-scoped and recorded on the job row; only infrastructure failures
// (store errors) abort the pool.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		worker := i
		g.Go(func() error {
			return p.runWorker(ctx, worker)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RunUntilIdle processes jobs until the queue drains: no claimable work and
// no job parked in a non-terminal processing state. Used by synchronous
// callers (CLI generate) and tests. Cancellation is a clean stop, matching
// Run: claimed jobs finish their transition and the rest stay queued.
func (p *Pool) RunUntilIdle(ctx context.Context) error {
	for {
		processed, err := p.ProcessOne(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return err
		}
		if !processed {
			return nil
		}
	}
}

// ProcessOne claims and fully processes a single job. Returns false when no
// job was claimable.
func (p *Pool) ProcessOne(ctx context.Context) (bool, error) {
	job, err := p.store.ClaimNextJob()
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	if err := p.dispatch(ctx, job); err != nil {
		return true, err
	}
	return true, nil
}

func (p *Pool) runWorker(ctx context.Context, id int) error {
	logging.WorkerDebug("worker %d started", id)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		processed, err := p.ProcessOne(ctx)
		if err != nil {
			return err
		}
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}
}

func (p *Pool) dispatch(ctx context.Context, job *types.Job) error {
	switch job.Type {
	case types.JobTypePlan:
		return p.handlePlan(ctx, job)
	case types.JobTypeExecute:
		return p.handleExecute(ctx, job)
	default:
		return p.finish(job, types.JobStatusFailed, "unknown job type "+string(job.Type))
	}
}

// handlePlan expands a PLAN job into children and parks the parent behind
// the barrier. Expansion errors follow the same taxonomy as execution.
func (p *Pool) handlePlan(ctx context.Context, job *types.Job) error {
	children, err := p.planner.Expand(job)
	if err != nil {
		if types.IsRetryable(err) {
			return p.retryOrFail(ctx, job, err)
		}
		return p.finish(job, types.JobStatusFailed, err.Error())
	}
	if len(children) == 0 {
		return p.finish(job, types.JobStatusFailed, "plan expansion produced no jobs")
	}
	return p.parkBehindBarrier(job)
}

// parkBehindBarrier moves an expanded PLAN job to waiting_for_children and
// immediately re-checks the barrier. The children exist before the parent
// row leaves processing, so concurrent workers can drain every child in that
// window; their barrier checks see a parent that is not yet waiting and
// return, and without this re-check nothing would ever close the barrier.
func (p *Pool) parkBehindBarrier(job *types.Job) error {
	if err := p.store.UpdateJobStatus(job.ID, types.JobStatusWaitingForChildren, ""); err != nil {
		return err
	}
	return p.watcher.checkParentBarrier(job.ID)
}

// handleExecute runs the executor and applies the resulting transition.
func (p *Pool) handleExecute(ctx context.Context, job *types.Job) error {
	result := p.executor.Execute(ctx, job)

	switch result.Status {
	case types.JobStatusCompleted:
		if err := p.recordResults(job, result); err != nil {
			return err
		}
		return p.finish(job, types.JobStatusCompleted, "")

	case types.JobStatusPendingContinuation:
		if err := p.recordResults(job, result); err != nil {
			return err
		}
		logging.Worker("job %s truncated at turn %d, scheduling continuation",
			job.ID, job.Payload.Execute.ContinuationCount)
		if err := p.store.UpdateJobStatus(job.ID, types.JobStatusPendingContinuation, ""); err != nil {
			return err
		}
		next := ContinuationPayload(job.Payload.Execute, result.Contribution)
		return p.store.RequeueJob(job.ID, next, types.JobTypeExecute)

	case types.JobStatusRetrying:
		return p.retryOrFail(ctx, job, result.Err)

	default:
		return p.finish(job, types.JobStatusFailed, errDetails(result.Err))
	}
}

// retryOrFail parks the job in retrying and requeues it after a bounded
// exponential backoff, or fails it once attempts are exhausted. Cancellation
// cuts the wait short; the job is requeued first so it stays claimable on
// the next run.
func (p *Pool) retryOrFail(ctx context.Context, job *types.Job, cause error) error {
	if job.AttemptCount >= job.MaxRetries {
		logging.Worker("job %s exhausted %d attempts: %v", job.ID, job.MaxRetries, cause)
		return p.finish(job, types.JobStatusFailed, errDetails(cause))
	}
	if err := p.store.MarkJobRetrying(job.ID, errDetails(cause)); err != nil {
		return err
	}
	delay := p.backoff(job.AttemptCount)
	logging.WorkerDebug("job %s retrying in %s (attempt %d)", job.ID, delay, job.AttemptCount+1)
	select {
	case <-ctx.Done():
		if err := p.store.RequeueJob(job.ID, nil, job.Type); err != nil {
			return err
		}
		return ctx.Err()
	case <-time.After(delay):
	}
	return p.store.RequeueJob(job.ID, nil, job.Type)
}

func (p *Pool) backoff(attempt int) time.Duration {
	d := p.backoffBase
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// finish applies a terminal status and runs the watcher.
func (p *Pool) finish(job *types.Job, status types.JobStatus, details string) error {
	if err := p.store.UpdateJobStatus(job.ID, status, details); err != nil {
		return err
	}
	job.Status = status
	return p.watcher.OnJobFinished(job)
}

func (p *Pool) recordResults(job *types.Job, result *types.ExecutionResult) error {
	results := &types.JobResults{
		FinishReason: string(result.Response.FinishReason),
		InputTokens:  result.Response.InputTokens,
		OutputTokens: result.Response.OutputTokens,
	}
	if result.Contribution != nil {
		results.ContributionIDs = []string{result.Contribution.ID}
		results.ProcessingMs = result.Contribution.ProcessingMs
	}
	return p.store.SetJobResults(job.ID, results)
}

func errDetails(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
