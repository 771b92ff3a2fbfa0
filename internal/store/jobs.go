package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"dialectica/internal/logging"
	"dialectica/internal/types"
)

// CreateJob validates the payload against the job type and inserts the row.
// Payload validation at creation time is what lets workers trust the tagged
// union without runtime type guards.
func (s *Store) CreateJob(job *types.Job) error {
	if err := job.Payload.Validate(job.Type); err != nil {
		return err
	}
	payload, err := types.MarshalPayload(job.Payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var parent sql.NullString
	if job.ParentJobID != "" {
		parent = sql.NullString{String: job.ParentJobID, Valid: true}
	}
	_, err = s.db.Exec(`
		INSERT INTO jobs (id, job_type, parent_job_id, session_id, stage_slug, iteration_number,
			status, attempt_count, max_retries, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Type), parent, job.SessionID, job.StageSlug, job.Iteration,
		string(job.Status), job.AttemptCount, job.MaxRetries, string(payload), now())
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	logging.StoreDebug("created %s job %s (%s/%s)", job.Type, job.ID, job.SessionID, job.StageSlug)
	return nil
}

// CreateJobs inserts a batch of jobs in one transaction.
func (s *Store) CreateJobs(jobs []*types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, job := range jobs {
		if err := job.Payload.Validate(job.Type); err != nil {
			return err
		}
		payload, err := types.MarshalPayload(job.Payload)
		if err != nil {
			return err
		}
		var parent sql.NullString
		if job.ParentJobID != "" {
			parent = sql.NullString{String: job.ParentJobID, Valid: true}
		}
		if _, err := tx.Exec(`
			INSERT INTO jobs (id, job_type, parent_job_id, session_id, stage_slug, iteration_number,
				status, attempt_count, max_retries, payload, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID, string(job.Type), parent, job.SessionID, job.StageSlug, job.Iteration,
			string(job.Status), job.AttemptCount, job.MaxRetries, string(payload), now()); err != nil {
			return fmt.Errorf("failed to insert job %s: %w", job.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit job batch: %w", err)
	}
	return nil
}

const jobColumns = `id, job_type, parent_job_id, session_id, stage_slug, iteration_number,
	status, attempt_count, max_retries, payload, results, error_details,
	created_at, started_at, completed_at`

func scanJob(scan func(dest ...any) error) (*types.Job, error) {
	var job types.Job
	var jobType, status, payload, createdAt string
	var parent, results, errDetails, startedAt, completedAt sql.NullString

	err := scan(&job.ID, &jobType, &parent, &job.SessionID, &job.StageSlug, &job.Iteration,
		&status, &job.AttemptCount, &job.MaxRetries, &payload, &results, &errDetails,
		&createdAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	job.Type = types.JobType(jobType)
	job.Status = types.JobStatus(status)
	job.ParentJobID = parent.String
	job.ErrorDetails = errDetails.String
	job.CreatedAt = parseTime(createdAt)
	job.StartedAt = parseNullTime(startedAt)
	job.CompletedAt = parseNullTime(completedAt)

	p, err := types.UnmarshalPayload([]byte(payload), job.Type)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", job.ID, err)
	}
	job.Payload = p

	if results.Valid && results.String != "" {
		var r types.JobResults
		if err := json.Unmarshal([]byte(results.String), &r); err != nil {
			return nil, fmt.Errorf("job %s: failed to parse results: %w", job.ID, err)
		}
		job.Results = &r
	}
	return &job, nil
}

// GetJob loads one job by id.
func (s *Store) GetJob(id string) (*types.Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	return job, nil
}

// ClaimNextJob atomically claims the oldest pending job, transitioning it
// pending -> processing so concurrent workers never double-process. Returns
// (nil, nil) when no claimable work exists.
func (s *Store) ClaimNextJob() (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT ` + jobColumns + ` FROM jobs
		WHERE status = 'pending' ORDER BY created_at, id LIMIT 1`)
	job, err := scanJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select claimable job: %w", err)
	}

	res, err := tx.Exec(`
		UPDATE jobs SET status = 'processing', started_at = COALESCE(started_at, ?)
		WHERE id = ? AND status = 'pending'`, now(), job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job %s: %w", job.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Lost the race; caller retries.
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	job.Status = types.JobStatusProcessing
	logging.StoreDebug("claimed job %s", job.ID)
	return job, nil
}

// UpdateJobStatus moves a job to a new status, recording error details and
// stamping completed_at for terminal states.
func (s *Store) UpdateJobStatus(id string, status types.JobStatus, errorDetails string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var completedAt any
	if status.IsTerminal() {
		completedAt = now()
	}
	_, err := s.db.Exec(`
		UPDATE jobs SET status = ?, error_details = ?, completed_at = COALESCE(?, completed_at)
		WHERE id = ?`,
		string(status), errorDetails, completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update job %s status: %w", id, err)
	}
	logging.StoreDebug("job %s -> %s", id, status)
	return nil
}

// MarkJobRetrying increments the attempt counter and parks the job in
// retrying; RequeueJob later returns it to pending for the next claim.
func (s *Store) MarkJobRetrying(id string, errorDetails string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE jobs SET status = 'retrying', attempt_count = attempt_count + 1, error_details = ?
		WHERE id = ?`, errorDetails, id)
	if err != nil {
		return fmt.Errorf("failed to mark job %s retrying: %w", id, err)
	}
	return nil
}

// RequeueJob returns a retrying or continuation job to the pending queue,
// optionally replacing its payload (continuation context).
func (s *Store) RequeueJob(id string, payload *types.JobPayload, jobType types.JobType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if payload != nil {
		if err := payload.Validate(jobType); err != nil {
			return err
		}
		data, err := types.MarshalPayload(*payload)
		if err != nil {
			return err
		}
		_, err = s.db.Exec(`UPDATE jobs SET status = 'pending', payload = ? WHERE id = ?`, string(data), id)
		if err != nil {
			return fmt.Errorf("failed to requeue job %s: %w", id, err)
		}
		return nil
	}
	_, err := s.db.Exec(`UPDATE jobs SET status = 'pending' WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to requeue job %s: %w", id, err)
	}
	return nil
}

// SetJobResults stores the results blob on a job row.
func (s *Store) SetJobResults(id string, results *types.JobResults) error {
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to marshal job results: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`UPDATE jobs SET results = ? WHERE id = ?`, string(data), id); err != nil {
		return fmt.Errorf("failed to set job %s results: %w", id, err)
	}
	return nil
}

// ListChildJobs returns every job owned by the given parent.
func (s *Store) ListChildJobs(parentID string) ([]*types.Job, error) {
	rows, err := s.db.Query(`SELECT `+jobColumns+` FROM jobs WHERE parent_job_id = ? ORDER BY created_at, id`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list child jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListStageJobs returns every job for (session, stage, iteration).
func (s *Store) ListStageJobs(sessionID, stageSlug string, iteration int) ([]*types.Job, error) {
	rows, err := s.db.Query(`SELECT `+jobColumns+` FROM jobs
		WHERE session_id = ? AND stage_slug = ? AND iteration_number = ?
		ORDER BY created_at, id`, sessionID, stageSlug, iteration)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// CountUnfinishedChildren returns how many children of parentID have not yet
// reached a terminal state. Zero means the parent's barrier is open.
func (s *Store) CountUnfinishedChildren(parentID string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM jobs
		WHERE parent_job_id = ? AND status NOT IN ('completed','failed')`, parentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unfinished children: %w", err)
	}
	return n, nil
}

// CountUnfinishedStageJobs returns how many jobs for (session, stage,
// iteration) are not yet terminal. Zero means the stage can aggregate.
func (s *Store) CountUnfinishedStageJobs(sessionID, stageSlug string, iteration int) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM jobs
		WHERE session_id = ? AND stage_slug = ? AND iteration_number = ?
		AND status NOT IN ('completed','failed')`, sessionID, stageSlug, iteration).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unfinished stage jobs: %w", err)
	}
	return n, nil
}

// CountFailedChildren returns how many children of parentID failed.
func (s *Store) CountFailedChildren(parentID string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM jobs WHERE parent_job_id = ? AND status = 'failed'`, parentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count failed children: %w", err)
	}
	return n, nil
}

func collectJobs(rows *sql.Rows) ([]*types.Job, error) {
	var jobs []*types.Job
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
