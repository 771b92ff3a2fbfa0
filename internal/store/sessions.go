package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"dialectica/internal/logging"
	"dialectica/internal/types"
)

// CreateProject inserts a new project row.
func (s *Store) CreateProject(p *types.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.CreatedAt.IsZero() {
		p.CreatedAt = parseTime(now())
	}
	_, err := s.db.Exec(`
		INSERT INTO projects (id, user_id, name, initial_user_prompt, domain_id, process_template_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, p.InitialPrompt, p.DomainID, p.ProcessTemplateID, p.Status, now())
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// GetProject loads one project by id.
func (s *Store) GetProject(id string) (*types.Project, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, name, initial_user_prompt, domain_id, process_template_id, status, created_at
		FROM projects WHERE id = ?`, id)

	var p types.Project
	var createdAt string
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.InitialPrompt, &p.DomainID, &p.ProcessTemplateID, &p.Status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

// ListProjects returns all projects, newest first.
func (s *Store) ListProjects() ([]*types.Project, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, name, initial_user_prompt, domain_id, process_template_id, status, created_at
		FROM projects ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var out []*types.Project
	for rows.Next() {
		var p types.Project
		var createdAt string
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.InitialPrompt, &p.DomainID,
			&p.ProcessTemplateID, &p.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		p.CreatedAt = parseTime(createdAt)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(sess *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, project_id, status, current_stage_slug, iteration_count, selected_models, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ProjectID, sess.Status, sess.CurrentStage, sess.Iteration,
		strings.Join(sess.SelectedModels, ","), ts, ts)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession loads one session by id.
func (s *Store) GetSession(id string) (*types.Session, error) {
	row := s.db.QueryRow(`
		SELECT id, project_id, status, current_stage_slug, iteration_count, selected_models, created_at, updated_at
		FROM sessions WHERE id = ?`, id)

	var sess types.Session
	var models, createdAt, updatedAt string
	err := row.Scan(&sess.ID, &sess.ProjectID, &sess.Status, &sess.CurrentStage,
		&sess.Iteration, &models, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if models != "" {
		sess.SelectedModels = strings.Split(models, ",")
	}
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updatedAt)
	return &sess, nil
}

// ListSessions returns a project's sessions, newest first.
func (s *Store) ListSessions(projectID string) ([]*types.Session, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, status, current_stage_slug, iteration_count, selected_models, created_at, updated_at
		FROM sessions WHERE project_id = ? ORDER BY created_at DESC, id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []*types.Session
	for rows.Next() {
		var sess types.Session
		var models, createdAt, updatedAt string
		if err := rows.Scan(&sess.ID, &sess.ProjectID, &sess.Status, &sess.CurrentStage,
			&sess.Iteration, &models, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if models != "" {
			sess.SelectedModels = strings.Split(models, ",")
		}
		sess.CreatedAt = parseTime(createdAt)
		sess.UpdatedAt = parseTime(updatedAt)
		out = append(out, &sess)
	}
	return out, rows.Err()
}

// UpdateSessionStatus performs an optimistic status transition: the update
// applies only when the row still carries expectStatus. Returns ErrConflict
// when another actor moved the session first. current_stage_slug is not
// touched; completion aggregation must never advance the stage pointer.
func (s *Store) UpdateSessionStatus(id, expectStatus, newStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE sessions SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		newStatus, now(), id, expectStatus)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s status %q -> %q: %w", id, expectStatus, newStatus, types.ErrConflict)
	}
	logging.Store("session %s: %s -> %s", id, expectStatus, newStatus)
	return nil
}

// AdvanceSessionStage atomically moves the session to a new stage and status,
// conditional on the expected current status. Only user submission goes
// through this path.
func (s *Store) AdvanceSessionStage(id, expectStatus, newStatus, newStage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE sessions SET status = ?, current_stage_slug = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		newStatus, newStage, now(), id, expectStatus)
	if err != nil {
		return fmt.Errorf("failed to advance session stage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s advance from %q: %w", id, expectStatus, types.ErrConflict)
	}
	logging.Store("session %s advanced to stage %s (%s)", id, newStage, newStatus)
	return nil
}
