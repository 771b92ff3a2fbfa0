package store

import (
	"fmt"

	"dialectica/internal/logging"
	"dialectica/internal/types"
)

// UpsertFeedback saves user feedback keyed by (session, stage, iteration,
// model, document key). Re-submitting for the same key replaces the previous
// content pointer so a session never carries stale feedback rows.
func (s *Store) UpsertFeedback(f *types.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	_, err := s.db.Exec(`
		INSERT INTO feedback (id, session_id, project_id, stage_slug, iteration_number,
			model_id, document_key, storage_path, file_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, stage_slug, iteration_number, model_id, document_key)
		DO UPDATE SET storage_path = excluded.storage_path,
			file_name = excluded.file_name,
			updated_at = excluded.updated_at`,
		f.ID, f.SessionID, f.ProjectID, f.StageSlug, f.Iteration,
		f.ModelID, f.DocumentKey, f.StoragePath, f.FileName, ts, ts)
	if err != nil {
		return fmt.Errorf("failed to upsert feedback: %w", err)
	}
	logging.StoreDebug("saved feedback for %s/%s (model %s)", f.StageSlug, f.DocumentKey, f.ModelID)
	return nil
}

// ListFeedback returns feedback for (session, stage, iteration), optionally
// narrowed to a single model. Feedback is always model-addressed so there is
// no unscoped variant.
func (s *Store) ListFeedback(sessionID, stageSlug string, iteration int, modelID string) ([]*types.Feedback, error) {
	query := `SELECT id, session_id, project_id, stage_slug, iteration_number,
		model_id, document_key, storage_path, file_name, created_at, updated_at
		FROM feedback
		WHERE session_id = ? AND stage_slug = ? AND iteration_number = ?`
	args := []any{sessionID, stageSlug, iteration}
	if modelID != "" {
		query += ` AND model_id = ?`
		args = append(args, modelID)
	}
	query += ` ORDER BY model_id, document_key`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()

	var out []*types.Feedback
	for rows.Next() {
		var f types.Feedback
		var createdAt, updatedAt string
		if err := rows.Scan(&f.ID, &f.SessionID, &f.ProjectID, &f.StageSlug, &f.Iteration,
			&f.ModelID, &f.DocumentKey, &f.StoragePath, &f.FileName, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback row: %w", err)
		}
		f.CreatedAt = parseTime(createdAt)
		f.UpdatedAt = parseTime(updatedAt)
		out = append(out, &f)
	}
	return out, rows.Err()
}
