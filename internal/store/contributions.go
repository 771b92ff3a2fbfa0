package store

import (
	"database/sql"
	"errors"
	"fmt"

	"dialectica/internal/logging"
	"dialectica/internal/types"
)

// ContributionFilter narrows contribution queries. Zero values mean "any".
type ContributionFilter struct {
	StageSlug   string
	ModelID     string
	Type        types.ContributionType
	DocumentKey string
}

const contributionColumns = `id, session_id, project_id, stage_slug, iteration_number,
	model_id, model_slug, contribution_type, document_key, storage_path, file_name,
	raw_response_path, seed_prompt_path, edit_version, is_latest_edit,
	original_contribution_id, source_document_id, source_group, paired_model_id,
	attempt_count, tokens_input, tokens_output, processing_ms, created_at, updated_at`

// InsertContribution registers a new artifact. When the contribution is an
// edit (OriginalContributionID set), the predecessor's is_latest_edit flag is
// cleared in the same transaction so exactly one latest version exists per
// lineage.
func (s *Store) InsertContribution(c *types.Contribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if c.OriginalContributionID != "" {
		if _, err := tx.Exec(`UPDATE contributions SET is_latest_edit = 0, updated_at = ?
			WHERE id = ?`, now(), c.OriginalContributionID); err != nil {
			return fmt.Errorf("failed to supersede contribution %s: %w", c.OriginalContributionID, err)
		}
	}

	// A source_document_id must resolve, and cross-model references must be
	// declared in the relationship. Checked in the same transaction so the
	// source row cannot be superseded out from under the check.
	if c.Relationships != nil && c.Relationships.SourceDocumentID != "" {
		var sourceModel string
		err := tx.QueryRow(`SELECT model_id FROM contributions WHERE id = ?`,
			c.Relationships.SourceDocumentID).Scan(&sourceModel)
		if errors.Is(err, sql.ErrNoRows) {
			return types.NewValidationError("contribution %s references unknown source document %s",
				c.ID, c.Relationships.SourceDocumentID)
		}
		if err != nil {
			return fmt.Errorf("failed to resolve source document %s: %w",
				c.Relationships.SourceDocumentID, err)
		}
		if err := c.ValidateRelationships(sourceModel); err != nil {
			return err
		}
	}

	var srcDoc, srcGroup, paired, original sql.NullString
	if c.Relationships != nil {
		if c.Relationships.SourceDocumentID != "" {
			srcDoc = sql.NullString{String: c.Relationships.SourceDocumentID, Valid: true}
		}
		if c.Relationships.SourceGroup != "" {
			srcGroup = sql.NullString{String: c.Relationships.SourceGroup, Valid: true}
		}
		if c.Relationships.PairedModelID != "" {
			paired = sql.NullString{String: c.Relationships.PairedModelID, Valid: true}
		}
	}
	if c.OriginalContributionID != "" {
		original = sql.NullString{String: c.OriginalContributionID, Valid: true}
	}

	ts := now()
	_, err = tx.Exec(`
		INSERT INTO contributions (id, session_id, project_id, stage_slug, iteration_number,
			model_id, model_slug, contribution_type, document_key, storage_path, file_name,
			raw_response_path, seed_prompt_path, edit_version, is_latest_edit,
			original_contribution_id, source_document_id, source_group, paired_model_id,
			attempt_count, tokens_input, tokens_output, processing_ms, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, c.ProjectID, c.StageSlug, c.Iteration,
		c.ModelID, c.ModelSlug, string(c.Type), c.DocumentKey, c.StoragePath, c.FileName,
		c.RawResponsePath, c.SeedPromptPath, c.EditVersion, boolToInt(c.IsLatestEdit),
		original, srcDoc, srcGroup, paired,
		c.AttemptCount, c.TokensInput, c.TokensOutput, c.ProcessingMs, ts, ts)
	if err != nil {
		return fmt.Errorf("failed to insert contribution: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit contribution: %w", err)
	}
	logging.StoreDebug("registered contribution %s (%s/%s by %s)", c.ID, c.StageSlug, c.DocumentKey, c.ModelID)
	return nil
}

// GetContribution loads one contribution by id.
func (s *Store) GetContribution(id string) (*types.Contribution, error) {
	row := s.db.QueryRow(`SELECT `+contributionColumns+` FROM contributions WHERE id = ?`, id)
	c, err := scanContribution(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("contribution %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load contribution: %w", err)
	}
	return c, nil
}

// LatestContributions returns the latest-edit contributions for (session,
// iteration) matching the filter, newest first.
func (s *Store) LatestContributions(sessionID string, iteration int, f ContributionFilter) ([]*types.Contribution, error) {
	query := `SELECT ` + contributionColumns + ` FROM contributions
		WHERE session_id = ? AND iteration_number = ? AND is_latest_edit = 1`
	args := []any{sessionID, iteration}

	if f.StageSlug != "" {
		query += ` AND stage_slug = ?`
		args = append(args, f.StageSlug)
	}
	if f.ModelID != "" {
		query += ` AND model_id = ?`
		args = append(args, f.ModelID)
	}
	if f.Type != "" {
		query += ` AND contribution_type = ?`
		args = append(args, string(f.Type))
	}
	if f.DocumentKey != "" {
		query += ` AND document_key = ?`
		args = append(args, f.DocumentKey)
	}
	query += ` ORDER BY updated_at DESC, created_at DESC, id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contributions: %w", err)
	}
	defer rows.Close()

	var out []*types.Contribution
	for rows.Next() {
		c, err := scanContribution(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contribution: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanContribution(scan func(dest ...any) error) (*types.Contribution, error) {
	var c types.Contribution
	var ctype, createdAt, updatedAt string
	var latest int
	var original, srcDoc, srcGroup, paired sql.NullString

	err := scan(&c.ID, &c.SessionID, &c.ProjectID, &c.StageSlug, &c.Iteration,
		&c.ModelID, &c.ModelSlug, &ctype, &c.DocumentKey, &c.StoragePath, &c.FileName,
		&c.RawResponsePath, &c.SeedPromptPath, &c.EditVersion, &latest,
		&original, &srcDoc, &srcGroup, &paired,
		&c.AttemptCount, &c.TokensInput, &c.TokensOutput, &c.ProcessingMs, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	c.Type = types.ContributionType(ctype)
	c.IsLatestEdit = latest == 1
	c.OriginalContributionID = original.String
	if srcDoc.Valid || srcGroup.Valid || paired.Valid {
		c.Relationships = &types.DocumentRelationships{
			SourceDocumentID: srcDoc.String,
			SourceGroup:      srcGroup.String,
			PairedModelID:    paired.String,
		}
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

// SessionTokenTotals sums recorded token usage across a session's
// contributions.
func (s *Store) SessionTokenTotals(sessionID string) (input, output int, err error) {
	err = s.db.QueryRow(`
		SELECT COALESCE(SUM(tokens_input), 0), COALESCE(SUM(tokens_output), 0)
		FROM contributions WHERE session_id = ?`, sessionID).Scan(&input, &output)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sum session tokens: %w", err)
	}
	return input, output, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
