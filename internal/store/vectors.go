package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"dialectica/internal/logging"
	"dialectica/internal/types"
)

// DocumentChunk is one indexed slice of a contribution, with its embedding.
type DocumentChunk struct {
	SessionID      string
	ContributionID string
	ChunkIndex     int
	Content        string
	Embedding      []float32
	StageSlug      string
	ModelID        string
	DocumentKey    string
}

// ChunkMatch is a similarity search hit.
type ChunkMatch struct {
	Chunk DocumentChunk
	Score float64
}

// InsertDocumentChunks stores the chunks for one contribution in a single
// transaction, replacing any prior index rows for that contribution so
// re-indexing after an edit is idempotent.
func (s *Store) InsertDocumentChunks(chunks []DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM document_index WHERE contribution_id = ?`,
		chunks[0].ContributionID); err != nil {
		return fmt.Errorf("failed to clear prior index rows: %w", err)
	}
	for _, c := range chunks {
		if _, err := tx.Exec(`
			INSERT INTO document_index (session_id, contribution_id, chunk_index, content,
				embedding, stage_slug, model_id, document_key, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.SessionID, c.ContributionID, c.ChunkIndex, c.Content,
			encodeEmbedding(c.Embedding), c.StageSlug, c.ModelID, c.DocumentKey, now()); err != nil {
			return fmt.Errorf("failed to insert chunk %d for %s: %w", c.ChunkIndex, c.ContributionID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunk batch: %w", err)
	}
	logging.IndexDebug("indexed %d chunks for contribution %s", len(chunks), chunks[0].ContributionID)
	return nil
}

// SearchChunks scans a session's indexed chunks and ranks them by cosine
// similarity against the query embedding. Brute-force scan is fine at
// session scale; the sqlite_vec build swaps in ANN search via the loaded
// extension.
func (s *Store) SearchChunks(sessionID string, query []float32, topK int, meta *types.IndexMetadata) ([]ChunkMatch, error) {
	sql := `SELECT session_id, contribution_id, chunk_index, content, embedding,
		stage_slug, model_id, document_key
		FROM document_index WHERE session_id = ?`
	args := []any{sessionID}
	if meta != nil {
		if meta.StageSlug != "" {
			sql += ` AND stage_slug = ?`
			args = append(args, meta.StageSlug)
		}
		if meta.ModelID != "" {
			sql += ` AND model_id = ?`
			args = append(args, meta.ModelID)
		}
		if meta.DocumentKey != "" {
			sql += ` AND document_key = ?`
			args = append(args, meta.DocumentKey)
		}
	}

	rows, err := s.db.Query(sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query document index: %w", err)
	}
	defer rows.Close()

	var matches []ChunkMatch
	for rows.Next() {
		var c DocumentChunk
		var blob []byte
		if err := rows.Scan(&c.SessionID, &c.ContributionID, &c.ChunkIndex, &c.Content,
			&blob, &c.StageSlug, &c.ModelID, &c.DocumentKey); err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		c.Embedding = decodeEmbedding(blob)
		matches = append(matches, ChunkMatch{Chunk: c, Score: CosineSimilarity(query, c.Embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// CountIndexedChunks reports how many chunks a session has indexed.
func (s *Store) CountIndexedChunks(sessionID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM document_index WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count indexed chunks: %w", err)
	}
	return n, nil
}

// CosineSimilarity computes similarity between two embeddings. Mismatched or
// zero-magnitude vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// encodeEmbedding packs a float32 slice little-endian, the layout sqlite-vec
// expects.
func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		return nil
	}
	return buf.Bytes()
}

func decodeEmbedding(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	out := make([]float32, len(blob)/4)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, &out); err != nil {
		return nil
	}
	return out
}
