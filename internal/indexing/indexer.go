// Package indexing turns completed stage documents into a chunked vector
// index for retrieval. Indexing is strictly best-effort: any failure is
// reported in the result and logged by the caller, never escalated into a
// job failure.
package indexing

import (
	"context"
	"strings"

	"dialectica/internal/embedding"
	"dialectica/internal/logging"
	"dialectica/internal/store"
	"dialectica/internal/types"
)

// DefaultChunkSize is the target chunk length in characters.
const DefaultChunkSize = 2000

// chunkOverlap carries trailing context into the next chunk so sentences
// split at a boundary stay findable.
const chunkOverlap = 200

// Indexer implements types.DocumentIndexer over an embedding engine and the
// SQLite chunk index.
type Indexer struct {
	store     *store.Store
	engine    embedding.Engine
	chunkSize int
}

// New wires an Indexer.
func New(s *store.Store, engine embedding.Engine, chunkSize int) *Indexer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Indexer{store: s, engine: engine, chunkSize: chunkSize}
}

// IndexDocument chunks, embeds, and stores one document. Re-indexing the
// same contribution replaces its prior chunks.
func (ix *Indexer) IndexDocument(ctx context.Context, sessionID, sourceContributionID, content string,
	meta types.IndexMetadata) *types.IndexResult {

	pieces := Chunk(content, ix.chunkSize)
	if len(pieces) == 0 {
		return &types.IndexResult{Success: true}
	}

	vectors, err := ix.engine.EmbedBatch(ctx, pieces)
	if err != nil {
		return &types.IndexResult{Success: false, Err: err}
	}

	chunks := make([]store.DocumentChunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = store.DocumentChunk{
			SessionID:      sessionID,
			ContributionID: sourceContributionID,
			ChunkIndex:     i,
			Content:        piece,
			Embedding:      vectors[i],
			StageSlug:      meta.StageSlug,
			ModelID:        meta.ModelID,
			DocumentKey:    meta.DocumentKey,
		}
	}
	if err := ix.store.InsertDocumentChunks(chunks); err != nil {
		return &types.IndexResult{Success: false, Err: err}
	}

	logging.IndexDebug("indexed contribution %s: %d chunks (%s/%s)",
		sourceContributionID, len(chunks), meta.StageSlug, meta.DocumentKey)
	return &types.IndexResult{Success: true}
}

// Search embeds the query and returns the top matching chunks for a session.
func (ix *Indexer) Search(ctx context.Context, sessionID, query string, topK int,
	meta *types.IndexMetadata) ([]store.ChunkMatch, error) {

	vec, err := ix.engine.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return ix.store.SearchChunks(sessionID, vec, topK, meta)
}

// Chunk splits text on paragraph boundaries into pieces of roughly maxLen
// characters, with a small overlap between adjacent pieces. Whitespace-only
// input yields no chunks.
func Chunk(text string, maxLen int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= maxLen {
		return []string{text}
	}

	paragraphs := strings.Split(text, "\n\n")
	var chunks []string
	var current strings.Builder

	flush := func() {
		piece := strings.TrimSpace(current.String())
		if piece != "" {
			chunks = append(chunks, piece)
		}
		current.Reset()
		// Seed the next chunk with the tail of this one.
		if len(piece) > chunkOverlap {
			current.WriteString(piece[len(piece)-chunkOverlap:])
			current.WriteString("\n\n")
		}
	}

	for _, para := range paragraphs {
		// A single oversized paragraph is split hard.
		for len(para) > maxLen {
			if current.Len() > 0 {
				flush()
			}
			current.WriteString(para[:maxLen])
			flush()
			para = para[maxLen:]
		}
		if current.Len()+len(para) > maxLen && current.Len() > 0 {
			flush()
		}
		current.WriteString(para)
		current.WriteString("\n\n")
	}
	flush()
	return chunks
}
