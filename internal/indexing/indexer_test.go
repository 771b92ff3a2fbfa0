package indexing

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dialectica/internal/store"
	"dialectica/internal/types"
)

// hashEngine is a deterministic fake: vectors depend on character content,
// so identical texts are similar and disjoint texts are not.
type hashEngine struct{}

func (hashEngine) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 16)
	for i, r := range text {
		vec[i%16] += float32(r % 31)
	}
	return vec, nil
}

func (h hashEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := h.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

func (hashEngine) Dimensions() int { return 16 }
func (hashEngine) Name() string    { return "fake:hash" }

func TestChunk(t *testing.T) {
	t.Run("short text is one chunk", func(t *testing.T) {
		chunks := Chunk("hello world", 100)
		assert.Equal(t, []string{"hello world"}, chunks)
	})

	t.Run("empty text yields nothing", func(t *testing.T) {
		assert.Nil(t, Chunk("   \n\n  ", 100))
	})

	t.Run("paragraphs pack up to the limit", func(t *testing.T) {
		text := strings.Repeat("alpha beta gamma.\n\n", 50)
		chunks := Chunk(text, 200)
		require.Greater(t, len(chunks), 1)
		for _, c := range chunks {
			assert.LessOrEqual(t, len(c), 200+chunkOverlap+2)
		}
	})

	t.Run("oversized paragraph is split hard", func(t *testing.T) {
		text := strings.Repeat("x", 550)
		chunks := Chunk(text, 200)
		require.GreaterOrEqual(t, len(chunks), 3)
	})
}

func TestIndexAndSearch(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "dialectica.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ix := New(s, hashEngine{}, 200)
	sessionID := uuid.NewString()

	cID := uuid.NewString()
	res := ix.IndexDocument(context.Background(), sessionID, cID,
		"The plan relies on event sourcing.\n\nStorage is a single SQLite file.",
		types.IndexMetadata{StageSlug: "thesis", ModelID: "model-a", DocumentKey: "implementation_plan"})
	require.True(t, res.Success)

	otherID := uuid.NewString()
	res = ix.IndexDocument(context.Background(), sessionID, otherID,
		"Unrelated reflections about team rituals and meeting cadence.",
		types.IndexMetadata{StageSlug: "paralysis", ModelID: "model-b", DocumentKey: "reflection"})
	require.True(t, res.Success)

	t.Run("query finds the closest chunk", func(t *testing.T) {
		matches, err := ix.Search(context.Background(), sessionID,
			"The plan relies on event sourcing.\n\nStorage is a single SQLite file.", 1, nil)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, cID, matches[0].Chunk.ContributionID)
	})

	t.Run("metadata filter narrows the scan", func(t *testing.T) {
		matches, err := ix.Search(context.Background(), sessionID, "anything", 10,
			&types.IndexMetadata{StageSlug: "paralysis"})
		require.NoError(t, err)
		for _, m := range matches {
			assert.Equal(t, "paralysis", m.Chunk.StageSlug)
		}
	})

	t.Run("re-indexing replaces prior chunks", func(t *testing.T) {
		res := ix.IndexDocument(context.Background(), sessionID, cID, "replaced body",
			types.IndexMetadata{StageSlug: "thesis", ModelID: "model-a", DocumentKey: "implementation_plan"})
		require.True(t, res.Success)

		n, err := s.CountIndexedChunks(sessionID)
		require.NoError(t, err)
		assert.Equal(t, 2, n, "one chunk for each contribution")
	})
}

func TestEmptyDocumentIsSuccessNoop(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "dialectica.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ix := New(s, hashEngine{}, 200)
	res := ix.IndexDocument(context.Background(), uuid.NewString(), uuid.NewString(), "  ",
		types.IndexMetadata{})
	assert.True(t, res.Success)
}
