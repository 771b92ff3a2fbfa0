package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docContext() PathContext {
	return PathContext{
		ProjectID:   "proj-123",
		SessionID:   "0a1b2c3d-4e5f-6789-abcd-ef0123456789",
		Iteration:   1,
		StageSlug:   "thesis",
		ModelSlug:   "claude-3-opus",
		DocumentKey: "implementation_plan",
		Attempt:     0,
		FileType:    FileTypeDocument,
	}
}

func TestConstructPath(t *testing.T) {
	t.Run("document path", func(t *testing.T) {
		dir, file, err := ConstructPath(docContext())
		require.NoError(t, err)
		assert.Equal(t, "projects/proj-123/sessions/0a1b2c3d/iteration_1/thesis/claude-3-opus", dir)
		assert.Equal(t, "implementation_plan_attempt_0.md", file)
	})

	t.Run("deterministic across calls", func(t *testing.T) {
		d1, f1, err := ConstructPath(docContext())
		require.NoError(t, err)
		d2, f2, err := ConstructPath(docContext())
		require.NoError(t, err)
		assert.Equal(t, d1, d2)
		assert.Equal(t, f1, f2)
	})

	t.Run("attempt changes file not dir", func(t *testing.T) {
		ctx := docContext()
		ctx.Attempt = 3
		dir, file, err := ConstructPath(ctx)
		require.NoError(t, err)
		assert.Equal(t, "projects/proj-123/sessions/0a1b2c3d/iteration_1/thesis/claude-3-opus", dir)
		assert.Equal(t, "implementation_plan_attempt_3.md", file)
	})

	t.Run("header context gets json extension", func(t *testing.T) {
		ctx := docContext()
		ctx.FileType = FileTypeHeaderContext
		ctx.DocumentKey = "header_context"
		_, file, err := ConstructPath(ctx)
		require.NoError(t, err)
		assert.Equal(t, "header_context_attempt_0.json", file)
	})

	t.Run("raw response sits next to document", func(t *testing.T) {
		ctx := docContext()
		ctx.FileType = FileTypeRawResponse
		dir, file, err := ConstructPath(ctx)
		require.NoError(t, err)
		assert.Equal(t, "projects/proj-123/sessions/0a1b2c3d/iteration_1/thesis/claude-3-opus", dir)
		assert.Equal(t, "implementation_plan_attempt_0.raw.json", file)
	})

	t.Run("pairwise artifact embeds origin and paired slugs", func(t *testing.T) {
		ctx := docContext()
		ctx.StageSlug = "synthesis"
		ctx.DocumentKey = "reconciled_plan"
		ctx.SourceModelSlug = "gpt-4-turbo"
		ctx.PairedModelSlug = "gemini-1.5-pro"
		_, file, err := ConstructPath(ctx)
		require.NoError(t, err)
		assert.Equal(t, "reconciled_plan_from_gpt-4-turbo_vs_gemini-1.5-pro_attempt_0.md", file)
	})

	t.Run("seed prompt is stage scoped", func(t *testing.T) {
		ctx := docContext()
		ctx.FileType = FileTypeSeedPrompt
		ctx.ModelSlug = ""
		ctx.DocumentKey = ""
		dir, file, err := ConstructPath(ctx)
		require.NoError(t, err)
		assert.Equal(t, "projects/proj-123/sessions/0a1b2c3d/iteration_1/thesis", dir)
		assert.Equal(t, "seed_prompt.md", file)
	})

	t.Run("feedback is model and key scoped", func(t *testing.T) {
		ctx := docContext()
		ctx.FileType = FileTypeFeedback
		dir, file, err := ConstructPath(ctx)
		require.NoError(t, err)
		assert.Equal(t, "projects/proj-123/sessions/0a1b2c3d/iteration_1/thesis/feedback/claude-3-opus", dir)
		assert.Equal(t, "implementation_plan.md", file)
	})

	t.Run("missing identifiers rejected", func(t *testing.T) {
		ctx := docContext()
		ctx.ModelSlug = ""
		_, _, err := ConstructPath(ctx)
		assert.Error(t, err)

		ctx = docContext()
		ctx.Iteration = 0
		_, _, err = ConstructPath(ctx)
		assert.Error(t, err)
	})
}

func TestAttemptFromFileName(t *testing.T) {
	for _, tc := range []struct {
		file    string
		attempt int
		ok      bool
	}{
		{"implementation_plan_attempt_0.md", 0, true},
		{"implementation_plan_attempt_12.md", 12, true},
		{"header_context_attempt_2.json", 2, true},
		{"implementation_plan_attempt_1.raw.json", 1, true},
		{"seed_prompt.md", 0, false},
	} {
		attempt, ok := AttemptFromFileName(tc.file)
		assert.Equal(t, tc.ok, ok, tc.file)
		if tc.ok {
			assert.Equal(t, tc.attempt, attempt, tc.file)
		}
	}
}

func TestShortSessionID(t *testing.T) {
	assert.Equal(t, "0a1b2c3d", ShortSessionID("0a1b2c3d-4e5f-6789-abcd-ef0123456789"))
	assert.Equal(t, "abc", ShortSessionID("abc"))
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "claude-3-opus", Sanitize("Claude/3 Opus"))
	assert.Equal(t, "gpt-4.1", Sanitize("gpt-4.1"))
}

func TestFileStoreRoundTrip(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	rel, err := fs.Write("projects/p/sessions/s", "doc.md", []byte("# hello"))
	require.NoError(t, err)
	assert.Equal(t, "projects/p/sessions/s/doc.md", rel)
	assert.True(t, fs.Exists(rel))

	data, err := fs.Read(rel)
	require.NoError(t, err)
	assert.Equal(t, "# hello", string(data))

	_, err = fs.Read("projects/p/missing.md")
	assert.Error(t, err)
}
