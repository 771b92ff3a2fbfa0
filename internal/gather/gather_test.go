package gather

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dialectica/internal/artifact"
	"dialectica/internal/recipe"
	"dialectica/internal/store"
	"dialectica/internal/types"
)

type fixture struct {
	store  *store.Store
	files  *artifact.FileStore
	g      *Gatherer
	sessID string
	projID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	s, err := store.New(root + "/dialectica.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	files, err := artifact.NewFileStore(root + "/blobs")
	require.NoError(t, err)

	p := &types.Project{
		ID: uuid.NewString(), UserID: "u", Name: "proj",
		InitialPrompt: "design it", ProcessTemplateID: "default", Status: "active",
	}
	require.NoError(t, s.CreateProject(p))
	sess := &types.Session{
		ID: uuid.NewString(), ProjectID: p.ID,
		Status:       types.StatusPending("antithesis"),
		CurrentStage: "antithesis", Iteration: 1,
		SelectedModels: []string{"model-a", "model-b"},
	}
	require.NoError(t, s.CreateSession(sess))

	return &fixture{store: s, files: files, g: New(s, files), sessID: sess.ID, projID: p.ID}
}

func (f *fixture) addContribution(t *testing.T, modelID, stage, docKey string, ctype types.ContributionType, content string) *types.Contribution {
	t.Helper()
	c := &types.Contribution{
		ID: uuid.NewString(), SessionID: f.sessID, ProjectID: f.projID,
		StageSlug: stage, Iteration: 1,
		ModelID: modelID, ModelSlug: modelID,
		Type: ctype, DocumentKey: docKey,
		StoragePath:  "projects/" + f.projID + "/" + stage + "/" + modelID,
		FileName:     docKey + "_attempt_0.md",
		EditVersion:  1,
		IsLatestEdit: true,
	}
	_, err := f.files.Write(c.StoragePath, c.FileName, []byte(content))
	require.NoError(t, err)
	require.NoError(t, f.store.InsertContribution(c))
	return c
}

func (f *fixture) addFeedback(t *testing.T, modelID, stage, docKey, content string) {
	t.Helper()
	fb := &types.Feedback{
		ID: uuid.NewString(), SessionID: f.sessID, ProjectID: f.projID,
		StageSlug: stage, Iteration: 1,
		ModelID: modelID, DocumentKey: docKey,
		StoragePath: "projects/" + f.projID + "/" + stage + "/feedback/" + modelID,
		FileName:    docKey + ".md",
	}
	_, err := f.files.Write(fb.StoragePath, fb.FileName, []byte(content))
	require.NoError(t, err)
	require.NoError(t, f.store.UpsertFeedback(fb))
}

func req(f *fixture, modelID string) Request {
	return Request{
		ProjectID: f.projID,
		SessionID: f.sessID,
		StageSlug: "antithesis",
		Iteration: 1,
		ModelID:   modelID,
	}
}

func TestGatherDocumentsCrossModel(t *testing.T) {
	f := newFixture(t)
	f.addContribution(t, "model-a", "thesis", "implementation_plan", types.ContributionThesis, "plan A")
	f.addContribution(t, "model-b", "thesis", "implementation_plan", types.ContributionThesis, "plan B")

	docs, err := f.g.Gather(req(f, "model-a"), []recipe.InputRule{
		{Type: recipe.InputContribution, Slug: "thesis", Required: true, Multiple: true},
	})
	require.NoError(t, err)

	// Document rules are cross-model: both origins are visible.
	require.Len(t, docs.Documents, 2)
	contents := []string{docs.Documents[0].Content, docs.Documents[1].Content}
	assert.ElementsMatch(t, []string{"plan A", "plan B"}, contents)
}

func TestGatherHeaderContextSameModelOnly(t *testing.T) {
	f := newFixture(t)
	f.addContribution(t, "model-a", "antithesis", "critique_context", types.ContributionHeaderContext, `{"for":"a"}`)
	f.addContribution(t, "model-b", "antithesis", "critique_context", types.ContributionHeaderContext, `{"for":"b"}`)

	docs, err := f.g.Gather(req(f, "model-a"), []recipe.InputRule{
		{Type: recipe.InputHeaderContext, Slug: "antithesis", Required: true},
	})
	require.NoError(t, err)
	require.Len(t, docs.HeaderContext, 1)
	assert.Equal(t, "model-a", docs.HeaderContext[0].ModelID)
	assert.Equal(t, `{"for":"a"}`, docs.HeaderContext[0].Content)
}

func TestGatherFeedbackModelScoped(t *testing.T) {
	f := newFixture(t)
	f.addFeedback(t, "model-a", "thesis", "implementation_plan", "tighten the plan")
	f.addFeedback(t, "model-b", "thesis", "implementation_plan", "different note")

	docs, err := f.g.Gather(req(f, "model-a"), []recipe.InputRule{
		{Type: recipe.InputFeedback, Slug: "thesis"},
	})
	require.NoError(t, err)
	require.Len(t, docs.Feedback, 1)
	assert.Equal(t, "model-a", docs.Feedback[0].ModelID)
	assert.Equal(t, "tighten the plan", docs.Feedback[0].Content)
}

func TestGatherFeedbackAggregateAcrossModels(t *testing.T) {
	f := newFixture(t)
	f.addFeedback(t, "model-a", "thesis", "implementation_plan", "tighten the plan")
	f.addFeedback(t, "model-b", "thesis", "implementation_plan", "different note")

	// Without a model scope, feedback rules resolve one record per model.
	// Seed prompt assembly gathers this way so every model's feedback shapes
	// the next stage.
	docs, err := f.g.Gather(req(f, ""), []recipe.InputRule{
		{Type: recipe.InputFeedback, Slug: "thesis"},
	})
	require.NoError(t, err)
	require.Len(t, docs.Feedback, 2)

	models := []string{docs.Feedback[0].ModelID, docs.Feedback[1].ModelID}
	assert.ElementsMatch(t, []string{"model-a", "model-b"}, models)
}

func TestGatherRequiredMissingFailsValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.g.Gather(req(f, "model-a"), []recipe.InputRule{
		{Type: recipe.InputHeaderContext, Slug: "antithesis", Required: true},
	})
	require.Error(t, err)
	var verr *types.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.False(t, types.IsRetryable(err))
}

func TestGatherOptionalMissingSkipped(t *testing.T) {
	f := newFixture(t)
	f.addContribution(t, "model-a", "thesis", "implementation_plan", types.ContributionThesis, "plan A")

	docs, err := f.g.Gather(req(f, "model-a"), []recipe.InputRule{
		{Type: recipe.InputContribution, Slug: "thesis", Required: true, Multiple: true},
		{Type: recipe.InputFeedback, Slug: "thesis"},
	})
	require.NoError(t, err)
	assert.Len(t, docs.Documents, 1)
	assert.Empty(t, docs.Feedback)
}

func TestGatherSeedPrompt(t *testing.T) {
	f := newFixture(t)
	f.addContribution(t, "", "antithesis", "seed_prompt", types.ContributionSeedPrompt, "critique these proposals")

	docs, err := f.g.Gather(req(f, "model-a"), []recipe.InputRule{
		{Type: recipe.InputSeedPrompt, Slug: "antithesis", Required: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "critique these proposals", docs.SeedPrompt)
	assert.Empty(t, docs.Documents)
}

func TestGatherHonorsPlannerResolvedInputs(t *testing.T) {
	f := newFixture(t)
	keep := f.addContribution(t, "model-a", "thesis", "implementation_plan", types.ContributionThesis, "plan A")
	f.addContribution(t, "model-b", "thesis", "implementation_plan", types.ContributionThesis, "plan B")

	r := req(f, "model-a")
	r.AllowedIDs = map[string]bool{keep.ID: true}
	docs, err := f.g.Gather(r, []recipe.InputRule{
		{Type: recipe.InputContribution, Slug: "thesis", Required: true, Multiple: true},
	})
	require.NoError(t, err)
	require.Len(t, docs.Documents, 1)
	assert.Equal(t, keep.ID, docs.Documents[0].ID)
}

func TestGatherExcludesHeaderContextFromGenericRules(t *testing.T) {
	f := newFixture(t)
	f.addContribution(t, "model-a", "thesis", "implementation_plan", types.ContributionThesis, "plan A")
	f.addContribution(t, "model-a", "thesis", "header_context", types.ContributionHeaderContext, `{"ctx":true}`)

	docs, err := f.g.Gather(req(f, "model-a"), []recipe.InputRule{
		{Type: recipe.InputContribution, Slug: "thesis", Required: true, Multiple: true},
	})
	require.NoError(t, err)
	require.Len(t, docs.Documents, 1)
	assert.Equal(t, types.ContributionThesis, docs.Documents[0].Type)
}
