package stage

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dialectica/internal/artifact"
	"dialectica/internal/gather"
	"dialectica/internal/planner"
	"dialectica/internal/prompt"
	"dialectica/internal/recipe"
	"dialectica/internal/store"
	"dialectica/internal/types"
)

var testModels = []string{"model-a", "model-b"}

type fixture struct {
	store   *store.Store
	files   *artifact.FileStore
	service *Service
	proj    *types.Project
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	s, err := store.New(filepath.Join(dir, "dialectica.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	files, err := artifact.NewFileStore(filepath.Join(dir, "artifacts"))
	require.NoError(t, err)
	template := recipe.Default()
	g := gather.New(s, files)
	a := prompt.New()
	p := planner.New(s, template)

	proj := &types.Project{
		ID: uuid.NewString(), UserID: "u", Name: "demo",
		InitialPrompt:     "Design a collaborative note-taking app.",
		ProcessTemplateID: template.ID, Status: "active",
	}
	require.NoError(t, s.CreateProject(proj))

	return &fixture{
		store:   s,
		files:   files,
		service: NewService(s, files, p, a, g, template),
		proj:    proj,
	}
}

// seedStageDocs writes real artifact files so seed assembly for the next
// stage can read them back.
func (f *fixture) seedStageDocs(t *testing.T, sess *types.Session, stageSlug string,
	ctype types.ContributionType, keys []string) {
	t.Helper()
	for _, model := range testModels {
		for _, key := range keys {
			dir, file, err := artifact.ConstructPath(artifact.PathContext{
				ProjectID: f.proj.ID, SessionID: sess.ID, Iteration: sess.Iteration,
				StageSlug: stageSlug, ModelSlug: artifact.Sanitize(model),
				DocumentKey: key, FileType: artifact.FileTypeDocument,
			})
			require.NoError(t, err)
			_, err = f.files.Write(dir, file, []byte("content of "+key+" by "+model))
			require.NoError(t, err)
			require.NoError(t, f.store.InsertContribution(&types.Contribution{
				ID: uuid.NewString(), SessionID: sess.ID, ProjectID: f.proj.ID,
				StageSlug: stageSlug, Iteration: sess.Iteration,
				ModelID: model, ModelSlug: artifact.Sanitize(model),
				Type: ctype, DocumentKey: key,
				StoragePath: dir, FileName: file,
				EditVersion: 1, IsLatestEdit: true,
			}))
		}
	}
}

func (f *fixture) seedReadySession(t *testing.T) *types.Session {
	t.Helper()
	sess, err := f.service.StartSession(f.proj.ID, testModels)
	require.NoError(t, err)
	f.seedStageDocs(t, sess, "thesis", types.ContributionThesis,
		[]string{"product_requirements", "implementation_plan", "tech_stack", "success_metrics"})
	require.NoError(t, f.store.UpdateSessionStatus(sess.ID,
		types.StatusPending("thesis"), types.StatusCompleted("thesis")))
	return sess
}

func TestStartSession(t *testing.T) {
	f := newFixture(t)

	sess, err := f.service.StartSession(f.proj.ID, testModels)
	require.NoError(t, err)
	assert.Equal(t, "thesis", sess.CurrentStage)
	assert.Equal(t, types.StatusPending("thesis"), sess.Status)
	assert.Equal(t, 1, sess.Iteration)

	seeds, err := f.store.LatestContributions(sess.ID, 1, store.ContributionFilter{
		StageSlug: "thesis", Type: types.ContributionSeedPrompt,
	})
	require.NoError(t, err)
	require.Len(t, seeds, 1)

	data, err := f.files.Read(seeds[0].FullPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), f.proj.InitialPrompt)
}

func TestStartSessionRequiresModels(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.StartSession(f.proj.ID, nil)
	require.Error(t, err)
	var verr *types.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestGenerateContributions(t *testing.T) {
	f := newFixture(t)
	sess, err := f.service.StartSession(f.proj.ID, testModels)
	require.NoError(t, err)

	jobs, err := f.service.GenerateContributions(sess.ID)
	require.NoError(t, err)
	assert.Len(t, jobs, len(testModels))

	reloaded, err := f.store.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning("thesis"), reloaded.Status)

	t.Run("second call loses the optimistic update", func(t *testing.T) {
		_, err := f.service.GenerateContributions(sess.ID)
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrConflict)
	})
}

func TestSubmitBeforeStageComplete(t *testing.T) {
	f := newFixture(t)
	sess, err := f.service.StartSession(f.proj.ID, testModels)
	require.NoError(t, err)
	_, err = f.service.GenerateContributions(sess.ID)
	require.NoError(t, err)

	_, err = f.service.SubmitStageResponses(Submission{SessionID: sess.ID, StageSlug: "thesis"})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrStageNotComplete)
}

func TestSubmitAdvancesStage(t *testing.T) {
	f := newFixture(t)
	sess := f.seedReadySession(t)

	advanced, err := f.service.SubmitStageResponses(Submission{
		SessionID: sess.ID,
		StageSlug: "thesis",
		Feedback: []FeedbackItem{
			{ModelID: "model-a", DocumentKey: "implementation_plan", Content: "tighten phase 2"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "antithesis", advanced.CurrentStage)
	assert.Equal(t, types.StatusPending("antithesis"), advanced.Status)

	t.Run("feedback persisted per model and document", func(t *testing.T) {
		rows, err := f.store.ListFeedback(sess.ID, "thesis", 1, "model-a")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		data, err := f.files.Read(rows[0].FullPath())
		require.NoError(t, err)
		assert.Equal(t, "tighten phase 2", string(data))
	})

	t.Run("next stage seed prompt carries the thesis documents", func(t *testing.T) {
		seeds, err := f.store.LatestContributions(sess.ID, 1, store.ContributionFilter{
			StageSlug: "antithesis", Type: types.ContributionSeedPrompt,
		})
		require.NoError(t, err)
		require.Len(t, seeds, 1)
		data, err := f.files.Read(seeds[0].FullPath())
		require.NoError(t, err)
		text := string(data)
		assert.Contains(t, text, "content of implementation_plan by model-a")
		assert.Contains(t, text, "content of implementation_plan by model-b")
	})
}

func TestSubmitIsIdempotent(t *testing.T) {
	f := newFixture(t)
	sess := f.seedReadySession(t)

	first, err := f.service.SubmitStageResponses(Submission{SessionID: sess.ID, StageSlug: "thesis"})
	require.NoError(t, err)
	require.Equal(t, "antithesis", first.CurrentStage)

	again, err := f.service.SubmitStageResponses(Submission{SessionID: sess.ID, StageSlug: "thesis"})
	require.NoError(t, err)
	assert.Equal(t, "antithesis", again.CurrentStage)
	assert.Equal(t, types.StatusPending("antithesis"), again.Status)

	seeds, err := f.store.LatestContributions(sess.ID, 1, store.ContributionFilter{
		StageSlug: "antithesis", Type: types.ContributionSeedPrompt,
	})
	require.NoError(t, err)
	assert.Len(t, seeds, 1, "no-op resubmission must not duplicate the seed prompt")
}

func TestSubmitFutureStageRejected(t *testing.T) {
	f := newFixture(t)
	sess := f.seedReadySession(t)

	_, err := f.service.SubmitStageResponses(Submission{SessionID: sess.ID, StageSlug: "antithesis"})
	require.Error(t, err)
	var verr *types.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestSubmitTerminalStageCompletesIteration(t *testing.T) {
	f := newFixture(t)
	sess := &types.Session{
		ID: uuid.NewString(), ProjectID: f.proj.ID,
		Status:       types.StatusCompleted("paralysis"),
		CurrentStage: "paralysis", Iteration: 1,
		SelectedModels: testModels,
	}
	require.NoError(t, f.store.CreateSession(sess))

	done, err := f.service.SubmitStageResponses(Submission{SessionID: sess.ID, StageSlug: "paralysis"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusIterationComplete, done.Status)
	assert.Equal(t, "paralysis", done.CurrentStage, "stage pointer stays on the terminal stage")

	t.Run("resubmission after completion is a no-op", func(t *testing.T) {
		again, err := f.service.SubmitStageResponses(Submission{SessionID: sess.ID, StageSlug: "paralysis"})
		require.NoError(t, err)
		assert.Equal(t, types.StatusIterationComplete, again.Status)
	})
}
