package store

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dialectica/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "dialectica.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedSession(t *testing.T, s *Store) (*types.Project, *types.Session) {
	t.Helper()
	p := &types.Project{
		ID:                uuid.NewString(),
		UserID:            "user-1",
		Name:              "payment service redesign",
		InitialPrompt:     "Design a payment service",
		ProcessTemplateID: "default",
		Status:            "active",
	}
	require.NoError(t, s.CreateProject(p))

	sess := &types.Session{
		ID:             uuid.NewString(),
		ProjectID:      p.ID,
		Status:         types.StatusPending("thesis"),
		CurrentStage:   "thesis",
		Iteration:      1,
		SelectedModels: []string{"model-a", "model-b", "model-c"},
	}
	require.NoError(t, s.CreateSession(sess))
	return p, sess
}

func planJob(sess *types.Session, modelID string) *types.Job {
	return &types.Job{
		ID:         uuid.NewString(),
		Type:       types.JobTypePlan,
		SessionID:  sess.ID,
		StageSlug:  "thesis",
		Iteration:  1,
		Status:     types.JobStatusPending,
		MaxRetries: 3,
		Payload: types.PayloadForPlan(types.PlanPayload{
			ProjectID: sess.ProjectID,
			SessionID: sess.ID,
			StageSlug: "thesis",
			Iteration: 1,
			ModelID:   modelID,
		}),
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	_, sess := seedSession(t, s)

	got, err := s.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.Status, got.Status)
	assert.Equal(t, "thesis", got.CurrentStage)
	assert.Equal(t, []string{"model-a", "model-b", "model-c"}, got.SelectedModels)

	_, err = s.GetSession("nope")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestUpdateSessionStatusOptimistic(t *testing.T) {
	s := newTestStore(t)
	_, sess := seedSession(t, s)

	require.NoError(t, s.UpdateSessionStatus(sess.ID,
		types.StatusPending("thesis"), types.StatusRunning("thesis")))

	// Stale expectation loses.
	err := s.UpdateSessionStatus(sess.ID,
		types.StatusPending("thesis"), types.StatusRunning("thesis"))
	assert.ErrorIs(t, err, types.ErrConflict)

	// Status changes never move the stage pointer.
	got, err := s.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "thesis", got.CurrentStage)
}

func TestAdvanceSessionStage(t *testing.T) {
	s := newTestStore(t)
	_, sess := seedSession(t, s)

	require.NoError(t, s.AdvanceSessionStage(sess.ID,
		types.StatusPending("thesis"), types.StatusPending("antithesis"), "antithesis"))

	got, err := s.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "antithesis", got.CurrentStage)

	err = s.AdvanceSessionStage(sess.ID,
		types.StatusPending("thesis"), types.StatusPending("antithesis"), "antithesis")
	assert.ErrorIs(t, err, types.ErrConflict)
}

func TestClaimNextJob(t *testing.T) {
	s := newTestStore(t)
	_, sess := seedSession(t, s)

	j1 := planJob(sess, "model-a")
	j2 := planJob(sess, "model-b")
	require.NoError(t, s.CreateJobs([]*types.Job{j1, j2}))

	claimed, err := s.ClaimNextJob()
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, types.JobStatusProcessing, claimed.Status)

	// The claimed job is off the queue; the second claim gets the other one.
	second, err := s.ClaimNextJob()
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.NotEqual(t, claimed.ID, second.ID)

	third, err := s.ClaimNextJob()
	require.NoError(t, err)
	assert.Nil(t, third)
}

func TestJobRetryAndRequeue(t *testing.T) {
	s := newTestStore(t)
	_, sess := seedSession(t, s)

	job := planJob(sess, "model-a")
	require.NoError(t, s.CreateJob(job))

	claimed, err := s.ClaimNextJob()
	require.NoError(t, err)
	require.NotNil(t, claimed)

	require.NoError(t, s.MarkJobRetrying(job.ID, "upstream timeout"))
	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusRetrying, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, "upstream timeout", got.ErrorDetails)

	require.NoError(t, s.RequeueJob(job.ID, nil, types.JobTypePlan))
	reclaimed, err := s.ClaimNextJob()
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, job.ID, reclaimed.ID)
}

func TestJobPayloadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	_, sess := seedSession(t, s)

	job := &types.Job{
		ID:         uuid.NewString(),
		Type:       types.JobTypeExecute,
		SessionID:  sess.ID,
		StageSlug:  "antithesis",
		Iteration:  1,
		Status:     types.JobStatusPending,
		MaxRetries: 3,
		Payload: types.PayloadForExecute(types.ExecutePayload{
			ProjectID:   sess.ProjectID,
			SessionID:   sess.ID,
			StageSlug:   "antithesis",
			Iteration:   1,
			ModelID:     "model-a",
			StepSlug:    "critiques",
			DocumentKey: "critique_summary",
			OutputType:  types.ContributionAntithesis,
			Inputs:      map[string][]string{"contribution": {"c1", "c2"}},
			Relationships: &types.DocumentRelationships{
				SourceGroup:   "model-b",
				PairedModelID: "model-a",
			},
		}),
	}
	require.NoError(t, s.CreateJob(job))

	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(job.Payload, got.Payload); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestJobPayloadValidatedAtCreation(t *testing.T) {
	s := newTestStore(t)
	_, sess := seedSession(t, s)

	job := planJob(sess, "model-a")
	job.Type = types.JobTypeExecute // payload arm no longer matches
	err := s.CreateJob(job)
	assert.Error(t, err)

	// Nothing was persisted for the rejected job.
	_, err = s.GetJob(job.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestChildBarrierCounts(t *testing.T) {
	s := newTestStore(t)
	_, sess := seedSession(t, s)

	parent := planJob(sess, "model-a")
	require.NoError(t, s.CreateJob(parent))

	var children []*types.Job
	for _, key := range []string{"product_requirements", "implementation_plan"} {
		children = append(children, &types.Job{
			ID:          uuid.NewString(),
			Type:        types.JobTypeExecute,
			ParentJobID: parent.ID,
			SessionID:   sess.ID,
			StageSlug:   "thesis",
			Iteration:   1,
			Status:      types.JobStatusPending,
			MaxRetries:  3,
			Payload: types.PayloadForExecute(types.ExecutePayload{
				ProjectID:   sess.ProjectID,
				SessionID:   sess.ID,
				StageSlug:   "thesis",
				Iteration:   1,
				ModelID:     "model-a",
				StepSlug:    "proposals",
				DocumentKey: key,
				OutputType:  types.ContributionThesis,
			}),
		})
	}
	require.NoError(t, s.CreateJobs(children))

	n, err := s.CountUnfinishedChildren(parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.UpdateJobStatus(children[0].ID, types.JobStatusCompleted, ""))
	n, err = s.CountUnfinishedChildren(parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.UpdateJobStatus(children[1].ID, types.JobStatusFailed, "validation failure"))
	n, err = s.CountUnfinishedChildren(parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	failed, err := s.CountFailedChildren(parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	// Terminal children get a completion stamp.
	done, err := s.GetJob(children[0].ID)
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)
}

func newContribution(sess *types.Session, p *types.Project, modelID, docKey string) *types.Contribution {
	return &types.Contribution{
		ID:           uuid.NewString(),
		SessionID:    sess.ID,
		ProjectID:    p.ID,
		StageSlug:    "thesis",
		Iteration:    1,
		ModelID:      modelID,
		ModelSlug:    modelID,
		Type:         types.ContributionThesis,
		DocumentKey:  docKey,
		StoragePath:  "projects/p/sessions/s/iteration_1/thesis/" + modelID,
		FileName:     docKey + "_attempt_0.md",
		EditVersion:  1,
		IsLatestEdit: true,
	}
}

func TestContributionSupersede(t *testing.T) {
	s := newTestStore(t)
	p, sess := seedSession(t, s)

	orig := newContribution(sess, p, "model-a", "implementation_plan")
	require.NoError(t, s.InsertContribution(orig))

	edit := newContribution(sess, p, "model-a", "implementation_plan")
	edit.EditVersion = 2
	edit.OriginalContributionID = orig.ID
	require.NoError(t, s.InsertContribution(edit))

	latest, err := s.LatestContributions(sess.ID, 1, ContributionFilter{
		ModelID:     "model-a",
		DocumentKey: "implementation_plan",
	})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, edit.ID, latest[0].ID)
	assert.Equal(t, 2, latest[0].EditVersion)

	stale, err := s.GetContribution(orig.ID)
	require.NoError(t, err)
	assert.False(t, stale.IsLatestEdit)
}

func TestInsertContributionEnforcesSourceModel(t *testing.T) {
	s := newTestStore(t)
	p, sess := seedSession(t, s)

	source := newContribution(sess, p, "model-a", "implementation_plan")
	require.NoError(t, s.InsertContribution(source))

	t.Run("undeclared cross-model source is rejected", func(t *testing.T) {
		c := newContribution(sess, p, "model-b", "critique_summary")
		c.Type = types.ContributionAntithesis
		c.Relationships = &types.DocumentRelationships{SourceDocumentID: source.ID}
		err := s.InsertContribution(c)
		require.Error(t, err)
		var verr *types.ValidationError
		assert.ErrorAs(t, err, &verr)

		// The rejected row was not persisted.
		_, err = s.GetContribution(c.ID)
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("declared source group passes", func(t *testing.T) {
		c := newContribution(sess, p, "model-b", "critique_summary")
		c.Type = types.ContributionAntithesis
		c.Relationships = &types.DocumentRelationships{
			SourceDocumentID: source.ID,
			SourceGroup:      "model-a",
		}
		require.NoError(t, s.InsertContribution(c))
	})

	t.Run("same-model source passes", func(t *testing.T) {
		c := newContribution(sess, p, "model-a", "tech_stack")
		c.Relationships = &types.DocumentRelationships{SourceDocumentID: source.ID}
		require.NoError(t, s.InsertContribution(c))
	})

	t.Run("unknown source document is rejected", func(t *testing.T) {
		c := newContribution(sess, p, "model-a", "success_metrics")
		c.Relationships = &types.DocumentRelationships{SourceDocumentID: uuid.NewString()}
		err := s.InsertContribution(c)
		require.Error(t, err)
		var verr *types.ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}

func TestLatestContributionsModelScoping(t *testing.T) {
	s := newTestStore(t)
	p, sess := seedSession(t, s)

	for _, model := range []string{"model-a", "model-b"} {
		for _, key := range []string{"product_requirements", "implementation_plan"} {
			require.NoError(t, s.InsertContribution(newContribution(sess, p, model, key)))
		}
	}

	scoped, err := s.LatestContributions(sess.ID, 1, ContributionFilter{ModelID: "model-a"})
	require.NoError(t, err)
	assert.Len(t, scoped, 2)
	for _, c := range scoped {
		assert.Equal(t, "model-a", c.ModelID)
	}

	all, err := s.LatestContributions(sess.ID, 1, ContributionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestFeedbackRoundTrip(t *testing.T) {
	s := newTestStore(t)
	p, sess := seedSession(t, s)

	fb := func(model string) *types.Feedback {
		return &types.Feedback{
			ID:          uuid.NewString(),
			SessionID:   sess.ID,
			ProjectID:   p.ID,
			StageSlug:   "thesis",
			Iteration:   1,
			ModelID:     model,
			DocumentKey: "implementation_plan",
			StoragePath: "projects/p/sessions/s/iteration_1/thesis/feedback/" + model,
			FileName:    "implementation_plan.md",
		}
	}
	require.NoError(t, s.UpsertFeedback(fb("model-a")))
	require.NoError(t, s.UpsertFeedback(fb("model-b")))

	// Same key, same model: replaces rather than duplicates.
	again := fb("model-a")
	again.StoragePath = "projects/p/sessions/s/iteration_1/thesis/feedback/model-a-v2"
	require.NoError(t, s.UpsertFeedback(again))

	forA, err := s.ListFeedback(sess.ID, "thesis", 1, "model-a")
	require.NoError(t, err)
	require.Len(t, forA, 1)
	assert.Contains(t, forA[0].StoragePath, "model-a-v2")

	forB, err := s.ListFeedback(sess.ID, "thesis", 1, "model-b")
	require.NoError(t, err)
	require.Len(t, forB, 1)
	assert.NotContains(t, forB[0].StoragePath, "model-a")

	all, err := s.ListFeedback(sess.ID, "thesis", 1, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDocumentChunkSearch(t *testing.T) {
	s := newTestStore(t)
	p, sess := seedSession(t, s)

	c := newContribution(sess, p, "model-a", "implementation_plan")
	require.NoError(t, s.InsertContribution(c))

	chunks := []DocumentChunk{
		{SessionID: sess.ID, ContributionID: c.ID, ChunkIndex: 0, Content: "queue design",
			Embedding: []float32{1, 0, 0}, StageSlug: "thesis", ModelID: "model-a", DocumentKey: "implementation_plan"},
		{SessionID: sess.ID, ContributionID: c.ID, ChunkIndex: 1, Content: "storage layout",
			Embedding: []float32{0, 1, 0}, StageSlug: "thesis", ModelID: "model-a", DocumentKey: "implementation_plan"},
	}
	require.NoError(t, s.InsertDocumentChunks(chunks))

	matches, err := s.SearchChunks(sess.ID, []float32{0.9, 0.1, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "queue design", matches[0].Chunk.Content)

	// Re-indexing replaces prior rows instead of colliding on the unique key.
	require.NoError(t, s.InsertDocumentChunks(chunks))
	n, err := s.CountIndexedChunks(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestListProjectsAndSessions(t *testing.T) {
	s := newTestStore(t)
	p, sess := seedSession(t, s)

	other := &types.Project{
		ID:                uuid.NewString(),
		UserID:            "user-1",
		Name:              "second project",
		InitialPrompt:     "another prompt",
		ProcessTemplateID: "default",
		Status:            "active",
	}
	require.NoError(t, s.CreateProject(other))

	projects, err := s.ListProjects()
	require.NoError(t, err)
	assert.Len(t, projects, 2)

	sessions, err := s.ListSessions(p.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, sess.ID, sessions[0].ID)

	empty, err := s.ListSessions(other.ID)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSessionTokenTotals(t *testing.T) {
	s := newTestStore(t)
	p, sess := seedSession(t, s)

	c1 := newContribution(sess, p, "model-a", "product_requirements")
	c1.TokensInput, c1.TokensOutput = 100, 40
	c2 := newContribution(sess, p, "model-b", "product_requirements")
	c2.TokensInput, c2.TokensOutput = 50, 25
	require.NoError(t, s.InsertContribution(c1))
	require.NoError(t, s.InsertContribution(c2))

	in, out, err := s.SessionTokenTotals(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 150, in)
	assert.Equal(t, 65, out)
}
