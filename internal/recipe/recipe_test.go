package recipe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"dialectica/internal/types"
)

func TestDefaultTemplateValidates(t *testing.T) {
	tmpl := Default()
	require.NoError(t, tmpl.Validate())
	assert.Len(t, tmpl.Stages, 5)
}

func TestTransitionGraph(t *testing.T) {
	tmpl := Default()

	t.Run("thesis precedes antithesis", func(t *testing.T) {
		next, ok, err := tmpl.NextStage("thesis")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "antithesis", next.Slug)
	})

	t.Run("paralysis is terminal", func(t *testing.T) {
		_, ok, err := tmpl.NextStage("paralysis")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.True(t, tmpl.IsTerminal("paralysis"))
	})

	t.Run("source stage of synthesis is antithesis", func(t *testing.T) {
		src, ok, err := tmpl.SourceStage("synthesis")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "antithesis", src.Slug)
	})

	t.Run("thesis has no source stage", func(t *testing.T) {
		_, ok, err := tmpl.SourceStage("thesis")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unknown stage is a config error", func(t *testing.T) {
		_, _, err := tmpl.NextStage("nonsense")
		require.Error(t, err)
		var ce *types.ConfigError
		assert.ErrorAs(t, err, &ce)
	})
}

func TestDefaultCardinalityShape(t *testing.T) {
	tmpl := Default()

	t.Run("thesis proposals produce four document keys", func(t *testing.T) {
		stage, err := tmpl.Stage("thesis")
		require.NoError(t, err)
		step, err := stage.Step(1)
		require.NoError(t, err)
		assert.Len(t, step.Outputs.Documents, 4)
		assert.Equal(t, GranularityPerModel, step.Granularity)
	})

	t.Run("thesis header step produces header context", func(t *testing.T) {
		stage, err := tmpl.Stage("thesis")
		require.NoError(t, err)
		step, err := stage.Step(0)
		require.NoError(t, err)
		assert.True(t, step.IsHeaderContext())
		assert.Equal(t, types.ContributionHeaderContext, step.Outputs.OutputType)
	})

	t.Run("antithesis critiques produce six keys pairwise", func(t *testing.T) {
		stage, err := tmpl.Stage("antithesis")
		require.NoError(t, err)
		step, err := stage.Step(1)
		require.NoError(t, err)
		assert.Len(t, step.Outputs.Documents, 6)
		assert.Equal(t, GranularityPairwiseOrigin, step.Granularity)
	})

	t.Run("synthesis pairwise produces four keys per source group", func(t *testing.T) {
		stage, err := tmpl.Stage("synthesis")
		require.NoError(t, err)
		step, err := stage.Step(0)
		require.NoError(t, err)
		assert.Len(t, step.Outputs.Documents, 4)
		assert.Equal(t, GranularityPerSourceGroup, step.Granularity)
	})
}

func TestStepAccessors(t *testing.T) {
	tmpl := Default()
	stage, err := tmpl.Stage("thesis")
	require.NoError(t, err)

	assert.True(t, stage.HasNextStep(0))
	assert.False(t, stage.HasNextStep(1))

	_, err = stage.Step(7)
	assert.Error(t, err)

	step, err := stage.Step(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"header_context"}, step.DocumentKeys())
}

func TestLoadRoundTrip(t *testing.T) {
	tmpl := Default()
	data, err := yaml.Marshal(tmpl)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "process.yaml")
	require.NoError(t, os.WriteFile(path, data, 0644))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, tmpl.ID, loaded.ID)
	assert.Len(t, loaded.Stages, len(tmpl.Stages))

	antithesis, err := loaded.Stage("antithesis")
	require.NoError(t, err)
	assert.Len(t, antithesis.Steps[1].InputsRequired, 4)
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	tmpl, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "dialectic-default", tmpl.ID)
}

func TestValidateRejectsBrokenTemplates(t *testing.T) {
	t.Run("missing granularity", func(t *testing.T) {
		tmpl := Default()
		tmpl.Stages[0].Steps[0].Granularity = ""
		assert.Error(t, tmpl.Validate())
	})

	t.Run("out-of-order steps", func(t *testing.T) {
		tmpl := Default()
		tmpl.Stages[0].Steps[1].ExecutionOrder = 9
		assert.Error(t, tmpl.Validate())
	})

	t.Run("no outputs", func(t *testing.T) {
		tmpl := Default()
		tmpl.Stages[2].Steps[0].Outputs = OutputsRequired{OutputType: types.ContributionSynthesis}
		assert.Error(t, tmpl.Validate())
	})
}
