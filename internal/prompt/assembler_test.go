package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dialectica/internal/recipe"
	"dialectica/internal/types"
)

func TestTemplateEngineProcess(t *testing.T) {
	te := NewTemplateEngine()

	t.Run("substitutes variables", func(t *testing.T) {
		out := te.Process("You are {{model_id}} in {{stage}}", map[string]string{
			"model_id": "model-a",
			"stage":    "thesis",
		})
		assert.Equal(t, "You are model-a in thesis", out)
	})

	t.Run("fast path without placeholders", func(t *testing.T) {
		assert.Equal(t, "plain text", te.Process("plain text", nil))
	})

	t.Run("unknown placeholder left intact", func(t *testing.T) {
		out := te.Process("{{nope}}", map[string]string{})
		assert.Equal(t, "{{nope}}", out)
	})

	t.Run("registered function wins", func(t *testing.T) {
		te := NewTemplateEngine()
		te.RegisterFunction("stage", func(vars map[string]string) string { return "always-thesis" })
		out := te.Process("{{stage}}", map[string]string{"stage": "antithesis"})
		assert.Equal(t, "always-thesis", out)
	})
}

func TestTemplateEngineMissingVars(t *testing.T) {
	te := NewTemplateEngine()
	missing := te.MissingVars("{{a}} {{b}} {{a}}", map[string]string{"a": "x"})
	assert.Equal(t, []string{"b"}, missing)
}

func TestSeedPrompt(t *testing.T) {
	a := New()
	a.RegisterOverlay("software", "Favor boring technology.")

	project := &types.Project{
		Name:          "payments",
		InitialPrompt: "Design a payment service",
		DomainID:      "software",
	}
	stage := &recipe.Stage{
		Slug:          "thesis",
		DisplayName:   "Thesis",
		DefaultPrompt: "Stage {{stage}} for {{project_name}}.",
	}

	out := a.SeedPrompt(project, stage, nil)
	assert.Contains(t, out, "Stage thesis for payments.")
	assert.Contains(t, out, "Favor boring technology.")
	assert.Contains(t, out, "## Initial User Prompt")
	assert.Contains(t, out, "Design a payment service")
}

func TestSeedPromptSkipsUnknownOverlay(t *testing.T) {
	a := New()
	project := &types.Project{Name: "p", InitialPrompt: "x", DomainID: "finance"}
	stage := &recipe.Stage{Slug: "thesis", DefaultPrompt: "base"}

	out := a.SeedPrompt(project, stage, nil)
	assert.True(t, strings.HasPrefix(out, "base"))
}

func proposalsStep() *recipe.Step {
	tpl := recipe.Default()
	stage, _ := tpl.Stage("thesis")
	return &stage.Steps[1]
}

func headerStep() *recipe.Step {
	tpl := recipe.Default()
	stage, _ := tpl.Stage("thesis")
	return &stage.Steps[0]
}

func TestExecutePrompt(t *testing.T) {
	a := New()
	payload := &types.ExecutePayload{
		ProjectID: "p", SessionID: "s", StageSlug: "thesis", Iteration: 1,
		ModelID: "model-a", StepSlug: "proposals", DocumentKey: "implementation_plan",
		OutputType: types.ContributionThesis,
	}
	sources := &types.SourceDocuments{
		SeedPrompt: "SEED TEXT",
		HeaderContext: []types.SourceDocument{
			{ModelID: "model-a", Content: "shared context"},
		},
		Feedback: []types.SourceDocument{
			{ModelID: "model-a", DocumentKey: "implementation_plan", Content: "shorter please"},
		},
	}

	out, err := a.ExecutePrompt(ExecuteRequest{Step: proposalsStep(), Payload: payload, Sources: sources})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "SEED TEXT"))
	assert.Contains(t, out, "model-a")
	assert.Contains(t, out, "shared context")
	assert.Contains(t, out, "shorter please")
	assert.Contains(t, out, `"implementation_plan" document in markdown`)
	assert.NotContains(t, out, "{{")
}

func TestExecutePromptHeaderContextInstructions(t *testing.T) {
	a := New()
	payload := &types.ExecutePayload{
		ProjectID: "p", SessionID: "s", StageSlug: "thesis", Iteration: 1,
		ModelID: "model-a", StepSlug: "header_context", DocumentKey: "header_context",
		OutputType: types.ContributionHeaderContext,
	}

	out, err := a.ExecutePrompt(ExecuteRequest{Step: headerStep(), Payload: payload})
	require.NoError(t, err)
	assert.Contains(t, out, "context_for_documents")
	assert.Contains(t, out, "product_requirements")
}

func TestExecutePromptContinuation(t *testing.T) {
	a := New()
	payload := &types.ExecutePayload{
		ProjectID: "p", SessionID: "s", StageSlug: "thesis", Iteration: 1,
		ModelID: "model-a", StepSlug: "proposals", DocumentKey: "implementation_plan",
		OutputType: types.ContributionThesis,
	}

	out, err := a.ExecutePrompt(ExecuteRequest{
		Step:           proposalsStep(),
		Payload:        payload,
		PartialContent: "## Section 3\n\nThe deployment proce",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "## Continuation")
	assert.Contains(t, out, "The deployment proce")
	assert.Contains(t, out, "Do not repeat")
}

func TestExecutePromptUnknownTemplate(t *testing.T) {
	a := New()
	step := &recipe.Step{
		Slug:           "custom",
		Granularity:    recipe.GranularityPerModel,
		PromptTemplate: "does_not_exist",
		Outputs: recipe.OutputsRequired{
			Documents:  []recipe.OutputDocument{{DocumentKey: "doc"}},
			OutputType: types.ContributionThesis,
		},
	}
	payload := &types.ExecutePayload{
		ProjectID: "p", SessionID: "s", StageSlug: "thesis", Iteration: 1,
		ModelID: "model-a", StepSlug: "custom", DocumentKey: "doc",
		OutputType: types.ContributionThesis,
	}

	_, err := a.ExecutePrompt(ExecuteRequest{Step: step, Payload: payload})
	require.Error(t, err)
	var cerr *types.ConfigError
	assert.ErrorAs(t, err, &cerr)
}

func TestTail(t *testing.T) {
	assert.Equal(t, "short", tail("short", 100))
	long := strings.Repeat("a", 50) + "\n" + strings.Repeat("b", 30)
	assert.Equal(t, strings.Repeat("b", 30), tail(long, 40))
}
