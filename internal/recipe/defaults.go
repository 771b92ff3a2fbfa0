package recipe

import "dialectica/internal/types"

// Granularity strategy names. The planner resolves these through its strategy
// registry; an unknown name is a configuration error at plan time.
const (
	GranularityPerModel        = "per_model"
	GranularityPairwiseOrigin  = "pairwise_by_origin"
	GranularityPerSourceGroup  = "per_source_group"
	GranularityPerSourceDoc    = "per_source_document"
)

// Critique document keys produced for every (critic, origin) pairing.
var antithesisCritiqueKeys = []string{
	"critique_summary",
	"strengths",
	"weaknesses",
	"risks",
	"alternatives",
	"recommendations",
}

func docs(keys ...string) []OutputDocument {
	out := make([]OutputDocument, len(keys))
	for i, k := range keys {
		out[i] = OutputDocument{DocumentKey: k}
	}
	return out
}

// Default returns the built-in five-stage dialectic process template:
// thesis -> antithesis -> synthesis -> parenthesis -> paralysis.
//
// Cardinality for N selected models:
//   - thesis:      N header contexts + N x 4 documents
//   - antithesis:  N^2 header contexts + N^2 x 6 critique documents
//   - synthesis:   N^3 x 4 pairwise documents
//   - parenthesis: N x 4 documents
//   - paralysis:   N x 2 documents
func Default() *ProcessTemplate {
	return &ProcessTemplate{
		ID:   "dialectic-default",
		Name: "Dialectic (default)",
		Stages: []Stage{
			{
				Slug:        "thesis",
				DisplayName: "Thesis",
				DefaultPrompt: "Propose a complete solution to the initial problem. " +
					"Produce each requested document in full.",
				Steps: []Step{
					{
						Slug:           "header_context",
						ExecutionOrder: 1,
						Granularity:    GranularityPerModel,
						PromptTemplate: "thesis_header_context",
						InputsRequired: []InputRule{
							{Type: InputSeedPrompt, Slug: "thesis", Required: true},
						},
						Outputs: OutputsRequired{
							HeaderContext: &OutputDocument{DocumentKey: "header_context"},
							OutputType:    types.ContributionHeaderContext,
						},
					},
					{
						Slug:           "proposals",
						ExecutionOrder: 2,
						Granularity:    GranularityPerModel,
						PromptTemplate: "thesis_proposals",
						InputsRequired: []InputRule{
							{Type: InputSeedPrompt, Slug: "thesis", Required: true},
							{Type: InputHeaderContext, Slug: "thesis", Required: true},
						},
						Outputs: OutputsRequired{
							Documents: docs(
								"product_requirements",
								"implementation_plan",
								"tech_stack",
								"success_metrics",
							),
							OutputType: types.ContributionThesis,
						},
					},
				},
			},
			{
				Slug:        "antithesis",
				DisplayName: "Antithesis",
				DefaultPrompt: "Critique the assigned thesis proposal rigorously. " +
					"Be specific; cite the proposal's own text.",
				Steps: []Step{
					{
						Slug:           "critique_context",
						ExecutionOrder: 1,
						Granularity:    GranularityPairwiseOrigin,
						PromptTemplate: "antithesis_header_context",
						InputsRequired: []InputRule{
							{Type: InputSeedPrompt, Slug: "antithesis", Required: true},
							{Type: InputContribution, Slug: "thesis", Required: true, Multiple: true},
						},
						Outputs: OutputsRequired{
							HeaderContext: &OutputDocument{DocumentKey: "header_context"},
							OutputType:    types.ContributionHeaderContext,
						},
					},
					{
						Slug:           "critiques",
						ExecutionOrder: 2,
						Granularity:    GranularityPairwiseOrigin,
						PromptTemplate: "antithesis_critiques",
						InputsRequired: []InputRule{
							{Type: InputSeedPrompt, Slug: "antithesis", Required: true},
							{Type: InputContribution, Slug: "thesis", Required: true, Multiple: true},
							{Type: InputHeaderContext, Slug: "antithesis", Required: true},
							{Type: InputFeedback, Slug: "thesis", Required: false},
						},
						Outputs: OutputsRequired{
							Documents:  docs(antithesisCritiqueKeys...),
							OutputType: types.ContributionAntithesis,
						},
					},
				},
			},
			{
				Slug:        "synthesis",
				DisplayName: "Synthesis",
				DefaultPrompt: "Reconcile the assigned thesis with its critique into a " +
					"stronger unified position.",
				Steps: []Step{
					{
						Slug:           "pairwise",
						ExecutionOrder: 1,
						Granularity:    GranularityPerSourceGroup,
						PromptTemplate: "synthesis_pairwise",
						InputsRequired: []InputRule{
							{Type: InputSeedPrompt, Slug: "synthesis", Required: true},
							{Type: InputContribution, Slug: "thesis", Required: true, Multiple: true},
							{Type: InputContribution, Slug: "antithesis", Required: true, Multiple: true},
							{Type: InputFeedback, Slug: "antithesis", Required: false},
						},
						Outputs: OutputsRequired{
							Documents: docs(
								"unified_requirements",
								"reconciled_plan",
								"tradeoff_analysis",
								"open_questions",
							),
							OutputType: types.ContributionSynthesis,
						},
					},
				},
			},
			{
				Slug:        "parenthesis",
				DisplayName: "Parenthesis",
				DefaultPrompt: "Refine the synthesized material into polished, " +
					"implementation-ready documents.",
				Steps: []Step{
					{
						Slug:           "refinement",
						ExecutionOrder: 1,
						Granularity:    GranularityPerModel,
						PromptTemplate: "parenthesis_refinement",
						InputsRequired: []InputRule{
							{Type: InputSeedPrompt, Slug: "parenthesis", Required: true},
							{Type: InputContribution, Slug: "synthesis", Required: true, Multiple: true},
							{Type: InputFeedback, Slug: "synthesis", Required: false},
						},
						Outputs: OutputsRequired{
							Documents: docs(
								"refined_plan",
								"formalized_requirements",
								"style_guide",
								"deployment_notes",
							),
							OutputType: types.ContributionParenthesis,
						},
					},
				},
			},
			{
				Slug:        "paralysis",
				DisplayName: "Paralysis",
				DefaultPrompt: "Reflect on the full iteration: what is settled, what " +
					"remains contested, and what the next iteration should attack.",
				Steps: []Step{
					{
						Slug:           "reflection",
						ExecutionOrder: 1,
						Granularity:    GranularityPerModel,
						PromptTemplate: "paralysis_reflection",
						InputsRequired: []InputRule{
							{Type: InputSeedPrompt, Slug: "paralysis", Required: true},
							{Type: InputContribution, Slug: "parenthesis", Required: true, Multiple: true},
							{Type: InputFeedback, Slug: "parenthesis", Required: false},
						},
						Outputs: OutputsRequired{
							Documents:  docs("reflection", "next_steps"),
							OutputType: types.ContributionParalysis,
						},
					},
				},
			},
		},
	}
}
