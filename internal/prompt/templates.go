package prompt

// Default step template texts, keyed by the template names the compiled-in
// recipes reference. Registered into every new Assembler; callers may replace
// them via RegisterTemplate.
var defaultTemplates = map[string]string{
	"thesis_header_context": "You are {{model_id}}, preparing to draft the {{stage}} stage proposals. " +
		"Summarize, for each document you are about to write, the shared context it should build on.",

	"thesis_proposals": "You are {{model_id}}. Draft the {{document_key}} document for this project, " +
		"taking an independent position. Be concrete and complete.",

	"antithesis_header_context": "You are {{model_id}}, preparing to critique the proposals produced by " +
		"{{source_model_id}}. Summarize the context each critique document should build on.",

	"antithesis_critiques": "You are {{model_id}}. Write the {{document_key}} critique of the proposals " +
		"produced by {{source_model_id}}. Be rigorous and specific; cite the source documents.",

	"synthesis_pairwise": "You are {{model_id}}. Reconcile the original proposals by {{source_model_id}} " +
		"with the critiques by {{paired_model_id}} into the {{document_key}} document. " +
		"Resolve conflicts explicitly rather than averaging positions.",

	"parenthesis_refinement": "You are {{model_id}}. Refine and formalize the synthesized material into " +
		"the {{document_key}} document. Close gaps, remove contradictions, and make it implementation-ready.",

	"paralysis_reflection": "You are {{model_id}}. Reflect on the full pipeline output and produce the " +
		"{{document_key}} document: what is settled, what remains uncertain, and what should happen next.",
}
