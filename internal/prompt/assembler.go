// Package prompt assembles final prompt text from gathered inputs, the stage
// recipe template, and optional domain overlays. It owns two surfaces: seed
// prompts persisted at stage entry, and per-job execute prompts built from the
// sources the gatherer resolved.
package prompt

import (
	"fmt"
	"strings"

	"dialectica/internal/logging"
	"dialectica/internal/recipe"
	"dialectica/internal/types"
)

// Assembler builds prompts. Overlays are domain-specific guidance blocks
// appended after the stage template, keyed by the project's domain id.
// Templates are step template texts keyed by the names recipes reference.
type Assembler struct {
	engine    *TemplateEngine
	overlays  map[string]string
	templates map[string]string
}

// New creates an Assembler with the default step templates registered.
func New() *Assembler {
	templates := make(map[string]string, len(defaultTemplates))
	for name, text := range defaultTemplates {
		templates[name] = text
	}
	return &Assembler{
		engine:    NewTemplateEngine(),
		overlays:  make(map[string]string),
		templates: templates,
	}
}

// RegisterOverlay adds or replaces the overlay text for a domain.
func (a *Assembler) RegisterOverlay(domainID, text string) {
	a.overlays[domainID] = text
}

// RegisterTemplate adds or replaces a step template text.
func (a *Assembler) RegisterTemplate(name, text string) {
	a.templates[name] = text
}

// Engine exposes the template engine for custom function registration.
func (a *Assembler) Engine() *TemplateEngine {
	return a.engine
}

// SeedPrompt assembles the stage's seed prompt: the stage template rendered
// with project variables, the domain overlay, the initial user prompt, and
// the prior-stage sources the recipe declares. The result is persisted once
// per stage entry and read by every EXECUTE job via the seed_prompt rule.
func (a *Assembler) SeedPrompt(project *types.Project, stage *recipe.Stage, sources *types.SourceDocuments) string {
	vars := map[string]string{
		"project_name":   project.Name,
		"initial_prompt": project.InitialPrompt,
		"domain":         project.DomainID,
		"stage":          stage.Slug,
		"stage_name":     stage.DisplayName,
	}

	var b strings.Builder
	b.WriteString(a.engine.Process(stage.DefaultPrompt, vars))

	if overlay, ok := a.overlays[project.DomainID]; ok && overlay != "" {
		b.WriteString("\n\n")
		b.WriteString(a.engine.Process(overlay, vars))
	}

	b.WriteString("\n\n## Initial User Prompt\n\n")
	b.WriteString(project.InitialPrompt)

	if sources != nil {
		writeSourceSections(&b, sources)
	}

	logging.PromptDebug("assembled seed prompt for stage %s (%d chars)", stage.Slug, b.Len())
	return b.String()
}

// ExecuteRequest carries everything needed to build one job's prompt.
type ExecuteRequest struct {
	Step    *recipe.Step
	Payload *types.ExecutePayload
	Sources *types.SourceDocuments

	// PartialContent, when set, turns this into a continuation prompt: the
	// model is shown its prior output and asked to resume where it stopped.
	PartialContent string
}

// ExecutePrompt builds the final prompt for one EXECUTE job. Section order:
// seed prompt, step template, gathered documents, same-model header context,
// same-model feedback, output instructions, continuation tail.
func (a *Assembler) ExecutePrompt(req ExecuteRequest) (string, error) {
	if req.Step == nil || req.Payload == nil {
		return "", types.NewConfigError("execute prompt requires a recipe step and payload")
	}

	vars := map[string]string{
		"stage":        req.Payload.StageSlug,
		"step":         req.Step.Slug,
		"model_id":     req.Payload.ModelID,
		"document_key": req.Payload.DocumentKey,
	}
	if rel := req.Payload.Relationships; rel != nil {
		vars["source_group"] = rel.SourceGroup
		vars["source_model_id"] = rel.SourceGroup
		vars["paired_model_id"] = rel.PairedModelID
	}

	var b strings.Builder
	if req.Sources != nil && req.Sources.SeedPrompt != "" {
		b.WriteString(req.Sources.SeedPrompt)
		b.WriteString("\n\n")
	}

	if req.Step.PromptTemplate != "" {
		text, ok := a.templates[req.Step.PromptTemplate]
		if !ok {
			return "", types.NewConfigError("step %q references unknown prompt template %q",
				req.Step.Slug, req.Step.PromptTemplate)
		}
		if missing := a.engine.MissingVars(text, vars); len(missing) > 0 {
			return "", types.NewConfigError("prompt template %q references unknown variables: %s",
				req.Step.PromptTemplate, strings.Join(missing, ", "))
		}
		b.WriteString(a.engine.Process(text, vars))
		b.WriteString("\n\n")
	}

	if req.Sources != nil {
		writeSourceSections(&b, req.Sources)
	}

	b.WriteString("\n\n")
	writeOutputInstructions(&b, req.Step, req.Payload)

	if req.PartialContent != "" {
		b.WriteString("\n\n## Continuation\n\n")
		b.WriteString("Your previous response was cut off before completion. ")
		b.WriteString("It ended with:\n\n")
		b.WriteString(tail(req.PartialContent, 2000))
		b.WriteString("\n\nContinue exactly from where the text stops. ")
		b.WriteString("Do not repeat any content you already produced.")
	}

	logging.PromptDebug("assembled execute prompt for %s/%s (%d chars)",
		req.Payload.StageSlug, req.Payload.DocumentKey, b.Len())
	return b.String(), nil
}

func writeSourceSections(b *strings.Builder, sources *types.SourceDocuments) {
	if len(sources.Documents) > 0 {
		b.WriteString("\n\n## Source Documents\n")
		for _, doc := range sources.Documents {
			fmt.Fprintf(b, "\n### %s (%s, by %s)\n\n%s\n",
				doc.DocumentKey, doc.StageSlug, orUnknown(doc.ModelID), doc.Content)
		}
	}
	if len(sources.HeaderContext) > 0 {
		b.WriteString("\n\n## Working Context\n")
		for _, doc := range sources.HeaderContext {
			fmt.Fprintf(b, "\n%s\n", doc.Content)
		}
	}
	if len(sources.Feedback) > 0 {
		b.WriteString("\n\n## User Feedback\n")
		for _, doc := range sources.Feedback {
			fmt.Fprintf(b, "\n### Feedback on %s\n\n%s\n", doc.DocumentKey, doc.Content)
		}
	}
}

func writeOutputInstructions(b *strings.Builder, step *recipe.Step, payload *types.ExecutePayload) {
	b.WriteString("## Output Instructions\n\n")
	if step.IsHeaderContext() && step.Outputs.HeaderContext.DocumentKey == payload.DocumentKey {
		keys := make([]string, 0, len(step.Outputs.Documents))
		for _, d := range step.Outputs.Documents {
			keys = append(keys, d.DocumentKey)
		}
		b.WriteString("Respond with a single JSON object of the shape:\n\n")
		b.WriteString("```json\n{\n  \"context_for_documents\": [\n    {\"document_key\": \"<key>\", \"content\": \"<context>\"}\n  ]\n}\n```\n\n")
		if len(keys) > 0 {
			fmt.Fprintf(b, "Provide one entry per document key: %s.\n", strings.Join(keys, ", "))
		}
		b.WriteString("Do not include any text outside the JSON object.")
		return
	}
	fmt.Fprintf(b, "Produce the complete %q document in markdown. ", payload.DocumentKey)
	b.WriteString("Respond with the document content only, no preamble.")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// tail returns the last n bytes of s, cut at a line boundary where possible.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[len(s)-n:]
	if i := strings.IndexByte(cut, '\n'); i >= 0 && i < len(cut)-1 {
		return cut[i+1:]
	}
	return cut
}
