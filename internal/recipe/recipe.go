// Package recipe models the declarative description of each pipeline stage:
// the ordered steps to run, the inputs each step may read, the outputs it must
// produce, and the fan-out granularity used to size the job DAG.
//
// Recipes are versioned configuration, loaded once and immutable at runtime.
// Job state never lives here.
package recipe

import (
	"fmt"

	"dialectica/internal/types"
)

// InputRuleType tags what kind of source an input rule resolves.
type InputRuleType string

const (
	InputDocument      InputRuleType = "document"
	InputContribution  InputRuleType = "contribution"
	InputFeedback      InputRuleType = "feedback"
	InputSeedPrompt    InputRuleType = "seed_prompt"
	InputHeaderContext InputRuleType = "header_context"
)

// InputRule declares one input requirement for a recipe step.
type InputRule struct {
	Type        InputRuleType `yaml:"type" json:"type"`
	Slug        string        `yaml:"slug,omitempty" json:"slug,omitempty"` // source stage slug; empty or "any" = no stage filter
	DocumentKey string        `yaml:"document_key,omitempty" json:"document_key,omitempty"`
	Required    bool          `yaml:"required" json:"required"`
	Multiple    bool          `yaml:"multiple,omitempty" json:"multiple,omitempty"`
}

// OutputDocument names one document key a step must produce.
type OutputDocument struct {
	DocumentKey string `yaml:"document_key" json:"document_key"`
}

// OutputsRequired declares what a step produces and how it fans out.
type OutputsRequired struct {
	// Documents lists the document keys generated per plan unit.
	Documents []OutputDocument `yaml:"documents,omitempty" json:"documents,omitempty"`

	// HeaderContext, when set, means each plan unit produces a header-context
	// artifact whose response must carry context_for_documents.
	HeaderContext *OutputDocument `yaml:"header_context,omitempty" json:"header_context,omitempty"`

	// OutputType is the contribution type registered for produced artifacts.
	OutputType types.ContributionType `yaml:"output_type" json:"output_type"`
}

// Step is one ordered unit of a stage recipe.
type Step struct {
	Slug           string          `yaml:"slug" json:"slug"`
	ExecutionOrder int             `yaml:"execution_order" json:"execution_order"`
	Granularity    string          `yaml:"granularity" json:"granularity"`
	InputsRequired []InputRule     `yaml:"inputs_required" json:"inputs_required"`
	Outputs        OutputsRequired `yaml:"outputs_required" json:"outputs_required"`
	PromptTemplate string          `yaml:"prompt_template" json:"prompt_template"`
}

// DocumentKeys returns every key the step produces, header context included.
func (s *Step) DocumentKeys() []string {
	keys := make([]string, 0, len(s.Outputs.Documents)+1)
	if s.Outputs.HeaderContext != nil {
		keys = append(keys, s.Outputs.HeaderContext.DocumentKey)
	}
	for _, d := range s.Outputs.Documents {
		keys = append(keys, d.DocumentKey)
	}
	return keys
}

// IsHeaderContext reports whether the step produces header-context artifacts.
func (s *Step) IsHeaderContext() bool {
	return s.Outputs.HeaderContext != nil
}

// Stage is one phase of the dialectic pipeline plus its active recipe.
type Stage struct {
	Slug          string `yaml:"slug" json:"slug"`
	DisplayName   string `yaml:"display_name" json:"display_name"`
	Steps         []Step `yaml:"steps" json:"steps"`
	DefaultPrompt string `yaml:"default_prompt" json:"default_prompt"`
}

// Step returns the step at the given index.
func (st *Stage) Step(index int) (*Step, error) {
	if index < 0 || index >= len(st.Steps) {
		return nil, types.NewConfigError("stage %q has no recipe step at index %d", st.Slug, index)
	}
	return &st.Steps[index], nil
}

// HasNextStep reports whether another step follows the given index.
func (st *Stage) HasNextStep(index int) bool {
	return index+1 < len(st.Steps)
}

// ProcessTemplate is the ordered stage graph for a full iteration.
type ProcessTemplate struct {
	ID     string  `yaml:"id" json:"id"`
	Name   string  `yaml:"name" json:"name"`
	Stages []Stage `yaml:"stages" json:"stages"`
}

// Stage resolves a stage by slug.
func (p *ProcessTemplate) Stage(slug string) (*Stage, error) {
	for i := range p.Stages {
		if p.Stages[i].Slug == slug {
			return &p.Stages[i], nil
		}
	}
	return nil, types.NewConfigError("process template %q has no stage %q", p.ID, slug)
}

// InitialStage returns the first stage of the pipeline.
func (p *ProcessTemplate) InitialStage() (*Stage, error) {
	if len(p.Stages) == 0 {
		return nil, types.NewConfigError("process template %q has no stages", p.ID)
	}
	return &p.Stages[0], nil
}

// NextStage resolves the transition graph: the stage following slug, or
// ok=false when slug is the terminal stage.
func (p *ProcessTemplate) NextStage(slug string) (*Stage, bool, error) {
	for i := range p.Stages {
		if p.Stages[i].Slug == slug {
			if i+1 < len(p.Stages) {
				return &p.Stages[i+1], true, nil
			}
			return nil, false, nil
		}
	}
	return nil, false, types.NewConfigError("process template %q has no stage %q", p.ID, slug)
}

// SourceStage returns the stage preceding slug, or ok=false for the first
// stage. Planners use this to locate prior-stage contributions.
func (p *ProcessTemplate) SourceStage(slug string) (*Stage, bool, error) {
	for i := range p.Stages {
		if p.Stages[i].Slug == slug {
			if i == 0 {
				return nil, false, nil
			}
			return &p.Stages[i-1], true, nil
		}
	}
	return nil, false, types.NewConfigError("process template %q has no stage %q", p.ID, slug)
}

// IsTerminal reports whether slug is the last stage of the pipeline.
func (p *ProcessTemplate) IsTerminal(slug string) bool {
	n := len(p.Stages)
	return n > 0 && p.Stages[n-1].Slug == slug
}

// Validate checks structural soundness: unique slugs, ordered steps, outputs
// present, granularity named. Called once at load time.
func (p *ProcessTemplate) Validate() error {
	if len(p.Stages) == 0 {
		return types.NewConfigError("process template %q has no stages", p.ID)
	}
	seen := make(map[string]bool, len(p.Stages))
	for _, st := range p.Stages {
		if st.Slug == "" {
			return types.NewConfigError("process template %q has a stage with no slug", p.ID)
		}
		if seen[st.Slug] {
			return types.NewConfigError("duplicate stage slug %q", st.Slug)
		}
		seen[st.Slug] = true
		if len(st.Steps) == 0 {
			return types.NewConfigError("stage %q has no recipe steps", st.Slug)
		}
		for i, step := range st.Steps {
			if step.Slug == "" {
				return types.NewConfigError("stage %q step %d has no slug", st.Slug, i)
			}
			if step.Granularity == "" {
				return types.NewConfigError("stage %q step %q has no granularity strategy", st.Slug, step.Slug)
			}
			if step.ExecutionOrder != i+1 {
				return fmt.Errorf("stage %q step %q: execution_order %d does not match position %d",
					st.Slug, step.Slug, step.ExecutionOrder, i+1)
			}
			if len(step.Outputs.Documents) == 0 && step.Outputs.HeaderContext == nil {
				return types.NewConfigError("stage %q step %q declares no outputs", st.Slug, step.Slug)
			}
			if step.Outputs.OutputType == "" {
				return types.NewConfigError("stage %q step %q has no output_type", st.Slug, step.Slug)
			}
		}
	}
	return nil
}
