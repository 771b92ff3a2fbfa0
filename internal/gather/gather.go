// Package gather resolves a recipe step's declared inputs into the concrete
// source documents a model call may read. Scoping rules are strict: feedback
// and header context are only ever gathered for the same model the job
// executes for, so one model's context never bleeds into another's prompt.
package gather

import (
	"fmt"

	"dialectica/internal/artifact"
	"dialectica/internal/logging"
	"dialectica/internal/recipe"
	"dialectica/internal/store"
	"dialectica/internal/types"
)

// Request identifies the job context inputs are gathered for.
type Request struct {
	ProjectID string
	SessionID string
	StageSlug string
	Iteration int

	// ModelID is the model the executing job is scoped to. Feedback and
	// header_context rules resolve against this model only.
	ModelID string

	// AllowedIDs, when non-empty, restricts document and contribution rules
	// to the artifact ids the planner resolved into the job payload.
	AllowedIDs map[string]bool
}

// Gatherer loads source documents from the relational store and blob store.
type Gatherer struct {
	store *store.Store
	files *artifact.FileStore
}

// New returns a Gatherer over the given stores.
func New(s *store.Store, files *artifact.FileStore) *Gatherer {
	return &Gatherer{store: s, files: files}
}

// Gather resolves every input rule into loaded source documents, grouped by
// rule kind. A required rule that matches nothing fails the job with a
// validation error; optional rules are skipped silently.
func (g *Gatherer) Gather(req Request, rules []recipe.InputRule) (*types.SourceDocuments, error) {
	out := &types.SourceDocuments{}
	if len(rules) == 0 {
		return out, nil
	}

	seenPaths := make(map[string]bool)
	for _, rule := range rules {
		docs, err := g.gatherRule(req, rule)
		if err != nil {
			return nil, err
		}
		if len(docs) == 0 {
			if rule.Required {
				return nil, types.NewValidationError(
					"required input of type %q (stage %q, key %q) not found for model %s",
					rule.Type, rule.Slug, rule.DocumentKey, req.ModelID)
			}
			logging.GatherDebug("optional input %s/%s matched nothing, skipping", rule.Type, rule.DocumentKey)
			continue
		}

		if rule.Type == recipe.InputSeedPrompt {
			out.SeedPrompt = docs[0].Content
			continue
		}

		for _, doc := range docs {
			pathKey := doc.ID + "|" + doc.DocumentKey
			if seenPaths[pathKey] {
				continue
			}
			seenPaths[pathKey] = true
			switch rule.Type {
			case recipe.InputFeedback:
				out.Feedback = append(out.Feedback, doc)
			case recipe.InputHeaderContext:
				out.HeaderContext = append(out.HeaderContext, doc)
			default:
				out.Documents = append(out.Documents, doc)
			}
		}
	}

	logging.Gather("gathered %d documents, %d feedback, %d header contexts for model %s (%s/%s)",
		len(out.Documents), len(out.Feedback), len(out.HeaderContext),
		req.ModelID, req.SessionID, req.StageSlug)
	return out, nil
}

func (g *Gatherer) gatherRule(req Request, rule recipe.InputRule) ([]types.SourceDocument, error) {
	switch rule.Type {
	case recipe.InputDocument, recipe.InputContribution:
		return g.gatherContributions(req, rule)
	case recipe.InputFeedback:
		return g.gatherFeedback(req, rule)
	case recipe.InputHeaderContext:
		return g.gatherHeaderContext(req, rule)
	case recipe.InputSeedPrompt:
		return g.gatherSeedPrompt(req, rule)
	default:
		return nil, types.NewConfigError("unsupported input rule type %q", rule.Type)
	}
}

// gatherContributions resolves document and contribution rules. These are
// deliberately not model-scoped: cross-model reading is what the dialectic
// stages are for. Header-context artifacts are excluded unless asked for by
// key; they have their own rule type with stricter scoping.
func (g *Gatherer) gatherContributions(req Request, rule recipe.InputRule) ([]types.SourceDocument, error) {
	filter := store.ContributionFilter{
		StageSlug:   stageFilter(rule.Slug),
		DocumentKey: rule.DocumentKey,
	}
	contribs, err := g.store.LatestContributions(req.SessionID, req.Iteration, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to gather %s inputs: %w", rule.Type, err)
	}

	var out []types.SourceDocument
	for _, c := range contribs {
		if c.Type == types.ContributionHeaderContext && rule.DocumentKey == "" {
			continue
		}
		if c.Type == types.ContributionSeedPrompt || c.Type == types.ContributionFeedback {
			continue
		}
		if len(req.AllowedIDs) > 0 && !req.AllowedIDs[c.ID] {
			continue
		}
		doc, err := g.loadContribution(c)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

// gatherFeedback resolves feedback rows for the executing model only.
func (g *Gatherer) gatherFeedback(req Request, rule recipe.InputRule) ([]types.SourceDocument, error) {
	stage := stageFilter(rule.Slug)
	if stage == "" {
		stage = req.StageSlug
	}
	feedback, err := g.store.ListFeedback(req.SessionID, stage, req.Iteration, req.ModelID)
	if err != nil {
		return nil, fmt.Errorf("failed to gather feedback inputs: %w", err)
	}

	var out []types.SourceDocument
	for _, f := range feedback {
		if rule.DocumentKey != "" && f.DocumentKey != rule.DocumentKey {
			continue
		}
		content, err := g.files.Read(f.FullPath())
		if err != nil {
			return nil, fmt.Errorf("failed to read feedback %s: %w", f.ID, err)
		}
		out = append(out, types.SourceDocument{
			ID:          f.ID,
			Type:        types.ContributionFeedback,
			StageSlug:   f.StageSlug,
			Iteration:   f.Iteration,
			ModelID:     f.ModelID,
			DocumentKey: f.DocumentKey,
			Content:     string(content),
			CreatedAt:   f.CreatedAt,
		})
	}
	return out, nil
}

// gatherHeaderContext resolves header-context artifacts produced by the SAME
// model the job executes for. A pairwise step that needs another origin's
// header context carries that in the payload relationships, never here.
func (g *Gatherer) gatherHeaderContext(req Request, rule recipe.InputRule) ([]types.SourceDocument, error) {
	if req.ModelID == "" {
		return nil, types.NewValidationError("header_context rule requires a model-scoped job")
	}
	contribs, err := g.store.LatestContributions(req.SessionID, req.Iteration, store.ContributionFilter{
		StageSlug: stageFilter(rule.Slug),
		ModelID:   req.ModelID,
		Type:      types.ContributionHeaderContext,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to gather header context: %w", err)
	}

	var out []types.SourceDocument
	for _, c := range contribs {
		doc, err := g.loadContribution(c)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

// gatherSeedPrompt resolves the stage's persisted seed prompt.
func (g *Gatherer) gatherSeedPrompt(req Request, rule recipe.InputRule) ([]types.SourceDocument, error) {
	stage := stageFilter(rule.Slug)
	if stage == "" {
		stage = req.StageSlug
	}
	contribs, err := g.store.LatestContributions(req.SessionID, req.Iteration, store.ContributionFilter{
		StageSlug: stage,
		Type:      types.ContributionSeedPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to gather seed prompt: %w", err)
	}
	if len(contribs) == 0 {
		return nil, nil
	}
	doc, err := g.loadContribution(contribs[0])
	if err != nil {
		return nil, err
	}
	return []types.SourceDocument{doc}, nil
}

func (g *Gatherer) loadContribution(c *types.Contribution) (types.SourceDocument, error) {
	content, err := g.files.Read(c.FullPath())
	if err != nil {
		return types.SourceDocument{}, fmt.Errorf("failed to read contribution %s content: %w", c.ID, err)
	}
	return types.SourceDocument{
		ID:            c.ID,
		Type:          c.Type,
		StageSlug:     c.StageSlug,
		Iteration:     c.Iteration,
		ModelID:       c.ModelID,
		DocumentKey:   c.DocumentKey,
		Content:       string(content),
		Relationships: c.Relationships,
		CreatedAt:     c.CreatedAt,
	}, nil
}

func stageFilter(slug string) string {
	if slug == "any" {
		return ""
	}
	return slug
}
