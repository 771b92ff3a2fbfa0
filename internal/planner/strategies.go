package planner

import (
	"sort"

	"dialectica/internal/recipe"
	"dialectica/internal/types"
)

// Unit is one granule of work a strategy carves out of a plan step. Each unit
// fans out into one EXECUTE job per output document key.
type Unit struct {
	// Relationships carries the lineage stamped onto every contribution the
	// unit produces: SourceGroup is the origin model whose documents the unit
	// works from, PairedModelID the second axis for three-way pairings.
	Relationships *types.DocumentRelationships

	// SourceIDs are the contribution ids the unit's jobs may read. The
	// gatherer enforces this allow-list at execution time.
	SourceIDs []string
}

// StrategyRequest is the input to a granularity strategy.
type StrategyRequest struct {
	ModelID string
	Models  []string
	Step    *recipe.Step

	// Sources holds prior-stage latest contributions (metadata plus content,
	// though strategies only read metadata). Header contexts, seed prompts,
	// and feedback are already filtered out.
	Sources []*types.Contribution
}

// Strategy decides how a plan step fans out into units.
type Strategy interface {
	Name() string
	Units(req StrategyRequest) ([]Unit, error)
}

// =============================================================================
// PER MODEL
// =============================================================================

// perModel emits exactly one unit: the executing model works alone over
// whatever the gatherer resolves. Used by thesis, parenthesis, and paralysis.
type perModel struct{}

func (perModel) Name() string { return recipe.GranularityPerModel }

func (perModel) Units(req StrategyRequest) ([]Unit, error) {
	return []Unit{{}}, nil
}

// =============================================================================
// PAIRWISE BY ORIGIN
// =============================================================================

// pairwiseByOrigin emits one unit per origin model found in the sources: the
// executing model processes each origin's document set separately. With N
// models planning against N origins this yields N^2 units session-wide.
type pairwiseByOrigin struct{}

func (pairwiseByOrigin) Name() string { return recipe.GranularityPairwiseOrigin }

func (pairwiseByOrigin) Units(req StrategyRequest) ([]Unit, error) {
	byOrigin := groupByModel(req.Sources)
	if len(byOrigin) == 0 {
		return nil, types.NewValidationError(
			"pairwise_by_origin step %q has no source documents to pair against", req.Step.Slug)
	}

	units := make([]Unit, 0, len(byOrigin))
	for _, origin := range sortedKeys(byOrigin) {
		units = append(units, Unit{
			Relationships: &types.DocumentRelationships{SourceGroup: origin},
			SourceIDs:     contributionIDs(byOrigin[origin]),
		})
	}
	return units, nil
}

// =============================================================================
// PER SOURCE GROUP
// =============================================================================

// perSourceGroup emits one unit per (origin author, critic) pairing: the
// executing model reconciles each author's documents with each critic's
// critiques of that author. N authors x N critics gives N^2 units per
// executing model, N^3 session-wide.
type perSourceGroup struct{}

func (perSourceGroup) Name() string { return recipe.GranularityPerSourceGroup }

func (perSourceGroup) Units(req StrategyRequest) ([]Unit, error) {
	var originals, critiques []*types.Contribution
	for _, c := range req.Sources {
		if c.Relationships != nil && c.Relationships.SourceGroup != "" {
			critiques = append(critiques, c)
		} else {
			originals = append(originals, c)
		}
	}
	byAuthor := groupByModel(originals)
	if len(byAuthor) == 0 || len(critiques) == 0 {
		return nil, types.NewValidationError(
			"per_source_group step %q needs both original documents and grouped critiques", req.Step.Slug)
	}

	// critiques keyed by (author, critic)
	critiquesFor := make(map[string]map[string][]*types.Contribution)
	for _, c := range critiques {
		author := c.Relationships.SourceGroup
		if critiquesFor[author] == nil {
			critiquesFor[author] = make(map[string][]*types.Contribution)
		}
		critiquesFor[author][c.ModelID] = append(critiquesFor[author][c.ModelID], c)
	}

	var units []Unit
	for _, author := range sortedKeys(byAuthor) {
		critics := critiquesFor[author]
		for _, critic := range sortedKeys(critics) {
			ids := contributionIDs(byAuthor[author])
			ids = append(ids, contributionIDs(critics[critic])...)
			units = append(units, Unit{
				Relationships: &types.DocumentRelationships{
					SourceGroup:   author,
					PairedModelID: critic,
				},
				SourceIDs: ids,
			})
		}
	}
	return units, nil
}

// =============================================================================
// PER SOURCE DOCUMENT
// =============================================================================

// perSourceDocument emits one unit per individual source document.
type perSourceDocument struct{}

func (perSourceDocument) Name() string { return recipe.GranularityPerSourceDoc }

func (perSourceDocument) Units(req StrategyRequest) ([]Unit, error) {
	if len(req.Sources) == 0 {
		return nil, types.NewValidationError(
			"per_source_document step %q has no source documents", req.Step.Slug)
	}
	sorted := append([]*types.Contribution(nil), req.Sources...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	units := make([]Unit, 0, len(sorted))
	for _, c := range sorted {
		units = append(units, Unit{
			Relationships: &types.DocumentRelationships{
				SourceDocumentID: c.ID,
				SourceGroup:      c.ModelID,
			},
			SourceIDs: []string{c.ID},
		})
	}
	return units, nil
}

func groupByModel(contribs []*types.Contribution) map[string][]*types.Contribution {
	out := make(map[string][]*types.Contribution)
	for _, c := range contribs {
		out[c.ModelID] = append(out[c.ModelID], c)
	}
	return out
}

func contributionIDs(contribs []*types.Contribution) []string {
	ids := make([]string, len(contribs))
	for i, c := range contribs {
		ids[i] = c.ID
	}
	return ids
}

func sortedKeys(m map[string][]*types.Contribution) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
