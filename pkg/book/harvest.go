package book

import (
	"context"
	"sort"
	"time"
)

// HarvestOptions select passages from the embedded archive.
type HarvestOptions struct {
	Query               string     `mapstructure:"query"`
	Limit               int        `mapstructure:"limit"`
	MinRelevance        float64    `mapstructure:"min_relevance"`
	DateFrom            *time.Time `mapstructure:"date_from"`
	DateTo              *time.Time `mapstructure:"date_to"`
	ExcludeIDs          []string   `mapstructure:"exclude_ids"`
	MaxFromSingleSource int        `mapstructure:"max_from_single_source"`
}

// Harvest pulls passages from the archive by semantic similarity,
// filters by exclude list and date range, and caps how many passages a
// single source type may contribute.
func (b *Builder) Harvest(ctx context.Context, opts HarvestOptions) ([]Passage, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultMaxPassages
	}

	vec, err := b.embedder.EmbedText(ctx, opts.Query)
	if err != nil {
		return nil, bookErr("Harvest", "embed query", err)
	}

	// Over-fetch so filtering and source caps still fill the limit.
	hits, err := b.store.SearchByEmbedding(ctx, vec, opts.Limit*3, opts.MinRelevance)
	if err != nil {
		return nil, bookErr("Harvest", "search archive", err)
	}

	excluded := make(map[string]bool, len(opts.ExcludeIDs))
	for _, id := range opts.ExcludeIDs {
		excluded[id] = true
	}

	perSource := make(map[string]int)
	var out []Passage
	for _, hit := range hits {
		if excluded[hit.NodeID] {
			continue
		}
		node, err := b.store.GetNode(ctx, hit.NodeID)
		if err != nil {
			continue
		}
		if opts.DateFrom != nil && (node.SourceCreatedAt == nil || node.SourceCreatedAt.Before(*opts.DateFrom)) {
			continue
		}
		if opts.DateTo != nil && (node.SourceCreatedAt == nil || node.SourceCreatedAt.After(*opts.DateTo)) {
			continue
		}
		if opts.MaxFromSingleSource > 0 && perSource[node.SourceType] >= opts.MaxFromSingleSource {
			continue
		}
		perSource[node.SourceType]++

		out = append(out, Passage{
			NodeID:          node.ID,
			Text:            node.Text,
			SourceType:      node.SourceType,
			Relevance:       hit.Similarity,
			SourceCreatedAt: node.SourceCreatedAt,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}
