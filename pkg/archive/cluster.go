package archive

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/auilabs/aui/pkg/protocol"
	"github.com/auilabs/aui/pkg/store"
)

const (
	defaultSampleSize     = 500
	defaultMaxClusters    = 10
	defaultMinClusterSize = 5
	defaultMinSimilarity  = 0.7

	maxSeeds         = 100
	neighborLimit    = 100
	keywordCount     = 10
	keywordMinLength = 5
)

// DiscoverOptions tune a cluster discovery run.
type DiscoverOptions struct {
	SampleSize      int
	MaxClusters     int
	MinClusterSize  int
	MinSimilarity   float64
	MinWordCount    int
	ExcludePatterns []string
	SourceTypes     []string
	AuthorRoles     []string
}

// DiscoverResult carries the found clusters and coverage counts.
type DiscoverResult struct {
	Clusters         []*store.Cluster `json:"clusters"`
	TotalPassages    int              `json:"total_passages"`
	AssignedPassages int              `json:"assigned_passages"`
	NoisePassages    int              `json:"noise_passages"`
}

// DiscoverClusters samples embedded nodes and grows clusters from seeds by
// cosine-similarity neighborhoods. An empty archive yields an empty result,
// not an error.
func (d *Driver) DiscoverClusters(ctx context.Context, opts DiscoverOptions) (*DiscoverResult, error) {
	if opts.SampleSize <= 0 {
		opts.SampleSize = defaultSampleSize
	}
	if opts.MaxClusters <= 0 {
		opts.MaxClusters = defaultMaxClusters
	}
	if opts.MinClusterSize <= 0 {
		opts.MinClusterSize = defaultMinClusterSize
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = defaultMinSimilarity
	}

	sampleIDs, err := d.store.GetRandomEmbeddedNodeIDs(ctx, opts.SampleSize)
	if err != nil {
		return nil, protocol.NewComponentError("archive", "DiscoverClusters", "sample nodes", err)
	}
	if len(sampleIDs) == 0 {
		return &DiscoverResult{}, nil
	}

	excludes, err := compilePatterns(opts.ExcludePatterns)
	if err != nil {
		return nil, err
	}

	var candidates []*store.ArchiveNode
	for _, id := range sampleIDs {
		node, err := d.store.GetNode(ctx, id)
		if err != nil {
			continue
		}
		if d.clusterFiltered(node, opts, excludes) {
			continue
		}
		candidates = append(candidates, node)
	}

	result := &DiscoverResult{TotalPassages: len(candidates)}
	assigned := make(map[string]bool)

	seedCount := len(candidates)
	if seedCount > maxSeeds {
		seedCount = maxSeeds
	}

	for _, seed := range candidates[:seedCount] {
		if len(result.Clusters) >= opts.MaxClusters {
			break
		}
		if assigned[seed.ID] {
			continue
		}

		vec, err := d.store.GetEmbedding(ctx, seed.ID)
		if err != nil {
			continue
		}

		hits, err := d.store.SearchByEmbedding(ctx, vec, neighborLimit, opts.MinSimilarity)
		if err != nil {
			return nil, protocol.NewComponentError("archive", "DiscoverClusters",
				fmt.Sprintf("neighbors of %s", seed.ID), err)
		}

		var members []store.ClusterPassage
		members = append(members, store.ClusterPassage{NodeID: seed.ID, Similarity: 1})
		for _, hit := range hits {
			if hit.NodeID == seed.ID || assigned[hit.NodeID] {
				continue
			}
			members = append(members, store.ClusterPassage{NodeID: hit.NodeID, Similarity: hit.Similarity})
		}

		if len(members) < opts.MinClusterSize {
			continue
		}

		cluster, err := d.materializeCluster(ctx, members)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			assigned[m.NodeID] = true
		}
		result.Clusters = append(result.Clusters, cluster)
	}

	for _, node := range candidates {
		if assigned[node.ID] {
			result.AssignedPassages++
		}
	}
	result.NoisePassages = result.TotalPassages - result.AssignedPassages
	return result, nil
}

func (d *Driver) materializeCluster(ctx context.Context, members []store.ClusterPassage) (*store.Cluster, error) {
	cluster := &store.Cluster{
		ID:                 uuid.NewString(),
		Passages:           members,
		TotalPassages:      len(members),
		SourceDistribution: make(map[string]int),
		CreatedAt:          time.Now(),
	}

	var (
		simSum     float64
		simCount   int
		wordSum    int
		wordCountN int
		tokenFreq  = make(map[string]int)
		texts      []string
	)

	for _, m := range members {
		if m.Similarity < 1 {
			simSum += m.Similarity
			simCount++
		}

		node, err := d.store.GetNode(ctx, m.NodeID)
		if err != nil {
			continue
		}

		cluster.SourceDistribution[node.SourceType]++
		wordSum += wordCount(node)
		wordCountN++
		texts = append(texts, node.Text)

		for _, token := range strings.Fields(strings.ToLower(node.Text)) {
			token = strings.Trim(token, ".,;:!?\"'()[]")
			if len(token) >= keywordMinLength {
				tokenFreq[token]++
			}
		}

		if node.SourceCreatedAt != nil {
			t := *node.SourceCreatedAt
			if cluster.DateFrom == nil || t.Before(*cluster.DateFrom) {
				cluster.DateFrom = &t
			}
			if cluster.DateTo == nil || t.After(*cluster.DateTo) {
				cluster.DateTo = &t
			}
		}
	}

	if simCount > 0 {
		cluster.Coherence = simSum / float64(simCount)
	}
	if wordCountN > 0 {
		cluster.AvgWordCount = float64(wordSum) / float64(wordCountN)
	}
	cluster.Keywords = topKeywords(tokenFreq, keywordCount)

	if len(cluster.Keywords) > 0 {
		cluster.Label = strings.Join(cluster.Keywords[:min(3, len(cluster.Keywords))], ", ")
	} else if len(texts) > 0 {
		cluster.Label = truncateLabel(texts[0], 60)
	}
	cluster.Description = fmt.Sprintf("%d passages, coherence %.2f", cluster.TotalPassages, cluster.Coherence)
	return cluster, nil
}

func (d *Driver) clusterFiltered(node *store.ArchiveNode, opts DiscoverOptions, excludes []*regexp.Regexp) bool {
	if opts.MinWordCount > 0 && wordCount(node) < opts.MinWordCount {
		return true
	}
	if len(opts.SourceTypes) > 0 && !contains(opts.SourceTypes, node.SourceType) {
		return true
	}
	if len(opts.AuthorRoles) > 0 && !contains(opts.AuthorRoles, node.AuthorRole) {
		return true
	}
	for _, re := range excludes {
		if re.MatchString(node.Text) {
			return true
		}
	}
	return false
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, protocol.NewComponentError("archive", "DiscoverClusters",
				fmt.Sprintf("bad exclude pattern %q", p), protocol.ErrInvalidArgs)
		}
		out = append(out, re)
	}
	return out, nil
}

func topKeywords(freq map[string]int, n int) []string {
	type kv struct {
		token string
		count int
	}
	pairs := make([]kv, 0, len(freq))
	for token, count := range freq {
		pairs = append(pairs, kv{token, count})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		return pairs[i].token < pairs[j].token
	})

	if len(pairs) > n {
		pairs = pairs[:n]
	}
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.token
	}
	return out
}

func truncateLabel(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
