package archive

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auilabs/aui/pkg/embedder"
	"github.com/auilabs/aui/pkg/store"
)

// fakeEmbedder derives a deterministic vector from the text so similar
// texts land close together.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  map[string]bool
}

func (f *fakeEmbedder) Model() string { return "fake-embed" }

func (f *fakeEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	vec := [3]float32{}
	for i, r := range text {
		vec[i%3] += float32(r%13) / 13
	}
	return vec[:], nil
}

func (f *fakeEmbedder) EmbedNodes(ctx context.Context, nodes []embedder.Node) ([]embedder.NodeEmbedding, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	out := make([]embedder.NodeEmbedding, 0, len(nodes))
	for _, n := range nodes {
		if f.fail != nil && f.fail[n.ID] {
			return nil, fmt.Errorf("embedding backend rejected %s", n.ID)
		}
		vec, _ := f.EmbedText(ctx, n.Text)
		out = append(out, embedder.NodeEmbedding{NodeID: n.ID, Embedding: vec})
	}
	return out, nil
}

func seedNodes(t *testing.T, s store.Store, n int, preEmbedded int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		node := &store.ArchiveNode{
			ID:         fmt.Sprintf("n%03d", i),
			Text:       fmt.Sprintf("entry number %d with enough words to pass the filter easily", i),
			SourceType: "journal",
			WordCount:  11,
		}
		require.NoError(t, s.AddNode(ctx, node))
		if i < preEmbedded {
			require.NoError(t, s.StoreEmbedding(ctx, node.ID, []float32{1, 0, 0}, "fake-embed"))
		}
	}
}

func TestEmbedAllIdempotent(t *testing.T) {
	s, err := store.NewMemory()
	require.NoError(t, err)
	seedNodes(t, s, 100, 40)

	d := NewDriver(s, &fakeEmbedder{}, nil)
	ctx := context.Background()

	var progress []Progress
	result, err := d.EmbedAll(ctx, EmbedOptions{
		BatchSize:   10,
		Concurrency: 1,
		OnProgress:  func(p Progress) { progress = append(progress, p) },
	})
	require.NoError(t, err)

	assert.Equal(t, 60, result.Embedded)
	assert.Equal(t, 40, result.Skipped)
	assert.Equal(t, 0, result.Failed)
	assert.True(t, result.Success)

	// starting + 6 batches + complete
	require.Len(t, progress, 8)
	assert.Equal(t, "starting", progress[0].Phase)
	assert.Equal(t, "complete", progress[len(progress)-1].Phase)
	assert.Equal(t, 60, progress[len(progress)-1].Processed)
	assert.Equal(t, 6, progress[len(progress)-1].TotalBatches)

	// The second run finds nothing left to embed.
	again, err := d.EmbedAll(ctx, EmbedOptions{BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Embedded)
	assert.Equal(t, 100, again.Skipped)
	assert.True(t, again.Success)

	stats, err := d.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, stats.TotalNodes)
	assert.Equal(t, 100, stats.EmbeddedNodes)
	assert.Equal(t, 0, stats.PendingNodes)
}

func TestEmbedAllFiltersShortNodes(t *testing.T) {
	s, err := store.NewMemory()
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.AddNode(ctx, &store.ArchiveNode{ID: "short", Text: "too short", WordCount: 2}))
	require.NoError(t, s.AddNode(ctx, &store.ArchiveNode{
		ID: "long", Text: "this node has plenty of words to clear the minimum", WordCount: 10}))

	d := NewDriver(s, &fakeEmbedder{}, nil)
	result, err := d.EmbedAll(ctx, EmbedOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Embedded)
	assert.Equal(t, 1, result.Skipped)
}

func TestEmbedAllBatchFailureCountsWholeBatch(t *testing.T) {
	s, err := store.NewMemory()
	require.NoError(t, err)
	seedNodes(t, s, 20, 0)

	emb := &fakeEmbedder{fail: map[string]bool{"n005": true}}
	d := NewDriver(s, emb, nil)

	result, err := d.EmbedAll(context.Background(), EmbedOptions{BatchSize: 10, Concurrency: 1})
	require.NoError(t, err)
	assert.Equal(t, 10, result.Failed)
	assert.Equal(t, 10, result.Embedded)
	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "n005")
}

func TestEmbedBatchSkipsEmbedded(t *testing.T) {
	s, err := store.NewMemory()
	require.NoError(t, err)
	seedNodes(t, s, 3, 1)

	d := NewDriver(s, &fakeEmbedder{}, nil)
	result, err := d.EmbedBatch(context.Background(), []string{"n000", "n001", "n002"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Embedded)
	assert.Equal(t, 1, result.Skipped)
}

func TestDiscoverClustersEmptyArchive(t *testing.T) {
	s, err := store.NewMemory()
	require.NoError(t, err)

	d := NewDriver(s, &fakeEmbedder{}, nil)
	result, err := d.DiscoverClusters(context.Background(), DiscoverOptions{})
	require.NoError(t, err)
	assert.Empty(t, result.Clusters)
	assert.Equal(t, 0, result.TotalPassages)
}

func TestDiscoverClustersGroupsSimilarNodes(t *testing.T) {
	s, err := store.NewMemory()
	require.NoError(t, err)
	ctx := context.Background()

	// Two tight groups far apart in embedding space.
	groups := map[string][]float32{"ocean": {1, 0, 0}, "trains": {0, 1, 0}}
	for name, base := range groups {
		for j := 0; j < 6; j++ {
			id := fmt.Sprintf("%s-%d", name, j)
			node := &store.ArchiveNode{
				ID:         id,
				Text:       fmt.Sprintf("thoughts about %s travel and weather number %d", name, j),
				SourceType: "journal",
				WordCount:  9,
			}
			require.NoError(t, s.AddNode(ctx, node))
			vec := []float32{base[0], base[1], float32(j) * 0.01}
			require.NoError(t, s.StoreEmbedding(ctx, id, vec, "fake-embed"))
		}
	}

	d := NewDriver(s, &fakeEmbedder{}, nil)
	result, err := d.DiscoverClusters(ctx, DiscoverOptions{
		MinClusterSize: 5,
		MinSimilarity:  0.9,
	})
	require.NoError(t, err)

	require.Len(t, result.Clusters, 2)
	assert.Equal(t, 12, result.TotalPassages)
	assert.Equal(t, 12, result.AssignedPassages)
	assert.Equal(t, 0, result.NoisePassages)

	for _, c := range result.Clusters {
		assert.GreaterOrEqual(t, c.TotalPassages, 5)
		assert.Greater(t, c.Coherence, 0.8)
		assert.NotEmpty(t, c.Keywords)
		assert.Equal(t, c.TotalPassages, c.SourceDistribution["journal"])
		assert.Greater(t, c.AvgWordCount, 0.0)
	}
}

func TestDiscoverClustersBadPattern(t *testing.T) {
	s, err := store.NewMemory()
	require.NoError(t, err)
	seedNodes(t, s, 5, 5)

	d := NewDriver(s, &fakeEmbedder{}, nil)
	_, err = d.DiscoverClusters(context.Background(), DiscoverOptions{ExcludePatterns: []string{"("}})
	assert.Error(t, err)
}
