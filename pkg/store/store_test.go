package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auilabs/aui/pkg/protocol"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()

	mem, err := NewMemory()
	require.NoError(t, err)

	sqlStore, err := NewSQL("sqlite", filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlStore.Close() })

	return map[string]Store{"memory": mem, "sqlite": sqlStore}
}

func TestStoreNodesAndEmbeddings(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.AddNode(ctx, &ArchiveNode{ID: "n1", Text: "first node text", WordCount: 3}))
			require.NoError(t, s.AddNode(ctx, &ArchiveNode{ID: "n2", Text: "second node text", WordCount: 3}))

			total, embedded, err := s.CountNodes(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, total)
			assert.Equal(t, 0, embedded)

			pending, err := s.GetNodesNeedingEmbeddings(ctx, 0)
			require.NoError(t, err)
			assert.Len(t, pending, 2)

			require.NoError(t, s.StoreEmbedding(ctx, "n1", []float32{1, 0, 0}, "test-model"))
			require.NoError(t, s.StoreEmbedding(ctx, "n2", []float32{0.9, 0.1, 0}, "test-model"))

			_, embedded, err = s.CountNodes(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, embedded)

			node, err := s.GetNode(ctx, "n1")
			require.NoError(t, err)
			assert.True(t, node.HasEmbedding)
			assert.Equal(t, "test-model", node.EmbeddingModel)

			vec, err := s.GetEmbedding(ctx, "n1")
			require.NoError(t, err)
			assert.Len(t, vec, 3)

			hits, err := s.SearchByEmbedding(ctx, []float32{1, 0, 0}, 10, 0.5)
			require.NoError(t, err)
			require.NotEmpty(t, hits)
			assert.Equal(t, "n1", hits[0].NodeID)
			assert.InDelta(t, 1.0, hits[0].Similarity, 1e-4)

			ids, err := s.GetRandomEmbeddedNodeIDs(ctx, 1)
			require.NoError(t, err)
			assert.Len(t, ids, 1)

			_, err = s.GetNode(ctx, "missing")
			assert.True(t, errors.Is(err, protocol.ErrNotFound))
		})
	}
}

func TestStoreSearchEmptyArchive(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			hits, err := s.SearchByEmbedding(context.Background(), []float32{1, 0}, 10, 0.5)
			require.NoError(t, err)
			assert.Empty(t, hits)
		})
	}
}

func TestStoreBooksArtifactsClusters(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()

			cluster := &Cluster{ID: "c1", Label: "memories", TotalPassages: 2, CreatedAt: now}
			require.NoError(t, s.SaveCluster(ctx, cluster))

			got, err := s.GetCluster(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, "memories", got.Label)

			clusters, err := s.ListClusters(ctx)
			require.NoError(t, err)
			assert.Len(t, clusters, 1)

			book := &Book{
				ID: "b1", Title: "A Book", UserID: "u1", ArcType: "thematic",
				Chapters:  []Chapter{{ID: "ch1", Title: "One", Content: "text", Order: 0}},
				CreatedAt: now, UpdatedAt: now,
			}
			require.NoError(t, s.SaveBook(ctx, book))

			books, err := s.ListBooks(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, books, 1)
			assert.Len(t, books[0].Chapters, 1)

			art := &Artifact{ID: "a1", BookID: "b1", Format: "markdown", ContentType: "text/markdown", Data: []byte("# A Book"), CreatedAt: now}
			require.NoError(t, s.SaveArtifact(ctx, art))

			arts, err := s.ListArtifacts(ctx, "b1")
			require.NoError(t, err)
			assert.Len(t, arts, 1)
		})
	}
}

func TestStorePersonaDefaults(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()

			require.NoError(t, s.SavePersona(ctx, &PersonaProfile{ID: "p1", UserID: "u1", Name: "first", IsDefault: true, CreatedAt: now}))
			require.NoError(t, s.SavePersona(ctx, &PersonaProfile{ID: "p2", UserID: "u1", Name: "second", IsDefault: true, CreatedAt: now.Add(time.Second)}))

			def, err := s.GetDefaultPersona(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, "p2", def.ID)

			first, err := s.GetPersona(ctx, "p1")
			require.NoError(t, err)
			assert.False(t, first.IsDefault)
		})
	}
}

func TestStoreUsageAggregation(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			delta := UsageDelta{InputTokens: 600, OutputTokens: 500, Requests: 1, CostCents: 2, Model: "claude-sonnet", Operation: "agent"}
			require.NoError(t, s.AddUsage(ctx, "u1", "2026-08-24", delta))
			require.NoError(t, s.AddUsage(ctx, "u1", "2026-08-24", delta))

			record, err := s.GetUsage(ctx, "u1", "2026-08-24")
			require.NoError(t, err)
			assert.Equal(t, int64(2200), record.TokensUsed)
			assert.Equal(t, int64(2), record.RequestCount)
			assert.Equal(t, int64(4), record.CostCents)
			assert.Equal(t, int64(2200), record.ByModel["claude-sonnet"])
			assert.Equal(t, int64(2200), record.ByOperation["agent"])

			records, err := s.ListUsage(ctx, "2026-08-01", "2026-08-31")
			require.NoError(t, err)
			assert.Len(t, records, 1)
		})
	}
}

func TestStoreCostRetention(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()

			require.NoError(t, s.SaveCostEntry(ctx, &CostEntry{ID: "e1", Timestamp: now.Add(-48 * time.Hour), Model: "m", Operation: "agent"}))
			require.NoError(t, s.SaveCostEntry(ctx, &CostEntry{ID: "e2", Timestamp: now, Model: "m", Operation: "agent"}))

			entries, err := s.ListCostEntries(ctx, now.Add(-time.Hour), time.Time{})
			require.NoError(t, err)
			assert.Len(t, entries, 1)

			pruned, err := s.PruneCostEntries(ctx, now.Add(-24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 1, pruned)

			entries, err = s.ListCostEntries(ctx, time.Time{}, time.Time{})
			require.NoError(t, err)
			assert.Len(t, entries, 1)
		})
	}
}

func TestStoreSessionSnapshots(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()

			snap := &SessionSnapshot{ID: "s1", UserID: "u1", Data: []byte(`{"id":"s1"}`), UpdatedAt: now, ExpiresAt: now.Add(time.Hour)}
			require.NoError(t, s.SaveSessionSnapshot(ctx, snap))

			got, err := s.GetSessionSnapshot(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, "u1", got.UserID)

			require.NoError(t, s.DeleteSessionSnapshot(ctx, "s1"))
			_, err = s.GetSessionSnapshot(ctx, "s1")
			assert.True(t, errors.Is(err, protocol.ErrNotFound))
		})
	}
}
