package persona

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auilabs/aui/pkg/embedder"
	"github.com/auilabs/aui/pkg/protocol"
	"github.com/auilabs/aui/pkg/store"
)

type stubAnalyzer struct {
	calls   int
	samples []string
}

func (a *stubAnalyzer) Analyze(_ context.Context, samples []string) (*Analysis, error) {
	a.calls++
	a.samples = samples
	return &Analysis{
		VoiceTraits:   []string{"wry", "observant"},
		ToneMarkers:   []string{"understatement"},
		FormalityLow:  0.2,
		FormalityHigh: 0.5,
	}, nil
}

type fixedEmbedder struct{}

func (fixedEmbedder) Model() string { return "fake-embed" }
func (fixedEmbedder) EmbedText(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}
func (fixedEmbedder) EmbedNodes(ctx context.Context, nodes []embedder.Node) ([]embedder.NodeEmbedding, error) {
	out := make([]embedder.NodeEmbedding, len(nodes))
	for i, n := range nodes {
		out[i] = embedder.NodeEmbedding{NodeID: n.ID, Embedding: []float32{1, 0}}
	}
	return out, nil
}

func newManager(t *testing.T) (*Manager, store.Store) {
	t.Helper()
	mem, err := store.NewMemory()
	require.NoError(t, err)
	return NewManager(mem, fixedEmbedder{}, &stubAnalyzer{}, nil, nil), mem
}

func TestHarvestLifecycle(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()

	h := m.StartHarvest("u1", "morning voice")
	assert.Equal(t, PhaseCollecting, h.Phase)

	_, err := m.AddSample(h.ID, "I never trust a quiet kettle.", "manual")
	require.NoError(t, err)
	_, err = m.AddSample(h.ID, "The train was late, as trains are.", "manual")
	require.NoError(t, err)

	analysis, err := m.ExtractTraits(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseAnalyzing, h.Phase)
	assert.Contains(t, analysis.VoiceTraits, "wry")

	// Adding samples after collecting fails.
	_, err = m.AddSample(h.ID, "late sample", "manual")
	assert.True(t, errors.Is(err, protocol.ErrWrongPhase))

	persona, err := m.FinalizePersona(ctx, h.ID, FinalizeOptions{SetAsDefault: true})
	require.NoError(t, err)
	assert.Equal(t, PhaseComplete, h.Phase)
	assert.Len(t, persona.ExampleTexts, 2)
	assert.True(t, persona.IsDefault)

	saved, err := s.GetDefaultPersona(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, persona.ID, saved.ID)

	traits, ok := saved.Traits.Get("voice_traits")
	require.True(t, ok)
	assert.Len(t, traits.List(), 2)

	styles, err := s.ListStyles(ctx, persona.ID)
	require.NoError(t, err)
	require.Len(t, styles, 1)
	assert.True(t, styles[0].IsDefault)

	// Completed harvests stay inspectable for the retention window.
	_, err = m.GetHarvest(h.ID)
	assert.NoError(t, err)
}

func TestExtractTraitsNoSamples(t *testing.T) {
	m, _ := newManager(t)
	h := m.StartHarvest("u1", "empty")

	_, err := m.ExtractTraits(context.Background(), h.ID)
	assert.True(t, errors.Is(err, protocol.ErrInvalidArgs))
	assert.Equal(t, PhaseCollecting, h.Phase)
}

func TestFinalizeRequiresAnalysis(t *testing.T) {
	m, _ := newManager(t)
	h := m.StartHarvest("u1", "rushed")
	_, err := m.AddSample(h.ID, "a sample", "manual")
	require.NoError(t, err)

	_, err = m.FinalizePersona(context.Background(), h.ID, FinalizeOptions{})
	assert.True(t, errors.Is(err, protocol.ErrWrongPhase))
}

func TestHarvestFromArchive(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()

	nodes := []*store.ArchiveNode{
		{ID: "n1", Text: "my own words about the sea", AuthorRole: "user", SourceType: "journal"},
		{ID: "n2", Text: "words with no author role", SourceType: "journal"},
		{ID: "n3", Text: "an assistant reply to skip", AuthorRole: "assistant", SourceType: "chat"},
	}
	for _, n := range nodes {
		require.NoError(t, s.AddNode(ctx, n))
		require.NoError(t, s.StoreEmbedding(ctx, n.ID, []float32{1, 0}, "fake-embed"))
	}

	h := m.StartHarvest("u1", "sea voice")
	added, err := m.HarvestFromArchive(ctx, h.ID, "the sea", 10, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	// Re-harvesting the same query adds nothing new.
	added, err = m.HarvestFromArchive(ctx, h.ID, "the sea", 10, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0, added)

	for _, sample := range h.Samples {
		assert.NotEqual(t, "n3", sample.ArchiveNodeID)
		assert.NotEmpty(t, sample.ArchiveNodeID)
	}
}

func TestHarvestRetentionDrop(t *testing.T) {
	m, _ := newManager(t)
	m.retainFor = 10 * time.Millisecond
	ctx := context.Background()

	h := m.StartHarvest("u1", "fleeting")
	_, err := m.AddSample(h.ID, "a sample", "manual")
	require.NoError(t, err)
	_, err = m.ExtractTraits(ctx, h.ID)
	require.NoError(t, err)
	_, err = m.FinalizePersona(ctx, h.ID, FinalizeOptions{})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := m.GetHarvest(h.ID)
		return errors.Is(err, protocol.ErrNotFound)
	}, time.Second, 10*time.Millisecond)
}
