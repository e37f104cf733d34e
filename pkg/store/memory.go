package store

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/auilabs/aui/pkg/protocol"
)

const vectorCollection = "archive"

// Memory is the in-memory Store. Vector search is delegated to an embedded
// chromem-go collection; everything else lives in locked maps. Suitable for
// development, tests and single-instance deployments.
type Memory struct {
	mu sync.RWMutex

	sessions   map[string]*SessionSnapshot
	nodes      map[string]*ArchiveNode
	embeddings map[string][]float32
	clusters   map[string]*Cluster
	books      map[string]*Book
	artifacts  map[string]*Artifact
	personas   map[string]*PersonaProfile
	styles     map[string]*StyleProfile
	costs      []*CostEntry
	usage      map[string]*UsageRecord // key: userID + "|" + period

	vectors *chromem.Collection
}

// NewMemory creates an empty in-memory store.
func NewMemory() (*Memory, error) {
	db := chromem.NewDB()
	col, err := db.GetOrCreateCollection(vectorCollection, nil, func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("vectors must be pre-computed")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create vector collection: %w", err)
	}

	return &Memory{
		sessions:   make(map[string]*SessionSnapshot),
		nodes:      make(map[string]*ArchiveNode),
		embeddings: make(map[string][]float32),
		clusters:   make(map[string]*Cluster),
		books:      make(map[string]*Book),
		artifacts:  make(map[string]*Artifact),
		personas:   make(map[string]*PersonaProfile),
		styles:     make(map[string]*StyleProfile),
		usage:      make(map[string]*UsageRecord),
		vectors:    col,
	}, nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, protocol.ErrNotFound)
}

func usageKey(userID, period string) string { return userID + "|" + period }

// ---------------------------------------------------------------------------
// Sessions

func (m *Memory) SaveSessionSnapshot(ctx context.Context, snap *SessionSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *snap
	m.sessions[snap.ID] = &copied
	return nil
}

func (m *Memory) GetSessionSnapshot(ctx context.Context, id string) (*SessionSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.sessions[id]
	if !ok {
		return nil, notFound("session snapshot", id)
	}
	copied := *snap
	return &copied, nil
}

func (m *Memory) DeleteSessionSnapshot(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// ---------------------------------------------------------------------------
// Archive nodes and embeddings

func (m *Memory) AddNode(ctx context.Context, node *ArchiveNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *node
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	m.nodes[node.ID] = &copied
	return nil
}

func (m *Memory) GetNode(ctx context.Context, id string) (*ArchiveNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	node, ok := m.nodes[id]
	if !ok {
		return nil, notFound("archive node", id)
	}
	copied := *node
	return &copied, nil
}

func (m *Memory) CountNodes(ctx context.Context) (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	embedded := 0
	for _, node := range m.nodes {
		if node.HasEmbedding {
			embedded++
		}
	}
	return len(m.nodes), embedded, nil
}

func (m *Memory) GetNodesNeedingEmbeddings(ctx context.Context, limit int) ([]*ArchiveNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ArchiveNode
	for _, node := range m.nodes {
		if node.HasEmbedding {
			continue
		}
		copied := *node
		out = append(out, &copied)
	}
	// Deterministic order for stable batching.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) GetRandomEmbeddedNodeIDs(ctx context.Context, n int) ([]string, error) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.nodes))
	for id, node := range m.nodes {
		if node.HasEmbedding {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	if n > 0 && len(ids) > n {
		ids = ids[:n]
	}
	return ids, nil
}

func (m *Memory) StoreEmbedding(ctx context.Context, nodeID string, vec []float32, model string) error {
	m.mu.Lock()
	node, ok := m.nodes[nodeID]
	if !ok {
		m.mu.Unlock()
		return notFound("archive node", nodeID)
	}
	node.HasEmbedding = true
	node.EmbeddingModel = model
	m.embeddings[nodeID] = append([]float32(nil), vec...)
	m.mu.Unlock()

	doc := chromem.Document{ID: nodeID, Content: node.Text, Embedding: vec}
	if err := m.vectors.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to index embedding: %w", err)
	}
	return nil
}

func (m *Memory) GetEmbedding(ctx context.Context, nodeID string) ([]float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	vec, ok := m.embeddings[nodeID]
	if !ok {
		return nil, notFound("embedding", nodeID)
	}
	return append([]float32(nil), vec...), nil
}

func (m *Memory) SearchByEmbedding(ctx context.Context, vec []float32, limit int, threshold float64) ([]Neighbor, error) {
	count := m.vectors.Count()
	if count == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > count {
		limit = count
	}

	results, err := m.vectors.QueryEmbedding(ctx, vec, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	out := make([]Neighbor, 0, len(results))
	for _, r := range results {
		sim := float64(r.Similarity)
		if sim < threshold {
			continue
		}
		out = append(out, Neighbor{NodeID: r.ID, Similarity: sim})
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Clusters

func (m *Memory) SaveCluster(ctx context.Context, c *Cluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *c
	m.clusters[c.ID] = &copied
	return nil
}

func (m *Memory) GetCluster(ctx context.Context, id string) (*Cluster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clusters[id]
	if !ok {
		return nil, notFound("cluster", id)
	}
	copied := *c
	return &copied, nil
}

func (m *Memory) ListClusters(ctx context.Context) ([]*Cluster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Cluster, 0, len(m.clusters))
	for _, c := range m.clusters {
		copied := *c
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ---------------------------------------------------------------------------
// Books and artifacts

func (m *Memory) SaveBook(ctx context.Context, b *Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *b
	m.books[b.ID] = &copied
	return nil
}

func (m *Memory) GetBook(ctx context.Context, id string) (*Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	if !ok {
		return nil, notFound("book", id)
	}
	copied := *b
	return &copied, nil
}

func (m *Memory) ListBooks(ctx context.Context, userID string) ([]*Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Book, 0, len(m.books))
	for _, b := range m.books {
		if userID != "" && b.UserID != userID {
			continue
		}
		copied := *b
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) SaveArtifact(ctx context.Context, a *Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *a
	m.artifacts[a.ID] = &copied
	return nil
}

func (m *Memory) GetArtifact(ctx context.Context, id string) (*Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.artifacts[id]
	if !ok {
		return nil, notFound("artifact", id)
	}
	copied := *a
	return &copied, nil
}

func (m *Memory) ListArtifacts(ctx context.Context, bookID string) ([]*Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Artifact, 0)
	for _, a := range m.artifacts {
		if bookID != "" && a.BookID != bookID {
			continue
		}
		copied := *a
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ---------------------------------------------------------------------------
// Personas and styles

func (m *Memory) SavePersona(ctx context.Context, p *PersonaProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.IsDefault {
		// Only one default per user.
		for _, existing := range m.personas {
			if existing.UserID == p.UserID && existing.ID != p.ID {
				existing.IsDefault = false
			}
		}
	}
	copied := *p
	m.personas[p.ID] = &copied
	return nil
}

func (m *Memory) GetPersona(ctx context.Context, id string) (*PersonaProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.personas[id]
	if !ok {
		return nil, notFound("persona", id)
	}
	copied := *p
	return &copied, nil
}

func (m *Memory) GetDefaultPersona(ctx context.Context, userID string) (*PersonaProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.personas {
		if p.UserID == userID && p.IsDefault {
			copied := *p
			return &copied, nil
		}
	}
	return nil, notFound("default persona for user", userID)
}

func (m *Memory) ListPersonas(ctx context.Context, userID string) ([]*PersonaProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*PersonaProfile, 0)
	for _, p := range m.personas {
		if userID != "" && p.UserID != userID {
			continue
		}
		copied := *p
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) SaveStyle(ctx context.Context, s *StyleProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *s
	m.styles[s.ID] = &copied
	return nil
}

func (m *Memory) ListStyles(ctx context.Context, personaID string) ([]*StyleProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*StyleProfile, 0)
	for _, s := range m.styles {
		if personaID != "" && s.PersonaID != personaID {
			continue
		}
		copied := *s
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---------------------------------------------------------------------------
// Cost entries and usage

func (m *Memory) SaveCostEntry(ctx context.Context, e *CostEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *e
	m.costs = append(m.costs, &copied)
	return nil
}

func (m *Memory) ListCostEntries(ctx context.Context, from, to time.Time) ([]*CostEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*CostEntry, 0)
	for _, e := range m.costs {
		if !from.IsZero() && e.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && e.Timestamp.After(to) {
			continue
		}
		copied := *e
		out = append(out, &copied)
	}
	return out, nil
}

func (m *Memory) PruneCostEntries(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.costs[:0]
	pruned := 0
	for _, e := range m.costs {
		if e.Timestamp.Before(before) {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	m.costs = kept
	return pruned, nil
}

func (m *Memory) AddUsage(ctx context.Context, userID, period string, delta UsageDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := usageKey(userID, period)
	record, ok := m.usage[key]
	if !ok {
		record = &UsageRecord{
			UserID:      userID,
			Period:      period,
			ByModel:     make(map[string]int64),
			ByOperation: make(map[string]int64),
		}
		m.usage[key] = record
	}

	record.InputTokens += delta.InputTokens
	record.OutputTokens += delta.OutputTokens
	record.TokensUsed += delta.InputTokens + delta.OutputTokens
	record.RequestCount += delta.Requests
	record.CostCents += delta.CostCents
	if delta.Model != "" {
		record.ByModel[delta.Model] += delta.InputTokens + delta.OutputTokens
	}
	if delta.Operation != "" {
		record.ByOperation[delta.Operation] += delta.InputTokens + delta.OutputTokens
	}
	record.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) GetUsage(ctx context.Context, userID, period string) (*UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.usage[usageKey(userID, period)]
	if !ok {
		return nil, notFound("usage", usageKey(userID, period))
	}
	return record.Clone(), nil
}

func (m *Memory) ListUsage(ctx context.Context, fromPeriod, toPeriod string) ([]*UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*UsageRecord, 0)
	for _, record := range m.usage {
		if fromPeriod != "" && record.Period < fromPeriod {
			continue
		}
		if toPeriod != "" && record.Period > toPeriod {
			continue
		}
		out = append(out, record.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Period < out[j].Period
	})
	return out, nil
}

func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
