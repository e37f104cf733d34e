// Package persona implements the interactive persona harvest state
// machine: collect writing samples, analyze voice traits, finalize a
// persisted persona profile with optional style profiles.
package persona

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/auilabs/aui/pkg/embedder"
	"github.com/auilabs/aui/pkg/llms"
	"github.com/auilabs/aui/pkg/protocol"
	"github.com/auilabs/aui/pkg/store"
)

// Phase is a harvest's state.
type Phase string

const (
	PhaseCollecting Phase = "collecting"
	PhaseAnalyzing  Phase = "analyzing"
	PhaseFinalizing Phase = "finalizing"
	PhaseComplete   Phase = "complete"
)

// completedRetention keeps finished harvests inspectable for a short
// window before they are dropped.
const completedRetention = 60 * time.Second

// Sample is one collected writing sample.
type Sample struct {
	ID            string    `json:"id"`
	Text          string    `json:"text"`
	Source        string    `json:"source,omitempty"`
	ArchiveNodeID string    `json:"archive_node_id,omitempty"`
	Relevance     float64   `json:"relevance,omitempty"`
	AddedAt       time.Time `json:"added_at"`
}

// Analysis is the voice analyzer's verdict over a harvest's samples.
type Analysis struct {
	VoiceTraits    []string `json:"voice_traits,omitempty"`
	ToneMarkers    []string `json:"tone_markers,omitempty"`
	FormalityLow   float64  `json:"formality_low,omitempty"`
	FormalityHigh  float64  `json:"formality_high,omitempty"`
	Summary        string   `json:"summary,omitempty"`
}

// Analyzer is the voice-analysis adapter.
type Analyzer interface {
	Analyze(ctx context.Context, samples []string) (*Analysis, error)
}

// Harvest is one interactive persona-building session.
type Harvest struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id,omitempty"`
	Name        string    `json:"name"`
	Phase       Phase     `json:"phase"`
	Samples     []Sample  `json:"samples"`
	Analysis    *Analysis `json:"analysis,omitempty"`
	PersonaID   string    `json:"persona_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Manager owns in-flight harvests and persists finalized personas.
type Manager struct {
	store    store.Store
	embedder embedder.Embedder
	analyzer Analyzer
	llm      llms.Provider
	logger   *slog.Logger

	// OnLLMUsage observes sample-generation token usage, for cost recording.
	OnLLMUsage func(model string, inputTokens, outputTokens int, latencyMs int64)

	mu       sync.RWMutex
	harvests map[string]*Harvest

	retainFor time.Duration
}

func NewManager(st store.Store, emb embedder.Embedder, analyzer Analyzer, llm llms.Provider, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:     st,
		embedder:  emb,
		analyzer:  analyzer,
		llm:       llm,
		logger:    logger,
		harvests:  make(map[string]*Harvest),
		retainFor: completedRetention,
	}
}

func harvestErr(action, message string, cause error) error {
	return protocol.NewComponentError("persona", action, message, cause)
}

// StartHarvest opens a new harvest in the collecting phase.
func (m *Manager) StartHarvest(userID, name string) *Harvest {
	now := time.Now()
	h := &Harvest{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		Phase:     PhaseCollecting,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.mu.Lock()
	m.harvests[h.ID] = h
	m.mu.Unlock()
	return h
}

// GetHarvest returns a tracked harvest.
func (m *Manager) GetHarvest(id string) (*Harvest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.harvests[id]
	if !ok {
		return nil, harvestErr("GetHarvest", fmt.Sprintf("harvest %q", id), protocol.ErrNotFound)
	}
	return h, nil
}

// AddSample appends one sample; only allowed while collecting.
func (m *Manager) AddSample(harvestID, text, source string) (*Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.harvests[harvestID]
	if !ok {
		return nil, harvestErr("AddSample", fmt.Sprintf("harvest %q", harvestID), protocol.ErrNotFound)
	}
	if h.Phase != PhaseCollecting {
		return nil, harvestErr("AddSample",
			fmt.Sprintf("harvest is %s, samples can only be added while collecting", h.Phase),
			protocol.ErrWrongPhase)
	}

	s := Sample{ID: uuid.NewString(), Text: text, Source: source, AddedAt: time.Now()}
	h.Samples = append(h.Samples, s)
	h.UpdatedAt = s.AddedAt
	return &s, nil
}

// HarvestFromArchive pulls samples from the embedded archive by semantic
// similarity. Samples are de-duplicated by node id and restricted to
// author role "user" or no role.
func (m *Manager) HarvestFromArchive(ctx context.Context, harvestID, query string, limit int, minRelevance float64) (int, error) {
	h, err := m.GetHarvest(harvestID)
	if err != nil {
		return 0, err
	}
	if h.Phase != PhaseCollecting {
		return 0, harvestErr("HarvestFromArchive",
			fmt.Sprintf("harvest is %s, samples can only be added while collecting", h.Phase),
			protocol.ErrWrongPhase)
	}
	if limit <= 0 {
		limit = 20
	}

	vec, err := m.embedder.EmbedText(ctx, query)
	if err != nil {
		return 0, harvestErr("HarvestFromArchive", "embed query", err)
	}
	hits, err := m.store.SearchByEmbedding(ctx, vec, limit, minRelevance)
	if err != nil {
		return 0, harvestErr("HarvestFromArchive", "search archive", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	for _, s := range h.Samples {
		if s.ArchiveNodeID != "" {
			seen[s.ArchiveNodeID] = true
		}
	}

	added := 0
	for _, hit := range hits {
		if seen[hit.NodeID] {
			continue
		}
		node, err := m.store.GetNode(ctx, hit.NodeID)
		if err != nil {
			continue
		}
		if node.AuthorRole != "" && node.AuthorRole != "user" {
			continue
		}

		h.Samples = append(h.Samples, Sample{
			ID:            uuid.NewString(),
			Text:          node.Text,
			Source:        node.SourceType,
			ArchiveNodeID: node.ID,
			Relevance:     float64(hit.Similarity),
			AddedAt:       time.Now(),
		})
		seen[node.ID] = true
		added++
	}
	h.UpdatedAt = time.Now()
	return added, nil
}

// ExtractTraits runs the voice analyzer over the collected samples and
// moves the harvest to analyzing.
func (m *Manager) ExtractTraits(ctx context.Context, harvestID string) (*Analysis, error) {
	h, err := m.GetHarvest(harvestID)
	if err != nil {
		return nil, err
	}
	if h.Phase != PhaseCollecting && h.Phase != PhaseAnalyzing {
		return nil, harvestErr("ExtractTraits",
			fmt.Sprintf("harvest is %s", h.Phase), protocol.ErrWrongPhase)
	}
	if len(h.Samples) == 0 {
		return nil, harvestErr("ExtractTraits", "harvest has no samples", protocol.ErrInvalidArgs)
	}

	texts := make([]string, len(h.Samples))
	for i, s := range h.Samples {
		texts[i] = s.Text
	}

	analysis, err := m.analyzer.Analyze(ctx, texts)
	if err != nil {
		return nil, harvestErr("ExtractTraits", "voice analysis failed", err)
	}

	m.mu.Lock()
	h.Phase = PhaseAnalyzing
	h.Analysis = analysis
	h.UpdatedAt = time.Now()
	m.mu.Unlock()
	return analysis, nil
}

// StyleSpec describes one style profile to persist with the persona.
type StyleSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Markers     protocol.Value `json:"markers,omitempty"`
	IsDefault   bool           `json:"is_default,omitempty"`
}

// FinalizeOptions override or extend the analysis before persisting.
type FinalizeOptions struct {
	VoiceTraits   []string
	ToneMarkers   []string
	FormalityLow  float64
	FormalityHigh float64
	Styles        []StyleSpec
	SetAsDefault  bool
}

// FinalizePersona persists the persona profile and its styles, then moves
// the harvest to complete. The harvest stays inspectable for a minute.
func (m *Manager) FinalizePersona(ctx context.Context, harvestID string, opts FinalizeOptions) (*store.PersonaProfile, error) {
	h, err := m.GetHarvest(harvestID)
	if err != nil {
		return nil, err
	}
	if h.Phase != PhaseAnalyzing {
		return nil, harvestErr("FinalizePersona",
			fmt.Sprintf("harvest is %s, extract traits first", h.Phase), protocol.ErrWrongPhase)
	}

	m.mu.Lock()
	h.Phase = PhaseFinalizing
	m.mu.Unlock()

	traits := opts.VoiceTraits
	markers := opts.ToneMarkers
	low, high := opts.FormalityLow, opts.FormalityHigh
	if h.Analysis != nil {
		if len(traits) == 0 {
			traits = h.Analysis.VoiceTraits
		}
		if len(markers) == 0 {
			markers = h.Analysis.ToneMarkers
		}
		if low == 0 && high == 0 {
			low, high = h.Analysis.FormalityLow, h.Analysis.FormalityHigh
		}
	}

	examples := make([]string, 0, len(h.Samples))
	for _, s := range h.Samples {
		examples = append(examples, s.Text)
	}

	persona := &store.PersonaProfile{
		ID:     uuid.NewString(),
		UserID: h.UserID,
		Name:   h.Name,
		Traits: protocol.Map(map[string]protocol.Value{
			"voice_traits":   stringList(traits),
			"tone_markers":   stringList(markers),
			"formality_low":  protocol.Float(low),
			"formality_high": protocol.Float(high),
		}),
		ExampleTexts: examples,
		IsDefault:    opts.SetAsDefault,
		CreatedAt:    time.Now(),
	}
	if err := m.store.SavePersona(ctx, persona); err != nil {
		return nil, harvestErr("FinalizePersona", "save persona", err)
	}

	styles := opts.Styles
	if len(styles) == 0 {
		styles = []StyleSpec{{Name: "default", Description: "harvested style"}}
	}
	defaultSeen := false
	for _, spec := range styles {
		if spec.IsDefault {
			defaultSeen = true
		}
	}
	for i, spec := range styles {
		style := &store.StyleProfile{
			ID:          uuid.NewString(),
			PersonaID:   persona.ID,
			Name:        spec.Name,
			Description: spec.Description,
			Markers:     spec.Markers,
			IsDefault:   spec.IsDefault || (!defaultSeen && i == 0),
			CreatedAt:   time.Now(),
		}
		if err := m.store.SaveStyle(ctx, style); err != nil {
			return nil, harvestErr("FinalizePersona", fmt.Sprintf("save style %s", spec.Name), err)
		}
	}

	m.mu.Lock()
	h.Phase = PhaseComplete
	h.PersonaID = persona.ID
	h.CompletedAt = time.Now()
	h.UpdatedAt = h.CompletedAt
	m.mu.Unlock()

	time.AfterFunc(m.retainFor, func() { m.dropHarvest(h.ID) })

	m.logger.Info("persona finalized",
		"persona_id", persona.ID, "samples", len(h.Samples), "styles", len(styles))
	return persona, nil
}

func (m *Manager) dropHarvest(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.harvests, id)
}

// GenerateSample produces a short writing sample in the persona's voice
// through the LLM adapter.
func (m *Manager) GenerateSample(ctx context.Context, personaID, topic string) (string, error) {
	if m.llm == nil {
		return "", harvestErr("GenerateSample", "no LLM provider configured", protocol.ErrAdapterFailure)
	}

	persona, err := m.store.GetPersona(ctx, personaID)
	if err != nil {
		return "", err
	}

	system := fmt.Sprintf("You write in the voice of %q. Traits: %s. Match the voice closely.",
		persona.Name, persona.Traits.Text())
	prompt := fmt.Sprintf("Write a short paragraph about: %s", topic)
	if len(persona.ExampleTexts) > 0 {
		prompt = fmt.Sprintf("Example of the voice:\n%s\n\n%s",
			truncate(persona.ExampleTexts[0], 600), prompt)
	}

	resp, err := m.llm.Complete(ctx, llms.Request{SystemPrompt: system, UserPrompt: prompt, MaxTokens: 400})
	if err != nil {
		return "", harvestErr("GenerateSample", "llm call failed", err)
	}
	if m.OnLLMUsage != nil {
		m.OnLLMUsage(m.llm.DefaultModel(), resp.InputTokens, resp.OutputTokens, resp.LatencyMs)
	}
	return resp.Text, nil
}

func stringList(items []string) protocol.Value {
	vals := make([]protocol.Value, len(items))
	for i, s := range items {
		vals[i] = protocol.String(s)
	}
	return protocol.List(vals...)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
