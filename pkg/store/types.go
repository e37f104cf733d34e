// Package store defines the persistence contract of the orchestration core
// and the entities it persists. Two implementations ship: an in-memory store
// backed by chromem-go for vector search, and a SQL store supporting the
// sqlite, postgres and mysql dialects.
package store

import (
	"time"

	"github.com/auilabs/aui/pkg/protocol"
)

// ArchiveNode is one content node of the externally populated archive.
// HierarchyLevel 0 is raw passage/chunk content; higher levels are synthetic
// summaries (book chapters store level 0, arc apex nodes level 2).
type ArchiveNode struct {
	ID              string         `json:"id"`
	Text            string         `json:"text"`
	SourceType      string         `json:"source_type,omitempty"`
	AuthorRole      string         `json:"author_role,omitempty"`
	WordCount       int            `json:"word_count"`
	HierarchyLevel  int            `json:"hierarchy_level"`
	SourceCreatedAt *time.Time     `json:"source_created_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	HasEmbedding    bool           `json:"has_embedding"`
	EmbeddingModel  string         `json:"embedding_model,omitempty"`
	Metadata        protocol.Value `json:"metadata,omitempty"`
}

// Neighbor is a similarity-search hit.
type Neighbor struct {
	NodeID     string  `json:"node_id"`
	Similarity float64 `json:"similarity"`
}

// ClusterPassage is one member of a discovered cluster, with its cosine
// similarity to the cluster seed.
type ClusterPassage struct {
	NodeID     string  `json:"node_id"`
	Similarity float64 `json:"similarity"`
}

// Cluster is a discovered neighborhood of embedded nodes.
type Cluster struct {
	ID                 string           `json:"id"`
	Label              string           `json:"label"`
	Description        string           `json:"description,omitempty"`
	Passages           []ClusterPassage `json:"passages"`
	TotalPassages      int              `json:"total_passages"`
	Coherence          float64          `json:"coherence"`
	Keywords           []string         `json:"keywords,omitempty"`
	SourceDistribution map[string]int   `json:"source_distribution,omitempty"`
	DateFrom           *time.Time       `json:"date_from,omitempty"`
	DateTo             *time.Time       `json:"date_to,omitempty"`
	AvgWordCount       float64          `json:"avg_word_count"`
	CreatedAt          time.Time        `json:"created_at"`
}

// Chapter is one assembled chapter of a book.
type Chapter struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	PassageIDs []string `json:"passage_ids,omitempty"`
	Order      int      `json:"order"`
}

// Book is an assembled narrative over a cluster's passages.
type Book struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Introduction string    `json:"introduction,omitempty"`
	ClusterID    string    `json:"cluster_id,omitempty"`
	PersonaID    string    `json:"persona_id,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	ArcType      string    `json:"arc_type"`
	Chapters     []Chapter `json:"chapters"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Artifact is an exported rendition of a book.
type Artifact struct {
	ID          string    `json:"id"`
	BookID      string    `json:"book_id"`
	Format      string    `json:"format"`
	ContentType string    `json:"content_type"`
	Data        []byte    `json:"data"`
	CreatedAt   time.Time `json:"created_at"`
}

// PersonaProfile is a persisted voice descriptor. Traits are opaque to the
// core; the voice analyzer produces them and the book rewrite pass consumes
// them.
type PersonaProfile struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id,omitempty"`
	Name         string         `json:"name"`
	Traits       protocol.Value `json:"traits,omitempty"`
	ExampleTexts []string       `json:"example_texts,omitempty"`
	IsDefault    bool           `json:"is_default"`
	CreatedAt    time.Time      `json:"created_at"`
}

// StyleProfile refines a persona for a particular register.
type StyleProfile struct {
	ID          string         `json:"id"`
	PersonaID   string         `json:"persona_id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Markers     protocol.Value `json:"markers,omitempty"`
	IsDefault   bool           `json:"is_default"`
	CreatedAt   time.Time      `json:"created_at"`
}

// SessionSnapshot is the serialized form of a session used for persistent
// rehydration. Data is the session's JSON encoding.
type SessionSnapshot struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Name      string    `json:"name,omitempty"`
	Data      []byte    `json:"data"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CostEntry records one LLM call.
type CostEntry struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	UserID       string    `json:"user_id,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
	Model        string    `json:"model"`
	Operation    string    `json:"operation"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	CostCents    int64     `json:"cost_cents"`
	LatencyMs    int64     `json:"latency_ms"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
}

// UsageRecord is the per-(user, period) aggregate. Period keys are
// YYYY-MM-DD for day buckets and YYYY-MM for month buckets.
type UsageRecord struct {
	UserID       string           `json:"user_id"`
	Period       string           `json:"period"`
	InputTokens  int64            `json:"input_tokens"`
	OutputTokens int64            `json:"output_tokens"`
	TokensUsed   int64            `json:"tokens_used"`
	RequestCount int64            `json:"request_count"`
	CostCents    int64            `json:"cost_cents"`
	ByModel      map[string]int64 `json:"by_model,omitempty"`
	ByOperation  map[string]int64 `json:"by_operation,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// UsageDelta is one recording's contribution to a usage bucket.
type UsageDelta struct {
	InputTokens  int64
	OutputTokens int64
	Requests     int64
	CostCents    int64
	Model        string
	Operation    string
}

// Clone returns a deep copy so callers can mutate safely.
func (u *UsageRecord) Clone() *UsageRecord {
	if u == nil {
		return nil
	}
	out := *u
	out.ByModel = make(map[string]int64, len(u.ByModel))
	for k, v := range u.ByModel {
		out.ByModel[k] = v
	}
	out.ByOperation = make(map[string]int64, len(u.ByOperation))
	for k, v := range u.ByOperation {
		out.ByOperation[k] = v
	}
	return &out
}
