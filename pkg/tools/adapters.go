package tools

import (
	"context"

	"github.com/auilabs/aui/pkg/protocol"
)

// PipelineOptions tune a pipeline execution.
type PipelineOptions struct {
	DryRun   bool `json:"dry_run,omitempty"`
	MaxItems int  `json:"max_items,omitempty"`
}

// PipelineExecutor runs textual pipelines. With DryRun set it only parses,
// returning an error when the pipeline is malformed.
type PipelineExecutor interface {
	Execute(ctx context.Context, pipeline string, opts PipelineOptions) (protocol.Value, error)
}

// SearchResult is one hit from the search service.
type SearchResult struct {
	ID       string                    `json:"id"`
	Text     string                    `json:"text"`
	Score    float64                   `json:"score"`
	Source   string                    `json:"source,omitempty"`
	Metadata map[string]protocol.Value `json:"metadata,omitempty"`
}

// SearchOptions tune a search or refinement.
type SearchOptions struct {
	Limit       int      `json:"limit,omitempty"`
	MinScore    float64  `json:"min_score,omitempty"`
	SourceTypes []string `json:"source_types,omitempty"`
}

// SearchService is the session-scoped semantic search collaborator.
type SearchService interface {
	Search(ctx context.Context, sessionID, query string, opts SearchOptions) ([]SearchResult, error)
	Refine(ctx context.Context, sessionID string, opts SearchOptions) ([]SearchResult, error)
	AddAnchor(ctx context.Context, sessionID, resultID, anchorType string) error
	Results(ctx context.Context, sessionID string) ([]SearchResult, error)
}

type sessionIDKey struct{}

// WithSessionID attaches the calling session's id to the context so
// session-scoped tools can resolve their session.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

// SessionIDFrom returns the session id attached by WithSessionID.
func SessionIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}
