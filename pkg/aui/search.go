package aui

import (
	"context"
	"fmt"

	"github.com/auilabs/aui/pkg/buffer"
	"github.com/auilabs/aui/pkg/protocol"
	"github.com/auilabs/aui/pkg/tools"
)

// SearchToBufferOptions control materializing search results into a buffer.
type SearchToBufferOptions struct {
	Limit  int
	Create bool
}

// Search runs a session-scoped search.
func (s *Service) Search(ctx context.Context, sessionID, query string, opts tools.SearchOptions) ([]tools.SearchResult, error) {
	sess, err := s.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.search == nil {
		return nil, svcErr("Search", "no search service configured", protocol.ErrAdapterFailure)
	}

	hits, err := s.search.Search(ctx, sess.ID, query, opts)
	if err != nil {
		return nil, err
	}

	sess.Lock()
	sess.SearchSessionID = sess.ID
	sess.SearchCount++
	sess.Unlock()
	s.persistSession(ctx, sess)
	return hits, nil
}

// RefineSearch narrows the session's current result set.
func (s *Service) RefineSearch(ctx context.Context, sessionID string, opts tools.SearchOptions) ([]tools.SearchResult, error) {
	sess, err := s.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.search == nil {
		return nil, svcErr("RefineSearch", "no search service configured", protocol.ErrAdapterFailure)
	}
	return s.search.Refine(ctx, sess.ID, opts)
}

// AddSearchAnchor pins a result in the session's search context.
func (s *Service) AddSearchAnchor(ctx context.Context, sessionID, resultID, anchorType string) error {
	sess, err := s.resolveSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.search == nil {
		return svcErr("AddSearchAnchor", "no search service configured", protocol.ErrAdapterFailure)
	}
	return s.search.AddAnchor(ctx, sess.ID, resultID, anchorType)
}

// SearchToBuffer appends the session's current search results to a
// buffer as structured items, optionally creating the buffer first.
func (s *Service) SearchToBuffer(ctx context.Context, sessionID, bufferName string, opts SearchToBufferOptions) (int, error) {
	sess, err := s.resolveSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if s.search == nil {
		return 0, svcErr("SearchToBuffer", "no search service configured", protocol.ErrAdapterFailure)
	}

	results, err := s.search.Results(ctx, sess.ID)
	if err != nil {
		return 0, err
	}
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	sess.Lock()
	b, ok := sess.Buffers[bufferName]
	if !ok {
		if !opts.Create {
			sess.Unlock()
			return 0, svcErr("SearchToBuffer", fmt.Sprintf("buffer %q", bufferName), protocol.ErrNotFound)
		}
		b = buffer.New(bufferName, nil)
		sess.Buffers[bufferName] = b
		sess.ActiveBufferName = bufferName
	}
	sess.Unlock()

	items := make([]protocol.Value, len(results))
	for i, r := range results {
		items[i] = protocol.Map(map[string]protocol.Value{
			"id":     protocol.String(r.ID),
			"text":   protocol.String(r.Text),
			"score":  protocol.Float(r.Score),
			"source": protocol.String(r.Source),
		})
	}
	b.Append(items)

	s.persistSession(ctx, sess)
	return len(items), nil
}
