// Package archive drives batch embedding of archive nodes and
// similarity-based cluster discovery over the embedded corpus.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/auilabs/aui/pkg/embedder"
	"github.com/auilabs/aui/pkg/observability"
	"github.com/auilabs/aui/pkg/protocol"
	"github.com/auilabs/aui/pkg/store"
)

const (
	defaultBatchSize    = 50
	defaultMinWordCount = 7
	defaultConcurrency  = 2
)

// Progress is one embedding progress report.
type Progress struct {
	Phase                string `json:"phase"`
	Processed            int    `json:"processed"`
	Total                int    `json:"total"`
	CurrentBatch         int    `json:"current_batch"`
	TotalBatches         int    `json:"total_batches"`
	Skipped              int    `json:"skipped"`
	Failed               int    `json:"failed"`
	ElapsedMs            int64  `json:"elapsed_ms"`
	EstimatedRemainingMs int64  `json:"estimated_remaining_ms"`
}

// ProgressFunc observes embedding progress.
type ProgressFunc func(Progress)

// EmbedOptions tune one embedAll run.
type EmbedOptions struct {
	BatchSize     int
	MinWordCount  int
	SourceTypes   []string
	AuthorRoles   []string
	ContentFilter func(*store.ArchiveNode) bool
	Concurrency   int
	OnProgress    ProgressFunc
}

// EmbedResult summarizes one embedAll run.
type EmbedResult struct {
	Embedded   int      `json:"embedded"`
	Skipped    int      `json:"skipped"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
	Success    bool     `json:"success"`
	DurationMs int64    `json:"duration_ms"`
}

// Stats is a point-in-time archive summary.
type Stats struct {
	TotalNodes    int `json:"total_nodes"`
	EmbeddedNodes int `json:"embedded_nodes"`
	PendingNodes  int `json:"pending_nodes"`
}

// Driver runs embedding jobs against the store.
type Driver struct {
	store    store.Store
	embedder embedder.Embedder
	logger   *slog.Logger
}

func NewDriver(st store.Store, emb embedder.Embedder, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{store: st, embedder: emb, logger: logger}
}

// GetStats reports archive node counts.
func (d *Driver) GetStats(ctx context.Context) (*Stats, error) {
	total, embedded, err := d.store.CountNodes(ctx)
	if err != nil {
		return nil, protocol.NewComponentError("archive", "GetStats", "count nodes", err)
	}
	return &Stats{TotalNodes: total, EmbeddedNodes: embedded, PendingNodes: total - embedded}, nil
}

// EmbedAll embeds every node still missing an embedding, in batches.
// Already-embedded and filtered-out nodes count as skipped; the run
// succeeds when nothing failed.
func (d *Driver) EmbedAll(ctx context.Context, opts EmbedOptions) (*EmbedResult, error) {
	start := time.Now()

	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MinWordCount <= 0 {
		opts.MinWordCount = defaultMinWordCount
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}

	tracer := observability.GetTracer("aui.archive")
	ctx, span := tracer.Start(ctx, observability.SpanEmbedBatch)
	defer span.End()

	_, alreadyEmbedded, err := d.store.CountNodes(ctx)
	if err != nil {
		return nil, protocol.NewComponentError("archive", "EmbedAll", "count nodes", err)
	}

	pending, err := d.store.GetNodesNeedingEmbeddings(ctx, 0)
	if err != nil {
		return nil, protocol.NewComponentError("archive", "EmbedAll", "list pending nodes", err)
	}

	skipped := alreadyEmbedded
	var toEmbed []*store.ArchiveNode
	for _, node := range pending {
		if d.filtered(node, opts) {
			skipped++
			continue
		}
		toEmbed = append(toEmbed, node)
	}

	total := len(toEmbed)
	batches := splitBatches(toEmbed, opts.BatchSize)

	var (
		mu        sync.Mutex
		processed int
		failed    int
		done      int
		errs      []string
	)

	report := func(phase string, batchIndex int) {
		if opts.OnProgress == nil {
			return
		}
		elapsed := time.Since(start).Milliseconds()
		var remaining int64
		if processed > 0 {
			remaining = elapsed / int64(processed) * int64(total-processed)
		}
		opts.OnProgress(Progress{
			Phase:                phase,
			Processed:            processed,
			Total:                total,
			CurrentBatch:         batchIndex,
			TotalBatches:         len(batches),
			Skipped:              skipped,
			Failed:               failed,
			ElapsedMs:            elapsed,
			EstimatedRemainingMs: remaining,
		})
	}

	report("starting", 0)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			nodes := make([]embedder.Node, len(batch))
			for j, n := range batch {
				nodes[j] = embedder.Node{ID: n.ID, Text: n.Text}
			}

			embeddings, embErr := d.embedder.EmbedNodes(gctx, nodes)

			mu.Lock()
			defer mu.Unlock()

			if embErr != nil {
				failed += len(batch)
				processed += len(batch)
				errs = append(errs, fmt.Sprintf("batch %d: %v", i+1, embErr))
			} else {
				for _, e := range embeddings {
					if storeErr := d.store.StoreEmbedding(gctx, e.NodeID, e.Embedding, d.embedder.Model()); storeErr != nil {
						failed++
						errs = append(errs, fmt.Sprintf("node %s: %v", e.NodeID, storeErr))
					}
					processed++
				}
			}
			done++
			report("embedding", done)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, protocol.NewComponentError("archive", "EmbedAll", "embedding interrupted", err)
	}

	report("complete", len(batches))

	result := &EmbedResult{
		Embedded:   processed - failed,
		Skipped:    skipped,
		Failed:     failed,
		Errors:     errs,
		Success:    failed == 0,
		DurationMs: time.Since(start).Milliseconds(),
	}
	d.logger.Info("embedding run finished",
		"embedded", result.Embedded, "skipped", result.Skipped, "failed", result.Failed)
	return result, nil
}

// EmbedBatch embeds an explicit node id list, ignoring filters.
func (d *Driver) EmbedBatch(ctx context.Context, nodeIDs []string) (*EmbedResult, error) {
	start := time.Now()

	var nodes []embedder.Node
	skipped := 0
	for _, id := range nodeIDs {
		node, err := d.store.GetNode(ctx, id)
		if err != nil {
			return nil, protocol.NewComponentError("archive", "EmbedBatch",
				fmt.Sprintf("node %s", id), err)
		}
		if node.HasEmbedding {
			skipped++
			continue
		}
		nodes = append(nodes, embedder.Node{ID: node.ID, Text: node.Text})
	}

	result := &EmbedResult{Skipped: skipped, Success: true}
	if len(nodes) > 0 {
		embeddings, err := d.embedder.EmbedNodes(ctx, nodes)
		if err != nil {
			return nil, protocol.NewComponentError("archive", "EmbedBatch", "embed nodes", err)
		}
		for _, e := range embeddings {
			if err := d.store.StoreEmbedding(ctx, e.NodeID, e.Embedding, d.embedder.Model()); err != nil {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("node %s: %v", e.NodeID, err))
				continue
			}
			result.Embedded++
		}
	}
	result.Success = result.Failed == 0
	result.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

func (d *Driver) filtered(node *store.ArchiveNode, opts EmbedOptions) bool {
	if wordCount(node) < opts.MinWordCount {
		return true
	}
	if len(opts.SourceTypes) > 0 && !contains(opts.SourceTypes, node.SourceType) {
		return true
	}
	if len(opts.AuthorRoles) > 0 && !contains(opts.AuthorRoles, node.AuthorRole) {
		return true
	}
	if opts.ContentFilter != nil && !opts.ContentFilter(node) {
		return true
	}
	return false
}

func wordCount(node *store.ArchiveNode) int {
	if node.WordCount > 0 {
		return node.WordCount
	}
	return len(strings.Fields(node.Text))
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func splitBatches(nodes []*store.ArchiveNode, size int) [][]*store.ArchiveNode {
	var out [][]*store.ArchiveNode
	for len(nodes) > 0 {
		n := size
		if n > len(nodes) {
			n = len(nodes)
		}
		out = append(out, nodes[:n])
		nodes = nodes[n:]
	}
	return out
}
