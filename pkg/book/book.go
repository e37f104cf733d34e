// Package book assembles narrative books from discovered clusters:
// passage gathering, arc ordering, chapter splitting, an optional
// persona-consistent rewrite pass, and export to markdown/html/json.
package book

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/auilabs/aui/pkg/embedder"
	"github.com/auilabs/aui/pkg/llms"
	"github.com/auilabs/aui/pkg/protocol"
	"github.com/auilabs/aui/pkg/store"
)

// ArcType orders a book's passages into a narrative shape.
type ArcType string

const (
	ArcChronological ArcType = "chronological"
	ArcThematic      ArcType = "thematic"
	ArcDramatic      ArcType = "dramatic"
	ArcExploratory   ArcType = "exploratory"
)

const (
	defaultMaxPassages   = 50
	defaultRewritePasses = 3

	minChapters        = 3
	maxChapters        = 5
	passagesPerChapter = 10
	chapterJoiner      = "\n\n---\n\n"
	chapterTitleWords  = 5
	rewriteMaxTokens   = 2000
)

// Passage is one harvested unit of source text.
type Passage struct {
	NodeID          string     `json:"node_id"`
	Text            string     `json:"text"`
	SourceType      string     `json:"source_type,omitempty"`
	Relevance       float64    `json:"relevance"`
	SourceCreatedAt *time.Time `json:"source_created_at,omitempty"`
}

// ProgressFunc observes assembly phases: gathering, generating_arc,
// assembling, persona_rewriting, indexing, complete.
type ProgressFunc func(phase string)

// CreateOptions tune one book assembly run.
type CreateOptions struct {
	Title             string       `mapstructure:"title"`
	UserID            string       `mapstructure:"user_id"`
	ArcType           ArcType      `mapstructure:"arc_type"`
	PersonaID         string       `mapstructure:"persona_id"`
	UseDefaultPersona *bool        `mapstructure:"use_default_persona"`
	MaxPassages       int          `mapstructure:"max_passages"`
	RewritePasses     int          `mapstructure:"rewrite_passes"`
	IndexChapters     bool         `mapstructure:"index_chapters"`
	OnProgress        ProgressFunc `mapstructure:"-"`
}

// DecodeCreateOptions decodes a loosely-typed option map, as arriving
// from tool args or an API payload, into CreateOptions.
func DecodeCreateOptions(raw map[string]interface{}) (CreateOptions, error) {
	var opts CreateOptions
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return opts, protocol.NewComponentError("book", "DecodeCreateOptions", "build decoder", err)
	}
	if err := dec.Decode(raw); err != nil {
		return opts, protocol.NewComponentError("book", "DecodeCreateOptions", "bad options", protocol.ErrInvalidArgs)
	}
	return opts, nil
}

// Builder assembles and exports books.
type Builder struct {
	store    store.Store
	embedder embedder.Embedder
	llm      llms.Provider
	logger   *slog.Logger

	// OnLLMUsage observes rewrite-pass token usage, for cost recording.
	OnLLMUsage func(model string, inputTokens, outputTokens int, latencyMs int64)
}

func NewBuilder(st store.Store, emb embedder.Embedder, llm llms.Provider, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{store: st, embedder: emb, llm: llm, logger: logger}
}

func bookErr(action, message string, cause error) error {
	return protocol.NewComponentError("book", action, message, cause)
}

// CreateFromCluster assembles a book from a discovered cluster's
// passages. Persona resolution: an explicit persona id wins; otherwise
// the user's default persona unless UseDefaultPersona is false; a book
// may also have no persona at all.
func (b *Builder) CreateFromCluster(ctx context.Context, clusterID string, opts CreateOptions) (*store.Book, error) {
	if opts.MaxPassages <= 0 {
		opts.MaxPassages = defaultMaxPassages
	}
	if opts.RewritePasses <= 0 {
		opts.RewritePasses = defaultRewritePasses
	}
	if opts.ArcType == "" {
		opts.ArcType = ArcChronological
	}
	report := func(phase string) {
		if opts.OnProgress != nil {
			opts.OnProgress(phase)
		}
	}

	cluster, err := b.store.GetCluster(ctx, clusterID)
	if err != nil {
		return nil, bookErr("CreateFromCluster", fmt.Sprintf("cluster %q", clusterID), err)
	}

	persona, err := b.resolvePersona(ctx, opts)
	if err != nil {
		return nil, err
	}

	report("gathering")
	passages := b.gather(ctx, cluster, opts.MaxPassages)
	if len(passages) == 0 {
		return nil, bookErr("CreateFromCluster", "cluster has no resolvable passages", protocol.ErrInvalidArgs)
	}

	report("generating_arc")
	orderArc(passages, opts.ArcType)

	report("assembling")
	chapters := splitChapters(passages)

	title := opts.Title
	if title == "" {
		title = cluster.Label
	}
	if title == "" {
		title = "Untitled"
	}

	book := &store.Book{
		ID:          uuid.NewString(),
		Title:       title,
		Description: cluster.Description,
		Introduction: fmt.Sprintf("A collection of %d passages arranged %s.",
			len(passages), arcPhrase(opts.ArcType)),
		ClusterID: cluster.ID,
		UserID:    opts.UserID,
		ArcType:   string(opts.ArcType),
		Chapters:  chapters,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if persona != nil {
		book.PersonaID = persona.ID
		report("persona_rewriting")
		b.rewriteChapters(ctx, book, persona, opts.RewritePasses)
	}

	if err := b.store.SaveBook(ctx, book); err != nil {
		return nil, bookErr("CreateFromCluster", "save book", err)
	}

	if opts.IndexChapters {
		report("indexing")
		if err := b.indexChapters(ctx, book); err != nil {
			b.logger.Warn("chapter indexing failed", "book_id", book.ID, "error", err)
		}
	}

	report("complete")
	b.logger.Info("book assembled",
		"book_id", book.ID, "chapters", len(book.Chapters),
		"passages", len(passages), "arc", opts.ArcType, "persona", book.PersonaID != "")
	return book, nil
}

func (b *Builder) resolvePersona(ctx context.Context, opts CreateOptions) (*store.PersonaProfile, error) {
	if opts.PersonaID != "" {
		p, err := b.store.GetPersona(ctx, opts.PersonaID)
		if err != nil {
			return nil, bookErr("CreateFromCluster", fmt.Sprintf("persona %q", opts.PersonaID), err)
		}
		return p, nil
	}
	if opts.UseDefaultPersona != nil && !*opts.UseDefaultPersona {
		return nil, nil
	}
	if opts.UserID == "" {
		return nil, nil
	}
	p, err := b.store.GetDefaultPersona(ctx, opts.UserID)
	if err != nil {
		// No default persona is fine; the book simply goes unrewritten.
		return nil, nil
	}
	return p, nil
}

func (b *Builder) gather(ctx context.Context, cluster *store.Cluster, maxPassages int) []Passage {
	var out []Passage
	for _, cp := range cluster.Passages {
		if len(out) >= maxPassages {
			break
		}
		node, err := b.store.GetNode(ctx, cp.NodeID)
		if err != nil {
			continue
		}
		out = append(out, Passage{
			NodeID:          node.ID,
			Text:            node.Text,
			SourceType:      node.SourceType,
			Relevance:       cp.Similarity,
			SourceCreatedAt: node.SourceCreatedAt,
		})
	}
	return out
}

func orderArc(passages []Passage, arc ArcType) {
	switch arc {
	case ArcChronological:
		sort.SliceStable(passages, func(i, j int) bool {
			a, b := passages[i].SourceCreatedAt, passages[j].SourceCreatedAt
			switch {
			case a == nil && b == nil:
				return false
			case a == nil:
				return true
			case b == nil:
				return false
			default:
				return a.Before(*b)
			}
		})
	case ArcThematic:
		sort.SliceStable(passages, func(i, j int) bool {
			if passages[i].SourceType != passages[j].SourceType {
				return passages[i].SourceType < passages[j].SourceType
			}
			return passages[i].Relevance > passages[j].Relevance
		})
	case ArcDramatic:
		sort.SliceStable(passages, func(i, j int) bool {
			return passages[i].Relevance < passages[j].Relevance
		})
	case ArcExploratory:
		rand.Shuffle(len(passages), func(i, j int) {
			passages[i], passages[j] = passages[j], passages[i]
		})
	}
}

func splitChapters(passages []Passage) []store.Chapter {
	n := len(passages)
	count := int(math.Ceil(float64(n) / passagesPerChapter))
	if count < minChapters {
		count = minChapters
	}
	if count > maxChapters {
		count = maxChapters
	}
	if count > n {
		count = n
	}

	chapters := make([]store.Chapter, 0, count)
	per := n / count
	extra := n % count
	idx := 0
	for i := 0; i < count; i++ {
		size := per
		if i < extra {
			size++
		}
		group := passages[idx : idx+size]
		idx += size

		texts := make([]string, len(group))
		ids := make([]string, len(group))
		for j, p := range group {
			texts[j] = p.Text
			ids[j] = p.NodeID
		}
		chapters = append(chapters, store.Chapter{
			ID:         uuid.NewString(),
			Title:      firstWords(group[0].Text, chapterTitleWords),
			Content:    strings.Join(texts, chapterJoiner),
			PassageIDs: ids,
			Order:      i,
		})
	}
	return chapters
}

// rewriteChapters runs up to passes rewrite rounds per chapter through
// the LLM adapter, stopping early once a round leaves the text
// unchanged. Rewrite failures keep the unrewritten chapter.
func (b *Builder) rewriteChapters(ctx context.Context, book *store.Book, persona *store.PersonaProfile, passes int) {
	if b.llm == nil {
		return
	}
	system := fmt.Sprintf(
		"You rewrite text in the voice of %q while preserving all facts and order. Traits: %s. Return only the rewritten text.",
		persona.Name, persona.Traits.Text())

	for i := range book.Chapters {
		ch := &book.Chapters[i]
		for pass := 0; pass < passes; pass++ {
			resp, err := b.llm.Complete(ctx, llms.Request{
				SystemPrompt: system,
				UserPrompt:   ch.Content,
				MaxTokens:    rewriteMaxTokens,
			})
			if err != nil {
				b.logger.Warn("persona rewrite failed",
					"chapter", ch.Order, "pass", pass+1, "error", err)
				break
			}
			if b.OnLLMUsage != nil {
				b.OnLLMUsage(b.llm.DefaultModel(), resp.InputTokens, resp.OutputTokens, resp.LatencyMs)
			}
			text := strings.TrimSpace(resp.Text)
			if text == "" || text == ch.Content {
				break
			}
			ch.Content = text
		}
	}
}

// indexChapters stores each chapter as a level-0 archive node with an
// embedding, plus a level-2 apex node carrying the arc introduction.
func (b *Builder) indexChapters(ctx context.Context, book *store.Book) error {
	if b.embedder == nil {
		return nil
	}

	nodes := make([]embedder.Node, len(book.Chapters))
	for i, ch := range book.Chapters {
		node := &store.ArchiveNode{
			ID:             ch.ID,
			Text:           ch.Content,
			SourceType:     "book_chapter",
			WordCount:      len(strings.Fields(ch.Content)),
			HierarchyLevel: 0,
			CreatedAt:      time.Now(),
			Metadata: protocol.Map(map[string]protocol.Value{
				"book_id":       protocol.String(book.ID),
				"chapter_order": protocol.Int(int64(ch.Order)),
			}),
		}
		if err := b.store.AddNode(ctx, node); err != nil {
			return err
		}
		nodes[i] = embedder.Node{ID: ch.ID, Text: ch.Content}
	}

	embeddings, err := b.embedder.EmbedNodes(ctx, nodes)
	if err != nil {
		return err
	}
	for _, e := range embeddings {
		if err := b.store.StoreEmbedding(ctx, e.NodeID, e.Embedding, b.embedder.Model()); err != nil {
			return err
		}
	}

	if book.Introduction != "" {
		apex := &store.ArchiveNode{
			ID:             uuid.NewString(),
			Text:           book.Introduction,
			SourceType:     "book_arc",
			WordCount:      len(strings.Fields(book.Introduction)),
			HierarchyLevel: 2,
			CreatedAt:      time.Now(),
			Metadata: protocol.Map(map[string]protocol.Value{
				"book_id": protocol.String(book.ID),
			}),
		}
		if err := b.store.AddNode(ctx, apex); err != nil {
			return err
		}
	}
	return nil
}

func arcPhrase(arc ArcType) string {
	switch arc {
	case ArcThematic:
		return "by theme"
	case ArcDramatic:
		return "by rising intensity"
	case ArcExploratory:
		return "in wandering order"
	default:
		return "in time order"
	}
}

func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}
