package aui

import (
	"context"

	"github.com/auilabs/aui/pkg/archive"
	"github.com/auilabs/aui/pkg/book"
	"github.com/auilabs/aui/pkg/persona"
	"github.com/auilabs/aui/pkg/protocol"
	"github.com/auilabs/aui/pkg/store"
)

func (s *Service) archiveDriver() (*archive.Driver, error) {
	if s.archive == nil {
		return nil, svcErr("archive", "no embedder configured", protocol.ErrAdapterFailure)
	}
	return s.archive, nil
}

// GetArchiveStats reports archive node counts.
func (s *Service) GetArchiveStats(ctx context.Context, sessionID string) (*archive.Stats, error) {
	if _, err := s.resolveSession(ctx, sessionID); err != nil {
		return nil, err
	}
	d, err := s.archiveDriver()
	if err != nil {
		return nil, err
	}
	return d.GetStats(ctx)
}

// EmbedAll embeds every pending archive node, batched. Zero-valued
// options fall back to the configured embedding defaults.
func (s *Service) EmbedAll(ctx context.Context, sessionID string, opts archive.EmbedOptions) (*archive.EmbedResult, error) {
	if _, err := s.resolveSession(ctx, sessionID); err != nil {
		return nil, err
	}
	d, err := s.archiveDriver()
	if err != nil {
		return nil, err
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = s.cfg.Embed.BatchSize
	}
	if opts.MinWordCount <= 0 {
		opts.MinWordCount = s.cfg.Embed.MinWordCount
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = s.cfg.Embed.Concurrency
	}
	return d.EmbedAll(ctx, opts)
}

// EmbedBatch embeds an explicit node id list.
func (s *Service) EmbedBatch(ctx context.Context, sessionID string, nodeIDs []string) (*archive.EmbedResult, error) {
	if _, err := s.resolveSession(ctx, sessionID); err != nil {
		return nil, err
	}
	d, err := s.archiveDriver()
	if err != nil {
		return nil, err
	}
	return d.EmbedBatch(ctx, nodeIDs)
}

// DiscoverClusters finds similarity neighborhoods over the embedded
// archive. Zero-valued options fall back to the configured cluster
// defaults. Discovered clusters are not persisted; use SaveCluster.
func (s *Service) DiscoverClusters(ctx context.Context, sessionID string, opts archive.DiscoverOptions) (*archive.DiscoverResult, error) {
	if _, err := s.resolveSession(ctx, sessionID); err != nil {
		return nil, err
	}
	d, err := s.archiveDriver()
	if err != nil {
		return nil, err
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = s.cfg.Cluster.SampleSize
	}
	if opts.MaxClusters <= 0 {
		opts.MaxClusters = s.cfg.Cluster.MaxClusters
	}
	if opts.MinClusterSize <= 0 {
		opts.MinClusterSize = s.cfg.Cluster.MinClusterSize
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = s.cfg.Cluster.MinSimilarity
	}
	return d.DiscoverClusters(ctx, opts)
}

func (s *Service) ListClusters(ctx context.Context, sessionID string) ([]*store.Cluster, error) {
	if _, err := s.resolveSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListClusters(ctx)
}

func (s *Service) GetCluster(ctx context.Context, sessionID, clusterID string) (*store.Cluster, error) {
	if _, err := s.resolveSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.GetCluster(ctx, clusterID)
}

func (s *Service) SaveCluster(ctx context.Context, sessionID string, c *store.Cluster) error {
	if _, err := s.resolveSession(ctx, sessionID); err != nil {
		return err
	}
	return s.store.SaveCluster(ctx, c)
}

// HarvestPassages gathers book passages from the embedded archive by
// semantic relevance, with date-range and per-source filtering.
func (s *Service) HarvestPassages(ctx context.Context, sessionID string, opts book.HarvestOptions) ([]book.Passage, error) {
	if _, err := s.resolveSession(ctx, sessionID); err != nil {
		return nil, err
	}
	if s.embedder == nil {
		return nil, svcErr("HarvestPassages", "no embedder configured", protocol.ErrAdapterFailure)
	}
	return s.books.Harvest(ctx, opts)
}

// CreateBookFromCluster assembles a book over a saved cluster. The
// session's user becomes the book owner unless the options name one.
func (s *Service) CreateBookFromCluster(ctx context.Context, sessionID, clusterID string, opts book.CreateOptions) (*store.Book, error) {
	sess, err := s.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if opts.UserID == "" {
		opts.UserID = sess.UserID
	}
	if opts.MaxPassages <= 0 {
		opts.MaxPassages = s.cfg.Book.MaxPassages
	}
	if opts.RewritePasses <= 0 {
		opts.RewritePasses = s.cfg.Book.RewritePasses
	}
	return s.books.CreateFromCluster(ctx, clusterID, opts)
}

// CreateBookWithPersona assembles a book rewritten in an explicit
// persona's voice.
func (s *Service) CreateBookWithPersona(ctx context.Context, sessionID, clusterID, personaID string, opts book.CreateOptions) (*store.Book, error) {
	opts.PersonaID = personaID
	return s.CreateBookFromCluster(ctx, sessionID, clusterID, opts)
}

// ListBooks returns the session user's books.
func (s *Service) ListBooks(ctx context.Context, sessionID string) ([]*store.Book, error) {
	sess, err := s.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.store.ListBooks(ctx, sess.UserID)
}

func (s *Service) GetBook(ctx context.Context, sessionID, bookID string) (*store.Book, error) {
	if _, err := s.resolveSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.GetBook(ctx, bookID)
}

// ExportBook renders a book (markdown, html or json) and persists the
// rendition as a downloadable artifact.
func (s *Service) ExportBook(ctx context.Context, sessionID, bookID, format string) (*store.Artifact, error) {
	if _, err := s.resolveSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.books.Export(ctx, bookID, format)
}

func (s *Service) DownloadArtifact(ctx context.Context, sessionID, artifactID string) (*store.Artifact, error) {
	if _, err := s.resolveSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.GetArtifact(ctx, artifactID)
}

func (s *Service) ListArtifacts(ctx context.Context, sessionID, bookID string) ([]*store.Artifact, error) {
	if _, err := s.resolveSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListArtifacts(ctx, bookID)
}

// StartPersonaHarvest opens a harvest for the session's user.
func (s *Service) StartPersonaHarvest(ctx context.Context, sessionID, name string) (*persona.Harvest, error) {
	sess, err := s.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.personas.StartHarvest(sess.UserID, name), nil
}

func (s *Service) AddPersonaSample(ctx context.Context, sessionID, harvestID, text, source string) (*persona.Sample, error) {
	if _, err := s.resolveSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.personas.AddSample(harvestID, text, source)
}

// HarvestPersonaFromArchive pulls harvest samples from the embedded
// archive by semantic similarity.
func (s *Service) HarvestPersonaFromArchive(ctx context.Context, sessionID, harvestID, query string, limit int, minRelevance float64) (int, error) {
	if _, err := s.resolveSession(ctx, sessionID); err != nil {
		return 0, err
	}
	if s.embedder == nil {
		return 0, svcErr("HarvestPersonaFromArchive", "no embedder configured", protocol.ErrAdapterFailure)
	}
	return s.personas.HarvestFromArchive(ctx, harvestID, query, limit, minRelevance)
}

func (s *Service) ExtractPersonaTraits(ctx context.Context, sessionID, harvestID string) (*persona.Analysis, error) {
	if _, err := s.resolveSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.personas.ExtractTraits(ctx, harvestID)
}

func (s *Service) FinalizePersona(ctx context.Context, sessionID, harvestID string, opts persona.FinalizeOptions) (*store.PersonaProfile, error) {
	if _, err := s.resolveSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.personas.FinalizePersona(ctx, harvestID, opts)
}

// GeneratePersonaSample produces a sample paragraph in the persona's
// voice; the call is limit-gated and cost-recorded like other LLM paths.
func (s *Service) GeneratePersonaSample(ctx context.Context, sessionID, personaID, topic string) (string, error) {
	sess, err := s.resolveSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if s.llm == nil {
		return "", svcErr("GeneratePersonaSample", "no LLM provider configured", protocol.ErrAdapterFailure)
	}
	if err := s.gateLLM(ctx, "GeneratePersonaSample", sess.UserID); err != nil {
		return "", err
	}
	return s.personas.GenerateSample(ctx, personaID, topic)
}
