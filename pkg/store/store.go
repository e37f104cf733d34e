package store

import (
	"context"
	"time"
)

// Store is the persistence contract consumed by the orchestration core.
// Implementations must be safe for concurrent use. Lookups for missing
// entities return an error wrapping protocol.ErrNotFound.
type Store interface {
	// Sessions (persistent rehydration).
	SaveSessionSnapshot(ctx context.Context, snap *SessionSnapshot) error
	GetSessionSnapshot(ctx context.Context, id string) (*SessionSnapshot, error)
	DeleteSessionSnapshot(ctx context.Context, id string) error

	// Archive nodes and embeddings.
	AddNode(ctx context.Context, node *ArchiveNode) error
	GetNode(ctx context.Context, id string) (*ArchiveNode, error)
	CountNodes(ctx context.Context) (total int, embedded int, err error)
	GetNodesNeedingEmbeddings(ctx context.Context, limit int) ([]*ArchiveNode, error)
	GetRandomEmbeddedNodeIDs(ctx context.Context, n int) ([]string, error)
	StoreEmbedding(ctx context.Context, nodeID string, vec []float32, model string) error
	GetEmbedding(ctx context.Context, nodeID string) ([]float32, error)
	SearchByEmbedding(ctx context.Context, vec []float32, limit int, threshold float64) ([]Neighbor, error)

	// Clusters.
	SaveCluster(ctx context.Context, c *Cluster) error
	GetCluster(ctx context.Context, id string) (*Cluster, error)
	ListClusters(ctx context.Context) ([]*Cluster, error)

	// Books and artifacts.
	SaveBook(ctx context.Context, b *Book) error
	GetBook(ctx context.Context, id string) (*Book, error)
	ListBooks(ctx context.Context, userID string) ([]*Book, error)
	SaveArtifact(ctx context.Context, a *Artifact) error
	GetArtifact(ctx context.Context, id string) (*Artifact, error)
	ListArtifacts(ctx context.Context, bookID string) ([]*Artifact, error)

	// Personas and styles.
	SavePersona(ctx context.Context, p *PersonaProfile) error
	GetPersona(ctx context.Context, id string) (*PersonaProfile, error)
	GetDefaultPersona(ctx context.Context, userID string) (*PersonaProfile, error)
	ListPersonas(ctx context.Context, userID string) ([]*PersonaProfile, error)
	SaveStyle(ctx context.Context, s *StyleProfile) error
	ListStyles(ctx context.Context, personaID string) ([]*StyleProfile, error)

	// Cost entries and usage aggregates.
	SaveCostEntry(ctx context.Context, e *CostEntry) error
	ListCostEntries(ctx context.Context, from, to time.Time) ([]*CostEntry, error)
	PruneCostEntries(ctx context.Context, before time.Time) (int, error)
	AddUsage(ctx context.Context, userID, period string, delta UsageDelta) error
	GetUsage(ctx context.Context, userID, period string) (*UsageRecord, error)
	ListUsage(ctx context.Context, fromPeriod, toPeriod string) ([]*UsageRecord, error)

	Close() error
}
