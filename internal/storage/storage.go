package storage

import (
	"context"
	"time"

	"github.com/AvaPrime/recall-engine/pkg/types"
)

// Storage defines the interface for persisting and querying recall records
type Storage interface {
	// Thread operations
	UpsertThread(ctx context.Context, thread *types.Thread) error
	GetThread(ctx context.Context, threadID string) (*types.Thread, error)

	// Message operations
	InsertMessage(ctx context.Context, msg *types.Message) error
	GetMessage(ctx context.Context, messageID string) (*types.Message, error)
	MaxOrdinal(ctx context.Context, threadID string) (int, error)
	ThreadWindow(ctx context.Context, threadID string, center, window int) ([]types.Message, error)

	// Artifact operations
	UpsertArtifact(ctx context.Context, artifact *types.Artifact) (canonicalID string, err error)
	GetArtifact(ctx context.Context, artifactID string) (*types.Artifact, error)
	MarkDuplicate(ctx context.Context, artifactID, canonicalID string) error

	// Summary card operations
	InsertSummaryCard(ctx context.Context, card *types.SummaryCard) error
	GetSummaryCard(ctx context.Context, cardID string) (*types.SummaryCard, error)
	SupersedeCards(ctx context.Context, beforeGeneration int64) (int64, error)

	// Embedding operations
	UpsertEmbedding(ctx context.Context, embedding *Embedding) error
	GetEmbedding(ctx context.Context, kind types.RecordKind, recordID string) (*Embedding, error)
	ListEmbeddings(ctx context.Context, kinds []types.RecordKind) ([]*Embedding, error)
	ListUnembedded(ctx context.Context, kind types.RecordKind, limit int) ([]PendingRecord, error)

	// Search operations
	SearchLexical(ctx context.Context, query string, kinds []types.RecordKind, limit int, filters *SearchFilters) ([]LexicalResult, error)
	SearchVector(ctx context.Context, vector []float32, kinds []types.RecordKind, limit int, filters *SearchFilters) ([]VectorResult, error)

	// Consolidation operations
	InsertCluster(ctx context.Context, cluster *types.Cluster) error
	GetCluster(ctx context.Context, clusterID string) (*types.Cluster, error)
	ListClusters(ctx context.Context, generation int64, afterID string, limit int) ([]*types.Cluster, error)
	LatestGeneration(ctx context.Context) (int64, error)
	InsertConsolidationRun(ctx context.Context, run *types.ConsolidationRun) error
	ListConsolidationRuns(ctx context.Context, limit int) ([]*types.ConsolidationRun, error)

	// Timeline operations
	TermTimeline(ctx context.Context, term string, from, to time.Time, limit int) ([]types.TimelineEntry, error)

	// Status operations
	GetStats(ctx context.Context) (*types.Stats, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// Embedding represents a stored vector for one record
type Embedding struct {
	Kind      types.RecordKind
	RecordID  string
	Vector    []byte // Serialized float32 array
	Dimension int
	Provider  string
	Model     string
	CreatedAt time.Time
}

// PendingRecord is a record that has no stored embedding yet
type PendingRecord struct {
	Kind    types.RecordKind
	ID      string
	Content string
}

// SearchFilters contains filters for narrowing search results
type SearchFilters struct {
	ThreadID string    // Restrict to one thread
	From     time.Time // Inclusive lower bound on record creation time
	To       time.Time // Inclusive upper bound on record creation time
	Tags     []string  // Summary card tags (any match)
}

// LexicalResult represents a result from full-text search
type LexicalResult struct {
	Kind      types.RecordKind
	ID        string
	BM25Score float64
	Snippet   string
	ThreadID  string
	CreatedAt time.Time
}

// VectorResult represents a result from vector similarity search
type VectorResult struct {
	Kind            types.RecordKind
	ID              string
	SimilarityScore float64
	Snippet         string
	ThreadID        string
	CreatedAt       time.Time
}
