package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AvaPrime/recall-engine/internal/embedder"
	"github.com/AvaPrime/recall-engine/internal/storage"
	"github.com/AvaPrime/recall-engine/pkg/types"
)

// Ingestor coordinates the ingestion pipeline: validate -> store -> embed
type Ingestor struct {
	storage  storage.Storage
	embedder embedder.Embedder

	// Worker pool configuration
	workers int
}

// Config contains configuration for the ingestor
type Config struct {
	Workers   int  // Number of concurrent embedding workers (default: runtime.NumCPU())
	BatchSize int  // Records per embedding batch (default: embedder.DefaultBatchSize)
	Embed     bool // Whether to embed new records after storing them
}

// Statistics contains statistics about an ingestion operation
type Statistics struct {
	MessagesIngested  int
	ArtifactsIngested int
	ArtifactsDeduped  int
	RecordsEmbedded   int
	EmbedFailures     int
	Duration          time.Duration
	ErrorMessages     []string
}

// ThreadBatch is one normalized conversation ready for ingestion
type ThreadBatch struct {
	Thread   types.Thread
	Messages []MessageInput
}

// MessageInput is a normalized turn. Ordinal -1 appends after the
// thread's current tail; explicit ordinals must continue the thread
// contiguously.
type MessageInput struct {
	Ordinal   int
	Role      types.Role
	Content   string
	CreatedAt time.Time
	Artifacts []ArtifactInput
}

// ArtifactInput is an extracted unit anchored to its message
type ArtifactInput struct {
	Kind    types.ArtifactKind
	Content string
}

// New creates a new Ingestor instance
func New(store storage.Storage, emb embedder.Embedder) *Ingestor {
	return &Ingestor{
		storage:  store,
		embedder: emb,
		workers:  runtime.NumCPU(),
	}
}

// IngestThread stores one thread batch atomically, then optionally
// embeds the new records. Exact-duplicate artifacts collapse to their
// canonical stored copy and are counted, not errors.
func (ing *Ingestor) IngestThread(ctx context.Context, batch *ThreadBatch, config *Config) (*Statistics, error) {
	if config == nil {
		config = &Config{Embed: true}
	}

	startTime := time.Now()
	stats := &Statistics{ErrorMessages: make([]string, 0)}

	if batch.Thread.ID == "" {
		batch.Thread.ID = uuid.NewString()
	}
	if len(batch.Messages) == 0 {
		return nil, fmt.Errorf("thread batch has no messages: %w", types.ErrInvalidParameter)
	}

	tx, err := ing.storage.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.UpsertThread(ctx, &batch.Thread); err != nil {
		return nil, err
	}

	next, err := tx.MaxOrdinal(ctx, batch.Thread.ID)
	if err != nil {
		return nil, err
	}
	next++

	for i := range batch.Messages {
		input := &batch.Messages[i]

		ordinal := input.Ordinal
		if ordinal < 0 {
			ordinal = next
		} else if ordinal != next {
			return nil, fmt.Errorf("ordinal %d breaks thread continuity, expected %d: %w",
				ordinal, next, types.ErrInvalidParameter)
		}
		next = ordinal + 1

		msg := &types.Message{
			ID:        uuid.NewString(),
			ThreadID:  batch.Thread.ID,
			Ordinal:   ordinal,
			Role:      input.Role,
			Content:   input.Content,
			CreatedAt: input.CreatedAt,
		}
		if err := msg.Validate(); err != nil {
			return nil, fmt.Errorf("message at ordinal %d: %w", ordinal, err)
		}
		if err := tx.InsertMessage(ctx, msg); err != nil {
			return nil, err
		}
		stats.MessagesIngested++

		for _, art := range input.Artifacts {
			artifact := &types.Artifact{
				ID:        uuid.NewString(),
				MessageID: msg.ID,
				Kind:      art.Kind,
				Content:   art.Content,
				CreatedAt: msg.CreatedAt,
			}
			if err := artifact.Validate(); err != nil {
				return nil, fmt.Errorf("artifact at ordinal %d: %w", ordinal, err)
			}
			canonicalID, err := tx.UpsertArtifact(ctx, artifact)
			if err != nil {
				return nil, err
			}
			if canonicalID != artifact.ID {
				stats.ArtifactsDeduped++
			} else {
				stats.ArtifactsIngested++
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if config.Embed {
		embedStats, err := ing.EmbedPending(ctx, config)
		if err != nil {
			return nil, err
		}
		stats.RecordsEmbedded = embedStats.RecordsEmbedded
		stats.EmbedFailures = embedStats.EmbedFailures
		stats.ErrorMessages = append(stats.ErrorMessages, embedStats.ErrorMessages...)
	}

	stats.Duration = time.Since(startTime)
	return stats, nil
}

// embedKinds are the record kinds the embedding pipeline covers
var embedKinds = []types.RecordKind{types.KindMessage, types.KindArtifact, types.KindSummaryCard}

// EmbedPending embeds every stored record that has no embedding yet.
// Provider failures for one batch are counted and do not stop the rest.
func (ing *Ingestor) EmbedPending(ctx context.Context, config *Config) (*Statistics, error) {
	if config == nil {
		config = &Config{}
	}
	workers := config.Workers
	if workers <= 0 {
		workers = ing.workers
	}
	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = embedder.DefaultBatchSize
	}

	startTime := time.Now()
	stats := &Statistics{ErrorMessages: make([]string, 0)}

	var (
		embedded int32
		failed   int32
	)
	var mu sync.Mutex // Protect stats.ErrorMessages

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, kind := range embedKinds {
		pending, err := ing.storage.ListUnembedded(ctx, kind, 1<<20)
		if err != nil {
			return nil, err
		}

		for i := 0; i < len(pending); i += batchSize {
			end := i + batchSize
			if end > len(pending) {
				end = len(pending)
			}
			batch := pending[i:end]

			g.Go(func() error {
				if err := ing.embedBatch(gctx, batch, &embedded); err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return err
					}
					atomic.AddInt32(&failed, int32(len(batch)))
					mu.Lock()
					stats.ErrorMessages = append(stats.ErrorMessages, err.Error())
					mu.Unlock()
					// Continue with other batches
				}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats.RecordsEmbedded = int(embedded)
	stats.EmbedFailures = int(failed)
	stats.Duration = time.Since(startTime)
	return stats, nil
}

// embedBatch embeds one batch of records and stores the vectors
func (ing *Ingestor) embedBatch(ctx context.Context, batch []storage.PendingRecord, embedded *int32) error {
	texts := make([]string, len(batch))
	for i, record := range batch {
		texts[i] = record.Content
	}

	resp, err := ing.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrEmbeddingProvider, err)
	}
	if len(resp.Embeddings) != len(batch) {
		return fmt.Errorf("%w: got %d embeddings for %d records",
			types.ErrEmbeddingProvider, len(resp.Embeddings), len(batch))
	}

	for i, record := range batch {
		emb := resp.Embeddings[i]
		row := &storage.Embedding{
			Kind:      record.Kind,
			RecordID:  record.ID,
			Vector:    storage.SerializeVector(embedder.NormalizeVector(emb.Vector)),
			Dimension: emb.Dimension,
			Provider:  emb.Provider,
			Model:     emb.Model,
		}
		if err := ing.storage.UpsertEmbedding(ctx, row); err != nil {
			return err
		}
		atomic.AddInt32(embedded, 1)
	}
	return nil
}
