package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaPrime/recall-engine/internal/embedder"
	"github.com/AvaPrime/recall-engine/internal/storage"
	"github.com/AvaPrime/recall-engine/pkg/types"
)

// failingEmbedder simulates a provider outage
type failingEmbedder struct{}

func (f *failingEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	return nil, errors.New("provider down")
}

func (f *failingEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	return nil, errors.New("provider down")
}

func (f *failingEmbedder) Dimension() int   { return 3 }
func (f *failingEmbedder) Provider() string { return "failing" }
func (f *failingEmbedder) Model() string    { return "failing-v1" }
func (f *failingEmbedder) Close() error     { return nil }

func setupTestIngestor(t *testing.T) (*Ingestor, *storage.SQLiteStorage) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	emb, err := embedder.NewStaticProvider(embedder.NewCache(100))
	require.NoError(t, err)

	return New(store, emb), store
}

func sampleBatch() *ThreadBatch {
	return &ThreadBatch{
		Thread: types.Thread{ID: "t1", Title: "retry discussion"},
		Messages: []MessageInput{
			{Ordinal: -1, Role: types.RoleUser, Content: "how should retries work?"},
			{
				Ordinal: -1,
				Role:    types.RoleAssistant,
				Content: "use exponential backoff with a cap",
				Artifacts: []ArtifactInput{
					{Kind: types.ArtifactOther, Content: "decision: retry 3 times with backoff"},
				},
			},
		},
	}
}

func TestIngestThreadStoresAndEmbeds(t *testing.T) {
	ing, store := setupTestIngestor(t)
	ctx := context.Background()

	stats, err := ing.IngestThread(ctx, sampleBatch(), &Config{Embed: true})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.MessagesIngested)
	assert.Equal(t, 1, stats.ArtifactsIngested)
	assert.Equal(t, 0, stats.ArtifactsDeduped)
	assert.Equal(t, 3, stats.RecordsEmbedded, "both messages and the artifact should be embedded")
	assert.Equal(t, 0, stats.EmbedFailures)

	max, err := store.MaxOrdinal(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, max)

	pending, err := store.ListUnembedded(ctx, types.KindMessage, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestIngestThreadAppendsOrdinals(t *testing.T) {
	ing, store := setupTestIngestor(t)
	ctx := context.Background()

	_, err := ing.IngestThread(ctx, sampleBatch(), &Config{})
	require.NoError(t, err)

	// Second batch continues after the existing tail
	second := &ThreadBatch{
		Thread: types.Thread{ID: "t1"},
		Messages: []MessageInput{
			{Ordinal: -1, Role: types.RoleUser, Content: "follow-up question"},
		},
	}
	_, err = ing.IngestThread(ctx, second, &Config{})
	require.NoError(t, err)

	max, err := store.MaxOrdinal(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, max)
}

func TestIngestThreadRejectsOrdinalGap(t *testing.T) {
	ing, _ := setupTestIngestor(t)
	ctx := context.Background()

	batch := &ThreadBatch{
		Thread: types.Thread{ID: "t1"},
		Messages: []MessageInput{
			{Ordinal: 0, Role: types.RoleUser, Content: "first"},
			{Ordinal: 2, Role: types.RoleUser, Content: "leaves a gap"},
		},
	}
	_, err := ing.IngestThread(ctx, batch, &Config{})
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestIngestThreadRejectsWholeBatchOnInvalidMessage(t *testing.T) {
	ing, store := setupTestIngestor(t)
	ctx := context.Background()

	batch := &ThreadBatch{
		Thread: types.Thread{ID: "t1"},
		Messages: []MessageInput{
			{Ordinal: -1, Role: types.RoleUser, Content: "valid"},
			{Ordinal: -1, Role: types.Role("bot"), Content: "invalid role"},
		},
	}
	_, err := ing.IngestThread(ctx, batch, &Config{})
	require.Error(t, err)

	// Nothing from the batch should have been committed
	max, err := store.MaxOrdinal(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, -1, max)
}

func TestIngestThreadDedupesExactArtifacts(t *testing.T) {
	ing, _ := setupTestIngestor(t)
	ctx := context.Background()

	batch := &ThreadBatch{
		Thread: types.Thread{ID: "t1"},
		Messages: []MessageInput{
			{
				Ordinal: -1, Role: types.RoleUser, Content: "first carrier",
				Artifacts: []ArtifactInput{{Kind: types.ArtifactCode, Content: "func main() {}"}},
			},
			{
				Ordinal: -1, Role: types.RoleAssistant, Content: "second carrier",
				Artifacts: []ArtifactInput{{Kind: types.ArtifactCode, Content: "  func main() {}\n"}},
			},
		},
	}

	stats, err := ing.IngestThread(ctx, batch, &Config{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ArtifactsIngested)
	assert.Equal(t, 1, stats.ArtifactsDeduped)
}

func TestEmbedPendingProviderFailure(t *testing.T) {
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ing := New(store, &failingEmbedder{})
	ctx := context.Background()

	_, err = ing.IngestThread(ctx, sampleBatch(), &Config{Embed: false})
	require.NoError(t, err)

	stats, err := ing.EmbedPending(ctx, nil)
	require.NoError(t, err, "provider outage must not fail the pass")
	assert.Equal(t, 0, stats.RecordsEmbedded)
	assert.Equal(t, 3, stats.EmbedFailures)
	assert.NotEmpty(t, stats.ErrorMessages)

	// Records stay pending for the next pass
	pending, err := store.ListUnembedded(ctx, types.KindMessage, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}
