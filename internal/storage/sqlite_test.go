package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaPrime/recall-engine/pkg/types"
)

func setupTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedThread(t *testing.T, store *SQLiteStorage, threadID string, contents []string) []types.Message {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.UpsertThread(ctx, &types.Thread{ID: threadID, Title: "test thread"}))

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	messages := make([]types.Message, 0, len(contents))
	for i, content := range contents {
		msg := types.Message{
			ID:        fmt.Sprintf("%s-m%02d", threadID, i),
			ThreadID:  threadID,
			Ordinal:   i,
			Role:      types.RoleUser,
			Content:   content,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if i%2 == 1 {
			msg.Role = types.RoleAssistant
		}
		require.NoError(t, store.InsertMessage(ctx, &msg))
		messages = append(messages, msg)
	}
	return messages
}

func TestThreadAndMessageRoundTrip(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	msgs := seedThread(t, store, "t1", []string{"hello world", "general kenobi"})

	thread, err := store.GetThread(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "test thread", thread.Title)

	got, err := store.GetMessage(ctx, msgs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, types.RoleAssistant, got.Role)
	assert.Equal(t, 1, got.Ordinal)
	assert.Equal(t, "general kenobi", got.Content)

	_, err = store.GetMessage(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertMessageOrdinalConflict(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	seedThread(t, store, "t1", []string{"first"})

	dup := types.Message{
		ID:       "t1-dup",
		ThreadID: "t1",
		Ordinal:  0,
		Role:     types.RoleUser,
		Content:  "conflicting ordinal",
	}
	err := store.InsertMessage(ctx, &dup)
	assert.ErrorIs(t, err, ErrOrdinalConflict)
}

func TestMaxOrdinal(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	max, err := store.MaxOrdinal(ctx, "empty")
	require.NoError(t, err)
	assert.Equal(t, -1, max)

	seedThread(t, store, "t1", []string{"a", "b", "c"})
	max, err = store.MaxOrdinal(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, max)
}

func TestThreadWindow(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	seedThread(t, store, "t1", []string{"zero", "one", "two", "three"})
	seedThread(t, store, "t2", []string{"other thread"})

	tests := []struct {
		name     string
		center   int
		window   int
		ordinals []int
	}{
		{"interior window", 2, 1, []int{1, 2, 3}},
		{"start of thread clips", 0, 1, []int{0, 1}},
		{"end of thread clips", 3, 1, []int{2, 3}},
		{"zero window is just the hit", 2, 0, []int{2}},
		{"oversized window clips to thread", 1, 10, []int{0, 1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := store.ThreadWindow(ctx, "t1", tt.center, tt.window)
			require.NoError(t, err)
			require.Len(t, msgs, len(tt.ordinals))
			for i, ordinal := range tt.ordinals {
				assert.Equal(t, ordinal, msgs[i].Ordinal)
				assert.Equal(t, "t1", msgs[i].ThreadID)
			}
		})
	}
}

func TestUpsertArtifactFingerprintDedup(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	msgs := seedThread(t, store, "t1", []string{"carrier message", "second message"})

	first := &types.Artifact{
		ID:        "a1",
		MessageID: msgs[0].ID,
		Kind:      types.ArtifactCode,
		Content:   "func main() {}",
	}
	id, err := store.UpsertArtifact(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "a1", id)

	// Same content, different surrounding whitespace, different ID
	second := &types.Artifact{
		ID:        "a2",
		MessageID: msgs[1].ID,
		Kind:      types.ArtifactCode,
		Content:   "  func main() {}\n",
	}
	id, err = store.UpsertArtifact(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "a1", id, "identical fingerprints should resolve to the first stored copy")

	_, err = store.GetArtifact(ctx, "a2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkDuplicateExcludesFromSearch(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	msgs := seedThread(t, store, "t1", []string{"carrier"})

	for i, content := range []string{"retry with exponential backoff", "retry with exponential backoff and jitter"} {
		artifact := &types.Artifact{
			ID:        fmt.Sprintf("a%d", i+1),
			MessageID: msgs[0].ID,
			Kind:      types.ArtifactDoc,
			Content:   content,
		}
		_, err := store.UpsertArtifact(ctx, artifact)
		require.NoError(t, err)
	}

	results, err := store.SearchLexical(ctx, "exponential backoff", []types.RecordKind{types.KindArtifact}, 10, nil)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	require.NoError(t, store.MarkDuplicate(ctx, "a2", "a1"))

	results, err = store.SearchLexical(ctx, "exponential backoff", []types.RecordKind{types.KindArtifact}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a1", results[0].ID)

	// The duplicate stays readable
	dup, err := store.GetArtifact(ctx, "a2")
	require.NoError(t, err)
	assert.Equal(t, "a1", dup.DuplicateOf)
}

func TestSummaryCardSupersession(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	old := &types.SummaryCard{
		ID:         "c1",
		ClusterID:  "cl1",
		Generation: 1,
		Summary:    "retry strategy discussions",
		Tags:       []string{"retry", "backoff"},
		SourceIDs:  []string{"m1", "m2"},
	}
	require.NoError(t, store.InsertSummaryCard(ctx, old))

	current := &types.SummaryCard{
		ID:         "c2",
		ClusterID:  "cl2",
		Generation: 2,
		Summary:    "retry strategy discussions, revised",
		SourceIDs:  []string{"m1", "m2", "m3"},
	}
	require.NoError(t, store.InsertSummaryCard(ctx, current))

	n, err := store.SupersedeCards(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Superseded card leaves search but stays readable
	results, err := store.SearchLexical(ctx, "retry strategy", []types.RecordKind{types.KindSummaryCard}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c2", results[0].ID)

	got, err := store.GetSummaryCard(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, got.Superseded)
	assert.Equal(t, []string{"retry", "backoff"}, got.Tags)
}

func TestEmbeddingRoundTrip(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	msgs := seedThread(t, store, "t1", []string{"embed me", "skip me"})

	vector := []float32{0.1, 0.2, 0.3}
	emb := &Embedding{
		Kind:      types.KindMessage,
		RecordID:  msgs[0].ID,
		Vector:    SerializeVector(vector),
		Dimension: 3,
		Provider:  "static",
		Model:     "static-v1",
	}
	require.NoError(t, store.UpsertEmbedding(ctx, emb))

	got, err := store.GetEmbedding(ctx, types.KindMessage, msgs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, vector, DeserializeVector(got.Vector))
	assert.Equal(t, "static", got.Provider)

	pending, err := store.ListUnembedded(ctx, types.KindMessage, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, msgs[1].ID, pending[0].ID)

	all, err := store.ListEmbeddings(ctx, []types.RecordKind{types.KindMessage})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSearchLexicalAcrossKinds(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	msgs := seedThread(t, store, "t1", []string{"we discussed database sharding today", "unrelated chatter"})

	artifact := &types.Artifact{
		ID:        "a1",
		MessageID: msgs[0].ID,
		Kind:      types.ArtifactOther,
		Content:   "decision: adopt database sharding by tenant",
	}
	_, err := store.UpsertArtifact(ctx, artifact)
	require.NoError(t, err)

	card := &types.SummaryCard{
		ID:         "c1",
		ClusterID:  "cl1",
		Generation: 1,
		Summary:    "sharding strategy for the database tier",
	}
	require.NoError(t, store.InsertSummaryCard(ctx, card))

	results, err := store.SearchLexical(ctx, "database sharding", nil, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	kinds := map[types.RecordKind]bool{}
	for _, r := range results {
		kinds[r.Kind] = true
		assert.Greater(t, r.BM25Score, 0.0)
		assert.NotEmpty(t, r.Snippet)
	}
	assert.Len(t, kinds, 3)

	// Kind restriction honored
	results, err = store.SearchLexical(ctx, "database sharding", []types.RecordKind{types.KindMessage}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, msgs[0].ID, results[0].ID)
	assert.Equal(t, "t1", results[0].ThreadID)
}

func TestSearchLexicalTimeFilter(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	msgs := seedThread(t, store, "t1", []string{"deployment pipeline broke", "deployment pipeline fixed"})

	filters := &SearchFilters{From: msgs[1].CreatedAt}
	results, err := store.SearchLexical(ctx, "deployment pipeline", []types.RecordKind{types.KindMessage}, 10, filters)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, msgs[1].ID, results[0].ID)
}

func TestSearchVectorRanksBySimilarity(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	msgs := seedThread(t, store, "t1", []string{"close match", "far match", "opposite"})

	vectors := [][]float32{
		{1, 0, 0},
		{0.7, 0.7, 0},
		{-1, 0, 0},
	}
	for i, msg := range msgs {
		emb := &Embedding{
			Kind:      types.KindMessage,
			RecordID:  msg.ID,
			Vector:    SerializeVector(vectors[i]),
			Dimension: 3,
			Provider:  "static",
			Model:     "static-v1",
		}
		require.NoError(t, store.UpsertEmbedding(ctx, emb))
	}

	results, err := store.SearchVector(ctx, []float32{1, 0, 0}, []types.RecordKind{types.KindMessage}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, msgs[0].ID, results[0].ID)
	assert.InDelta(t, 1.0, results[0].SimilarityScore, 1e-6)
	assert.Equal(t, msgs[1].ID, results[1].ID)
	assert.Greater(t, results[0].SimilarityScore, results[1].SimilarityScore)
}

func TestSearchVectorDimensionMismatchSkipped(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	msgs := seedThread(t, store, "t1", []string{"mismatched"})
	emb := &Embedding{
		Kind:      types.KindMessage,
		RecordID:  msgs[0].ID,
		Vector:    SerializeVector([]float32{1, 0}),
		Dimension: 2,
		Provider:  "static",
		Model:     "static-v1",
	}
	require.NoError(t, store.UpsertEmbedding(ctx, emb))

	results, err := store.SearchVector(ctx, []float32{1, 0, 0}, []types.RecordKind{types.KindMessage}, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestTermTimeline(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	msgs := seedThread(t, store, "t1", []string{
		"first mention of consolidation",
		"nothing relevant",
		"consolidation again, with details",
	})

	from := msgs[0].CreatedAt.Add(-time.Hour)
	to := msgs[2].CreatedAt.Add(time.Hour)
	entries, err := store.TermTimeline(ctx, "consolidation", from, to, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, msgs[0].ID, entries[0].RecordID)
	assert.Equal(t, msgs[2].ID, entries[1].RecordID)
	assert.True(t, entries[0].Timestamp.Before(entries[1].Timestamp))

	// Window excludes the later mention
	entries, err = store.TermTimeline(ctx, "consolidation", from, msgs[0].CreatedAt, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestClusterRoundTripAndPagination(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cluster := &types.Cluster{
			ID:          fmt.Sprintf("cl%d", i),
			Generation:  1,
			CanonicalID: fmt.Sprintf("m%d", i),
			Coherence:   0.8,
			Members: []types.ClusterMember{
				{Kind: types.KindMessage, ID: fmt.Sprintf("m%d", i)},
				{Kind: types.KindMessage, ID: fmt.Sprintf("m%d-b", i)},
			},
		}
		require.NoError(t, store.InsertCluster(ctx, cluster))
	}
	require.NoError(t, store.InsertConsolidationRun(ctx, &types.ConsolidationRun{
		ID:         "run1",
		Generation: 1,
		WindowStart: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		WindowEnd:   time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC),
		Coverage:   1.0,
	}))

	got, err := store.GetCluster(ctx, "cl1")
	require.NoError(t, err)
	assert.Equal(t, "m1", got.CanonicalID)
	assert.Len(t, got.Members, 2)

	// Page of two, then the remainder
	page, err := store.ListClusters(ctx, 0, "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "cl0", page[0].ID)
	assert.Equal(t, "cl1", page[1].ID)

	page, err = store.ListClusters(ctx, 0, page[1].ID, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "cl2", page[0].ID)

	gen, err := store.LatestGeneration(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
}

func TestGetStats(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	msgs := seedThread(t, store, "t1", []string{"a message"})
	_, err := store.UpsertArtifact(ctx, &types.Artifact{
		ID:        "a1",
		MessageID: msgs[0].ID,
		Kind:      types.ArtifactCode,
		Content:   "x := 1",
	})
	require.NoError(t, err)

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Threads)
	assert.Equal(t, int64(1), stats.Messages)
	assert.Equal(t, int64(1), stats.Artifacts)
	assert.Equal(t, int64(0), stats.Embeddings)
}

func TestTransactionRollback(t *testing.T) {
	store := setupTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertThread(ctx, &types.Thread{ID: "t1"}))

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)

	msg := &types.Message{ID: "m1", ThreadID: "t1", Ordinal: 0, Role: types.RoleUser, Content: "uncommitted"}
	require.NoError(t, tx.InsertMessage(ctx, msg))
	require.NoError(t, tx.Rollback())

	_, err = store.GetMessage(ctx, "m1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSanitizeFTSQuery(t *testing.T) {
	assert.Equal(t, "", sanitizeFTSQuery("   "))
	assert.Equal(t, `\"quoted\"`, sanitizeFTSQuery(`"quoted"`))
	assert.Equal(t, `a \AND b`, sanitizeFTSQuery("a AND b"))
	assert.Equal(t, `wild\*card`, sanitizeFTSQuery("wild*card"))
}
