package ranker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaPrime/recall-engine/internal/embedder"
	"github.com/AvaPrime/recall-engine/internal/storage"
	"github.com/AvaPrime/recall-engine/pkg/types"
)

// stubStorage overrides just the two lookup paths the ranker uses
type stubStorage struct {
	storage.Storage
	lexical []storage.LexicalResult
	vector  []storage.VectorResult
	lexErr  error
	vecErr  error
}

func (s *stubStorage) SearchLexical(ctx context.Context, query string, kinds []types.RecordKind, limit int, filters *storage.SearchFilters) ([]storage.LexicalResult, error) {
	return s.lexical, s.lexErr
}

func (s *stubStorage) SearchVector(ctx context.Context, vector []float32, kinds []types.RecordKind, limit int, filters *storage.SearchFilters) ([]storage.VectorResult, error) {
	return s.vector, s.vecErr
}

func testEmbedder(t *testing.T) embedder.Embedder {
	t.Helper()
	emb, err := embedder.NewStaticProvider(nil)
	require.NoError(t, err)
	return emb
}

func at(offset int) time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(offset) * time.Minute)
}

func lexHit(id string, score float64, offset int) storage.LexicalResult {
	return storage.LexicalResult{Kind: types.KindMessage, ID: id, BM25Score: score, CreatedAt: at(offset)}
}

func vecHit(id string, score float64, offset int) storage.VectorResult {
	return storage.VectorResult{Kind: types.KindMessage, ID: id, SimilarityScore: score, CreatedAt: at(offset)}
}

func ids(hits []types.FusionHit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}

func TestRankAlphaExtremes(t *testing.T) {
	store := &stubStorage{
		lexical: []storage.LexicalResult{lexHit("a", 0.9, 1), lexHit("b", 0.5, 2), lexHit("c", 0.2, 3)},
		vector:  []storage.VectorResult{vecHit("c", 0.95, 3), vecHit("b", 0.6, 2), vecHit("a", 0.1, 1)},
	}
	r := New(store, testEmbedder(t), Options{})
	ctx := context.Background()

	lexOnly, err := r.Rank(ctx, Request{Query: "python debugging", Alpha: 0})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(lexOnly.Hits))
	assert.False(t, lexOnly.Degraded)

	vecOnly, err := r.Rank(ctx, Request{Query: "python debugging", Alpha: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, ids(vecOnly.Hits))
}

func TestRankBlendsNormalizedScores(t *testing.T) {
	// a leads lexically, c leads semantically, b is weak in both.
	// At alpha=0.5 the normalized extremes tie at 0.5 and b loses.
	store := &stubStorage{
		lexical: []storage.LexicalResult{lexHit("a", 10, 5), lexHit("b", 4, 2), lexHit("c", 2, 1)},
		vector:  []storage.VectorResult{vecHit("c", 0.9, 1), vecHit("b", 0.3, 2), vecHit("a", 0.1, 5)},
	}
	r := New(store, testEmbedder(t), Options{})

	res, err := r.Rank(context.Background(), Request{Query: "q", Alpha: 0.5})
	require.NoError(t, err)
	require.Len(t, res.Hits, 3)

	// a and c both fuse to 0.5; a is newer so it wins the tie
	assert.Equal(t, []string{"a", "c", "b"}, ids(res.Hits))
	assert.InDelta(t, 0.5, res.Hits[0].Score, 1e-9)
	assert.InDelta(t, 0.5, res.Hits[1].Score, 1e-9)
	assert.InDelta(t, 1.0, res.Hits[0].LexicalScore, 1e-9)
	assert.InDelta(t, 1.0, res.Hits[1].VectorScore, 1e-9)
}

func TestRankTieBreakByID(t *testing.T) {
	store := &stubStorage{
		lexical: []storage.LexicalResult{lexHit("m2", 1, 0), lexHit("m1", 1, 0)},
	}
	r := New(store, testEmbedder(t), Options{})

	res, err := r.Rank(context.Background(), Request{Query: "q", Alpha: 0})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, ids(res.Hits))
}

func TestRankDegradedOnEmptyVector(t *testing.T) {
	store := &stubStorage{
		lexical: []storage.LexicalResult{lexHit("a", 0.8, 1), lexHit("b", 0.4, 2)},
	}
	r := New(store, testEmbedder(t), Options{})

	res, err := r.Rank(context.Background(), Request{Query: "q", Alpha: 0.65})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.NotEmpty(t, res.DegradedReason)
	assert.Equal(t, []string{"a", "b"}, ids(res.Hits), "ranking must equal lexical-only order")
}

func TestRankDegradedOnEmptyLexical(t *testing.T) {
	store := &stubStorage{
		vector: []storage.VectorResult{vecHit("a", 0.9, 1), vecHit("b", 0.4, 2)},
	}
	r := New(store, testEmbedder(t), Options{})

	res, err := r.Rank(context.Background(), Request{Query: "q", Alpha: 0.3})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.NotEmpty(t, res.DegradedReason)
	assert.Equal(t, []string{"a", "b"}, ids(res.Hits), "ranking must equal vector-only order")
}

// slowVectorStore holds the vector lookup open until its context ends
type slowVectorStore struct {
	stubStorage
}

func (s *slowVectorStore) SearchVector(ctx context.Context, vector []float32, kinds []types.RecordKind, limit int, filters *storage.SearchFilters) ([]storage.VectorResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRankVectorBudgetExpiryDegrades(t *testing.T) {
	store := &slowVectorStore{stubStorage{
		lexical: []storage.LexicalResult{lexHit("a", 0.8, 1), lexHit("b", 0.4, 2)},
	}}
	r := New(store, testEmbedder(t), Options{VectorBudget: 10 * time.Millisecond})

	done := make(chan struct{})
	var res *types.FusionResult
	var err error
	go func() {
		defer close(done)
		res, err = r.Rank(context.Background(), Request{Query: "q", Alpha: 0.65})
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Rank did not return after the vector budget expired")
	}

	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, []string{"a", "b"}, ids(res.Hits), "ranking must equal lexical-only order")
	assert.Zero(t, res.Hits[0].VectorScore)
}

func TestRankDegradedOnVectorError(t *testing.T) {
	store := &stubStorage{
		lexical: []storage.LexicalResult{lexHit("a", 0.8, 1)},
		vecErr:  errors.New("index offline"),
	}
	r := New(store, testEmbedder(t), Options{})

	res, err := r.Rank(context.Background(), Request{Query: "q", Alpha: 0.65})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	require.Len(t, res.Hits, 1)
	assert.Zero(t, res.Hits[0].VectorScore)
}

func TestRankBothBackendsDown(t *testing.T) {
	store := &stubStorage{
		lexErr: errors.New("fts offline"),
		vecErr: errors.New("index offline"),
	}
	r := New(store, testEmbedder(t), Options{})

	_, err := r.Rank(context.Background(), Request{Query: "q", Alpha: 0.5})
	assert.ErrorIs(t, err, types.ErrRecallUnavailable)
	assert.True(t, IsUnavailable(err))
}

func TestRankValidation(t *testing.T) {
	r := New(&stubStorage{}, testEmbedder(t), Options{})
	ctx := context.Background()

	_, err := r.Rank(ctx, Request{Query: "   ", Alpha: 0.5})
	assert.ErrorIs(t, err, types.ErrInvalidParameter)

	_, err = r.Rank(ctx, Request{Query: "q", Alpha: 1.5})
	assert.ErrorIs(t, err, types.ErrInvalidParameter)

	_, err = r.Rank(ctx, Request{Query: "q", Alpha: -0.1})
	assert.ErrorIs(t, err, types.ErrInvalidParameter)

	_, err = r.Rank(ctx, Request{Query: "q", Alpha: 0.5, Kind: types.RecordKind("widget")})
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestRankClampsK(t *testing.T) {
	lex := make([]storage.LexicalResult, 8)
	for i := range lex {
		lex[i] = lexHit(string(rune('a'+i)), float64(8-i), i)
	}
	r := New(&stubStorage{lexical: lex}, testEmbedder(t), Options{MaxK: 3})

	res, err := r.Rank(context.Background(), Request{Query: "q", Alpha: 0, K: 100})
	require.NoError(t, err)
	assert.Len(t, res.Hits, 3)
}

func TestMinMaxNormalize(t *testing.T) {
	assert.Nil(t, minMaxNormalize(nil))
	assert.Equal(t, []float64{1, 1}, minMaxNormalize([]float64{3, 3}))

	norm := minMaxNormalize([]float64{2, 6, 10})
	assert.InDelta(t, 0.0, norm[0], 1e-9)
	assert.InDelta(t, 0.5, norm[1], 1e-9)
	assert.InDelta(t, 1.0, norm[2], 1e-9)
}

func TestFusionMonotonicity(t *testing.T) {
	lex := []storage.LexicalResult{lexHit("a", 5, 1), lexHit("b", 3, 2)}

	low := fuse(lex, []storage.VectorResult{vecHit("a", 0.2, 1), vecHit("b", 0.9, 2)}, 0.5, 10)
	high := fuse(lex, []storage.VectorResult{vecHit("a", 0.8, 1), vecHit("b", 0.9, 2)}, 0.5, 10)

	scoreOf := func(hits []types.FusionHit, id string) float64 {
		for _, h := range hits {
			if h.ID == id {
				return h.Score
			}
		}
		t.Fatalf("hit %q not found", id)
		return 0
	}
	assert.GreaterOrEqual(t, scoreOf(high, "a"), scoreOf(low, "a"))
}
