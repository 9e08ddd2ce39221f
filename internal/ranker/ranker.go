package ranker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/AvaPrime/recall-engine/internal/embedder"
	"github.com/AvaPrime/recall-engine/internal/storage"
	"github.com/AvaPrime/recall-engine/pkg/types"
)

const (
	// DefaultAlpha is the blend weight when the caller does not supply one
	DefaultAlpha = 0.6
	// DefaultK is the result count when the caller does not supply one
	DefaultK = 10
	// DefaultMaxK bounds the result count a single request may ask for
	DefaultMaxK = 500
	// DefaultVectorBudget bounds how long the vector lookup may run before
	// the request proceeds lexical-only
	DefaultVectorBudget = 2 * time.Second

	// overfetchFactor widens both backend lookups so the fused top-k can
	// draw from candidates either backend alone would have cut off
	overfetchFactor = 2
)

// Request contains parameters for one fused recall query
type Request struct {
	Query   string
	Kind    types.RecordKind // empty or KindAny searches every kind
	K       int              // <=0 means DefaultK; clamped to MaxK
	Alpha   float64          // blend weight for the vector component, [0,1]
	Filters *storage.SearchFilters
}

// Options tunes ranker limits. Zero values take the defaults above.
type Options struct {
	MaxK         int
	VectorBudget time.Duration
}

// Ranker joins lexical and vector lookups and blends their scores
type Ranker struct {
	storage  storage.Storage
	embedder embedder.Embedder
	opts     Options
}

// New creates a new Ranker instance
func New(store storage.Storage, emb embedder.Embedder, opts Options) *Ranker {
	if opts.MaxK <= 0 {
		opts.MaxK = DefaultMaxK
	}
	if opts.VectorBudget <= 0 {
		opts.VectorBudget = DefaultVectorBudget
	}
	return &Ranker{storage: store, embedder: emb, opts: opts}
}

// lookupResult holds one backend's outcome for the join
type lookupResult struct {
	lexical []storage.LexicalResult
	vector  []storage.VectorResult
	err     error
}

// Rank runs both backend lookups in parallel, normalizes each score set
// into [0,1], and blends them as alpha*vector + (1-alpha)*lexical. When
// one backend fails or returns nothing, the surviving backend ranks
// alone and the result is flagged degraded. Both backends failing is a
// hard error.
func (r *Ranker) Rank(ctx context.Context, req Request) (*types.FusionResult, error) {
	startTime := time.Now()

	if err := r.validateRequest(&req); err != nil {
		return nil, err
	}

	kinds := kindFilter(req.Kind)
	candidateLimit := req.K * overfetchFactor

	lexChan := make(chan lookupResult, 1)
	vecChan := make(chan lookupResult, 1)

	go r.runLexical(ctx, req, kinds, candidateLimit, lexChan)

	vecCtx, cancelVec := context.WithTimeout(ctx, r.opts.VectorBudget)
	defer cancelVec()
	go r.runVector(vecCtx, req, kinds, candidateLimit, vecChan)

	var lexRes, vecRes lookupResult
	var lexDone, vecDone bool
	for !lexDone || !vecDone {
		select {
		case lexRes = <-lexChan:
			lexDone = true
		case vecRes = <-vecChan:
			vecDone = true
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if lexRes.err != nil && vecRes.err != nil {
		return nil, fmt.Errorf("%w: lexical=%v, vector=%v",
			types.ErrRecallUnavailable, lexRes.err, vecRes.err)
	}

	alpha := req.Alpha
	degraded := false
	reason := ""
	switch {
	case vecRes.err != nil:
		alpha = 0
		degraded = true
		reason = "vector backend unavailable, lexical ranking only"
	case lexRes.err != nil:
		alpha = 1
		degraded = true
		reason = "lexical backend unavailable, vector ranking only"
	case len(vecRes.vector) == 0:
		alpha = 0
		degraded = true
		reason = "vector index returned no candidates"
	case len(lexRes.lexical) == 0:
		alpha = 1
		degraded = true
		reason = "lexical index returned no candidates"
	}

	hits := fuse(lexRes.lexical, vecRes.vector, alpha, req.K)

	return &types.FusionResult{
		Hits:           hits,
		Degraded:       degraded,
		DegradedReason: reason,
		Took:           time.Since(startTime),
	}, nil
}

// runLexical executes the full-text lookup in a goroutine. The send is
// unconditional: the channel is buffered and has exactly one writer, so
// the join always observes the outcome even after the lookup context
// expires.
func (r *Ranker) runLexical(ctx context.Context, req Request, kinds []types.RecordKind, limit int, out chan<- lookupResult) {
	var res lookupResult
	res.lexical, res.err = r.storage.SearchLexical(ctx, req.Query, kinds, limit, req.Filters)
	out <- res
}

// runVector embeds the query and executes the similarity lookup. A
// budget expiry surfaces as res.err, which the join turns into
// lexical-only degradation.
func (r *Ranker) runVector(ctx context.Context, req Request, kinds []types.RecordKind, limit int, out chan<- lookupResult) {
	var res lookupResult
	emb, err := r.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: req.Query})
	if err != nil {
		res.err = fmt.Errorf("query embedding: %w", err)
	} else {
		res.vector, res.err = r.storage.SearchVector(ctx, emb.Vector, kinds, limit, req.Filters)
	}
	out <- res
}

// candidate accumulates both backend signals for one record
type candidate struct {
	id        string
	kind      types.RecordKind
	lexical   float64
	vector    float64
	snippet   string
	threadID  string
	createdAt time.Time
}

// fuse normalizes each score set, unions candidates by record, and
// returns the top-k by blended score. Ties break on most-recent
// creation time, then record ID.
func fuse(lexical []storage.LexicalResult, vector []storage.VectorResult, alpha float64, k int) []types.FusionHit {
	byRecord := make(map[string]*candidate, len(lexical)+len(vector))
	key := func(kind types.RecordKind, id string) string {
		return string(kind) + "\x00" + id
	}

	lexScores := make([]float64, len(lexical))
	for i, lr := range lexical {
		lexScores[i] = lr.BM25Score
	}
	for i, norm := range minMaxNormalize(lexScores) {
		lr := lexical[i]
		byRecord[key(lr.Kind, lr.ID)] = &candidate{
			id:        lr.ID,
			kind:      lr.Kind,
			lexical:   norm,
			snippet:   lr.Snippet,
			threadID:  lr.ThreadID,
			createdAt: lr.CreatedAt,
		}
	}

	vecScores := make([]float64, len(vector))
	for i, vr := range vector {
		vecScores[i] = vr.SimilarityScore
	}
	for i, norm := range minMaxNormalize(vecScores) {
		vr := vector[i]
		if existing, ok := byRecord[key(vr.Kind, vr.ID)]; ok {
			existing.vector = norm
			if existing.snippet == "" {
				existing.snippet = vr.Snippet
			}
			continue
		}
		byRecord[key(vr.Kind, vr.ID)] = &candidate{
			id:        vr.ID,
			kind:      vr.Kind,
			vector:    norm,
			snippet:   vr.Snippet,
			threadID:  vr.ThreadID,
			createdAt: vr.CreatedAt,
		}
	}

	hits := make([]types.FusionHit, 0, len(byRecord))
	for _, c := range byRecord {
		hits = append(hits, types.FusionHit{
			ID:           c.id,
			Kind:         c.kind,
			Score:        alpha*c.vector + (1-alpha)*c.lexical,
			LexicalScore: c.lexical,
			VectorScore:  c.vector,
			Snippet:      c.snippet,
			ThreadID:     c.threadID,
			CreatedAt:    c.createdAt,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if !hits[i].CreatedAt.Equal(hits[j].CreatedAt) {
			return hits[i].CreatedAt.After(hits[j].CreatedAt)
		}
		return hits[i].ID < hits[j].ID
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// minMaxNormalize maps a score set into [0,1]. A uniform set maps to
// all ones so a single-candidate backend still contributes fully.
func minMaxNormalize(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	min, max := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	norm := make([]float64, len(scores))
	if max == min {
		for i := range norm {
			norm[i] = 1.0
		}
		return norm
	}
	for i, s := range scores {
		norm[i] = (s - min) / (max - min)
	}
	return norm
}

// kindFilter expands the request kind into the storage kind list
func kindFilter(kind types.RecordKind) []types.RecordKind {
	if kind == "" || kind == types.KindAny {
		return nil
	}
	return []types.RecordKind{kind}
}

// validateRequest rejects malformed parameters and fills defaults.
// Alpha outside [0,1] is an error, not a clamp; oversized k is clamped.
func (r *Ranker) validateRequest(req *Request) error {
	if strings.TrimSpace(req.Query) == "" {
		return fmt.Errorf("query cannot be empty: %w", types.ErrInvalidParameter)
	}
	if req.Alpha < 0 || req.Alpha > 1 {
		return fmt.Errorf("alpha %v outside [0,1]: %w", req.Alpha, types.ErrInvalidParameter)
	}
	if req.Kind != "" && !req.Kind.Valid() {
		return fmt.Errorf("unknown record kind %q: %w", req.Kind, types.ErrInvalidParameter)
	}
	if req.K <= 0 {
		req.K = DefaultK
	}
	if req.K > r.opts.MaxK {
		req.K = r.opts.MaxK
	}
	return nil
}

// IsUnavailable reports whether err means both recall backends failed
func IsUnavailable(err error) bool {
	return errors.Is(err, types.ErrRecallUnavailable)
}
