package recall

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/AvaPrime/recall-engine/internal/cache"
	"github.com/AvaPrime/recall-engine/internal/consolidate"
	"github.com/AvaPrime/recall-engine/internal/embedder"
	"github.com/AvaPrime/recall-engine/internal/ranker"
	"github.com/AvaPrime/recall-engine/internal/stitcher"
	"github.com/AvaPrime/recall-engine/internal/storage"
	"github.com/AvaPrime/recall-engine/pkg/types"
)

// DefaultTimelineLimit bounds concept timeline entries per request
const DefaultTimelineLimit = 200

// Config tunes the service. Zero values take package defaults.
type Config struct {
	CacheSize     int
	CacheTTL      time.Duration
	StitchWindow  int
	MaxK          int
	VectorBudget  time.Duration
	Consolidation consolidate.Config
}

// Service is the recall facade: fused search, RAG assembly, cluster
// browsing, concept timelines, and consolidation runs behind one type
type Service struct {
	storage   storage.Storage
	ranker    *ranker.Ranker
	stitcher  *stitcher.Stitcher
	engine    *consolidate.Engine
	results   *cache.Cache[*types.FusionResult]
	timelines *cache.Cache[*types.Timeline]
}

// New wires the service from its backends
func New(store storage.Storage, emb embedder.Embedder, cfg Config) *Service {
	return &Service{
		storage: store,
		ranker: ranker.New(store, emb, ranker.Options{
			MaxK:         cfg.MaxK,
			VectorBudget: cfg.VectorBudget,
		}),
		stitcher: stitcher.New(store, cfg.StitchWindow),
		engine:   consolidate.New(store, cfg.Consolidation),
		results: cache.New[*types.FusionResult](cfg.CacheSize, cfg.CacheTTL,
			func(r *types.FusionResult) *types.FusionResult { return r.Clone() }),
		timelines: cache.New[*types.Timeline](cfg.CacheSize, cfg.CacheTTL, cloneTimeline),
	}
}

// SearchParams are the caller-facing knobs for one fused query
type SearchParams struct {
	Query   string
	Kind    types.RecordKind
	K       int
	Alpha   float64
	Filters *storage.SearchFilters
	Bypass  bool // skip the result cache for freshness-critical reads
}

// Search runs a fused query through the result cache. Hits and misses
// return identical payloads apart from the Cached flag.
func (s *Service) Search(ctx context.Context, params SearchParams) (*types.FusionResult, error) {
	key := searchKey(params)
	result, hit, err := s.results.GetOrCompute(ctx, key, params.Bypass,
		func(ctx context.Context) (*types.FusionResult, error) {
			return s.ranker.Rank(ctx, ranker.Request{
				Query:   params.Query,
				Kind:    params.Kind,
				K:       params.K,
				Alpha:   params.Alpha,
				Filters: params.Filters,
			})
		})
	if err != nil {
		return nil, err
	}
	result.Cached = hit
	return result, nil
}

// searchKey folds the normalized parameter tuple into a cache key
func searchKey(params SearchParams) string {
	parts := []string{
		embedder.NormalizeText(params.Query),
		string(params.Kind),
		strconv.Itoa(params.K),
		strconv.FormatFloat(params.Alpha, 'f', 4, 64),
	}
	if f := params.Filters; f != nil {
		parts = append(parts,
			f.ThreadID,
			strconv.FormatInt(f.From.UnixNano(), 10),
			strconv.FormatInt(f.To.UnixNano(), 10),
			strings.Join(f.Tags, ","),
		)
	}
	return cache.Key(parts...)
}

// ClustersParams selects a page of clusters. Generation 0 means the
// latest committed generation.
type ClustersParams struct {
	Generation int64
	AfterID    string
	Limit      int
}

// Clusters lists one generation's clusters with cursor pagination
func (s *Service) Clusters(ctx context.Context, params ClustersParams) ([]*types.Cluster, error) {
	generation := params.Generation
	if generation <= 0 {
		latest, err := s.storage.LatestGeneration(ctx)
		if err != nil {
			return nil, err
		}
		generation = latest
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	return s.storage.ListClusters(ctx, generation, params.AfterID, limit)
}

// ConceptTimeline returns chronological appearances of a term over a
// day-bounded window ending now. Responses are cached like searches.
func (s *Service) ConceptTimeline(ctx context.Context, term string, windowDays int) (*types.Timeline, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, fmt.Errorf("term cannot be empty: %w", types.ErrInvalidParameter)
	}
	if windowDays <= 0 {
		windowDays = 30
	}

	// Quantize the window start to the day so repeat calls share entries
	to := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	from := to.AddDate(0, 0, -windowDays)

	key := cache.Key("timeline", embedder.NormalizeText(term), strconv.Itoa(windowDays),
		strconv.FormatInt(from.Unix(), 10))
	timeline, hit, err := s.timelines.GetOrCompute(ctx, key, false,
		func(ctx context.Context) (*types.Timeline, error) {
			startTime := time.Now()
			entries, err := s.storage.TermTimeline(ctx, term, from, to, DefaultTimelineLimit)
			if err != nil {
				return nil, err
			}
			return &types.Timeline{
				Term:    term,
				Entries: entries,
				TookMS:  time.Since(startTime).Milliseconds(),
			}, nil
		})
	if err != nil {
		return nil, err
	}
	timeline.Cached = hit
	return timeline, nil
}

// Stats reports corpus size counters
func (s *Service) Stats(ctx context.Context) (*types.Stats, error) {
	return s.storage.GetStats(ctx)
}

// Consolidate runs one consolidation pass and invalidates the caches,
// since a new generation changes which summary cards are live
func (s *Service) Consolidate(ctx context.Context) (*types.ConsolidationRun, error) {
	run, err := s.engine.Run(ctx)
	if err != nil {
		return nil, err
	}
	s.results.Purge()
	s.timelines.Purge()
	return run, nil
}

// InvalidateCaches drops all cached results, for callers that just
// ingested content and need it visible immediately
func (s *Service) InvalidateCaches() {
	s.results.Purge()
	s.timelines.Purge()
}

// cloneTimeline deep-copies a timeline for cache isolation
func cloneTimeline(tl *types.Timeline) *types.Timeline {
	if tl == nil {
		return nil
	}
	cp := *tl
	cp.Entries = make([]types.TimelineEntry, len(tl.Entries))
	copy(cp.Entries, tl.Entries)
	return &cp
}
