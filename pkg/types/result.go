package types

import "time"

// FusionHit is a single ranked recall result. Score is the α-blended
// relevance; LexicalScore and VectorScore are the per-backend components
// after per-result-set normalization, zero when the backend contributed
// nothing for this record.
type FusionHit struct {
	ID           string     `json:"id"`
	Kind         RecordKind `json:"kind"`
	Score        float64    `json:"score"`
	LexicalScore float64    `json:"lexical_score"`
	VectorScore  float64    `json:"vector_score"`
	Snippet      string     `json:"snippet,omitempty"`
	ThreadID     string     `json:"thread_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// FusionResult is the complete outcome of one fused search. Degraded is
// set whenever a backend was skipped or failed and the result came from
// the surviving backend alone. Cached reports whether the payload was
// served from the result cache; cached and fresh payloads are otherwise
// identical.
type FusionResult struct {
	Hits           []FusionHit `json:"results"`
	Degraded       bool        `json:"degraded"`
	DegradedReason string      `json:"degraded_reason,omitempty"`
	Cached         bool        `json:"cached"`
	Took           time.Duration `json:"-"`
}

// Clone returns a deep copy so cache entries cannot be mutated by
// callers.
func (r *FusionResult) Clone() *FusionResult {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Hits = make([]FusionHit, len(r.Hits))
	copy(cp.Hits, r.Hits)
	return &cp
}

// StitchedContext is a recall hit expanded with its chronological thread
// neighbors. Messages holds the window in ordinal order, the hit
// included. Windows never cross thread boundaries.
type StitchedContext struct {
	HitID    string
	ThreadID string
	Messages []Message
}

// Citation identifies one source record included in an assembled prompt.
type Citation struct {
	Kind     RecordKind `json:"kind"`
	ID       string     `json:"id"`
	ThreadID string     `json:"thread_id,omitempty"`
	Score    float64    `json:"score"`
}

// Assembly is the product of RAG prompt packing: ranked context blocks
// joined under a token budget with citations for every included record.
type Assembly struct {
	Prompt    string     `json:"prompt"`
	Citations []Citation `json:"citations"`
	Truncated bool       `json:"truncated"`
	Degraded  bool       `json:"degraded"`
	Cached    bool       `json:"cached"`
}

// TimelineEntry is one chronological observation of a concept term.
type TimelineEntry struct {
	RecordID  string    `json:"record_id"`
	ThreadID  string    `json:"thread_id"`
	Snippet   string    `json:"snippet"`
	Timestamp time.Time `json:"timestamp"`
}

// Timeline is the concept-evolution view: lexical appearances of a term
// across a day-bounded window, oldest first. TookMS is the analysis
// duration; a cached response reports the duration of the computation
// that populated the cache.
type Timeline struct {
	Term    string          `json:"term"`
	Entries []TimelineEntry `json:"entries"`
	Cached  bool            `json:"cached"`
	TookMS  int64           `json:"took_ms"`
}

// Stats summarizes corpus size for the stats endpoint.
type Stats struct {
	Threads      int64 `json:"threads"`
	Messages     int64 `json:"messages"`
	Artifacts    int64 `json:"artifacts"`
	SummaryCards int64 `json:"summary_cards"`
	Embeddings   int64 `json:"embeddings"`
	Clusters     int64 `json:"clusters"`
	Generation   int64 `json:"generation"`
}
