// Package types provides shared type definitions for the recall engine.
//
// This package defines the domain types used across multiple components,
// including normalized conversational records, fusion results, clusters,
// and the error taxonomy surfaced by the recall API.
//
// # Records
//
// Three record kinds participate in recall. Message is a single turn in a
// conversation thread, ordered by its ordinal:
//
//	msg := &types.Message{
//	    ThreadID: threadID,
//	    Ordinal:  3,
//	    Role:     types.RoleAssistant,
//	    Content:  "The retry loop lives in internal/embedder.",
//	}
//
// Artifact is an extracted unit (code block, decision, insight) anchored to
// the message it came from, carrying a SHA-256 content fingerprint used for
// exact deduplication. SummaryCard is a consolidation product summarizing a
// cluster of related records; cards are versioned by generation and
// superseded, never deleted, when a later run re-clusters their sources.
//
// # Fusion Results
//
// FusionHit carries the blended relevance score alongside the per-backend
// component scores so callers can see how a result ranked:
//
//	hit := types.FusionHit{
//	    ID:           recordID,
//	    Kind:         types.KindMessage,
//	    Score:        0.82,
//	    LexicalScore: 0.64,
//	    VectorScore:  0.91,
//	}
//
// Scores are normalized to [0, 1] per result set. FusionResult wraps the
// ranked hits with the Degraded and Cached flags every response must carry.
//
// # Error Taxonomy
//
// Sentinel errors classify recall failures for transport-layer mapping:
//
//	if errors.Is(err, types.ErrInvalidParameter) {
//	    // 400
//	}
//	if errors.Is(err, types.ErrRecallUnavailable) {
//	    // 503
//	}
//
// Wrap sentinels with fmt.Errorf and %w so the classification survives
// through call layers.
package types
