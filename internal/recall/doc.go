// Package recall is the service layer tying the engine together: fused
// hybrid search, RAG prompt assembly, cluster browsing, concept
// timelines, corpus stats, and consolidation runs, all behind one
// facade the HTTP and MCP surfaces share.
//
// Search responses and timelines go through a TTL result cache keyed by
// the full normalized parameter tuple. A cache hit is byte-identical to
// a fresh computation apart from the Cached flag; freshness-critical
// callers can bypass the cache per request. Consolidation invalidates
// both caches because a new generation changes which summary cards are
// live.
//
// Assemble is search plus packing: message hits are expanded into
// thread windows by the stitcher, artifact and card hits are loaded
// whole, and blocks are joined in rank order under a token budget with
// a citation per included record.
package recall
