// Package consolidate is the batch half of the recall engine: it groups
// semantically related records, flags near-duplicate artifacts, and
// distills clusters into summary cards.
//
// A run snapshots the stored embeddings at call time and density-clusters
// them with DBSCAN over cosine distance. Candidates are sorted by a
// stable record key before clustering, so the same corpus and
// configuration always produce the same clusters. Each cluster gets a
// canonical member (highest mean similarity to the rest), a coherence
// score (mean pairwise similarity), and one extractive summary card.
//
// Cards and clusters are versioned by generation. A run supersedes the
// previous generation's cards rather than deleting them, so older views
// stay readable for audit while search only surfaces the current one.
// New cards have no embedding yet; the next embedding pass picks them up
// and makes them vector-searchable.
//
// Runs tolerate partial failure. Records whose vectors are unusable are
// skipped and counted, and the run commits with coverage below 1.0
// instead of aborting. Ingestion proceeding concurrently is simply not
// reflected until the next run.
package consolidate
