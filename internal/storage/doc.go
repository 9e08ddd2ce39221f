// Package storage provides SQLite-based persistence for recall records.
//
// The storage layer manages:
//   - Threads and ordinal-ordered messages
//   - Extracted artifacts with content fingerprints
//   - Summary cards produced by consolidation
//   - Vector embeddings per record
//   - Full-text search indexes (FTS5)
//   - Cluster and consolidation-run audit rows
//
// # Database Schema
//
// Tables:
//   - threads: conversation threads
//   - messages: ordinal-ordered turns, UNIQUE(thread_id, ordinal)
//   - artifacts: extracted units, UNIQUE fingerprint for exact dedup
//   - summary_cards: consolidation products, versioned by generation
//   - embeddings: serialized float32 vectors keyed (target_kind, target_id)
//   - clusters, cluster_members: consolidation groupings
//   - consolidation_runs: per-run audit log
//   - messages_fts, artifacts_fts, summary_cards_fts: FTS5 indexes
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStorage("recall.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	err = store.InsertMessage(ctx, &types.Message{
//	    ID:       uuid.NewString(),
//	    ThreadID: threadID,
//	    Ordinal:  0,
//	    Role:     types.RoleUser,
//	    Content:  "how does the retry loop work?",
//	})
//
// # Transactions
//
// Use transactions for atomic ingestion of a thread batch:
//
//	tx, err := store.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	for _, msg := range batch {
//	    if err := tx.InsertMessage(ctx, msg); err != nil {
//	        return err
//	    }
//	}
//	return tx.Commit()
//
// # Search
//
// Lexical search runs BM25 over the FTS5 indexes of every requested
// record kind; scores are converted to positive values before ranking.
// Vector search computes cosine similarity over the stored embeddings,
// at the database layer when the sqlite-vec extension is compiled in,
// otherwise in Go. Both exclude near-duplicate artifacts and superseded
// summary cards.
//
//	lex, err := store.SearchLexical(ctx, "retry backoff", kinds, 50, nil)
//	vec, err := store.SearchVector(ctx, queryVector, kinds, 50, nil)
//
// # Build Tags
//
// The storage package supports two build configurations:
//
// CGO Build (sqlite_vec tag):
//
//   - Uses github.com/mattn/go-sqlite3 driver
//
//   - Includes sqlite-vec extension for fast vector operations
//
//   - Requires C compiler
//
//     CGO_ENABLED=1 go build -tags "sqlite_vec"
//
// Pure Go Build (purego tag):
//
//   - Uses modernc.org/sqlite driver
//
//   - Pure Go vector operations (slower)
//
//   - No C compiler needed
//
//     CGO_ENABLED=0 go build -tags "purego"
package storage
