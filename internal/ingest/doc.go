// Package ingest coordinates ingestion of normalized conversation
// records: validation, atomic storage, and embedding of new records.
//
// A thread batch is stored in a single transaction. Message ordinals
// must continue the thread contiguously; a batch that would leave a gap
// or collide with an existing ordinal is rejected whole. Artifacts are
// deduplicated by content fingerprint during the same transaction, so
// re-ingesting an export is idempotent for identical content.
//
// Embedding runs after commit. Records without a stored vector are
// collected per kind and embedded in batches by a bounded worker pool;
// a provider failure skips that batch, counts it, and lets the rest
// proceed. Records left unembedded stay lexically searchable and are
// picked up by the next EmbedPending pass.
//
//	ing := ingest.New(store, emb)
//	stats, err := ing.IngestThread(ctx, &ingest.ThreadBatch{
//	    Thread: types.Thread{Title: "deploy debugging"},
//	    Messages: []ingest.MessageInput{
//	        {Ordinal: -1, Role: types.RoleUser, Content: "the deploy failed again"},
//	        {Ordinal: -1, Role: types.RoleAssistant, Content: "the health check times out"},
//	    },
//	}, nil)
package ingest
