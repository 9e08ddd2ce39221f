// Package embedder generates vector embeddings for recall records using various providers.
//
// The embedder supports multiple providers (OpenAI, Ollama, deterministic static)
// and provides batching, caching, rate limiting, and retry handling.
//
// # Basic Usage
//
//	// Create embedder (auto-detects provider from environment)
//	emb, err := embedder.NewFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer emb.Close()
//
//	// Generate single embedding
//	result, err := emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{
//	    Text: "we decided to shard the database by tenant",
//	})
//	fmt.Printf("Vector dimension: %d\n", len(result.Vector))
//
// # Batch Processing
//
// For efficiency, use batch processing:
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
//	    Texts: []string{msg1.Content, msg2.Content, msg3.Content},
//	})
//
//	for i, embedding := range resp.Embeddings {
//	    // Store embedding for record i
//	}
//
// Batching reduces API calls and improves throughput significantly.
//
// # Provider Selection
//
// The embedder selects a provider based on environment variables:
//
//  1. If RECALL_EMBEDDING_PROVIDER is set → use specified provider
//  2. Else if OPENAI_API_KEY is set → use OpenAI
//  3. Else if OLLAMA_HOST is set → use Ollama
//  4. Else → fallback to static provider (deterministic, offline)
//
// Provider configuration:
//
//	emb, err := embedder.New(embedder.Config{
//	    Provider:  "openai",
//	    APIKey:    "your-api-key",
//	    CacheSize: 10000,
//	    RateLimit: 5,
//	})
//
// # Caching
//
// The embedder includes an in-memory LRU cache keyed by the hash of the
// normalized text plus the model identifier, so whitespace variants of
// the same content share an entry and a model switch never serves stale
// vectors:
//
//	cache := embedder.NewCache(10000) // cache 10k embeddings
//
//	key := embedder.CacheKey(text, model)
//	if emb, ok := cache.Get(key); ok {
//	    return emb // cache hit
//	}
//
// # Rate Limiting and Retries
//
// HTTP providers admit requests through a token-bucket limiter
// (golang.org/x/time/rate) and retry transient failures with bounded
// exponential backoff. After retries are exhausted the error wraps
// ErrProviderFailed:
//
//	emb, err := provider.GenerateBatch(ctx, req)
//	if errors.Is(err, embedder.ErrProviderFailed) {
//	    // API unavailable, degrade to lexical-only recall
//	}
//
// # Static Provider
//
// The static provider derives unit vectors from SHA-256 of the
// normalized text. It has no semantic value but is fully deterministic,
// which makes it the test double for every component that consumes
// embeddings.
package embedder
