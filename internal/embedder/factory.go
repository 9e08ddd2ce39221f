package embedder

import (
	"fmt"
	"os"
	"strings"
)

// Config holds embedder configuration
type Config struct {
	Provider  string
	APIKey    string
	Host      string  // Ollama host
	CacheSize int
	RateLimit float64 // Provider requests per second, 0 disables limiting
}

// NewFromEnv creates an embedder based on environment variables
// Priority:
// 1. RECALL_EMBEDDING_PROVIDER (openai, ollama, static)
// 2. Check for OPENAI_API_KEY, then OLLAMA_HOST
// 3. Default to static if nothing is configured
func NewFromEnv() (Embedder, error) {
	provider := os.Getenv(EnvProvider)
	openaiKey := os.Getenv(EnvOpenAIAPIKey)
	ollamaHost := os.Getenv(EnvOllamaHost)

	cache := NewCache(10000) // Default cache size

	// Explicit provider selection
	if provider != "" {
		provider = strings.ToLower(provider)
		switch provider {
		case ProviderOpenAI:
			return NewOpenAIProvider(openaiKey, cache, DefaultRateLimit)
		case ProviderOllama:
			return NewOllamaProvider(ollamaHost, cache, DefaultRateLimit)
		case ProviderStatic:
			return NewStaticProvider(cache)
		default:
			return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, provider)
		}
	}

	// Auto-detect based on available configuration
	if openaiKey != "" {
		return NewOpenAIProvider(openaiKey, cache, DefaultRateLimit)
	}
	if ollamaHost != "" {
		return NewOllamaProvider(ollamaHost, cache, DefaultRateLimit)
	}

	// Fallback to deterministic offline embeddings
	return NewStaticProvider(cache)
}

// New creates an embedder with explicit configuration
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	provider := strings.ToLower(cfg.Provider)
	switch provider {
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.APIKey, cache, cfg.RateLimit)
	case ProviderOllama:
		return NewOllamaProvider(cfg.Host, cache, cfg.RateLimit)
	case ProviderStatic:
		return NewStaticProvider(cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	provider := os.Getenv(EnvProvider)
	if provider != "" {
		return strings.ToLower(provider)
	}

	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	if os.Getenv(EnvOllamaHost) != "" {
		return ProviderOllama
	}

	return ProviderStatic
}
