package types

import "errors"

// Recall error taxonomy. The transport layers map these to status codes;
// service code wraps them with %w so classification survives.
var (
	// ErrInvalidParameter marks a rejected request parameter (bad α,
	// unknown kind, malformed time window).
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrIndexUnavailable marks a single backend failure that allowed a
	// degraded result from the surviving backend.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrRecallUnavailable marks total failure: both lexical and vector
	// backends were unable to serve the request.
	ErrRecallUnavailable = errors.New("recall unavailable")

	// ErrEmbeddingProvider marks an upstream embedding provider failure
	// after retries were exhausted.
	ErrEmbeddingProvider = errors.New("embedding provider failure")

	// ErrPartialConsolidation marks a consolidation run that committed
	// with some records excluded.
	ErrPartialConsolidation = errors.New("partial consolidation")
)

// Record validation errors.
var (
	ErrMissingThread       = errors.New("thread ID is required")
	ErrMissingMessage      = errors.New("message ID is required")
	ErrInvalidOrdinal      = errors.New("ordinal must be >= 0")
	ErrInvalidRole         = errors.New("invalid role")
	ErrInvalidArtifactKind = errors.New("invalid artifact kind")
	ErrEmptyContent        = errors.New("content cannot be empty")
)
