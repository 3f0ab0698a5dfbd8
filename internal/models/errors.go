package models

import "errors"

// Error taxonomy for the memory service. Handlers map these to status codes
// with errors.Is; retries never cross these boundaries.
var (
	// ErrValidation marks client-caused failures (unknown type, oversized
	// content). Reported immediately, never retried.
	ErrValidation = errors.New("validation failed")

	// ErrEmbeddingUnavailable marks an embedding backend failure after all
	// retries are exhausted. Surfaced as service-unavailable on store,
	// degraded to an empty result on recall.
	ErrEmbeddingUnavailable = errors.New("embedding backend unavailable")

	// ErrStorage marks an I/O failure in the vector store. Reported as an
	// internal error and not retried at the service layer.
	ErrStorage = errors.New("storage failure")
)
