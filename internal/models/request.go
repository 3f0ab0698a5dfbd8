package models

import (
	"fmt"
	"strings"
)

// StoreRequest is the payload for storing a new memory.
type StoreRequest struct {
	Type          string   `json:"type"`
	Content       string   `json:"content"`
	Context       string   `json:"context,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Confidence    *float64 `json:"confidence,omitempty"`
	SessionSource string   `json:"session_source,omitempty"`
	ProjectPath   string   `json:"project_path,omitempty"`
}

// DefaultConfidence is assigned when a store request omits confidence.
const DefaultConfidence = 0.8

// Validate checks the request against the accepted type set and the content
// length bound, and normalizes the type. Returns an error wrapping
// ErrValidation on any violation.
func (r *StoreRequest) Validate(types TypeSet, maxContentLength int) error {
	r.Type = strings.ToUpper(strings.TrimSpace(r.Type))
	if !types.Contains(r.Type) || r.Type == TypeSystem {
		return fmt.Errorf("%w: unknown memory type %q", ErrValidation, r.Type)
	}
	if r.Content == "" {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	if len(r.Content) > maxContentLength {
		return fmt.Errorf("%w: content length %d exceeds limit %d",
			ErrValidation, len(r.Content), maxContentLength)
	}
	if r.Confidence != nil && (*r.Confidence < 0 || *r.Confidence > 1) {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrValidation, *r.Confidence)
	}
	return nil
}

// ConfidenceOrDefault returns the requested confidence, or DefaultConfidence
// when unset.
func (r *StoreRequest) ConfidenceOrDefault() float64 {
	if r.Confidence != nil {
		return *r.Confidence
	}
	return DefaultConfidence
}

// StoreResponse reports the outcome of a store request. Status is "stored"
// or "duplicate".
type StoreResponse struct {
	Status        string  `json:"status"`
	ID            string  `json:"id,omitempty"`
	ExistingID    string  `json:"existing_id,omitempty"`
	Similarity    float64 `json:"similarity,omitempty"`
	EmbeddingDims int     `json:"embedding_dims,omitempty"`
}

// RecallFilters narrow recall results.
type RecallFilters struct {
	// Types keeps only the listed memory types when non-empty.
	Types []string `json:"types,omitempty"`
	// ProjectPath keeps records whose project path matches exactly or is
	// empty. Records with no project path are never excluded.
	ProjectPath string `json:"project_path,omitempty"`
}

// RecallRequest is the payload for a semantic recall query.
type RecallRequest struct {
	Query         string         `json:"query"`
	MinSimilarity *float64       `json:"min_similarity,omitempty"`
	MaxResults    int            `json:"max_results,omitempty"`
	ProjectPath   string         `json:"project_path,omitempty"`
	Filters       *RecallFilters `json:"filters,omitempty"`
}

// EffectiveFilters merges the top-level project path shortcut into the
// filter block.
func (r *RecallRequest) EffectiveFilters() RecallFilters {
	var f RecallFilters
	if r.Filters != nil {
		f = *r.Filters
	}
	if f.ProjectPath == "" {
		f.ProjectPath = r.ProjectPath
	}
	return f
}

// RecalledMemory is one ranked recall result.
type RecalledMemory struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	Content    string  `json:"content"`
	Context    string  `json:"context,omitempty"`
	Similarity float64 `json:"similarity"`
	Confidence float64 `json:"confidence"`
}

// RecallResponse is the recall result set. The read path never hard-fails:
// on embedding failure Memories is empty and Error carries the reason.
type RecallResponse struct {
	Memories    []RecalledMemory `json:"memories"`
	QueryTimeMs int64            `json:"query_time_ms"`
	Error       string           `json:"error,omitempty"`
}

// ListResponse is one page of memories sorted by creation time descending.
type ListResponse struct {
	Memories []*MemoryRecord `json:"memories"`
	Total    int             `json:"total"`
	Limit    int             `json:"limit"`
	Offset   int             `json:"offset"`
}

// StatsResponse aggregates the stored corpus.
type StatsResponse struct {
	Total         int            `json:"total"`
	ByType        map[string]int `json:"by_type"`
	AvgConfidence float64        `json:"avg_confidence"`
	OldestMemory  string         `json:"oldest_memory,omitempty"`
	NewestMemory  string         `json:"newest_memory,omitempty"`
}

// DeleteResponse confirms a deletion. Deletion is idempotent: the status is
// "deleted" whether or not the id existed.
type DeleteResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

// HealthResponse reports service liveness and storage footprint.
type HealthResponse struct {
	Status         string `json:"status"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	MemoryCount    int64  `json:"memory_count"`
	EmbeddingModel string `json:"embedding_model"`
	VectorDBSize   int64  `json:"vector_db_size"`
}
