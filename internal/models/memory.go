// Package models defines memory records and the request/response types of the
// Kioku API. All JSON crosses into these structs at a single boundary.
package models

import (
	"strings"
	"time"
)

// Memory types built into every deployment. Configured extra types extend
// this set at startup.
const (
	TypeGotcha          = "GOTCHA"
	TypeWorkingSolution = "WORKING_SOLUTION"
	TypePattern         = "PATTERN"
	TypeDecision        = "DECISION"
	TypeFailure         = "FAILURE"
	TypePreference      = "PREFERENCE"

	// TypeSystem marks the bootstrap schema-anchor record. SYSTEM records are
	// excluded from recall and duplicate checks.
	TypeSystem = "SYSTEM"
)

// BuiltinTypes returns the built-in closed set of memory types.
func BuiltinTypes() []string {
	return []string{
		TypeGotcha,
		TypeWorkingSolution,
		TypePattern,
		TypeDecision,
		TypeFailure,
		TypePreference,
		TypeSystem,
	}
}

// TypeSet is the set of memory types accepted by store().
type TypeSet map[string]struct{}

// NewTypeSet builds the accepted type set from the built-in types plus any
// configured extras. Extras are upper-cased and trimmed.
func NewTypeSet(extras []string) TypeSet {
	set := make(TypeSet)
	for _, t := range BuiltinTypes() {
		set[t] = struct{}{}
	}
	for _, t := range extras {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}

// Contains reports whether t is an accepted memory type.
func (s TypeSet) Contains(t string) bool {
	_, ok := s[t]
	return ok
}

// MemoryRecord is one stored insight plus its embedding vector.
type MemoryRecord struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Content        string    `json:"content"`
	Context        string    `json:"context,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	Confidence     float64   `json:"confidence"`
	SessionSource  string    `json:"session_source,omitempty"`
	ProjectPath    string    `json:"project_path,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	AccessCount    int64     `json:"access_count"`
	Vector         []float32 `json:"-"`
}

// EmbeddingText returns the text embedded for this record: content, with
// context appended when present.
func EmbeddingText(content, context string) string {
	if context == "" {
		return content
	}
	return content + " " + context
}
