package vector

import (
	"math"
	"sort"

	"github.com/hyperjump/kioku/internal/models"
)

// duplicateCandidates is how many nearest neighbors IsDuplicate inspects.
// Similarity is monotone with distance, so the nearest few suffice.
const duplicateCandidates = 5

// CosineSimilarity returns the cosine similarity of a and b in [-1, 1].
// Mismatched lengths, empty, all-zero, or nil inputs yield 0.0; it never
// panics.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ScoredRecord pairs a candidate record with its similarity to a query.
type ScoredRecord struct {
	Record     *models.MemoryRecord
	Similarity float64
}

// RankAndFilter drops SYSTEM records, candidates below minSimilarity, and
// candidates failing the filters, then stable-sorts by similarity descending
// (ties keep candidate order) and truncates to maxResults.
//
// The project-path filter matches exactly against non-empty candidate values
// only: a record with no project path is never excluded by it.
func RankAndFilter(candidates []ScoredRecord, minSimilarity float64, maxResults int, filters models.RecallFilters) []ScoredRecord {
	typeSet := make(map[string]struct{}, len(filters.Types))
	for _, t := range filters.Types {
		typeSet[t] = struct{}{}
	}

	kept := make([]ScoredRecord, 0, len(candidates))
	for _, c := range candidates {
		if c.Record == nil || c.Record.Type == models.TypeSystem {
			continue
		}
		if c.Similarity < minSimilarity {
			continue
		}
		if len(typeSet) > 0 {
			if _, ok := typeSet[c.Record.Type]; !ok {
				continue
			}
		}
		if filters.ProjectPath != "" && c.Record.ProjectPath != "" && c.Record.ProjectPath != filters.ProjectPath {
			continue
		}
		kept = append(kept, c)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Similarity > kept[j].Similarity
	})

	if maxResults >= 0 && len(kept) > maxResults {
		kept = kept[:maxResults]
	}
	return kept
}

// DuplicateMatch reports whether a new vector restates an existing record.
type DuplicateMatch struct {
	Duplicate  bool
	MatchedID  string
	Similarity float64
}

// IsDuplicate checks the nearest non-SYSTEM candidates for one whose
// similarity to newVector reaches threshold. Candidates must be ordered by
// ascending distance, as VectorQuery returns them.
func IsDuplicate(newVector []float32, candidates []*models.MemoryRecord, threshold float64) DuplicateMatch {
	checked := 0
	for _, rec := range candidates {
		if rec == nil || rec.Type == models.TypeSystem {
			continue
		}
		if checked >= duplicateCandidates {
			break
		}
		checked++
		sim := CosineSimilarity(newVector, rec.Vector)
		if sim >= threshold {
			return DuplicateMatch{Duplicate: true, MatchedID: rec.ID, Similarity: sim}
		}
	}
	return DuplicateMatch{}
}
