// Package vector provides durable memory storage with nearest-neighbor
// retrieval, plus the pure similarity/ranking/dedup functions.
package vector

import (
	"context"
	"time"

	"github.com/hyperjump/kioku/internal/models"
)

// Store is the durable table of memory records.
type Store interface {
	// Insert adds a record. I/O failures wrap models.ErrStorage.
	Insert(ctx context.Context, rec *models.MemoryRecord) error

	// VectorQuery returns up to limit records ordered by ascending cosine
	// distance from query. Callers over-fetch: post-filtering removes some
	// candidates.
	VectorQuery(ctx context.Context, query []float32, limit int) ([]*models.MemoryRecord, error)

	// CountRows returns the total number of rows, bootstrap record included.
	CountRows(ctx context.Context) (int64, error)

	// UpdateAccess sets the access-tracking fields. A missing id is a no-op.
	UpdateAccess(ctx context.Context, id string, lastAccessedAt time.Time, accessCount int64) error

	// Delete removes a record. Deleting an absent id succeeds.
	Delete(ctx context.Context, id string) error

	// AllRecords returns every record. Used by list/stats on small local
	// corpora.
	AllRecords(ctx context.Context) ([]*models.MemoryRecord, error)

	// Compact reclaims space from deleted and updated rows.
	Compact(ctx context.Context) error

	// SizeBytes returns the on-disk footprint of the store.
	SizeBytes() (int64, error)

	Close() error
}
