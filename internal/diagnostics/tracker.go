// Package diagnostics accumulates per-endpoint and per-operation counters
// and periodically emits a report.
package diagnostics

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/vector"
	"github.com/hyperjump/kioku/pkg/utils"
)

// recentQueryLimit caps how many recall query previews a report carries.
const recentQueryLimit = 10

// queryPreviewLength truncates stored query previews.
const queryPreviewLength = 60

// Tracker observes every service call. Reports are emitted when the
// cumulative request counter reaches a positive multiple of interval;
// interval 0 disables reporting entirely. Emitting a report triggers store
// compaction and resets every counter except the cumulative total.
type Tracker struct {
	mu sync.Mutex

	interval      int64
	totalRequests int64

	endpoints       map[string]int64
	recallSuccess   int64
	recallEmpty     int64
	recentQueries   []string
	storeByType     map[string]int64
	storeDuplicates int64

	store  vector.Store
	logger *zap.Logger
}

// NewTracker creates a tracker reporting every interval requests.
func NewTracker(interval int, store vector.Store, logger *zap.Logger) *Tracker {
	return &Tracker{
		interval:    int64(interval),
		endpoints:   make(map[string]int64),
		storeByType: make(map[string]int64),
		store:       store,
		logger:      logger,
	}
}

// RecordRequest counts one request against an endpoint.
func (t *Tracker) RecordRequest(endpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalRequests++
	t.endpoints[endpoint]++
}

// RecordRecall counts a recall as success or empty and keeps a preview of
// the query for the next report.
func (t *Tracker) RecordRecall(query string, resultCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if resultCount > 0 {
		t.recallSuccess++
	} else {
		t.recallEmpty++
	}
	t.recentQueries = append(t.recentQueries, utils.Truncate(query, queryPreviewLength))
	if len(t.recentQueries) > recentQueryLimit {
		t.recentQueries = t.recentQueries[len(t.recentQueries)-recentQueryLimit:]
	}
}

// RecordStore counts a store by type, splitting out suppressed duplicates.
func (t *Tracker) RecordStore(memoryType string, duplicate bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if duplicate {
		t.storeDuplicates++
		return
	}
	t.storeByType[memoryType]++
}

// ShouldReport reports true exactly when the cumulative request counter is
// a positive multiple of the configured interval.
func (t *Tracker) ShouldReport() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.interval <= 0 {
		return false
	}
	return t.totalRequests > 0 && t.totalRequests%t.interval == 0
}

// TotalRequests returns the cumulative request count.
func (t *Tracker) TotalRequests() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalRequests
}

// EmitReport logs the accumulated counters with the current row count,
// triggers store compaction, and resets everything except the cumulative
// request counter.
func (t *Tracker) EmitReport(ctx context.Context) {
	t.mu.Lock()
	endpoints := make(map[string]int64, len(t.endpoints))
	for k, v := range t.endpoints {
		endpoints[k] = v
	}
	byType := make(map[string]int64, len(t.storeByType))
	for k, v := range t.storeByType {
		byType[k] = v
	}
	queries := append([]string(nil), t.recentQueries...)
	total := t.totalRequests
	recallSuccess, recallEmpty := t.recallSuccess, t.recallEmpty
	duplicates := t.storeDuplicates

	t.endpoints = make(map[string]int64)
	t.storeByType = make(map[string]int64)
	t.recentQueries = nil
	t.recallSuccess, t.recallEmpty = 0, 0
	t.storeDuplicates = 0
	t.mu.Unlock()

	rowCount, err := t.store.CountRows(ctx)
	if err != nil {
		t.logger.Warn("diagnostics: count rows failed", zap.Error(err))
	}

	t.logger.Info("diagnostics report",
		zap.Int64("total_requests", total),
		zap.Any("endpoints", endpoints),
		zap.Int64("recall_success", recallSuccess),
		zap.Int64("recall_empty", recallEmpty),
		zap.Strings("recent_queries", queries),
		zap.Any("store_by_type", byType),
		zap.Int64("store_duplicates", duplicates),
		zap.Int64("row_count", rowCount),
	)

	if err := t.store.Compact(ctx); err != nil {
		t.logger.Warn("diagnostics: compaction failed", zap.Error(err))
	}
}
