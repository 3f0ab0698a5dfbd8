// Package memory orchestrates validation, embedding, storage, and ranking
// into the store/recall/list/delete/stats/health contract.
package memory

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/vector"
)

// candidateFactor is how many times maxResults recall over-fetches from the
// store, since rank filtering removes some candidates.
const candidateFactor = 3

// Service is the externally observable memory contract.
type Service struct {
	store    vector.Store
	embedder embedding.Embedder
	types    models.TypeSet
	cfg      *config.MemoryConfig
	runner   *TaskRunner
	logger   *zap.Logger
	started  time.Time
}

// NewService wires the service from its collaborators.
func NewService(store vector.Store, embedder embedding.Embedder, cfg *config.MemoryConfig, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		embedder: embedder,
		types:    models.NewTypeSet(cfg.ExtraTypes),
		cfg:      cfg,
		runner:   NewTaskRunner(logger),
		logger:   logger,
		started:  time.Now(),
	}
}

// Store validates, embeds, and inserts a new memory, suppressing semantic
// duplicates. Validation failures wrap models.ErrValidation; embedding
// failures wrap models.ErrEmbeddingUnavailable; insert failures wrap
// models.ErrStorage.
func (s *Service) Store(ctx context.Context, req *models.StoreRequest) (*models.StoreResponse, error) {
	if err := req.Validate(s.types, s.cfg.MaxContentLength); err != nil {
		return nil, err
	}

	vec, err := s.embedder.Embed(ctx, models.EmbeddingText(req.Content, req.Context))
	if err != nil {
		return nil, err
	}

	candidates, err := s.store.VectorQuery(ctx, vec, 5)
	if err != nil {
		return nil, err
	}
	if match := vector.IsDuplicate(vec, candidates, s.cfg.DuplicateThreshold); match.Duplicate {
		s.logger.Debug("duplicate memory suppressed",
			zap.String("existing_id", match.MatchedID),
			zap.Float64("similarity", match.Similarity))
		return &models.StoreResponse{
			Status:     "duplicate",
			ExistingID: match.MatchedID,
			Similarity: roundSimilarity(match.Similarity),
		}, nil
	}

	now := time.Now().UTC()
	rec := &models.MemoryRecord{
		ID:             uuid.NewString(),
		Type:           req.Type,
		Content:        req.Content,
		Context:        req.Context,
		Tags:           req.Tags,
		Confidence:     req.ConfidenceOrDefault(),
		SessionSource:  req.SessionSource,
		ProjectPath:    req.ProjectPath,
		CreatedAt:      now,
		LastAccessedAt: now,
		AccessCount:    0,
		Vector:         vec,
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		return nil, err
	}

	return &models.StoreResponse{
		Status:        "stored",
		ID:            rec.ID,
		EmbeddingDims: s.embedder.Dimensions(),
	}, nil
}

// Recall returns the stored memories most similar to the query. The read
// path never hard-fails: embedding errors degrade to an empty result with
// an error marker. Access tracking for returned records runs detached.
func (s *Service) Recall(ctx context.Context, req *models.RecallRequest) *models.RecallResponse {
	start := time.Now()
	resp := &models.RecallResponse{Memories: []models.RecalledMemory{}}
	defer func() { resp.QueryTimeMs = time.Since(start).Milliseconds() }()

	if req.Query == "" {
		resp.Error = "query is required"
		return resp
	}

	minSimilarity := s.cfg.MinSimilarity
	if req.MinSimilarity != nil {
		minSimilarity = *req.MinSimilarity
	}
	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = s.cfg.MaxResults
	}

	vec, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		s.logger.Warn("recall degraded: embedding failed", zap.Error(err))
		resp.Error = "embedding unavailable"
		return resp
	}

	candidates, err := s.store.VectorQuery(ctx, vec, maxResults*candidateFactor)
	if err != nil {
		s.logger.Error("recall degraded: vector query failed", zap.Error(err))
		resp.Error = "storage unavailable"
		return resp
	}

	scored := make([]vector.ScoredRecord, len(candidates))
	for i, rec := range candidates {
		scored[i] = vector.ScoredRecord{Record: rec, Similarity: vector.CosineSimilarity(vec, rec.Vector)}
	}
	ranked := vector.RankAndFilter(scored, minSimilarity, maxResults, req.EffectiveFilters())

	now := time.Now().UTC()
	for _, c := range ranked {
		rec := c.Record
		resp.Memories = append(resp.Memories, models.RecalledMemory{
			ID:         rec.ID,
			Type:       rec.Type,
			Content:    rec.Content,
			Context:    rec.Context,
			Similarity: roundSimilarity(c.Similarity),
			Confidence: rec.Confidence,
		})
		s.trackAccess(rec, now)
	}
	return resp
}

// trackAccess schedules the fire-and-forget access update for one returned
// record. Failures are logged, never surfaced, never awaited.
func (s *Service) trackAccess(rec *models.MemoryRecord, now time.Time) {
	id := rec.ID
	count := rec.AccessCount + 1
	s.runner.Detach("access-track", func(ctx context.Context) error {
		return s.store.UpdateAccess(ctx, id, now, count)
	})
}

// List returns one page of memories sorted by creation time descending.
// SYSTEM records are never listed.
func (s *Service) List(ctx context.Context, typ string, limit, offset int) (*models.ListResponse, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	records, err := s.store.AllRecords(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]*models.MemoryRecord, 0, len(records))
	for _, rec := range records {
		if rec.Type == models.TypeSystem {
			continue
		}
		if typ != "" && rec.Type != typ {
			continue
		}
		matched = append(matched, rec)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return &models.ListResponse{
		Memories: matched[start:end],
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	}, nil
}

// Stats aggregates the stored corpus, excluding the bootstrap record.
func (s *Service) Stats(ctx context.Context) (*models.StatsResponse, error) {
	records, err := s.store.AllRecords(ctx)
	if err != nil {
		return nil, err
	}

	stats := &models.StatsResponse{ByType: make(map[string]int)}
	var confidenceSum float64
	var oldest, newest time.Time
	for _, rec := range records {
		if rec.Type == models.TypeSystem {
			continue
		}
		stats.Total++
		stats.ByType[rec.Type]++
		confidenceSum += rec.Confidence
		if oldest.IsZero() || rec.CreatedAt.Before(oldest) {
			oldest = rec.CreatedAt
		}
		if rec.CreatedAt.After(newest) {
			newest = rec.CreatedAt
		}
	}
	if stats.Total > 0 {
		stats.AvgConfidence = confidenceSum / float64(stats.Total)
		stats.OldestMemory = oldest.Format(time.RFC3339)
		stats.NewestMemory = newest.Format(time.RFC3339)
	}
	return stats, nil
}

// Delete removes a memory by id. Removal is idempotent; a missing id still
// reports deleted.
func (s *Service) Delete(ctx context.Context, id string) (*models.DeleteResponse, error) {
	if err := s.store.Delete(ctx, id); err != nil {
		return nil, err
	}
	return &models.DeleteResponse{Status: "deleted", ID: id}, nil
}

// Health reports liveness, corpus size, and storage footprint.
func (s *Service) Health(ctx context.Context) *models.HealthResponse {
	resp := &models.HealthResponse{
		Status:         "ok",
		UptimeSeconds:  int64(time.Since(s.started).Seconds()),
		EmbeddingModel: s.embedder.Model(),
	}
	if count, err := s.store.CountRows(ctx); err == nil {
		resp.MemoryCount = count
	} else {
		resp.Status = "degraded"
		s.logger.Warn("health: count failed", zap.Error(err))
	}
	if size, err := s.store.SizeBytes(); err == nil {
		resp.VectorDBSize = size
	}
	return resp
}

// Close abandons detached tasks and stops the embedder. The store handle is
// released by the composition root after the embedder is down.
func (s *Service) Close() {
	s.runner.Shutdown(2 * time.Second)
	_ = s.embedder.Close()
}

// roundSimilarity rounds to two decimals for responses.
func roundSimilarity(sim float64) float64 {
	return math.Round(sim*100) / 100
}
