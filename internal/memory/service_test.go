package memory

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/vector"
)

const testDims = 8

func testMemoryConfig() *config.MemoryConfig {
	return &config.MemoryConfig{
		DuplicateThreshold: 0.92,
		MaxContentLength:   200,
		MinSimilarity:      0.3,
		MaxResults:         5,
	}
}

func newTestService(t *testing.T) (*Service, vector.Store) {
	t.Helper()
	store, err := vector.NewSQLiteStore(filepath.Join(t.TempDir(), "memories.db"), testDims)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	queue := embedding.NewQueue(embedding.NewMockEmbedder(testDims), 0, 0, zap.NewNop())
	svc := NewService(store, queue, testMemoryConfig(), zap.NewNop())
	t.Cleanup(func() {
		svc.Close()
		store.Close()
	})
	return svc, store
}

// downEmbedder simulates an unreachable backend.
type downEmbedder struct{}

func (downEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, models.ErrEmbeddingUnavailable
}
func (downEmbedder) Dimensions() int { return testDims }
func (downEmbedder) Model() string   { return "down" }
func (downEmbedder) Close() error    { return nil }

func TestStoreAndRecall(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Store(ctx, &models.StoreRequest{
		Type:    models.TypeGotcha,
		Content: "VACUUM cannot run inside a transaction",
	})
	if err != nil {
		t.Fatalf("store failed: %v", err)
	}
	if resp.Status != "stored" || resp.ID == "" {
		t.Fatalf("unexpected store response %+v", resp)
	}
	if resp.EmbeddingDims != testDims {
		t.Errorf("expected embedding dims %d, got %d", testDims, resp.EmbeddingDims)
	}

	recall := svc.Recall(ctx, &models.RecallRequest{
		Query: "VACUUM cannot run inside a transaction",
	})
	if recall.Error != "" {
		t.Fatalf("recall reported error: %s", recall.Error)
	}
	if len(recall.Memories) != 1 {
		t.Fatalf("expected 1 memory, got %d", len(recall.Memories))
	}
	if recall.Memories[0].ID != resp.ID {
		t.Errorf("expected stored memory, got %s", recall.Memories[0].ID)
	}
	if recall.Memories[0].Similarity < 0.99 {
		t.Errorf("expected near-exact similarity, got %f", recall.Memories[0].Similarity)
	}
}

func TestStoreValidationRejected(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	cases := []models.StoreRequest{
		{Type: "NOT_A_TYPE", Content: "x"},
		{Type: models.TypeSystem, Content: "x"},
		{Type: models.TypeGotcha, Content: ""},
		{Type: models.TypeGotcha, Content: strings.Repeat("x", 201)},
	}
	for i, req := range cases {
		if _, err := svc.Store(ctx, &req); !errors.Is(err, models.ErrValidation) {
			t.Errorf("case %d: expected ErrValidation, got %v", i, err)
		}
	}

	count, err := store.CountRows(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	// Only the bootstrap record: nothing was inserted.
	if count != 1 {
		t.Errorf("expected 1 row, got %d", count)
	}
}

func TestStoreNormalizesType(t *testing.T) {
	svc, _ := newTestService(t)
	resp, err := svc.Store(context.Background(), &models.StoreRequest{
		Type:    " gotcha ",
		Content: "lowercase type accepted",
	})
	if err != nil {
		t.Fatalf("store failed: %v", err)
	}
	if resp.Status != "stored" {
		t.Errorf("unexpected status %s", resp.Status)
	}
}

func TestStoreSuppressesDuplicate(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	first, err := svc.Store(ctx, &models.StoreRequest{
		Type:    models.TypeGotcha,
		Content: "duplicate content",
	})
	if err != nil {
		t.Fatalf("first store failed: %v", err)
	}

	second, err := svc.Store(ctx, &models.StoreRequest{
		Type:    models.TypeGotcha,
		Content: "duplicate content",
	})
	if err != nil {
		t.Fatalf("second store failed: %v", err)
	}
	if second.Status != "duplicate" {
		t.Fatalf("expected duplicate status, got %s", second.Status)
	}
	if second.ExistingID != first.ID {
		t.Errorf("expected existing id %s, got %s", first.ID, second.ExistingID)
	}
	if second.Similarity < 0.92 {
		t.Errorf("expected similarity above threshold, got %f", second.Similarity)
	}

	count, err := store.CountRows(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	// Bootstrap plus one stored record; the duplicate was not inserted.
	if count != 2 {
		t.Errorf("expected 2 rows, got %d", count)
	}
}

func TestRecallEmptyQuery(t *testing.T) {
	svc, _ := newTestService(t)
	resp := svc.Recall(context.Background(), &models.RecallRequest{})
	if resp.Error == "" {
		t.Error("expected error marker for empty query")
	}
	if len(resp.Memories) != 0 {
		t.Errorf("expected no memories, got %d", len(resp.Memories))
	}
}

func TestRecallDegradesWhenEmbeddingDown(t *testing.T) {
	store, err := vector.NewSQLiteStore(filepath.Join(t.TempDir(), "memories.db"), testDims)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()
	svc := NewService(store, downEmbedder{}, testMemoryConfig(), zap.NewNop())
	defer svc.Close()

	resp := svc.Recall(context.Background(), &models.RecallRequest{Query: "anything"})
	if resp.Error != "embedding unavailable" {
		t.Errorf("expected embedding unavailable marker, got %q", resp.Error)
	}
	if len(resp.Memories) != 0 {
		t.Errorf("expected no memories, got %d", len(resp.Memories))
	}
}

func TestRecallProjectPathFilter(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	stored, err := svc.Store(ctx, &models.StoreRequest{
		Type:        models.TypeGotcha,
		Content:     "project scoped insight",
		ProjectPath: "/work/app",
	})
	if err != nil {
		t.Fatalf("store failed: %v", err)
	}

	resp := svc.Recall(ctx, &models.RecallRequest{
		Query:       "project scoped insight",
		ProjectPath: "/work/other",
	})
	if len(resp.Memories) != 0 {
		t.Errorf("expected mismatched project filtered out, got %d", len(resp.Memories))
	}

	resp = svc.Recall(ctx, &models.RecallRequest{
		Query:       "project scoped insight",
		ProjectPath: "/work/app",
	})
	if len(resp.Memories) != 1 || resp.Memories[0].ID != stored.ID {
		t.Errorf("expected matching project returned, got %d results", len(resp.Memories))
	}
}

func TestRecallTracksAccess(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	stored, err := svc.Store(ctx, &models.StoreRequest{
		Type:    models.TypeGotcha,
		Content: "tracked content",
	})
	if err != nil {
		t.Fatalf("store failed: %v", err)
	}
	resp := svc.Recall(ctx, &models.RecallRequest{Query: "tracked content"})
	if len(resp.Memories) != 1 {
		t.Fatalf("expected 1 memory, got %d", len(resp.Memories))
	}

	// The access update is detached; poll for it.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		records, err := store.AllRecords(ctx)
		if err != nil {
			t.Fatalf("all records failed: %v", err)
		}
		for _, rec := range records {
			if rec.ID == stored.ID && rec.AccessCount == 1 {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("access count was not incremented")
}

func TestListExcludesSystemAndPaginates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	contents := []string{"alpha insight", "beta insight", "gamma insight"}
	for _, c := range contents {
		if _, err := svc.Store(ctx, &models.StoreRequest{Type: models.TypeGotcha, Content: c}); err != nil {
			t.Fatalf("store failed: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := svc.List(ctx, "", 2, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if resp.Total != 3 {
		t.Errorf("expected total 3, got %d", resp.Total)
	}
	if len(resp.Memories) != 2 {
		t.Fatalf("expected 2 memories on first page, got %d", len(resp.Memories))
	}
	// Newest first.
	if resp.Memories[0].Content != "gamma insight" {
		t.Errorf("expected newest first, got %s", resp.Memories[0].Content)
	}
	for _, m := range resp.Memories {
		if m.Type == models.TypeSystem {
			t.Error("SYSTEM record leaked into list")
		}
	}

	page2, err := svc.List(ctx, "", 2, 2)
	if err != nil {
		t.Fatalf("list page 2 failed: %v", err)
	}
	if len(page2.Memories) != 1 || page2.Memories[0].Content != "alpha insight" {
		t.Errorf("unexpected second page %+v", page2.Memories)
	}

	offscale, err := svc.List(ctx, "", 2, 100)
	if err != nil {
		t.Fatalf("list past end failed: %v", err)
	}
	if len(offscale.Memories) != 0 {
		t.Errorf("expected empty page past end, got %d", len(offscale.Memories))
	}
}

func TestListTypeFilter(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Store(ctx, &models.StoreRequest{Type: models.TypeGotcha, Content: "a gotcha"}); err != nil {
		t.Fatalf("store failed: %v", err)
	}
	if _, err := svc.Store(ctx, &models.StoreRequest{Type: models.TypePattern, Content: "a pattern"}); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	resp, err := svc.List(ctx, models.TypePattern, 10, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if resp.Total != 1 || resp.Memories[0].Type != models.TypePattern {
		t.Errorf("expected only PATTERN records, got %+v", resp.Memories)
	}
}

func TestStats(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	empty, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if empty.Total != 0 {
		t.Errorf("expected empty stats to exclude bootstrap, got total %d", empty.Total)
	}

	high := 1.0
	low := 0.5
	if _, err := svc.Store(ctx, &models.StoreRequest{Type: models.TypeGotcha, Content: "one", Confidence: &high}); err != nil {
		t.Fatalf("store failed: %v", err)
	}
	if _, err := svc.Store(ctx, &models.StoreRequest{Type: models.TypePattern, Content: "two", Confidence: &low}); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("expected total 2, got %d", stats.Total)
	}
	if stats.ByType[models.TypeGotcha] != 1 || stats.ByType[models.TypePattern] != 1 {
		t.Errorf("unexpected by-type counts %v", stats.ByType)
	}
	if stats.AvgConfidence != 0.75 {
		t.Errorf("expected avg confidence 0.75, got %f", stats.AvgConfidence)
	}
	if stats.OldestMemory == "" || stats.NewestMemory == "" {
		t.Error("expected oldest/newest timestamps")
	}
}

func TestDeleteIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	stored, err := svc.Store(ctx, &models.StoreRequest{Type: models.TypeGotcha, Content: "to delete"})
	if err != nil {
		t.Fatalf("store failed: %v", err)
	}
	resp, err := svc.Delete(ctx, stored.ID)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if resp.Status != "deleted" || resp.ID != stored.ID {
		t.Errorf("unexpected delete response %+v", resp)
	}

	again, err := svc.Delete(ctx, stored.ID)
	if err != nil {
		t.Fatalf("second delete failed: %v", err)
	}
	if again.Status != "deleted" {
		t.Errorf("expected deleted status for absent id, got %s", again.Status)
	}
}

func TestHealth(t *testing.T) {
	svc, _ := newTestService(t)
	resp := svc.Health(context.Background())
	if resp.Status != "ok" {
		t.Errorf("expected ok status, got %s", resp.Status)
	}
	if resp.MemoryCount != 1 {
		t.Errorf("expected bootstrap row counted, got %d", resp.MemoryCount)
	}
	if resp.EmbeddingModel != "mock" {
		t.Errorf("expected mock model, got %s", resp.EmbeddingModel)
	}
	if resp.VectorDBSize <= 0 {
		t.Errorf("expected positive database size, got %d", resp.VectorDBSize)
	}
}

func TestExtraTypesAccepted(t *testing.T) {
	store, err := vector.NewSQLiteStore(filepath.Join(t.TempDir(), "memories.db"), testDims)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()
	cfg := testMemoryConfig()
	cfg.ExtraTypes = []string{"runbook"}
	queue := embedding.NewQueue(embedding.NewMockEmbedder(testDims), 0, 0, zap.NewNop())
	svc := NewService(store, queue, cfg, zap.NewNop())
	defer svc.Close()

	resp, err := svc.Store(context.Background(), &models.StoreRequest{
		Type:    "RUNBOOK",
		Content: "extra type accepted",
	})
	if err != nil {
		t.Fatalf("store failed: %v", err)
	}
	if resp.Status != "stored" {
		t.Errorf("unexpected status %s", resp.Status)
	}
}
