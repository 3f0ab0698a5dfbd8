package embedding

import (
	"context"
	"math"
	"testing"
)

func TestMockEmbedderDeterministic(t *testing.T) {
	e := NewMockEmbedder(16)
	ctx := context.Background()
	a, err := e.EmbedDirect(ctx, "same text")
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	b, _ := e.EmbedDirect(ctx, "same text")
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("expected identical vectors for identical text")
		}
	}
}

func TestMockEmbedderDistinctTexts(t *testing.T) {
	e := NewMockEmbedder(16)
	ctx := context.Background()
	a, _ := e.EmbedDirect(ctx, "first")
	b, _ := e.EmbedDirect(ctx, "second")
	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("expected different vectors for different texts")
	}
}

func TestMockEmbedderUnitLength(t *testing.T) {
	e := NewMockEmbedder(32)
	vec, _ := e.EmbedDirect(context.Background(), "text")
	var norm float64
	for _, f := range vec {
		norm += float64(f) * float64(f)
	}
	if math.Abs(math.Sqrt(norm)-1) > 1e-5 {
		t.Errorf("expected unit-length vector, norm %f", math.Sqrt(norm))
	}
}

func TestMockEmbedderDefaultDimensions(t *testing.T) {
	if e := NewMockEmbedder(0); e.Dimensions() != 768 {
		t.Errorf("expected default 768 dimensions, got %d", e.Dimensions())
	}
}
