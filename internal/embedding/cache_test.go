package embedding

import "testing"

func TestCacheGetSet(t *testing.T) {
	c := NewCache(4)
	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss for absent key")
	}
	c.Set("a", []float32{1, 2})
	vec, ok := c.Get("a")
	if !ok {
		t.Fatal("expected hit")
	}
	if len(vec) != 2 || vec[0] != 1 {
		t.Errorf("unexpected vector %v", vec)
	}
}

func TestCacheEvictsOldest(t *testing.T) {
	c := NewCache(2)
	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	c.Set("c", []float32{3})
	if _, ok := c.Get("a"); ok {
		t.Error("expected oldest entry evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected b retained")
	}
	if c.Len() != 2 {
		t.Errorf("expected length 2, got %d", c.Len())
	}
}

func TestCacheGetRefreshesRecency(t *testing.T) {
	c := NewCache(2)
	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	c.Get("a")
	c.Set("c", []float32{3})
	if _, ok := c.Get("a"); !ok {
		t.Error("expected recently read entry retained")
	}
	if _, ok := c.Get("b"); ok {
		t.Error("expected least recently used entry evicted")
	}
}

func TestCacheSetOverwrites(t *testing.T) {
	c := NewCache(2)
	c.Set("a", []float32{1})
	c.Set("a", []float32{9})
	vec, _ := c.Get("a")
	if vec[0] != 9 {
		t.Errorf("expected overwritten value, got %v", vec)
	}
	if c.Len() != 1 {
		t.Errorf("expected length 1, got %d", c.Len())
	}
}
