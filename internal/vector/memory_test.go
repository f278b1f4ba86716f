package vector

import (
	"context"
	"testing"
)

func TestMemoryIndexAddSearch(t *testing.T) {
	idx, err := NewMemoryIndex(3)
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	ctx := context.Background()
	err = idx.Add(ctx,
		[]string{"a", "b", "c"},
		[][]float32{{1, 0, 0}, {0, 1, 0}, {0.9, 0.1, 0}},
	)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if idx.Size() != 3 {
		t.Errorf("size: got %d, want 3", idx.Size())
	}

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results: got %d, want 2", len(results))
	}
	if results[0].ID != "a" {
		t.Errorf("top hit: got %s, want a", results[0].ID)
	}
	if results[1].ID != "c" {
		t.Errorf("second hit: got %s, want c", results[1].ID)
	}
	if results[0].Score < results[1].Score {
		t.Error("results not sorted by score")
	}
}

func TestMemoryIndexRemove(t *testing.T) {
	idx, _ := NewMemoryIndex(2)
	ctx := context.Background()
	_ = idx.Add(ctx, []string{"x", "y"}, [][]float32{{1, 0}, {0, 1}})

	if err := idx.Remove(ctx, []string{"x", "ghost"}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if idx.Size() != 1 {
		t.Errorf("size after remove: got %d, want 1", idx.Size())
	}
	results, _ := idx.Search(ctx, []float32{1, 0}, 5)
	for _, r := range results {
		if r.ID == "x" {
			t.Error("removed id still searchable")
		}
	}
}

func TestMemoryIndexDimensionChecks(t *testing.T) {
	if _, err := NewMemoryIndex(0); err == nil {
		t.Error("zero dimensions should fail")
	}
	idx, _ := NewMemoryIndex(4)
	ctx := context.Background()
	if err := idx.Add(ctx, []string{"a"}, [][]float32{{1, 2}}); err == nil {
		t.Error("dimension mismatch on add should fail")
	}
	if _, err := idx.Search(ctx, []float32{1}, 3); err == nil {
		t.Error("dimension mismatch on search should fail")
	}
	if _, err := idx.Search(ctx, []float32{1, 2, 3, 4}, 0); err != nil {
		t.Errorf("k=0 search: %v", err)
	}
}
