package embedding

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/okigami/torikomi/internal/models"
)

func TestRenderText(t *testing.T) {
	tests := []struct {
		name    string
		payload models.RawRecord
		want    string
	}{
		{
			"sorted keys joined by delimiter",
			models.RawRecord{"name": "Alice", "email": "a@x.com", "age": 30},
			"age: 30 | email: a@x.com | name: Alice",
		},
		{
			"empty values skipped",
			models.RawRecord{"name": "Bob", "note": "", "tag": nil},
			"name: Bob",
		},
		{
			"whitespace-only skipped",
			models.RawRecord{"name": "  ", "city": "Kyoto"},
			"city: Kyoto",
		},
		{"empty payload", models.RawRecord{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RenderText(tt.payload); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderTextDeterministic(t *testing.T) {
	payload := models.RawRecord{"a": 1, "b": 2, "c": 3, "email": "x@y.z"}
	first := RenderText(payload)
	for i := 0; i < 20; i++ {
		if got := RenderText(payload); got != first {
			t.Fatalf("render not deterministic: %q vs %q", got, first)
		}
	}
}

func TestMockEmbedderDeterministic(t *testing.T) {
	e := NewMockEmbedder(8)
	a, err := e.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, _ := e.Embed(context.Background(), "hello world")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embeddings differ at %d", i)
		}
	}
	if len(a) != 8 {
		t.Errorf("dimensions: got %d, want 8", len(a))
	}
	var sum float64
	for _, v := range a {
		sum += float64(v) * float64(v)
	}
	if math.Abs(sum-1.0) > 1e-5 {
		t.Errorf("not unit-normalized: |v|^2 = %f", sum)
	}
}

func TestCacheLRUEviction(t *testing.T) {
	c := NewCache(2)
	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a evicted prematurely")
	}
	// "b" is now least recently used; inserting "c" evicts it.
	c.Set("c", []float32{3})
	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should still be cached")
	}
	if c.Len() != 2 {
		t.Errorf("len: got %d, want 2", c.Len())
	}
}

type failingEmbedder struct{ dims int }

func (f *failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("model unavailable")
}

func (f *failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("model unavailable")
}

func (f *failingEmbedder) Dimensions() int { return f.dims }
func (f *failingEmbedder) Close() error    { return nil }

type slowEmbedder struct{ inner Embedder }

func (s *slowEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Second):
	}
	return s.inner.Embed(ctx, text)
}

func (s *slowEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Second):
	}
	return s.inner.EmbedBatch(ctx, texts)
}

func (s *slowEmbedder) Dimensions() int { return s.inner.Dimensions() }
func (s *slowEmbedder) Close() error    { return nil }

func TestBestEffortDisabled(t *testing.T) {
	b := NewBestEffort(nil, nil, 0, nil)
	if b.Enabled() {
		t.Error("nil embedder must report disabled")
	}
	vectors := b.EmbedBatch(context.Background(), []string{"a", "b"})
	if len(vectors) != 2 {
		t.Fatalf("vectors: got %d, want 2", len(vectors))
	}
	for i, v := range vectors {
		if v != nil {
			t.Errorf("vector %d: got %v, want nil", i, v)
		}
	}
}

func TestBestEffortAbsorbsFailure(t *testing.T) {
	b := NewBestEffort(&failingEmbedder{dims: 4}, nil, 0, nil)
	vectors := b.EmbedBatch(context.Background(), []string{"x"})
	if vectors[0] != nil {
		t.Errorf("failure should produce nil vector, got %v", vectors[0])
	}
}

func TestBestEffortTimeout(t *testing.T) {
	b := NewBestEffort(&slowEmbedder{inner: NewMockEmbedder(4)}, nil, 10*time.Millisecond, nil)
	start := time.Now()
	vectors := b.EmbedBatch(context.Background(), []string{"x"})
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("timeout not applied, took %v", elapsed)
	}
	if vectors[0] != nil {
		t.Error("timed-out call should produce nil vector")
	}
}

func TestBestEffortCacheHit(t *testing.T) {
	cache := NewCache(16)
	b := NewBestEffort(NewMockEmbedder(4), cache, 0, nil)
	first := b.EmbedBatch(context.Background(), []string{"hello"})
	if first[0] == nil {
		t.Fatal("expected vector")
	}
	if cache.Len() != 1 {
		t.Fatalf("cache len: got %d, want 1", cache.Len())
	}

	// Second call is served from cache even if the model now fails.
	b2 := NewBestEffort(&failingEmbedder{dims: 4}, cache, 0, nil)
	second := b2.EmbedBatch(context.Background(), []string{"hello"})
	if second[0] == nil {
		t.Fatal("expected cached vector")
	}
	for i := range first[0] {
		if first[0][i] != second[0][i] {
			t.Fatalf("cached vector differs at %d", i)
		}
	}
}

func TestBestEffortSkipsEmptyText(t *testing.T) {
	b := NewBestEffort(NewMockEmbedder(4), nil, 0, nil)
	vectors := b.EmbedBatch(context.Background(), []string{"", "real"})
	if vectors[0] != nil {
		t.Error("empty text should not be embedded")
	}
	if vectors[1] == nil {
		t.Error("non-empty text should be embedded")
	}
}

func TestTokenizerPadsAndMarks(t *testing.T) {
	tok := &SimpleTokenizer{}
	inputIDs, attentionMask, tokenTypeIDs := tok.Tokenize("one two three", 8)
	if len(inputIDs) != 8 || len(attentionMask) != 8 || len(tokenTypeIDs) != 8 {
		t.Fatalf("lengths: %d %d %d, want 8", len(inputIDs), len(attentionMask), len(tokenTypeIDs))
	}
	if inputIDs[0] != 101 {
		t.Errorf("missing [CLS]: %d", inputIDs[0])
	}
	if inputIDs[4] != 102 {
		t.Errorf("missing [SEP] after 3 words: %d", inputIDs[4])
	}
	if attentionMask[5] != 0 {
		t.Errorf("padding should have zero attention: %d", attentionMask[5])
	}
}
