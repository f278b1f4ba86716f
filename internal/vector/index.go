// Package vector provides similarity search over record embeddings.
package vector

import "context"

// Index stores record vectors and answers nearest-neighbor queries.
type Index interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*Result, error)
	Remove(ctx context.Context, ids []string) error
	Size() int
}

// Result is a single similarity hit. Score is the inner product, which for
// unit-normalized vectors equals cosine similarity.
type Result struct {
	ID    string
	Score float64
}
