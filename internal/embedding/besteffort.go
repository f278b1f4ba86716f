package embedding

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// BestEffort wraps an Embedder so that failures and timeouts produce nil
// vectors instead of errors. Embedding is advisory for the import pipeline:
// a record is stored whether or not its vector could be computed.
type BestEffort struct {
	embedder Embedder
	cache    *Cache
	timeout  time.Duration
	logger   *zap.Logger
}

// NewBestEffort wraps embedder with a per-call timeout and an optional
// bounded cache. A nil embedder means embedding is disabled: every call
// returns nil vectors. cache may be nil. logger may be nil.
func NewBestEffort(embedder Embedder, cache *Cache, timeout time.Duration, logger *zap.Logger) *BestEffort {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BestEffort{embedder: embedder, cache: cache, timeout: timeout, logger: logger}
}

// Enabled reports whether an underlying embedder is configured.
func (b *BestEffort) Enabled() bool {
	return b.embedder != nil
}

// EmbedBatch returns one vector per text. Entries are nil when embedding is
// disabled, the text is empty, or the model call failed or timed out.
// It never returns an error.
func (b *BestEffort) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	vectors := make([][]float32, len(texts))
	if b.embedder == nil || len(texts) == 0 {
		return vectors
	}

	// Serve cache hits first; only misses go to the model.
	missTexts := make([]string, 0, len(texts))
	missIdx := make([]int, 0, len(texts))
	for i, text := range texts {
		if text == "" {
			continue
		}
		if b.cache != nil {
			if vec, ok := b.cache.Get(text); ok {
				vectors[i] = vec
				continue
			}
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return vectors
	}

	callCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	embedded, err := b.embedder.EmbedBatch(callCtx, missTexts)
	if err != nil || len(embedded) != len(missTexts) {
		b.logger.Warn("embedding batch failed, storing records without vectors",
			zap.Int("batch_size", len(missTexts)), zap.Error(err))
		return vectors
	}
	for i, vec := range embedded {
		vectors[missIdx[i]] = vec
		if b.cache != nil && vec != nil {
			b.cache.Set(missTexts[i], vec)
		}
	}
	return vectors
}

// Dimensions returns the underlying embedder's dimension, or 0 when disabled.
func (b *BestEffort) Dimensions() int {
	if b.embedder == nil {
		return 0
	}
	return b.embedder.Dimensions()
}
