package embedder

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// DefaultBatchSize is the number of texts sent per embedding request.
const DefaultBatchSize = 32

// Batcher embeds large inputs in fixed-size batches, pacing requests with a
// token-bucket limiter so a bulk index build stays inside provider quotas.
// Batches run sequentially.
type Batcher struct {
	emb     Embedder
	size    int
	limiter *rate.Limiter
}

// NewBatcher wraps emb. size <= 0 selects DefaultBatchSize; rps <= 0 disables
// pacing.
func NewBatcher(emb Embedder, size int, rps float64) *Batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Batcher{emb: emb, size: size, limiter: rate.NewLimiter(limit, 1)}
}

// EmbedAll embeds texts and returns vectors in input order. progress, when
// non-nil, is called after each batch with the number of texts embedded so
// far.
func (b *Batcher) EmbedAll(ctx context.Context, texts []string, progress func(done, total int)) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.size {
		end := min(start+b.size, len(texts))
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embedder: batch %d: %w", start/b.size, err)
		}
		vecs, err := b.emb.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedder: batch %d: %w", start/b.size, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedder: batch %d: expected %d vectors, got %d", start/b.size, end-start, len(vecs))
		}
		out = append(out, vecs...)
		if progress != nil {
			progress(len(out), len(texts))
		}
	}
	return out, nil
}
