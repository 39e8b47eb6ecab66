package embedder

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// HashingModel is the model name recorded for the hashing embedder.
const HashingModel = "hashing-bow"

// HashingEmbedder maps lowercased word tokens into a fixed number of buckets
// by FNV-1a hash and L2-normalizes the counts. It is deterministic and needs
// no model server, which makes it suitable for offline builds and tests.
// Retrieval quality is lexical only.
type HashingEmbedder struct {
	dim int
}

// NewHashingEmbedder returns a hashing embedder with dim buckets (default 256).
func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashingEmbedder{dim: dim}
}

// Dimensions returns the vector length.
func (e *HashingEmbedder) Dimensions() int { return e.dim }

// Model implements Embedder.
func (e *HashingEmbedder) Model() string { return HashingModel }

// Embed implements Embedder.
func (e *HashingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, e.dim)
		for _, tok := range tokenize(text) {
			h := fnv.New32a()
			h.Write([]byte(tok))
			vec[h.Sum32()%uint32(e.dim)]++
		}
		Normalize(vec)
		out[i] = vec
	}
	return out, nil
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
