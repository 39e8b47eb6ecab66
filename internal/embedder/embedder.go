// Package embedder converts text into dense vectors for the embedding index.
// Each implementation talks to one backend: Ollama over its JSON API, OpenAI
// and Azure OpenAI through go-openai, Gemini through the genai SDK, and a
// local feature-hashing embedder that needs no server at all.
package embedder

import (
	"context"
	"math"
)

// Embedder converts a batch of texts into embeddings. Implementations must be
// safe to call from multiple goroutines.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Model names the embedding model, as recorded in the index snapshot.
	Model() string
}

// Normalize scales v to unit L2 length in place. A zero vector is left
// unchanged.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}
