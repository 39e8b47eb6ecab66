// Package index holds the embedding snapshot: one unit vector per chunk,
// aligned 1:1 with its citation record. The in-memory [Index] answers
// queries by exhaustive dot-product scan; [QdrantStore] mirrors the same
// snapshot into Qdrant and answers through its ANN search. Both satisfy
// [Querier].
package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/joedaviesio/magna/internal/embedder"
	"github.com/joedaviesio/magna/internal/legislation"
)

// MaxRecordText is the longest chunk text kept in a record.
const MaxRecordText = 1000

var (
	// ErrDimensionMismatch is returned when a vector's length differs from
	// the index dimension.
	ErrDimensionMismatch = errors.New("index: vector dimension mismatch")
	// ErrMisaligned is returned when vectors and records are not 1:1.
	ErrMisaligned = errors.New("index: vectors and records are misaligned")
)

// Record is the citation metadata stored alongside each vector.
type Record struct {
	ID             string `json:"id"`
	Text           string `json:"text"`
	ActTitle       string `json:"act_title"`
	ActShortName   string `json:"act_short_name"`
	SectionNumber  string `json:"section_number"`
	SectionHeading string `json:"section_heading"`
	SectionURL     string `json:"section_url"`
	ActURL         string `json:"act_url"`
}

// RecordFromChunk derives the stored record for a chunk, truncating its text
// to MaxRecordText characters.
func RecordFromChunk(c legislation.Chunk) Record {
	text := c.Text
	if r := []rune(text); len(r) > MaxRecordText {
		text = string(r[:MaxRecordText])
	}
	return Record{
		ID:             c.ID,
		Text:           text,
		ActTitle:       c.Metadata.ActTitle,
		ActShortName:   c.Metadata.ActShortName,
		SectionNumber:  c.Metadata.SectionNumber,
		SectionHeading: c.Metadata.SectionHeading,
		SectionURL:     c.Metadata.SectionURL,
		ActURL:         c.Metadata.ActURL,
	}
}

// EmbeddingInput is the text embedded for a chunk: the act title and section
// number prefixed to the chunk text.
func EmbeddingInput(c legislation.Chunk) string {
	return c.Metadata.ActTitle + " Section " + c.Metadata.SectionNumber + ": " + c.Text
}

// Candidate is one scored position in the index.
type Candidate struct {
	Position int
	Score    float32
	Record   Record
}

// Querier returns the k highest-scoring candidates for a query vector.
// k <= 0 or k >= Len() returns every candidate. Results are ordered by score
// descending, then position ascending.
type Querier interface {
	Query(ctx context.Context, vec []float32, k int) ([]Candidate, error)
	Len() int
}

// Index is an immutable in-memory snapshot. It is safe for concurrent use.
type Index struct {
	vectors     [][]float32
	records     []Record
	dim         int
	model       string
	generatedAt time.Time
}

// New assembles an index from aligned vectors and records. Vectors are used
// as given; callers are responsible for normalization.
func New(vectors [][]float32, records []Record, model string) (*Index, error) {
	if len(vectors) != len(records) {
		return nil, fmt.Errorf("%w: %d vectors, %d records", ErrMisaligned, len(vectors), len(records))
	}
	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return &Index{
		vectors:     vectors,
		records:     records,
		dim:         dim,
		model:       model,
		generatedAt: time.Now().UTC(),
	}, nil
}

// BuildOptions controls [Build].
type BuildOptions struct {
	// BatchSize is the number of chunks per embedding request.
	BatchSize int
	// RPS caps embedding requests per second; zero disables pacing.
	RPS float64
	// Progress is called after each batch.
	Progress func(done, total int)
}

// Build embeds every chunk and returns the aligned index. Each vector is
// L2-normalized so dot products are cosine similarities.
func Build(ctx context.Context, chunks []legislation.Chunk, emb embedder.Embedder, opts BuildOptions) (*Index, error) {
	inputs := make([]string, len(chunks))
	records := make([]Record, len(chunks))
	for i, c := range chunks {
		inputs[i] = EmbeddingInput(c)
		records[i] = RecordFromChunk(c)
	}

	vectors, err := embedder.NewBatcher(emb, opts.BatchSize, opts.RPS).EmbedAll(ctx, inputs, opts.Progress)
	if err != nil {
		return nil, fmt.Errorf("index: build: %w", err)
	}
	for _, v := range vectors {
		embedder.Normalize(v)
	}
	idx, err := New(vectors, records, emb.Model())
	if err != nil {
		return nil, fmt.Errorf("index: build: %w", err)
	}
	return idx, nil
}

// Len returns the number of vectors.
func (x *Index) Len() int { return len(x.vectors) }

// Dimension returns the vector length, or 0 for an empty index.
func (x *Index) Dimension() int { return x.dim }

// Model returns the embedding model the snapshot was built with.
func (x *Index) Model() string { return x.model }

// GeneratedAt returns when the snapshot was built.
func (x *Index) GeneratedAt() time.Time { return x.generatedAt }

// Record returns the record at position i.
func (x *Index) Record(i int) Record { return x.records[i] }

// Vector returns the vector at position i. The slice must not be modified.
func (x *Index) Vector(i int) []float32 { return x.vectors[i] }

// Scores returns the raw dot product of vec with every indexed vector, in
// position order. The slice is freshly allocated per call.
func (x *Index) Scores(vec []float32) ([]float32, error) {
	if x.Len() > 0 && len(vec) != x.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", ErrDimensionMismatch, len(vec), x.dim)
	}
	scores := make([]float32, len(x.vectors))
	for i, v := range x.vectors {
		var s float32
		for j, f := range v {
			s += f * vec[j]
		}
		scores[i] = s
	}
	return scores, nil
}

// Query implements [Querier] with an exhaustive scan.
func (x *Index) Query(ctx context.Context, vec []float32, k int) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scores, err := x.Scores(vec)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, len(scores))
	for i, s := range scores {
		out[i] = Candidate{Position: i, Score: s, Record: x.records[i]}
	}
	SortCandidates(out)
	if k > 0 && k < len(out) {
		out = out[:k]
	}
	return out, nil
}

// SortCandidates orders candidates by score descending, then position
// ascending.
func SortCandidates(c []Candidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].Score != c[j].Score {
			return c[i].Score > c[j].Score
		}
		return c[i].Position < c[j].Position
	})
}
