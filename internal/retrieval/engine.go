// Package retrieval ranks indexed chunks for a query. Raw similarity from
// the index is rescaled by an ordered pipeline of heuristic stages before the
// top results are taken.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/joedaviesio/magna/internal/embedder"
	"github.com/joedaviesio/magna/internal/index"
	"github.com/joedaviesio/magna/internal/keysections"
	"github.com/joedaviesio/magna/internal/logging"
)

var (
	// ErrEmbedQuery wraps failures to embed the query text.
	ErrEmbedQuery = errors.New("retrieval: embed query")
	// ErrQuery wraps failures of the underlying index query.
	ErrQuery = errors.New("retrieval: index query")
)

// Result is one ranked chunk.
type Result struct {
	Text           string
	ActTitle       string
	ActShortName   string
	SectionNumber  string
	SectionHeading string
	SectionURL     string
	ActURL         string
	Score          float64
}

// Options tunes an Engine.
type Options struct {
	// CandidatePool caps how many raw candidates are requested from the
	// querier before reranking. Zero requests every candidate, which is what
	// the in-memory index should use.
	CandidatePool int
}

// Engine is safe for concurrent use; it holds only read-only collaborators.
type Engine struct {
	emb     embedder.Embedder
	querier index.Querier
	rules   *keysections.Table
	opts    Options
}

// NewEngine builds an Engine. rules may be nil to disable key-section boosts.
// emb may be nil when only Len is needed; Search then fails with ErrEmbedQuery.
func NewEngine(emb embedder.Embedder, q index.Querier, rules *keysections.Table, opts Options) *Engine {
	return &Engine{emb: emb, querier: q, rules: rules, opts: opts}
}

// Len returns the number of indexed chunks.
func (e *Engine) Len() int { return e.querier.Len() }

// Search embeds query, reranks candidates and returns at most topK results
// with positive scores. A non-empty actFilter keeps only chunks whose act
// title or short name contains it, ignoring case.
func (e *Engine) Search(ctx context.Context, query string, topK int, actFilter string) ([]Result, error) {
	if e.emb == nil {
		return nil, fmt.Errorf("%w: no embedder configured", ErrEmbedQuery)
	}
	vecs, err := e.emb.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedQuery, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: expected 1 vector, got %d", ErrEmbedQuery, len(vecs))
	}
	vec := append([]float32(nil), vecs[0]...)
	embedder.Normalize(vec)

	candidates, err := e.querier.Query(ctx, vec, e.opts.CandidatePool)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}

	var rules []keysections.Rule
	if e.rules != nil {
		rules = e.rules.MatchTopics(query)
	}
	stages := Pipeline(query, actFilter, rules)

	results := Rank(candidates, stages, topK)

	log := logging.FromContext(ctx)
	log.Debug("retrieval: search complete",
		slog.Int("candidates", len(candidates)),
		slog.Int("stages", len(stages)),
		slog.Int("key_section_rules", len(rules)),
		slog.Int("results", len(results)),
		slog.String("act_filter", actFilter),
	)
	return results, nil
}

type scored struct {
	c     index.Candidate
	score float64
}

// Rank applies stages to every candidate, drops non-positive scores, orders
// by final score descending with ties broken by index position, and returns
// at most topK results (all when topK <= 0).
func Rank(candidates []index.Candidate, stages []Stage, topK int) []Result {
	kept := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		s := float64(c.Score)
		for _, st := range stages {
			s = st.Apply(c, s)
		}
		if s > 0 {
			kept = append(kept, scored{c: c, score: s})
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].score != kept[j].score {
			return kept[i].score > kept[j].score
		}
		return kept[i].c.Position < kept[j].c.Position
	})
	if topK > 0 && topK < len(kept) {
		kept = kept[:topK]
	}

	out := make([]Result, len(kept))
	for i, k := range kept {
		r := k.c.Record
		out[i] = Result{
			Text:           r.Text,
			ActTitle:       r.ActTitle,
			ActShortName:   r.ActShortName,
			SectionNumber:  r.SectionNumber,
			SectionHeading: r.SectionHeading,
			SectionURL:     r.SectionURL,
			ActURL:         r.ActURL,
			Score:          k.score,
		}
	}
	return out
}
