// Package ingestion implements the offline legislation pipeline. It parses
// legislation HTML into per-act section files and chunks those files into
// embedding-ready records. Acts are processed on a bounded worker pool; the
// combined outputs are merged in file-stem order so reruns over the same
// input produce the same files. This pipeline is invoked by the `bowen parse`
// and `bowen chunk` CLI commands.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joedaviesio/magna/internal/acts"
	"github.com/joedaviesio/magna/internal/chunker"
	"github.com/joedaviesio/magna/internal/legislation"
	"github.com/joedaviesio/magna/internal/parser"
)

// Output file names.
const (
	ActsIndexFile   = "acts_index.json"
	AllChunksFile   = "all_chunks.json"
	ChunksIndexFile = "chunks_index.json"
	chunksSuffix    = "_chunks.json"
)

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// Workers bounds how many acts are processed concurrently.
	// Defaults to GOMAXPROCS if zero.
	Workers int

	// Now stamps parsed_at and generated_at. Defaults to time.Now.
	Now func() time.Time
}

// Pipeline orchestrates the parse and chunk stages over a data directory.
type Pipeline struct {
	// registry supplies act metadata for known HTML files.
	registry *acts.Registry

	// chunker splits parsed sections into chunks.
	chunker *chunker.Chunker

	workers int
	now     func() time.Time

	// mu serialises progress callbacks from workers.
	mu sync.Mutex
}

// ActSummary is one row of acts_index.json.
type ActSummary struct {
	Title         string `json:"title"`
	ShortName     string `json:"short_name"`
	Year          int    `json:"year"`
	SectionsCount int    `json:"sections_count"`
	File          string `json:"file"`
}

// ActsIndex is the content of acts_index.json.
type ActsIndex struct {
	GeneratedAt   string       `json:"generated_at"`
	TotalActs     int          `json:"total_acts"`
	TotalSections int          `json:"total_sections"`
	Acts          []ActSummary `json:"acts"`
}

// ChunkConfig records the chunker bounds used for a run.
type ChunkConfig struct {
	MaxTokens     int `json:"max_tokens"`
	OverlapTokens int `json:"overlap_tokens"`
	MinTokens     int `json:"min_tokens"`
}

// ChunksIndex is the content of chunks_index.json.
type ChunksIndex struct {
	GeneratedAt string         `json:"generated_at"`
	TotalChunks int            `json:"total_chunks"`
	ChunkConfig ChunkConfig    `json:"chunk_config"`
	Acts        map[string]int `json:"acts"`
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(registry *acts.Registry, ch *chunker.Chunker, cfg *Config) (*Pipeline, error) {
	if registry == nil {
		return nil, fmt.Errorf("ingestion: registry must not be nil")
	}
	if ch == nil {
		return nil, fmt.Errorf("ingestion: chunker must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{registry: registry, chunker: ch, workers: workers, now: now}, nil
}

// ParseDir parses every *.html file in inDir, writes <stem>.json per act and
// acts_index.json into outDir, and returns the index. Progress is reported
// via the optional progress callback.
func (p *Pipeline) ParseDir(ctx context.Context, inDir, outDir string, progress func(msg string)) (*ActsIndex, error) {
	files, err := listFiles(inDir, ".html", nil)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("ingestion: no HTML files found in %s", inDir)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("ingestion: create %s: %w", outDir, err)
	}

	stamp := p.now().Format(time.RFC3339)
	parsed := make([]legislation.ParsedAct, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			act, err := p.parseFile(path, stamp)
			if err != nil {
				return err
			}
			out := filepath.Join(outDir, Stem(path)+".json")
			if err := writeJSON(out, act, true); err != nil {
				return err
			}
			parsed[i] = act
			p.report(progress, fmt.Sprintf("parsed %s: %d sections", filepath.Base(path), len(act.Sections)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	idx := &ActsIndex{GeneratedAt: stamp, TotalActs: len(parsed), Acts: make([]ActSummary, 0, len(parsed))}
	for _, act := range parsed {
		idx.TotalSections += len(act.Sections)
		idx.Acts = append(idx.Acts, ActSummary{
			Title:         act.Metadata.Title,
			ShortName:     act.Metadata.ShortName,
			Year:          act.Metadata.Year,
			SectionsCount: len(act.Sections),
			File:          Stem(act.Metadata.SourceFile) + ".json",
		})
	}
	if err := writeJSON(filepath.Join(outDir, ActsIndexFile), idx, true); err != nil {
		return nil, err
	}
	return idx, nil
}

func (p *Pipeline) parseFile(path, stamp string) (legislation.ParsedAct, error) {
	f, err := os.Open(path)
	if err != nil {
		return legislation.ParsedAct{}, fmt.Errorf("ingestion: open %s: %w", path, err)
	}
	defer f.Close()

	meta := InferMeta(p.registry, path)
	meta.ParsedAt = stamp
	sections, err := parser.Parse(f, meta)
	if err != nil {
		return legislation.ParsedAct{}, fmt.Errorf("ingestion: %s: %w", filepath.Base(path), err)
	}
	if sections == nil {
		sections = []legislation.Section{}
	}
	return legislation.ParsedAct{Metadata: meta, Sections: sections}, nil
}

// ChunkDir chunks every parsed act file in inDir (acts_index.json excluded),
// writes <stem>_chunks.json per act plus all_chunks.json and
// chunks_index.json into outDir, and returns the index.
func (p *Pipeline) ChunkDir(ctx context.Context, inDir, outDir string, progress func(msg string)) (*ChunksIndex, error) {
	files, err := listFiles(inDir, ".json", func(name string) bool { return name == ActsIndexFile })
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("ingestion: no parsed act files found in %s", inDir)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("ingestion: create %s: %w", outDir, err)
	}

	perAct := make([][]legislation.Chunk, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var act legislation.ParsedAct
			if err := readJSON(path, &act); err != nil {
				return err
			}
			chunks := p.chunker.ChunkAct(act)
			if chunks == nil {
				chunks = []legislation.Chunk{}
			}
			out := filepath.Join(outDir, Stem(path)+chunksSuffix)
			if err := writeJSON(out, chunks, false); err != nil {
				return err
			}
			perAct[i] = chunks
			p.report(progress, fmt.Sprintf("chunked %s: %d chunks from %d sections",
				filepath.Base(path), len(chunks), len(act.Sections)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	idx := &ChunksIndex{
		GeneratedAt: p.now().Format(time.RFC3339),
		ChunkConfig: ChunkConfig{
			MaxTokens:     p.chunker.MaxTokens(),
			OverlapTokens: p.chunker.OverlapTokens(),
			MinTokens:     p.chunker.MinTokens(),
		},
		Acts: make(map[string]int, len(files)),
	}
	all := make([]legislation.Chunk, 0)
	for i, path := range files {
		all = append(all, perAct[i]...)
		idx.Acts[Stem(path)] = len(perAct[i])
	}
	idx.TotalChunks = len(all)

	if err := writeJSON(filepath.Join(outDir, AllChunksFile), all, false); err != nil {
		return nil, err
	}
	if err := writeJSON(filepath.Join(outDir, ChunksIndexFile), idx, true); err != nil {
		return nil, err
	}
	return idx, nil
}

// ReadChunks loads all_chunks.json from dir.
func ReadChunks(dir string) ([]legislation.Chunk, error) {
	var chunks []legislation.Chunk
	if err := readJSON(filepath.Join(dir, AllChunksFile), &chunks); err != nil {
		return nil, err
	}
	return chunks, nil
}

func (p *Pipeline) report(progress func(string), msg string) {
	if progress == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	progress(msg)
}

// listFiles returns the regular files in dir with the given extension,
// sorted by name, minus any the skip predicate rejects.
func listFiles(dir, ext string, skip func(name string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ingestion: read %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.EqualFold(filepath.Ext(name), ext) {
			continue
		}
		if skip != nil && skip(name) {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

func writeJSON(path string, v any, indent bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("ingestion: create %s: %w", path, err)
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		f.Close()
		return fmt.Errorf("ingestion: encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("ingestion: close %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("ingestion: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("ingestion: decode %s: %w", path, err)
	}
	return nil
}
