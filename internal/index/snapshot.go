package index

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Snapshot file names inside the embeddings directory.
const (
	EmbeddingsFile = "embeddings.gob"
	MetadataFile   = "metadata.json"
	ConfigFile     = "config.json"
)

// SnapshotConfig is the content of config.json.
type SnapshotConfig struct {
	GeneratedAt        string `json:"generated_at"`
	EmbeddingModel     string `json:"embedding_model"`
	TotalChunks        int    `json:"total_chunks"`
	EmbeddingDimension int    `json:"embedding_dimension"`
	EmbeddingsFile     string `json:"embeddings_file"`
	MetadataFile       string `json:"metadata_file"`
}

// Save writes the snapshot into dir, creating it if needed. Each file is
// written to a temporary name and renamed into place.
func (x *Index) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("index: save: %w", err)
	}

	if err := writeAtomic(filepath.Join(dir, EmbeddingsFile), func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(x.vectors)
	}); err != nil {
		return fmt.Errorf("index: save embeddings: %w", err)
	}

	if err := writeAtomic(filepath.Join(dir, MetadataFile), func(w io.Writer) error {
		return json.NewEncoder(w).Encode(x.records)
	}); err != nil {
		return fmt.Errorf("index: save metadata: %w", err)
	}

	cfg := SnapshotConfig{
		GeneratedAt:        x.generatedAt.Format(time.RFC3339),
		EmbeddingModel:     x.model,
		TotalChunks:        x.Len(),
		EmbeddingDimension: x.dim,
		EmbeddingsFile:     EmbeddingsFile,
		MetadataFile:       MetadataFile,
	}
	if err := writeAtomic(filepath.Join(dir, ConfigFile), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}); err != nil {
		return fmt.Errorf("index: save config: %w", err)
	}
	return nil
}

// Load reads a snapshot written by Save. The load is rejected when vectors
// and records are misaligned, when config.json disagrees with the vector
// count, or when any vector has the wrong dimension.
func Load(dir string) (*Index, error) {
	var cfg SnapshotConfig
	if err := readJSON(filepath.Join(dir, ConfigFile), &cfg); err != nil {
		return nil, fmt.Errorf("index: load config: %w", err)
	}

	var vectors [][]float32
	f, err := os.Open(filepath.Join(dir, EmbeddingsFile))
	if err != nil {
		return nil, fmt.Errorf("index: load embeddings: %w", err)
	}
	err = gob.NewDecoder(f).Decode(&vectors)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("index: decode embeddings: %w", err)
	}

	var records []Record
	if err := readJSON(filepath.Join(dir, MetadataFile), &records); err != nil {
		return nil, fmt.Errorf("index: load metadata: %w", err)
	}

	if len(vectors) != len(records) {
		return nil, fmt.Errorf("index: load: %w: %d vectors, %d records", ErrMisaligned, len(vectors), len(records))
	}
	if cfg.TotalChunks != len(vectors) {
		return nil, fmt.Errorf("index: load: %w: config reports %d chunks, found %d", ErrMisaligned, cfg.TotalChunks, len(vectors))
	}
	for i, v := range vectors {
		if len(v) != cfg.EmbeddingDimension {
			return nil, fmt.Errorf("index: load: %w: vector %d has %d dimensions, config says %d",
				ErrDimensionMismatch, i, len(v), cfg.EmbeddingDimension)
		}
	}

	idx, err := New(vectors, records, cfg.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("index: load: %w", err)
	}
	if t, err := time.Parse(time.RFC3339, cfg.GeneratedAt); err == nil {
		idx.generatedAt = t
	}
	return idx, nil
}

// Exists reports whether dir holds a snapshot config file.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFile))
	return err == nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeAtomic(path string, write func(io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Join(err, os.Remove(tmp))
	}
	return nil
}
