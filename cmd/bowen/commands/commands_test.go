package commands

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joedaviesio/magna/internal/embedder"
	"github.com/joedaviesio/magna/internal/index"
	"github.com/joedaviesio/magna/internal/logging"
	"github.com/joedaviesio/magna/internal/version"
)

const rtaHTML = `<html><body>
<div class="prov" id="DLM94301"><h5 class="prov-heading">18 Maximum bond</h5>
<div class="prov-body">A landlord must not require a bond that exceeds 4 weeks' rent.</div></div>
<div class="prov" id="DLM94302"><h5 class="prov-heading">19 Bond to be lodged</h5>
<div class="prov-body">The landlord must lodge the bond with the chief executive.</div></div>
</body></html>`

// isolate points every data path and the config lookup at a temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("BOWEN_CONFIG", "")
	t.Setenv("BOWEN_DATA_DIR", dir)
	t.Setenv("BOWEN_ANALYTICS_DB", "disabled")
	t.Setenv("EMBEDDING_PROVIDER", "hashing")
	t.Setenv("EMBEDDING_DIMENSIONS", "")
	t.Setenv("INDEX_BACKEND", "memory")
	t.Setenv("LOG_LEVEL", "error")
	for _, k := range []string{"BOWEN_HTML_DIR", "BOWEN_PARSED_DIR", "BOWEN_CHUNKS_DIR", "BOWEN_EMBEDDINGS_DIR"} {
		t.Setenv(k, "")
	}
	return dir
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&out)
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("bowen %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func TestRootCmd_RegistersSubcommands(t *testing.T) {
	root := NewRootCmd()
	want := []string{"serve", "parse", "chunk", "embed", "search", "ask", "diagnose", "version"}
	for _, name := range want {
		if c, _, err := root.Find([]string{name}); err != nil || c.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("--config flag missing")
	}
}

func TestVersionCmd(t *testing.T) {
	isolate(t)
	if got := run(t, "version"); !strings.Contains(got, version.String()) {
		t.Errorf("version output = %q", got)
	}
}

func TestPipeline_ParseChunkEmbedSearch(t *testing.T) {
	dir := isolate(t)
	htmlDir := filepath.Join(dir, "raw", "html")
	if err := os.MkdirAll(htmlDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(htmlDir, "residential-tenancies-1986.html"), []byte(rtaHTML), 0o644); err != nil {
		t.Fatal(err)
	}

	if got := run(t, "parse"); !strings.Contains(got, "Parsed 1 acts (2 sections)") {
		t.Errorf("parse output = %q", got)
	}
	if got := run(t, "chunk"); !strings.Contains(got, "chunks from 1 acts") {
		t.Errorf("chunk output = %q", got)
	}
	if got := run(t, "embed"); !strings.Contains(got, "Embedded 2 chunks") {
		t.Errorf("embed output = %q", got)
	}
	for _, f := range []string{index.EmbeddingsFile, index.MetadataFile, index.ConfigFile} {
		if _, err := os.Stat(filepath.Join(dir, "embeddings", f)); err != nil {
			t.Errorf("snapshot file %s: %v", f, err)
		}
	}

	got := run(t, "search", "maximum", "bond")
	if !strings.Contains(got, "Residential Tenancies Act 1986 s 18: Maximum bond") {
		t.Errorf("search output missing section 18:\n%s", got)
	}
}

func TestSearch_RefusesSnapshotWithOtherDimension(t *testing.T) {
	dir := isolate(t)
	htmlDir := filepath.Join(dir, "raw", "html")
	if err := os.MkdirAll(htmlDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(htmlDir, "residential-tenancies-1986.html"), []byte(rtaHTML), 0o644); err != nil {
		t.Fatal(err)
	}
	run(t, "parse")
	run(t, "chunk")
	run(t, "embed")

	t.Setenv("EMBEDDING_DIMENSIONS", "128")
	root := NewRootCmd()
	root.SetArgs([]string{"search", "bond"})
	root.SetOut(&bytes.Buffer{})
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "no index loaded") {
		t.Fatalf("err = %v, want search disabled for a 128-dimension embedder over a 256-dimension snapshot", err)
	}
}

// ---------------------------------------------------------------------------
// Startup consistency checks
// ---------------------------------------------------------------------------

type fakeMirror struct {
	count    int
	after    int
	err      error
	mirrored int
}

func (f *fakeMirror) Len() int { return f.count }

func (f *fakeMirror) Mirror(_ context.Context, idx *index.Index, _ int) error {
	f.mirrored++
	if f.err != nil {
		return f.err
	}
	f.count = f.after
	return nil
}

func testSnapshot(t *testing.T, n int) *index.Index {
	t.Helper()
	vecs := make([][]float32, n)
	recs := make([]index.Record, n)
	for i := range n {
		vecs[i] = []float32{1, 0}
		recs[i] = index.Record{ID: string(rune('a' + i))}
	}
	idx, err := index.New(vecs, recs, embedder.HashingModel)
	if err != nil {
		t.Fatal(err)
	}
	return idx
}

func TestSyncMirror(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		snapshot     int
		store        *fakeMirror
		wantMirrored int
		wantErr      error
	}{
		{"in sync", 2, &fakeMirror{count: 2}, 0, nil},
		{"empty collection", 2, &fakeMirror{count: 0, after: 2}, 1, nil},
		{"older larger build", 2, &fakeMirror{count: 3, after: 2}, 1, nil},
		{"older smaller build", 3, &fakeMirror{count: 1, after: 3}, 1, nil},
		{"still misaligned", 2, &fakeMirror{count: 3, after: 3}, 1, index.ErrMisaligned},
		{"mirror fails", 2, &fakeMirror{count: 0, err: errors.New("unavailable")}, 1, nil},
		{"no snapshot", 0, &fakeMirror{count: 5}, 0, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var idx *index.Index
			if tc.snapshot > 0 {
				idx = testSnapshot(t, tc.snapshot)
			}
			err := syncMirror(context.Background(), tc.store, idx, logging.Discard())
			if tc.store.mirrored != tc.wantMirrored {
				t.Errorf("Mirror called %d times, want %d", tc.store.mirrored, tc.wantMirrored)
			}
			switch {
			case tc.store.err != nil:
				if !errors.Is(err, tc.store.err) {
					t.Errorf("err = %v, want %v", err, tc.store.err)
				}
			case tc.wantErr != nil:
				if !errors.Is(err, tc.wantErr) {
					t.Errorf("err = %v, want %v", err, tc.wantErr)
				}
			case err != nil:
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("connection refused")
}
func (failingEmbedder) Model() string { return "down" }

func TestCheckQueryDimension(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if err := checkQueryDimension(ctx, embedder.NewHashingEmbedder(64), 64); err != nil {
		t.Errorf("matching dimension: %v", err)
	}
	if err := checkQueryDimension(ctx, embedder.NewHashingEmbedder(64), 768); !errors.Is(err, index.ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
	err := checkQueryDimension(ctx, failingEmbedder{}, 64)
	if err == nil || errors.Is(err, index.ErrDimensionMismatch) {
		t.Errorf("embed failure must surface as its own error, got %v", err)
	}
}

func TestSearch_NoSnapshot(t *testing.T) {
	isolate(t)
	root := NewRootCmd()
	root.SetArgs([]string{"search", "bond"})
	root.SetOut(&bytes.Buffer{})
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "no index loaded") {
		t.Fatalf("err = %v, want no index loaded", err)
	}
}

func TestPreview(t *testing.T) {
	t.Parallel()

	if got := preview("a  b\n c", 10); got != "a b c" {
		t.Errorf("preview = %q", got)
	}
	if got := preview("abcdef", 3); got != "abc..." {
		t.Errorf("preview = %q", got)
	}
}
