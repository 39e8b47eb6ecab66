// Package acts is the registry of supported NZ acts: titles, keywords,
// topics and canonical URLs. The registry is a data table (acts.yaml,
// embedded at build time) loaded once and never mutated, so it is safe for
// concurrent use.
package acts

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joedaviesio/magna/internal/legislation"
)

//go:embed acts.yaml
var defaultTable []byte

// Act describes one statute.
type Act struct {
	ShortName string   `yaml:"short_name"`
	Title     string   `yaml:"title"`
	BaseName  string   `yaml:"base_name,omitempty"`
	Year      int      `yaml:"year"`
	Keywords  []string `yaml:"keywords"`
	Topics    []string `yaml:"topics"`
	URL       string   `yaml:"url"`
	// File is the legislation HTML file name the parser expects for this act.
	File string `yaml:"file,omitempty"`
}

// Summary is the public view of an act served by the /acts endpoint.
type Summary struct {
	ShortName string   `json:"short_name"`
	Title     string   `json:"title"`
	Year      int      `json:"year"`
	Topics    []string `json:"topics"`
	URL       string   `json:"url"`
}

// Name returns the act's base name: the title with its trailing " Act ..."
// suffix removed, unless the table overrides it. The base name is what the
// retrieval act filter matches against chunk act titles.
func (a Act) Name() string {
	if a.BaseName != "" {
		return a.BaseName
	}
	if i := strings.LastIndex(a.Title, " Act"); i >= 0 {
		return a.Title[:i]
	}
	return a.Title
}

// Meta returns the act-level metadata stamped onto parsed files and chunks.
func (a Act) Meta() legislation.ActMeta {
	return legislation.ActMeta{
		Title:     a.Title,
		ShortName: a.ShortName,
		Year:      a.Year,
		URL:       a.URL,
		Topics:    append([]string(nil), a.Topics...),
	}
}

// Registry is an ordered, read-only act table.
type Registry struct {
	acts    []Act
	byShort map[string]int
	byFile  map[string]int
}

type table struct {
	Acts []Act `yaml:"acts"`
}

var builtin = func() *Registry {
	r, err := Load(bytes.NewReader(defaultTable))
	if err != nil {
		panic(fmt.Sprintf("acts: embedded table: %v", err))
	}
	return r
}()

// Default returns the registry built from the embedded table.
func Default() *Registry { return builtin }

// Load parses a YAML act table. Short names must be unique.
func Load(r io.Reader) (*Registry, error) {
	var t table
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("acts: decode table: %w", err)
	}
	return New(t.Acts)
}

// New builds a registry from acts in detection order. Keywords are
// lowercased so detection can match against a lowercased query.
func New(list []Act) (*Registry, error) {
	reg := &Registry{
		acts:    make([]Act, 0, len(list)),
		byShort: make(map[string]int, len(list)),
		byFile:  make(map[string]int, len(list)),
	}
	for _, a := range list {
		if a.ShortName == "" || a.Title == "" {
			return nil, fmt.Errorf("acts: entry %d: short_name and title are required", len(reg.acts))
		}
		key := strings.ToUpper(a.ShortName)
		if _, dup := reg.byShort[key]; dup {
			return nil, fmt.Errorf("acts: duplicate short_name %q", a.ShortName)
		}
		kws := make([]string, 0, len(a.Keywords))
		for _, kw := range a.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				kws = append(kws, kw)
			}
		}
		a.Keywords = kws

		reg.byShort[key] = len(reg.acts)
		if a.File != "" {
			reg.byFile[strings.ToLower(a.File)] = len(reg.acts)
		}
		reg.acts = append(reg.acts, a)
	}
	return reg, nil
}

// DetectAct returns the base name of the first act, in registry order, with
// a keyword contained in the lowercased query.
func (r *Registry) DetectAct(query string) (string, bool) {
	q := strings.ToLower(query)
	for _, a := range r.acts {
		for _, kw := range a.Keywords {
			if strings.Contains(q, kw) {
				return a.Name(), true
			}
		}
	}
	return "", false
}

// List returns every act in registry order.
func (r *Registry) List() []Summary {
	out := make([]Summary, 0, len(r.acts))
	for _, a := range r.acts {
		out = append(out, Summary{
			ShortName: a.ShortName,
			Title:     a.Title,
			Year:      a.Year,
			Topics:    append([]string(nil), a.Topics...),
			URL:       a.URL,
		})
	}
	return out
}

// Get looks an act up by short name, ignoring case.
func (r *Registry) Get(shortName string) (Act, bool) {
	i, ok := r.byShort[strings.ToUpper(strings.TrimSpace(shortName))]
	if !ok {
		return Act{}, false
	}
	return r.acts[i], true
}

// ByFile resolves a legislation HTML file name (for example
// "residential-tenancies-1986.html") to its act.
func (r *Registry) ByFile(name string) (Act, bool) {
	i, ok := r.byFile[strings.ToLower(name)]
	if !ok {
		return Act{}, false
	}
	return r.acts[i], true
}

// Len returns the number of acts.
func (r *Registry) Len() int { return len(r.acts) }
