// Package keysections maps curated topic phrases to the statute sections
// that substantively answer them, and scores chunks against a query's
// matched rules.
package keysections

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed keysections.yaml
var defaultTable []byte

// Boost multipliers returned by [BoostFactor].
const (
	ExactBoost = 2.0
	ActBoost   = 1.3
	NoBoost    = 1.0
)

// Rule names an act identifier and the sections that matter for a topic.
type Rule struct {
	Act     string   `yaml:"act"`
	Numbers []string `yaml:"numbers"`
}

// Topic is a phrase and the rules it triggers, in priority order.
type Topic struct {
	Phrase   string `yaml:"topic"`
	Sections []Rule `yaml:"sections"`
}

// Table is an ordered topic list. It is immutable after construction.
type Table struct {
	topics []Topic
}

type document struct {
	Topics []Topic `yaml:"topics"`
}

var builtin = func() *Table {
	t, err := Load(bytes.NewReader(defaultTable))
	if err != nil {
		panic(fmt.Sprintf("keysections: embedded table: %v", err))
	}
	return t
}()

// Default returns the table built from the embedded topic list.
func Default() *Table { return builtin }

// Load parses a YAML topic table.
func Load(r io.Reader) (*Table, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("keysections: decode table: %w", err)
	}
	return New(doc.Topics)
}

// New builds a table from topics in match order. Phrases and act
// identifiers are lowercased.
func New(topics []Topic) (*Table, error) {
	out := make([]Topic, 0, len(topics))
	for i, tp := range topics {
		phrase := strings.ToLower(strings.TrimSpace(tp.Phrase))
		if phrase == "" {
			return nil, fmt.Errorf("keysections: topic %d: empty phrase", i)
		}
		rules := make([]Rule, 0, len(tp.Sections))
		for _, r := range tp.Sections {
			act := strings.ToLower(strings.TrimSpace(r.Act))
			if act == "" {
				return nil, fmt.Errorf("keysections: topic %q: empty act", phrase)
			}
			rules = append(rules, Rule{Act: act, Numbers: append([]string(nil), r.Numbers...)})
		}
		out = append(out, Topic{Phrase: phrase, Sections: rules})
	}
	return &Table{topics: out}, nil
}

// Len returns the number of topics.
func (t *Table) Len() int { return len(t.topics) }

// MatchTopics returns the rules of every topic whose phrase occurs in the
// lowercased query, concatenated in table order. Several topics may match
// one query ("bond" and "maximum bond").
func (t *Table) MatchTopics(query string) []Rule {
	q := strings.ToLower(query)
	var out []Rule
	for _, tp := range t.topics {
		if strings.Contains(q, tp.Phrase) {
			out = append(out, tp.Sections...)
		}
	}
	return out
}

// BoostFactor scores a chunk against matched rules. The first rule whose act
// identifier is a substring of the lowercased act title or short name
// decides: [ExactBoost] when the trimmed section number is listed,
// [ActBoost] otherwise. With no applicable rule the factor is [NoBoost].
func BoostFactor(actTitle, actShortName, sectionNumber string, rules []Rule) float64 {
	if len(rules) == 0 {
		return NoBoost
	}
	title := strings.ToLower(actTitle)
	short := strings.ToLower(actShortName)
	section := strings.TrimSpace(sectionNumber)
	for _, r := range rules {
		if !strings.Contains(title, r.Act) && !strings.Contains(short, r.Act) {
			continue
		}
		for _, n := range r.Numbers {
			if n == section {
				return ExactBoost
			}
		}
		return ActBoost
	}
	return NoBoost
}
