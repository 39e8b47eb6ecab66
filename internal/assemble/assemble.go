// Package assemble turns ranked retrieval results into the two things a chat
// answer needs: the excerpt context handed to the model, and the
// deduplicated source citations returned to the client.
package assemble

import (
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/joedaviesio/magna/internal/retrieval"
)

// NoResultsContext is the context given to the model when retrieval finds
// nothing.
const NoResultsContext = "No specific legislation excerpts found for this query. Please use your general knowledge about NZ law."

const (
	// DefaultSourceLimit caps the citations returned with an answer.
	DefaultSourceLimit = 5

	excerptRunes   = 200
	dedupTextRunes = 100

	generalSection = "General"
	generalHeading = "General Provisions"
)

// Source is one citation returned with an answer.
type Source struct {
	ActTitle       string  `json:"act_title"`
	SectionNumber  string  `json:"section_number"`
	SectionHeading string  `json:"section_heading"`
	URL            string  `json:"url"`
	Excerpt        string  `json:"excerpt"`
	Score          float64 `json:"score"`
}

// Context renders results grouped by act, in first-seen act order.
func Context(results []retrieval.Result) string {
	if len(results) == 0 {
		return NoResultsContext
	}

	var order []string
	blocks := map[string]*strings.Builder{}
	for _, r := range results {
		b, ok := blocks[r.ActTitle]
		if !ok {
			b = &strings.Builder{}
			b.WriteString("## " + r.ActTitle + "\n\n")
			blocks[r.ActTitle] = b
			order = append(order, r.ActTitle)
		}
		if r.SectionNumber != "" {
			b.WriteString("**Section " + r.SectionNumber)
			if r.SectionHeading != "" {
				b.WriteString(" - " + r.SectionHeading)
			}
			b.WriteString("**\n")
		}
		b.WriteString(r.Text + "\n\n")
	}

	parts := make([]string, len(order))
	for i, title := range order {
		parts[i] = blocks[title].String()
	}
	return strings.Join(parts, "\n---\n\n")
}

// Sources deduplicates results into citations, keeping the first occurrence
// of each (act, section) pair. Results without a section number are keyed by
// a hash of their leading text instead, so distinct unnumbered provisions of
// one act are not merged. limit <= 0 returns every citation.
func Sources(results []retrieval.Result, limit int) []Source {
	seen := make(map[string]struct{}, len(results))
	out := make([]Source, 0, len(results))
	for _, r := range results {
		section := strings.TrimSpace(r.SectionNumber)
		key := dedupKey(r.ActTitle, section, r.Text)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		s := Source{
			ActTitle:       r.ActTitle,
			SectionNumber:  section,
			SectionHeading: r.SectionHeading,
			URL:            r.SectionURL,
			Excerpt:        excerpt(r.Text),
			Score:          r.Score,
		}
		if s.SectionNumber == "" {
			s.SectionNumber = generalSection
		}
		if s.SectionHeading == "" {
			s.SectionHeading = generalHeading
		}
		if s.URL == "" {
			s.URL = r.ActURL
		}
		out = append(out, s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func dedupKey(act, section, text string) string {
	if section != "" {
		return act + "\x00" + section
	}
	h := fnv.New64a()
	h.Write([]byte(prefix(text, dedupTextRunes)))
	return act + "\x00\x00" + strconv.FormatUint(h.Sum64(), 16)
}

func excerpt(text string) string {
	if p := prefix(text, excerptRunes); len(p) < len(text) {
		return p + "..."
	}
	return text
}

// prefix returns the first n runes of s.
func prefix(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
