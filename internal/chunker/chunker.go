// Package chunker splits legislation sections into token-bounded chunks
// ready for embedding. Splits fall on sentence boundaries where possible and
// on word boundaries otherwise, so joining a section's chunks in order gives
// back the section text up to whitespace.
package chunker

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/joedaviesio/magna/internal/legislation"
)

// Defaults applied by [New] for zero config values.
const (
	DefaultMaxTokens     = 512
	DefaultMinTokens     = 50
	DefaultOverlapTokens = 50
)

// idPrefixRunes is how much of the chunk text feeds the chunk ID.
const idPrefixRunes = 100

// Tokenizer counts tokens in a piece of text.
type Tokenizer interface {
	Count(text string) int
}

// ApproxTokenizer estimates tokens as 1.3 per whitespace-separated word,
// truncated.
type ApproxTokenizer struct{}

// Count implements [Tokenizer].
func (ApproxTokenizer) Count(text string) int {
	return int(float64(len(strings.Fields(text))) * 1.3)
}

// Config controls chunk sizing. OverlapTokens is recorded in the chunk index
// file but not applied.
type Config struct {
	MaxTokens     int
	MinTokens     int
	OverlapTokens int
	Tokenizer     Tokenizer
}

// Chunker is stateless after construction and safe for concurrent use.
type Chunker struct {
	tok     Tokenizer
	max     int
	min     int
	overlap int
}

// New returns a Chunker, filling zero values in cfg with defaults.
func New(cfg Config) *Chunker {
	c := &Chunker{
		tok:     cfg.Tokenizer,
		max:     cfg.MaxTokens,
		min:     cfg.MinTokens,
		overlap: cfg.OverlapTokens,
	}
	if c.tok == nil {
		c.tok = ApproxTokenizer{}
	}
	if c.max <= 0 {
		c.max = DefaultMaxTokens
	}
	if c.min <= 0 {
		c.min = DefaultMinTokens
	}
	if c.min > c.max {
		c.min = c.max
	}
	if c.overlap <= 0 {
		c.overlap = DefaultOverlapTokens
	}
	return c
}

// MaxTokens returns the per-chunk token ceiling.
func (c *Chunker) MaxTokens() int { return c.max }

// MinTokens returns the floor applied to a section's trailing chunk.
func (c *Chunker) MinTokens() int { return c.min }

// OverlapTokens returns the configured overlap.
func (c *Chunker) OverlapTokens() int { return c.overlap }

// ChunkAct chunks every section of a parsed act, in section order.
func (c *Chunker) ChunkAct(act legislation.ParsedAct) []legislation.Chunk {
	var out []legislation.Chunk
	for _, sec := range act.Sections {
		out = append(out, c.ChunkSection(sec, act.Metadata)...)
	}
	return out
}

// ChunkSection turns one section into chunks carrying the act's citation
// metadata. A section with no heading and no text yields no chunks.
func (c *Chunker) ChunkSection(sec legislation.Section, act legislation.ActMeta) []legislation.Chunk {
	full := sec.Text
	if sec.Heading != "" {
		full = sec.Heading + "\n\n" + sec.Text
	}
	if strings.TrimSpace(full) == "" {
		return nil
	}

	pieces := c.split(full)
	level := sec.Level
	if level == "" {
		level = legislation.LevelSection
	}

	out := make([]legislation.Chunk, 0, len(pieces))
	for i, text := range pieces {
		out = append(out, legislation.Chunk{
			ID:   ChunkID(act.ShortName, sec.SectionNumber, text),
			Text: text,
			Metadata: legislation.ChunkMetadata{
				ActTitle:       act.Title,
				ActShortName:   act.ShortName,
				ActYear:        act.Year,
				ActURL:         act.URL,
				Topics:         act.Topics,
				SectionNumber:  sec.SectionNumber,
				SectionHeading: sec.Heading,
				SectionLevel:   level,
				SectionPart:    sec.Part,
				SectionURL:     sec.URL,
				ChunkIndex:     i,
				TotalChunks:    len(pieces),
				TokenCount:     c.tok.Count(text),
			},
		})
	}
	return out
}

// split implements the greedy sentence accumulator. Token counts are taken
// on the joined candidate rather than summed per sentence, so truncation in
// the tokenizer cannot let a chunk drift past the ceiling.
func (c *Chunker) split(text string) []string {
	if c.tok.Count(text) <= c.max {
		return []string{text}
	}

	var (
		chunks []string
		buf    []string
	)
	flush := func() {
		if len(buf) > 0 {
			chunks = append(chunks, strings.Join(buf, " "))
			buf = nil
		}
	}

	for _, sentence := range SplitSentences(text) {
		if c.tok.Count(sentence) > c.max {
			flush()
			buf = c.splitWords(sentence, &chunks)
			continue
		}
		if len(buf) > 0 && c.tok.Count(strings.Join(append(buf[:len(buf):len(buf)], sentence), " ")) > c.max {
			flush()
		}
		buf = append(buf, sentence)
	}

	if len(buf) > 0 {
		tail := strings.Join(buf, " ")
		if c.tok.Count(tail) >= c.min || len(chunks) == 0 {
			chunks = append(chunks, tail)
		} else {
			chunks[len(chunks)-1] += " " + tail
		}
	}
	return chunks
}

// splitWords breaks an oversized sentence at word boundaries, appending full
// pieces to chunks. The unfinished trailing words are returned to seed the
// next buffer.
func (c *Chunker) splitWords(sentence string, chunks *[]string) []string {
	var buf []string
	for _, w := range strings.Fields(sentence) {
		if len(buf) > 0 && c.tok.Count(strings.Join(append(buf[:len(buf):len(buf)], w), " ")) > c.max {
			*chunks = append(*chunks, strings.Join(buf, " "))
			buf = nil
		}
		buf = append(buf, w)
	}
	return buf
}

// SplitSentences splits text after '.', '!' or '?' when followed by
// whitespace. The whitespace run between sentences is dropped; empty pieces
// are skipped.
func SplitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		next, _ := utf8.DecodeRuneInString(text[i:])
		if i >= len(text) || !unicode.IsSpace(next) {
			continue
		}
		if s := text[start:i]; strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
		for i < len(text) {
			r, size := utf8.DecodeRuneInString(text[i:])
			if !unicode.IsSpace(r) {
				break
			}
			i += size
		}
		start = i
	}
	if s := text[start:]; strings.TrimSpace(s) != "" {
		out = append(out, s)
	}
	return out
}

// ChunkID derives the stable 12-hex-digit chunk identifier from the act
// short name, section number and the first 100 characters of the text.
func ChunkID(shortName, sectionNumber, text string) string {
	prefix := text
	if utf8.RuneCountInString(prefix) > idPrefixRunes {
		prefix = string([]rune(prefix)[:idPrefixRunes])
	}
	sum := md5.Sum([]byte(shortName + ":" + sectionNumber + ":" + prefix))
	return hex.EncodeToString(sum[:])[:12]
}
