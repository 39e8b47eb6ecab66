// Package legislation defines the records that flow through the offline
// pipeline: parsed acts and sections from the parser, and the chunks the
// chunker derives from them. JSON tags match the on-disk file formats.
package legislation

// Section levels assigned by the parser.
const (
	LevelPart     = "part"
	LevelSubpart  = "subpart"
	LevelSection  = "section"
	LevelSchedule = "schedule"
)

// MaxSectionText is the longest body text the parser keeps per section.
const MaxSectionText = 5000

// ActMeta is the act-level metadata carried by every parsed file and copied
// into every chunk.
type ActMeta struct {
	Title      string   `json:"title"`
	ShortName  string   `json:"short_name"`
	Year       int      `json:"year"`
	URL        string   `json:"url"`
	Topics     []string `json:"topics"`
	SourceFile string   `json:"source_file,omitempty"`
	ParsedAt   string   `json:"parsed_at,omitempty"`
}

// Section is one provision extracted from an act. SectionNumber may be
// alphanumeric ("22A") or empty for front matter.
type Section struct {
	SectionNumber string `json:"section_number"`
	Heading       string `json:"heading"`
	Level         string `json:"level"`
	Part          string `json:"part"`
	Subpart       string `json:"subpart"`
	Text          string `json:"text"`
	URL           string `json:"url"`
	ActTitle      string `json:"act_title"`
	ActShortName  string `json:"act_short_name"`
}

// ParsedAct is the content of one parsed act file.
type ParsedAct struct {
	Metadata ActMeta   `json:"metadata"`
	Sections []Section `json:"sections"`
}

// ChunkMetadata is the citation metadata attached to a chunk.
type ChunkMetadata struct {
	ActTitle       string   `json:"act_title"`
	ActShortName   string   `json:"act_short_name"`
	ActYear        int      `json:"act_year"`
	ActURL         string   `json:"act_url"`
	Topics         []string `json:"topics"`
	SectionNumber  string   `json:"section_number"`
	SectionHeading string   `json:"section_heading"`
	SectionLevel   string   `json:"section_level"`
	SectionPart    string   `json:"section_part"`
	SectionURL     string   `json:"section_url"`
	ChunkIndex     int      `json:"chunk_index"`
	TotalChunks    int      `json:"total_chunks"`
	TokenCount     int      `json:"token_count"`
}

// Chunk is a bounded span of one section's text prepared for embedding.
type Chunk struct {
	ID       string        `json:"id"`
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}
