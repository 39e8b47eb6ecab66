package retrieval

import (
	"strings"

	"github.com/joedaviesio/magna/internal/index"
	"github.com/joedaviesio/magna/internal/keysections"
)

// Boost multipliers and thresholds applied by the built-in stages.
const (
	ExplanatoryBoost  = 1.3
	EarlySectionBoost = 1.2
	EarlySectionMax   = 10
	FilteredScore     = -1.0

	// explanatoryWindow is how much leading chunk text the explanatory stage
	// inspects for structural terms.
	explanatoryWindow = 200
)

// explanatoryTriggers mark a query as asking for an overview of the law.
var explanatoryTriggers = []string{"what is", "what are", "explain", "overview", "purpose of"}

// structuralTerms mark sections that set out purposes and definitions.
var structuralTerms = []string{"purpose", "interpretation", "application", "object", "principle", "definition"}

// Stage rescales one candidate's running score.
type Stage interface {
	Name() string
	Apply(c index.Candidate, score float64) float64
}

// Pipeline returns the stages that apply to a query, in their fixed order:
// explanatory, early-section, key-section, act-filter. Stages whose trigger
// does not fire are omitted.
func Pipeline(query, actFilter string, rules []keysections.Rule) []Stage {
	var stages []Stage
	if IsExplanatory(query) {
		stages = append(stages, explanatoryStage{}, earlySectionStage{})
	}
	if len(rules) > 0 {
		stages = append(stages, keySectionStage{rules: rules})
	}
	if f := strings.ToLower(strings.TrimSpace(actFilter)); f != "" {
		stages = append(stages, actFilterStage{filter: f})
	}
	return stages
}

// IsExplanatory reports whether the query asks what something is or means.
func IsExplanatory(query string) bool {
	q := strings.ToLower(query)
	for _, t := range explanatoryTriggers {
		if strings.Contains(q, t) {
			return true
		}
	}
	return false
}

// explanatoryStage boosts purpose, interpretation and definition sections
// once, however many structural terms they contain.
type explanatoryStage struct{}

func (explanatoryStage) Name() string { return "explanatory" }

func (explanatoryStage) Apply(c index.Candidate, score float64) float64 {
	heading := strings.ToLower(c.Record.SectionHeading)
	lead := c.Record.Text
	if r := []rune(lead); len(r) > explanatoryWindow {
		lead = string(r[:explanatoryWindow])
	}
	lead = strings.ToLower(lead)
	for _, term := range structuralTerms {
		if strings.Contains(heading, term) || strings.Contains(lead, term) {
			return score * ExplanatoryBoost
		}
	}
	return score
}

// earlySectionStage boosts the opening numbered sections of an act, which
// usually carry its title, commencement, purpose and interpretation.
type earlySectionStage struct{}

func (earlySectionStage) Name() string { return "early-section" }

func (earlySectionStage) Apply(c index.Candidate, score float64) float64 {
	if n, ok := plainSectionNumber(c.Record.SectionNumber); ok && n <= EarlySectionMax {
		return score * EarlySectionBoost
	}
	return score
}

// plainSectionNumber parses a section number made only of ASCII digits.
func plainSectionNumber(s string) (int, bool) {
	if s == "" || len(s) > 6 {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

type keySectionStage struct {
	rules []keysections.Rule
}

func (keySectionStage) Name() string { return "key-section" }

func (s keySectionStage) Apply(c index.Candidate, score float64) float64 {
	return score * keysections.BoostFactor(c.Record.ActTitle, c.Record.ActShortName, c.Record.SectionNumber, s.rules)
}

// actFilterStage excludes candidates outside the requested act. filter is
// lowercased.
type actFilterStage struct {
	filter string
}

func (actFilterStage) Name() string { return "act-filter" }

func (s actFilterStage) Apply(c index.Candidate, score float64) float64 {
	if strings.Contains(strings.ToLower(c.Record.ActTitle), s.filter) ||
		strings.Contains(strings.ToLower(c.Record.ActShortName), s.filter) {
		return score
	}
	return FilteredScore
}
