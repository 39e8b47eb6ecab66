// Package parser extracts provisions from legislation.govt.nz act HTML.
package parser

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/joedaviesio/magna/internal/legislation"
)

var (
	sectionNumberPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(\d+[A-Z]*)\s`),
		regexp.MustCompile(`(?i)^Section\s+(\d+[A-Z]*)`),
		regexp.MustCompile(`(?i)^(Schedule\s+\d+[A-Z]*)`),
	}

	partHeading     = regexp.MustCompile(`(?i)^Part\s+\d+`)
	subpartHeading  = regexp.MustCompile(`(?i)^Subpart\s+`)
	scheduleHeading = regexp.MustCompile(`(?i)^Schedule`)

	// fallbackHeading matches numbered section headings such as "18 Maximum bond".
	fallbackHeading = regexp.MustCompile(`^\d+[A-Z]?\s+\w`)

	whitespace = regexp.MustCompile(`\s+`)
)

// Parse reads one act's HTML and returns its provisions in document order.
// Provisions are the outermost div elements with a class containing "prov";
// when there are none, elements classed as sections or provisions are used,
// and failing that the numbered h1-h6 headings of the body.
func Parse(r io.Reader, meta legislation.ActMeta) ([]legislation.Section, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parser: parse html: %w", err)
	}

	provs := collect(doc, func(n *html.Node) bool {
		return n.Data == "div" && classContains(n, "prov")
	})
	if len(provs) == 0 {
		provs = collect(doc, func(n *html.Node) bool {
			return (n.Data == "div" || n.Data == "section") &&
				(classContains(n, "section") || classContains(n, "provision"))
		})
	}

	var (
		out     []legislation.Section
		part    string
		subpart string
	)
	for _, p := range provs {
		sec, ok := provision(p, meta)
		if !ok {
			continue
		}
		switch {
		case partHeading.MatchString(sec.Heading):
			sec.Level = legislation.LevelPart
			part = sec.Heading
		case subpartHeading.MatchString(sec.Heading):
			sec.Level = legislation.LevelSubpart
			subpart = sec.Heading
		case scheduleHeading.MatchString(sec.Heading):
			sec.Level = legislation.LevelSchedule
		}
		sec.Part = part
		sec.Subpart = subpart
		out = append(out, sec)
	}

	if len(out) == 0 {
		out = byHeadings(doc, meta)
	}
	return out, nil
}

// provision extracts one provision. It reports false when the element has
// neither heading nor body text.
func provision(n *html.Node, meta legislation.ActMeta) (legislation.Section, bool) {
	headingNode := find(n, func(c *html.Node) bool {
		return classContains(c, "heading")
	})
	if headingNode == nil {
		headingNode = find(n, func(c *html.Node) bool { return headingLevel(c.Data) > 0 && c.Data != "h6" })
	}
	heading := ""
	if headingNode != nil {
		heading = Clean(textContent(headingNode))
	}

	number := ""
	if numNode := find(n, func(c *html.Node) bool {
		return classContains(c, "prov-num") || classContains(c, "section-num")
	}); numNode != nil {
		number = Clean(textContent(numNode))
	}
	if number == "" {
		number = SectionNumber(heading)
	}

	var body string
	if bodyNode := find(n, func(c *html.Node) bool {
		return classContains(c, "prov-body") || classContains(c, "section-body")
	}); bodyNode != nil {
		body = Clean(textContent(bodyNode))
	} else {
		body = Clean(textContent(n))
		if heading != "" {
			body = strings.TrimSpace(strings.Replace(body, heading, "", 1))
		}
	}

	if body == "" && heading == "" {
		return legislation.Section{}, false
	}

	return legislation.Section{
		SectionNumber: number,
		Heading:       heading,
		Level:         legislation.LevelSection,
		Text:          truncate(body, legislation.MaxSectionText),
		URL:           SectionURL(meta.URL, attr(n, "id")),
		ActTitle:      meta.Title,
		ActShortName:  meta.ShortName,
	}, true
}

// byHeadings is the last-resort extraction: every numbered heading in the
// body becomes a section whose text is the following siblings up to the next
// heading.
func byHeadings(doc *html.Node, meta legislation.ActMeta) []legislation.Section {
	body := find(doc, func(n *html.Node) bool { return n.Data == "body" })
	if body == nil {
		return nil
	}
	var out []legislation.Section
	for _, h := range collectAll(body, func(n *html.Node) bool { return headingLevel(n.Data) > 0 }) {
		heading := Clean(textContent(h))
		if !fallbackHeading.MatchString(heading) {
			continue
		}
		var parts []string
		for s := nextElement(h); s != nil && headingLevel(s.Data) == 0; s = nextElement(s) {
			parts = append(parts, Clean(textContent(s)))
		}
		text := truncate(strings.Join(parts, " "), legislation.MaxSectionText)
		if text == "" {
			continue
		}
		out = append(out, legislation.Section{
			SectionNumber: SectionNumber(heading),
			Heading:       heading,
			Level:         legislation.LevelSection,
			Text:          text,
			URL:           meta.URL,
			ActTitle:      meta.Title,
			ActShortName:  meta.ShortName,
		})
	}
	return out
}

// SectionNumber extracts a section number such as "22A" or "Schedule 1" from
// the start of a heading, or returns "".
func SectionNumber(heading string) string {
	for _, re := range sectionNumberPatterns {
		if m := re.FindStringSubmatch(heading); m != nil {
			return m[1]
		}
	}
	return ""
}

// SectionURL links a provision id under the act's base URL, which is the act
// URL without its trailing page ("whole.html" or a landing page such as "DLM94278.html").
// Ids without a "DLM" prefix get one.
func SectionURL(actURL, id string) string {
	if id == "" {
		return actURL
	}
	base := actURL
	if i := strings.LastIndex(base, "/"); i >= 0 && strings.HasSuffix(base, ".html") {
		base = base[:i]
	}
	if strings.Contains(id, "DLM") {
		return base + "/" + id
	}
	return base + "/DLM" + id
}

// Clean collapses whitespace runs to single spaces and trims the ends.
func Clean(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}

// ---------------------------------------------------------------------------
// DOM helpers
// ---------------------------------------------------------------------------

// collect returns the outermost elements matching pred, in document order.
func collect(n *html.Node, pred func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && pred(n) {
			out = append(out, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

// collectAll returns every element matching pred, nested or not.
func collectAll(n *html.Node, pred func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && pred(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

// find returns the first descendant element of n matching pred.
func find(n *html.Node, pred func(*html.Node) bool) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && pred(c) {
			return c
		}
		if m := find(c, pred); m != nil {
			return m
		}
	}
	return nil
}

func nextElement(n *html.Node) *html.Node {
	for s := n.NextSibling; s != nil; s = s.NextSibling {
		if s.Type == html.ElementNode {
			return s
		}
	}
	return nil
}

func headingLevel(tag string) int {
	switch tag {
	case "h1":
		return 1
	case "h2":
		return 2
	case "h3":
		return 3
	case "h4":
		return 4
	case "h5":
		return 5
	case "h6":
		return 6
	}
	return 0
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// classContains reports whether any class token of n contains sub.
func classContains(n *html.Node, sub string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if strings.Contains(c, sub) {
			return true
		}
	}
	return false
}

// textContent concatenates the text beneath n, skipping script and style.
func textContent(n *html.Node) string {
	var buf strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return buf.String()
}
