package parser

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/joedaviesio/magna/internal/legislation"
)

var rta = legislation.ActMeta{
	Title:     "Residential Tenancies Act 1986",
	ShortName: "RTA",
	URL:       "https://www.legislation.govt.nz/act/public/1986/0120/latest/whole.html",
}

const provHTML = `<html><body>
<div class="prov" id="DLM94301">
  <h2 class="prov-heading">Part 1 Preliminary provisions</h2>
</div>
<div class="prov" id="94278">
  <h5 class="prov-heading">18   Maximum
     bond</h5>
  <div class="prov-body"><p>A landlord must not require a bond that exceeds
  4 weeks' rent.</p></div>
</div>
<div class="prov">
  <h5 class="heading">Subpart 2 Bonds</h5>
</div>
<div class="prov" id="DLM2">
  <h5 class="prov-heading">Schedule 1 Forms</h5>
  <div class="prov-body">Form 1 Tenancy agreement</div>
</div>
<div class="prov"></div>
</body></html>`

func TestParse_Provisions(t *testing.T) {
	t.Parallel()

	got, err := Parse(strings.NewReader(provHTML), rta)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	base := "https://www.legislation.govt.nz/act/public/1986/0120/latest"
	want := []legislation.Section{
		{
			Heading: "Part 1 Preliminary provisions",
			Level:   legislation.LevelPart,
			Part:    "Part 1 Preliminary provisions",
			URL:     base + "/DLM94301",
		},
		{
			SectionNumber: "18",
			Heading:       "18 Maximum bond",
			Level:         legislation.LevelSection,
			Part:          "Part 1 Preliminary provisions",
			Text:          "A landlord must not require a bond that exceeds 4 weeks' rent.",
			URL:           base + "/DLM94278",
		},
		{
			Heading: "Subpart 2 Bonds",
			Level:   legislation.LevelSubpart,
			Part:    "Part 1 Preliminary provisions",
			Subpart: "Subpart 2 Bonds",
			URL:     rta.URL,
		},
		{
			SectionNumber: "Schedule 1",
			Heading:       "Schedule 1 Forms",
			Level:         legislation.LevelSchedule,
			Part:          "Part 1 Preliminary provisions",
			Subpart:       "Subpart 2 Bonds",
			Text:          "Form 1 Tenancy agreement",
			URL:           base + "/DLM2",
		},
	}
	for i := range want {
		want[i].ActTitle = rta.Title
		want[i].ActShortName = rta.ShortName
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sections mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_BodyWithoutBodyElement(t *testing.T) {
	t.Parallel()

	doc := `<div class="prov"><h3>7 Application</h3><p>This Act binds the Crown.</p>` +
		`<script>var x = 1;</script></div>`
	got, err := Parse(strings.NewReader(doc), rta)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d sections, want 1", len(got))
	}
	if got[0].Text != "This Act binds the Crown." {
		t.Errorf("Text = %q", got[0].Text)
	}
	if got[0].SectionNumber != "7" {
		t.Errorf("SectionNumber = %q", got[0].SectionNumber)
	}
}

func TestParse_NumberElementWins(t *testing.T) {
	t.Parallel()

	doc := `<div class="prov"><span class="prov-num">22A</span>` +
		`<h5 class="prov-heading">Bond lodgement</h5><div class="prov-body">x</div></div>`
	got, err := Parse(strings.NewReader(doc), rta)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].SectionNumber != "22A" {
		t.Errorf("got %+v", got)
	}
}

func TestParse_NestedProvisionsAreNotRepeated(t *testing.T) {
	t.Parallel()

	doc := `<div class="prov"><h5 class="prov-heading">5 Outer</h5>` +
		`<div class="prov-body"><div class="prov"><h5>6 Inner</h5></div>text</div></div>`
	got, err := Parse(strings.NewReader(doc), rta)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d sections, want 1", len(got))
	}
}

func TestParse_TextCapped(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", legislation.MaxSectionText+500)
	doc := `<div class="prov"><h5 class="prov-heading">1 Title</h5><div class="prov-body">` + long + `</div></div>`
	got, err := Parse(strings.NewReader(doc), rta)
	if err != nil {
		t.Fatal(err)
	}
	if n := len([]rune(got[0].Text)); n != legislation.MaxSectionText {
		t.Errorf("text length = %d, want %d", n, legislation.MaxSectionText)
	}
}

func TestParse_SectionClassFallback(t *testing.T) {
	t.Parallel()

	doc := `<section class="section-wrapper"><h4>3 Interpretation</h4><p>In this Act...</p></section>`
	got, err := Parse(strings.NewReader(doc), rta)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].SectionNumber != "3" || got[0].Text != "In this Act..." {
		t.Errorf("got %+v", got)
	}
}

func TestParse_HeadingFallback(t *testing.T) {
	t.Parallel()

	doc := `<html><body>
<h1>Residential Tenancies Act 1986</h1>
<h3>18 Maximum bond</h3>
<p>A landlord must not</p><p>require more.</p>
<h3>19 Bond to be lodged</h3>
<h3>20 Receipt</h3>
<p>The chief executive must issue a receipt.</p>
</body></html>`
	got, err := Parse(strings.NewReader(doc), rta)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d sections, want 2: %+v", len(got), got)
	}
	if got[0].SectionNumber != "18" || got[0].Text != "A landlord must not require more." {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].SectionNumber != "20" || got[1].URL != rta.URL {
		t.Errorf("second = %+v", got[1])
	}
}

func TestParse_Empty(t *testing.T) {
	t.Parallel()

	got, err := Parse(strings.NewReader("<html><body><p>nothing here</p></body></html>"), rta)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("got %d sections, want none", len(got))
	}
}

func TestSectionNumber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		heading string
		want    string
	}{
		{"18 Maximum bond", "18"},
		{"22A Bond lodgement", "22A"},
		{"Section 42B Something", "42B"},
		{"section 7 lower", "7"},
		{"Schedule 1 Forms", "Schedule 1"},
		{"Part 1 Preliminary", ""},
		{"Interpretation", ""},
		{"18", ""},
	}
	for _, tt := range tests {
		if got := SectionNumber(tt.heading); got != tt.want {
			t.Errorf("SectionNumber(%q) = %q, want %q", tt.heading, got, tt.want)
		}
	}
}

func TestSectionURL(t *testing.T) {
	t.Parallel()

	act := "https://www.legislation.govt.nz/act/public/2020/0031/latest/whole.html"
	base := "https://www.legislation.govt.nz/act/public/2020/0031/latest"
	tests := []struct {
		id   string
		want string
	}{
		{"", act},
		{"DLM123", base + "/DLM123"},
		{"LMS23223", base + "/DLMLMS23223"},
		{"456", base + "/DLM456"},
	}
	for _, tt := range tests {
		if got := SectionURL(act, tt.id); got != tt.want {
			t.Errorf("SectionURL(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}

	landing := "https://www.legislation.govt.nz/act/public/1986/0120/latest/DLM94278.html"
	if got, want := SectionURL(landing, "DLM94301"), "https://www.legislation.govt.nz/act/public/1986/0120/latest/DLM94301"; got != want {
		t.Errorf("SectionURL(landing) = %q, want %q", got, want)
	}
}

func TestClean(t *testing.T) {
	t.Parallel()

	if got := Clean("  a\n\t b   c "); got != "a b c" {
		t.Errorf("Clean = %q", got)
	}
}
