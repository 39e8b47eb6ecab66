package ingestion

import (
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/joedaviesio/magna/internal/acts"
	"github.com/joedaviesio/magna/internal/legislation"
)

// A [cases.Caser] is stateful, so InferMeta builds one per call.
var titleTag = language.English

// InferMeta returns the act metadata for an HTML file name. Files known to
// the registry get its title, short name, year, URL and topics. Unknown files
// get a best-effort title from the file stem ("privacy-act-2020" becomes
// "Privacy Act 2020"), a short name from the first three stem characters,
// year 0 and no URL.
func InferMeta(reg *acts.Registry, fileName string) legislation.ActMeta {
	base := filepath.Base(fileName)
	if a, ok := reg.ByFile(base); ok {
		m := a.Meta()
		m.SourceFile = base
		return m
	}

	stem := Stem(base)
	short := stem
	if r := []rune(short); len(r) > 3 {
		short = string(r[:3])
	}
	return legislation.ActMeta{
		Title:      cases.Title(titleTag).String(strings.ReplaceAll(stem, "-", " ")),
		ShortName:  strings.ToUpper(short),
		Topics:     []string{},
		SourceFile: base,
	}
}

// Stem returns the file name without directory or extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
