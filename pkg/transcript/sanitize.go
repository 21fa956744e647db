package transcript

import (
	"regexp"
	"strings"
)

var (
	speakerMarkerRe = regexp.MustCompile(`Speaker\s+\w+:`)
	languageTagRe   = regexp.MustCompile(`\[\x{2192}?[a-z]{2}\]`)
	whitespaceRe    = regexp.MustCompile(`\s+`)
)

// Clean strips the renderer's speaker and language markers and any
// end-of-stream marker text, then collapses whitespace runs. The result is
// what downstream language processing sees; markers are a log-facing
// concern only. Safe on text containing zero, one or many markers.
func Clean(rendered string) string {
	out := strings.ReplaceAll(rendered, EndToken, " ")
	out = strings.ReplaceAll(out, FinToken, " ")
	out = speakerMarkerRe.ReplaceAllString(out, " ")
	out = languageTagRe.ReplaceAllString(out, " ")
	out = whitespaceRe.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}
