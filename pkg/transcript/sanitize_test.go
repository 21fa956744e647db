package transcript

import (
	"strings"
	"testing"
)

func TestCleanStripsAllMarkers(t *testing.T) {
	tokens := []Token{
		{Text: "hi", IsFinal: true, Speaker: "1", Language: "en"},
		{Text: " there", IsFinal: true, Speaker: "2", Language: "fr"},
		{Text: " hello", IsFinal: true, Language: "en", IsTranslation: true},
	}
	out := Clean(Render(tokens, nil))

	if speakerMarkerRe.MatchString(out) {
		t.Fatalf("speaker marker survived: %q", out)
	}
	if languageTagRe.MatchString(out) {
		t.Fatalf("language tag survived: %q", out)
	}
	want := "hi there hello"
	if out != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestCleanRemovesEndMarkers(t *testing.T) {
	if got := Clean("hello <end>"); got != "hello" {
		t.Fatalf("end marker survived: %q", got)
	}
	if got := Clean("hello <fin> world"); got != "hello world" {
		t.Fatalf("fin marker survived: %q", got)
	}
}

func TestCleanCollapsesWhitespace(t *testing.T) {
	if got := Clean("  a \n\n b\tc  "); got != "a b c" {
		t.Fatalf("whitespace not collapsed: %q", got)
	}
}

func TestCleanNoMarkersIsStable(t *testing.T) {
	in := "plain text with no markers"
	if got := Clean(in); got != in {
		t.Fatalf("plain text mangled: %q", got)
	}
}

func TestCleanKeepsWordOrderAcrossSpeakers(t *testing.T) {
	tokens := []Token{
		{Text: "hi", IsFinal: true, Speaker: "1"},
		{Text: "there", IsFinal: true, Speaker: "2"},
	}
	out := Clean(Render(tokens, nil))
	if strings.Index(out, "hi") > strings.Index(out, "there") {
		t.Fatalf("word order lost: %q", out)
	}
}
