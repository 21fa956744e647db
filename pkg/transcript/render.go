package transcript

import "strings"

// Render turns an ordered token list into a single display string:
// confirmed tokens first, then the live non-final tail. A speaker change
// opens a new paragraph with a "Speaker N:" marker and resets the tracked
// language; a language change inserts a bracketed tag on its own line,
// prefixed with an arrow when the token is a translation rather than
// original speech. Pure function: identical inputs yield identical output.
func Render(final, nonfinal []Token) string {
	var sb strings.Builder
	var speaker, language string

	write := func(tok Token) {
		text := tok.Text
		if tok.Speaker != "" && tok.Speaker != speaker {
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString("Speaker ")
			sb.WriteString(tok.Speaker)
			sb.WriteString(": ")
			speaker = tok.Speaker
			// a new speaker starts a fresh language context
			language = ""
			text = strings.TrimLeft(text, " ")
		}
		if tok.Language != "" && tok.Language != language {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			if tok.IsTranslation {
				sb.WriteString("[→")
			} else {
				sb.WriteString("[")
			}
			sb.WriteString(tok.Language)
			sb.WriteString("] ")
			language = tok.Language
			text = strings.TrimLeft(text, " ")
		}
		sb.WriteString(text)
	}

	for _, tok := range final {
		write(tok)
	}
	for _, tok := range nonfinal {
		write(tok)
	}
	return sb.String()
}
