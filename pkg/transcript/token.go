// Package transcript reconstructs readable transcripts from streams of
// partial and final recognition tokens.
package transcript

// Token is a single recognition unit as delivered by the transcription
// service. Final tokens are immutable and delivered exactly once;
// non-final tokens are provisional and superseded by later batches.
type Token struct {
	Text          string
	IsFinal       bool
	Speaker       string
	Language      string
	IsTranslation bool
}

// Batch is one inbound group of tokens decoded from a single message.
type Batch []Token

// Marker token texts emitted by the service for endpoint detection and
// manual finalization. They carry no transcript content.
const (
	EndToken = "<end>"
	FinToken = "<fin>"
)
