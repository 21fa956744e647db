// Package soniox implements the client side of the Soniox realtime
// speech-to-text websocket protocol.
package soniox

// TranslationType defines the type of translation to perform.
type TranslationType string

const (
	// TranslationTypeOneWay translates all spoken languages into a single target language.
	TranslationTypeOneWay TranslationType = "one_way"
	// TranslationTypeTwoWay translates back and forth between two specified languages.
	TranslationTypeTwoWay TranslationType = "two_way"
)

// TranslationConfig configures real-time translation settings.
type TranslationConfig struct {
	Type TranslationType `json:"type"`

	// TargetLanguage is the language to translate to (one-way).
	TargetLanguage string `json:"target_language,omitempty"`

	// LanguageA and LanguageB are the pair for two-way translation.
	LanguageA string `json:"language_a,omitempty"`
	LanguageB string `json:"language_b,omitempty"`
}

// Context provides contextual hints to improve recognition accuracy.
type Context struct {
	Text  string   `json:"text,omitempty"`
	Terms []string `json:"terms,omitempty"`
}

// Request is the configuration handshake, sent once per connection as the
// first message. AudioFormat "auto" omits the rate/channel fields; raw PCM
// formats carry both.
type Request struct {
	APIKey string `json:"api_key"`
	Model  string `json:"model"`

	AudioFormat string `json:"audio_format,omitempty"`
	SampleRate  int    `json:"sample_rate,omitempty"`
	NumChannels int    `json:"num_channels,omitempty"`

	LanguageHints []string `json:"language_hints,omitempty"`
	Context       *Context `json:"context,omitempty"`

	EnableSpeakerDiarization     bool `json:"enable_speaker_diarization,omitempty"`
	EnableLanguageIdentification bool `json:"enable_language_identification,omitempty"`
	EnableEndpointDetection      bool `json:"enable_endpoint_detection,omitempty"`

	Translation *TranslationConfig `json:"translation,omitempty"`
}

// TranslationStatus indicates the translation status of a token.
type TranslationStatus string

const (
	TranslationStatusOriginal    TranslationStatus = "original"
	TranslationStatusTranslation TranslationStatus = "translation"
)

// Token is one recognized speech token on the wire.
type Token struct {
	Text              string            `json:"text"`
	IsFinal           bool              `json:"is_final"`
	Speaker           string            `json:"speaker,omitempty"`
	Language          string            `json:"language,omitempty"`
	TranslationStatus TranslationStatus `json:"translation_status,omitempty"`
}

// Response is one inbound message: a token batch, a finished signal, or a
// remote error. Decoded exactly once at the transport boundary.
type Response struct {
	Tokens       []Token `json:"tokens,omitempty"`
	Finished     bool    `json:"finished,omitempty"`
	ErrorCode    *int    `json:"error_code,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

// keepAliveMessage maintains the connection through long silences.
type keepAliveMessage struct {
	Type string `json:"type"`
}

func newKeepAliveMessage() keepAliveMessage {
	return keepAliveMessage{Type: "keepalive"}
}
