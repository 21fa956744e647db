package soniox

import (
	"github.com/murmurlabs/murmur/pkg/configutil"
	"github.com/murmurlabs/murmur/pkg/errorsx"
)

const (
	DefaultURL   = "wss://stt-rt.soniox.com/transcribe-websocket"
	DefaultModel = "stt-rt-preview"

	// AudioFormatAuto lets the service sniff container formats; raw PCM
	// must be declared explicitly with rate and channel count.
	AudioFormatAuto  = "auto"
	AudioFormatPCM16 = "pcm_s16le"
)

// Config is the session configuration handed to Connect. The core never
// reads environment variables; secrets arrive here already resolved.
type Config struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
	URL    string `mapstructure:"url"`

	AudioFormat string `mapstructure:"audio_format"`
	SampleRate  int    `mapstructure:"sample_rate"`
	NumChannels int    `mapstructure:"num_channels"`

	LanguageHints []string `mapstructure:"language_hints"`
	ContextText   string   `mapstructure:"context"`

	EnableSpeakerDiarization     bool `mapstructure:"enable_speaker_diarization"`
	EnableLanguageIdentification bool `mapstructure:"enable_language_identification"`
	EnableEndpointDetection      bool `mapstructure:"enable_endpoint_detection"`

	Translation *TranslationConfig `mapstructure:"translation"`

	StreamID string `mapstructure:"-"`
	TraceID  string `mapstructure:"-"`
}

// Validate checks the credential before any connection attempt. A missing
// key is the one error that is fatal at session start and never retried.
func (c *Config) Validate() error {
	if err := configutil.RequireString(c.APIKey, "soniox.api_key"); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonConfigMissingKey)
	}
	return nil
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.URL == "" {
		out.URL = DefaultURL
	}
	if out.Model == "" {
		out.Model = DefaultModel
	}
	if out.AudioFormat == "" {
		out.AudioFormat = AudioFormatPCM16
	}
	if out.AudioFormat == AudioFormatPCM16 {
		if out.SampleRate == 0 {
			out.SampleRate = 16000
		}
		if out.NumChannels == 0 {
			out.NumChannels = 1
		}
	}
	if len(out.LanguageHints) == 0 {
		out.LanguageHints = []string{"en"}
	}
	return out
}

// handshake builds the first message of the connection. "auto" carries no
// rate or channel fields; every other format passes them through when set.
func (c *Config) handshake() Request {
	cfg := c.withDefaults()
	req := Request{
		APIKey:                       cfg.APIKey,
		Model:                        cfg.Model,
		AudioFormat:                  cfg.AudioFormat,
		LanguageHints:                cfg.LanguageHints,
		EnableSpeakerDiarization:     cfg.EnableSpeakerDiarization,
		EnableLanguageIdentification: cfg.EnableLanguageIdentification,
		EnableEndpointDetection:      cfg.EnableEndpointDetection,
		Translation:                  cfg.Translation,
	}
	if cfg.AudioFormat != AudioFormatAuto {
		req.SampleRate = cfg.SampleRate
		req.NumChannels = cfg.NumChannels
	}
	if cfg.ContextText != "" {
		req.Context = &Context{Text: cfg.ContextText}
	}
	return req
}

// SettingsSchema validates the free-form vendor settings map before decode.
var SettingsSchema = configutil.Schema{
	Required: []string{"api_key"},
	Optional: []string{
		"model", "url", "audio_format", "sample_rate", "num_channels",
		"language_hints", "context",
		"enable_speaker_diarization", "enable_language_identification",
		"enable_endpoint_detection", "translation",
	},
}
