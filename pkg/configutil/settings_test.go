package configutil

import (
	"strings"
	"testing"
)

func TestDecodeSettingsMatchesLooseKeys(t *testing.T) {
	var out struct {
		APIKey     string `mapstructure:"api_key"`
		SampleRate int    `mapstructure:"sample_rate"`
	}
	in := map[string]any{
		"api-key":    "secret",
		"SampleRate": "16000",
	}
	if err := DecodeSettings(in, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.APIKey != "secret" {
		t.Fatalf("api key not decoded: %q", out.APIKey)
	}
	if out.SampleRate != 16000 {
		t.Fatalf("sample rate not decoded weakly: %d", out.SampleRate)
	}
}

func TestValidateSettingsReportsMissingAndUnknown(t *testing.T) {
	err := ValidateSettings(map[string]any{
		"api_key": "",
		"bogus":   1,
	}, Schema{Required: []string{"api_key", "model"}, Optional: []string{"sample_rate"}})
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "api_key") || !strings.Contains(msg, "model") {
		t.Fatalf("missing keys not reported: %s", msg)
	}
	if !strings.Contains(msg, "bogus") {
		t.Fatalf("unknown key not reported: %s", msg)
	}
}

func TestValidateSettingsOK(t *testing.T) {
	err := ValidateSettings(map[string]any{
		"api_key": "k",
		"model":   "stt-rt-preview",
	}, Schema{Required: []string{"api_key", "model"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
