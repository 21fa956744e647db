package redact

import (
	"strings"
	"testing"
)

func TestTextRedactsWhenEnabled(t *testing.T) {
	SetEnabled(true)
	defer SetEnabled(false)

	out := Text("call me at +1 555 123 4567 or mail bob@example.com")
	if strings.Contains(out, "555") {
		t.Fatalf("phone number leaked: %q", out)
	}
	if strings.Contains(out, "example.com") {
		t.Fatalf("email leaked: %q", out)
	}
}

func TestTextPassthroughWhenDisabled(t *testing.T) {
	SetEnabled(false)
	in := "mail bob@example.com"
	if got := Text(in); got != in {
		t.Fatalf("expected passthrough, got %q", got)
	}
}
