package image

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "empty", raw: "  ", want: fallbackMessage},
		{name: "invalid key", raw: "Incorrect: invalid_api_key supplied", want: "Invalid API key. Please check your settings."},
		{name: "status code", raw: "HTTP 429", want: "Rate limit exceeded. Please wait a moment."},
		{name: "json message", raw: `{"message":"upstream timed out"}`, want: "Request timed out. Please try again."},
		{name: "nested json", raw: `{"error":{"message":"Your request was rejected by the safety system"}}`, want: "Content blocked by safety filters. Try a different prompt."},
		{name: "errors list", raw: `{"errors":["width must be a multiple of 64"]}`, want: "width must be a multiple of 64"},
		{name: "prefix stripped", raw: "Error: model is warming up", want: "model is warming up"},
		{name: "json fragment stripped", raw: `something odd {"x":1}`, want: "something odd"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := FormatMessage(tc.raw); got != tc.want {
				t.Fatalf("FormatMessage(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestFormatMessageTruncates(t *testing.T) {
	raw := strings.Repeat("é", 150)
	got := FormatMessage(raw)
	if utf8.RuneCountInString(got) != maxFriendlyLen || !strings.HasSuffix(got, "...") {
		t.Fatalf("unexpected truncation %q", got)
	}
}

func TestFriendlyMessageUsesErrorText(t *testing.T) {
	if got := FriendlyMessage(nil); got != fallbackMessage {
		t.Fatalf("nil error = %q", got)
	}
	err := newError("openai", KindAuth, "Invalid API key", nil)
	if got := FriendlyMessage(err); got != "Invalid API key. Please check your settings." {
		t.Fatalf("got %q", got)
	}
	if got := FriendlyMessage(errors.New("connection refused")); got != "Cannot connect to service. Is it running?" {
		t.Fatalf("got %q", got)
	}
}
