package image

import (
	"encoding/json"
	"regexp"
	"strings"
)

const maxFriendlyLen = 100

var friendlyPatterns = []struct {
	re  *regexp.Regexp
	msg string
}{
	{regexp.MustCompile(`(?i)invalid.?api.?key`), "Invalid API key. Please check your settings."},
	{regexp.MustCompile(`(?i)unauthorized|401`), "Authentication failed. Please check your API key."},
	{regexp.MustCompile(`(?i)rate.?limit|429`), "Rate limit exceeded. Please wait a moment."},
	{regexp.MustCompile(`(?i)quota.?exceeded|billing`), "API quota exceeded. Check your billing."},
	{regexp.MustCompile(`(?i)bad.?request|400`), "Invalid request. Please try a different prompt or image."},
	{regexp.MustCompile(`(?i)not.?found|404`), "Service not found. Please check your settings."},
	{regexp.MustCompile(`(?i)internal.?server|500`), "Server error. Please try again later."},
	{regexp.MustCompile(`(?i)service.?unavailable|503`), "Service temporarily unavailable. Try again later."},
	{regexp.MustCompile(`(?i)timeout|timed?.?out`), "Request timed out. Please try again."},
	{regexp.MustCompile(`(?i)connection.?refused|ECONNREFUSED`), "Cannot connect to service. Is it running?"},
	{regexp.MustCompile(`(?i)invalid.?prompt`), "Invalid prompt. Try rephrasing your request."},
	{regexp.MustCompile(`(?i)content.?policy|safety|nsfw`), "Content blocked by safety filters. Try a different prompt."},
	{regexp.MustCompile(`(?i)too.?large|size.?limit`), "Image is too large. Try a smaller image."},
	{regexp.MustCompile(`(?i)unsupported.?format`), "Unsupported image format. Use JPEG, PNG, or WebP."},
}

var (
	errorPrefixRe = regexp.MustCompile(`(?i)^Error:\s*`)
	httpPrefixRe  = regexp.MustCompile(`(?i)HTTP\s*\d{3}:\s*`)
	jsonObjectRe  = regexp.MustCompile(`\{.*\}`)
	jsonArrayRe   = regexp.MustCompile(`\[.*\]`)
)

const fallbackMessage = "An unexpected error occurred"

// FriendlyMessage turns an adapter error into short user-facing text.
func FriendlyMessage(err error) string {
	if err == nil {
		return fallbackMessage
	}
	return FormatMessage(err.Error())
}

// FormatMessage maps a raw provider message to user-facing text, truncating
// anything it does not recognise to 100 characters.
func FormatMessage(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallbackMessage
	}
	var parsed struct {
		Message string   `json:"message"`
		Errors  []string `json:"errors"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		switch {
		case parsed.Message != "":
			return FormatMessage(parsed.Message)
		case parsed.Error.Message != "":
			return FormatMessage(parsed.Error.Message)
		case len(parsed.Errors) > 0:
			return strings.Join(parsed.Errors, ", ")
		}
	}
	for _, p := range friendlyPatterns {
		if p.re.MatchString(raw) {
			return p.msg
		}
	}
	cleaned := errorPrefixRe.ReplaceAllString(raw, "")
	cleaned = httpPrefixRe.ReplaceAllString(cleaned, "")
	cleaned = jsonObjectRe.ReplaceAllString(cleaned, "")
	cleaned = jsonArrayRe.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)
	if r := []rune(cleaned); len(r) > maxFriendlyLen {
		cleaned = string(r[:maxFriendlyLen-3]) + "..."
	}
	if cleaned == "" {
		return fallbackMessage
	}
	return cleaned
}
