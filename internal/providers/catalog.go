// Package providers describes the image backends the service can talk to.
package providers

import (
	"regexp"
	"strings"

	"imagepump/internal/domain"
)

// Provider identifiers.
const (
	OpenAI     = "openai"
	Google     = "google"
	Stability  = "stability"
	Midjourney = "midjourney"
	Leonardo   = "leonardo"
	ClipDrop   = "clipdrop"
	LocalSD    = "localsd"
	TogetherAI = "togetherai"
	Qwen       = "qwen"
)

// Features lists what a backend can do.
type Features struct {
	Edit     bool `json:"image_edit"`
	Generate bool `json:"image_generation"`
	Inpaint  bool `json:"inpainting"`
}

// ProviderConfig is the static descriptor of one backend.
type ProviderConfig struct {
	ID                    string         `json:"id"`
	Name                  string         `json:"name"`
	Description           string         `json:"description"`
	CredentialPlaceholder string         `json:"credential_placeholder"`
	CredentialPattern     *regexp.Regexp `json:"-"`
	CredentialOptional    bool           `json:"credential_optional"`
	Features              Features       `json:"features"`
}

var catalog = []ProviderConfig{
	{
		ID:                    OpenAI,
		Name:                  "OpenAI (DALL-E)",
		Description:           "DALL-E 2/3 image editing and generation",
		CredentialPlaceholder: "sk-...",
		CredentialPattern:     regexp.MustCompile(`^sk-[a-zA-Z0-9_-]{32,}$`),
		Features:              Features{Edit: true, Generate: true, Inpaint: true},
	},
	{
		ID:                    Google,
		Name:                  "Google (Gemini)",
		Description:           "Gemini image generation and editing",
		CredentialPlaceholder: "AIza...",
		Features:              Features{Edit: true, Generate: true, Inpaint: true},
	},
	{
		ID:                    Stability,
		Name:                  "Stability AI",
		Description:           "Stable Diffusion 3 image editing",
		CredentialPlaceholder: "sk-...",
		Features:              Features{Edit: true, Generate: true, Inpaint: true},
	},
	{
		ID:                    Midjourney,
		Name:                  "Midjourney",
		Description:           "Midjourney via unofficial API",
		CredentialPlaceholder: "mj-...",
		Features:              Features{Generate: true},
	},
	{
		ID:                    Leonardo,
		Name:                  "Leonardo.AI",
		Description:           "Leonardo AI image generation",
		CredentialPlaceholder: "Bearer ...",
		Features:              Features{Edit: true, Generate: true, Inpaint: true},
	},
	{
		ID:                    ClipDrop,
		Name:                  "ClipDrop (Stability)",
		Description:           "ClipDrop background replacement",
		CredentialPlaceholder: "Your API key",
		Features:              Features{Edit: true, Generate: true, Inpaint: true},
	},
	{
		ID:                    LocalSD,
		Name:                  "Local SD (Free)",
		Description:           "Automatic1111 / Forge WebUI on localhost:7860",
		CredentialPlaceholder: "http://127.0.0.1:7860 (or leave empty)",
		CredentialOptional:    true,
		Features:              Features{Edit: true, Generate: true, Inpaint: true},
	},
	{
		ID:                    TogetherAI,
		Name:                  "Together AI (FLUX)",
		Description:           "FLUX image generation",
		CredentialPlaceholder: "Your Together AI API key",
		Features:              Features{Edit: true, Generate: true},
	},
	{
		ID:                    Qwen,
		Name:                  "Qwen Image (DashScope)",
		Description:           "Alibaba Qwen image generation and editing",
		CredentialPlaceholder: "sk-...",
		Features:              Features{Edit: true, Generate: true},
	},
}

// Catalog returns every known backend in display order. The returned slice
// is a copy.
func Catalog() []ProviderConfig {
	return append([]ProviderConfig(nil), catalog...)
}

// Lookup returns the descriptor for id.
func Lookup(id string) (ProviderConfig, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, p := range catalog {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// Known reports whether id names a catalogued backend.
func Known(id string) bool {
	_, ok := Lookup(id)
	return ok
}

// ValidateCredential checks that a credential is present (unless optional)
// and matches the backend's expected shape when one is declared.
func ValidateCredential(id, credential string) error {
	cfg, ok := Lookup(id)
	if !ok {
		return domain.Validationf("unknown provider %q", id)
	}
	credential = strings.TrimSpace(credential)
	if credential == "" {
		if cfg.CredentialOptional {
			return nil
		}
		return domain.Validationf("%s requires an API key", cfg.Name)
	}
	if cfg.CredentialPattern != nil && !cfg.CredentialPattern.MatchString(credential) {
		return domain.Validationf("%s API key has an unexpected format", cfg.Name)
	}
	return nil
}
