package image

import (
	"context"
	"net/http"
	"strings"

	"imagepump/internal/clock"
	"imagepump/internal/infra"
)

// Generator is the contract implemented by all image providers. A nil or
// empty image requests text-to-image generation.
type Generator interface {
	Generate(ctx context.Context, image []byte, prompt string) ([]byte, error)
}

// Options configures a single provider adapter.
type Options struct {
	// Credential is the API key, or the base URL for self-hosted backends.
	Credential string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
	Clock      clock.Clock
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return http.DefaultClient
}

func (o Options) clock() clock.Clock {
	if o.Clock != nil {
		return o.Clock
	}
	return clock.Real{}
}

func (o Options) logger() *infra.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return infra.NopLogger()
}

func (o Options) baseURL(fallback string) string {
	if v := strings.TrimRight(strings.TrimSpace(o.BaseURL), "/"); v != "" {
		return v
	}
	return fallback
}
