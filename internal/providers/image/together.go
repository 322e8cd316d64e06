package image

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"imagepump/internal/infra"
)

const (
	togetherDefaultBaseURL = "https://api.together.xyz/v1"
	togetherKontextModel   = "black-forest-labs/FLUX.1-Kontext-pro"
	togetherSchnellModel   = "black-forest-labs/FLUX.1-schnell-Free"
)

// TogetherGenerator edits with FLUX Kontext when an image is supplied and
// falls back to text-only FLUX schnell when that fails or yields nothing.
type TogetherGenerator struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

func NewTogetherGenerator(opts Options) *TogetherGenerator {
	return &TogetherGenerator{
		apiKey:     strings.TrimSpace(opts.Credential),
		baseURL:    opts.baseURL(togetherDefaultBaseURL),
		httpClient: opts.httpClient(),
		logger:     opts.logger(),
	}
}

type togetherRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	ImageURL       string `json:"image_url,omitempty"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Steps          int    `json:"steps"`
	N              int    `json:"n"`
	ResponseFormat string `json:"response_format"`
}

type togetherResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

func (g *TogetherGenerator) Generate(ctx context.Context, image []byte, prompt string) ([]byte, error) {
	if len(image) > 0 {
		data, err := g.call(ctx, togetherRequest{
			Model:          togetherKontextModel,
			Prompt:         prompt,
			ImageURL:       dataURL("image/png", image),
			Width:          1024,
			Height:         1024,
			Steps:          28,
			N:              1,
			ResponseFormat: "b64_json",
		})
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.logger.Info().Err(err).Msg("together: kontext unavailable, falling back to schnell")
	}
	return g.call(ctx, togetherRequest{
		Model:          togetherSchnellModel,
		Prompt:         prompt,
		Width:          1024,
		Height:         768,
		Steps:          4,
		N:              1,
		ResponseFormat: "b64_json",
	})
}

func (g *TogetherGenerator) call(ctx context.Context, payload togetherRequest) ([]byte, error) {
	body, err := jsonBody(payload)
	if err != nil {
		return nil, fmt.Errorf("together: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/images/generations", body)
	if err != nil {
		return nil, fmt.Errorf("together: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")
	raw, _, err := do(ctx, g.httpClient, "togetherai", req)
	if err != nil {
		return nil, err
	}
	var decoded togetherResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, newError("togetherai", KindUnknown, "Malformed response from Together AI", err)
	}
	if len(decoded.Data) == 0 || decoded.Data[0].B64JSON == "" {
		return nil, newError("togetherai", KindNoOutput, "No image data returned from Together AI", nil)
	}
	return decodeBase64Image("togetherai", decoded.Data[0].B64JSON)
}

var _ Generator = (*TogetherGenerator)(nil)
