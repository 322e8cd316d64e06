package image

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"imagepump/internal/infra"
)

// LocalSDDefaultURL is the Automatic1111 / Forge WebUI default listen address.
const LocalSDDefaultURL = "http://127.0.0.1:7860"

const localSDNegativePrompt = "blurry, distorted, deformed"

// LocalSDGenerator talks to a self-hosted Stable Diffusion WebUI. The
// credential, when set, is the WebUI base URL.
type LocalSDGenerator struct {
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

func NewLocalSDGenerator(opts Options) *LocalSDGenerator {
	base := strings.TrimSpace(opts.Credential)
	if base == "" {
		base = strings.TrimSpace(opts.BaseURL)
	}
	if base == "" {
		base = LocalSDDefaultURL
	}
	return &LocalSDGenerator{
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: opts.httpClient(),
		logger:     opts.logger(),
	}
}

type localSDRequest struct {
	InitImages        []string `json:"init_images,omitempty"`
	Prompt            string   `json:"prompt"`
	NegativePrompt    string   `json:"negative_prompt"`
	Steps             int      `json:"steps"`
	CFGScale          float64  `json:"cfg_scale"`
	Width             int      `json:"width"`
	Height            int      `json:"height"`
	DenoisingStrength *float64 `json:"denoising_strength,omitempty"`
	SamplerName       string   `json:"sampler_name"`
}

type localSDResponse struct {
	Images []string `json:"images"`
}

func (g *LocalSDGenerator) Generate(ctx context.Context, image []byte, prompt string) ([]byte, error) {
	payload := localSDRequest{
		Prompt:         prompt,
		NegativePrompt: localSDNegativePrompt,
		Steps:          25,
		CFGScale:       7,
		Width:          512,
		Height:         512,
		SamplerName:    "Euler a",
	}
	endpoint := g.baseURL + "/sdapi/v1/txt2img"
	if len(image) > 0 {
		denoise := 0.35
		payload.InitImages = []string{dataURL("image/png", image)}
		payload.DenoisingStrength = &denoise
		endpoint = g.baseURL + "/sdapi/v1/img2img"
	}
	body, err := jsonBody(payload)
	if err != nil {
		return nil, fmt.Errorf("localsd: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("localsd: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, _, err := do(ctx, g.httpClient, "localsd", req)
	if err != nil {
		return nil, g.classify(err)
	}
	var decoded localSDResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, newError("localsd", KindUnknown, "Malformed response from Local SD", err)
	}
	if len(decoded.Images) == 0 {
		return nil, newError("localsd", KindNoOutput, "No image generated", nil)
	}
	g.logger.Debug().Str("endpoint", endpoint).Msg("localsd: image generated")
	return decodeBase64Image("localsd", decoded.Images[0])
}

func (g *LocalSDGenerator) classify(err error) error {
	var perr *Error
	if !errors.As(err, &perr) {
		return err
	}
	switch {
	case perr.Kind == KindNetwork:
		perr.Message = fmt.Sprintf("Cannot connect to Local SD at %s. Make sure Automatic1111 WebUI is running with --api flag.", g.baseURL)
	case perr.Status != 0:
		perr.Message = fmt.Sprintf("Local SD error (%d): %s", perr.Status, perr.Message)
	}
	return perr
}

var _ Generator = (*LocalSDGenerator)(nil)
