package image

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"imagepump/internal/infra"
)

const stabilityDefaultBaseURL = "https://api.stability.ai"

// StabilityGenerator calls the Stable Image SD3 endpoint, which answers with
// raw image bytes.
type StabilityGenerator struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

func NewStabilityGenerator(opts Options) *StabilityGenerator {
	return &StabilityGenerator{
		apiKey:     strings.TrimSpace(opts.Credential),
		baseURL:    opts.baseURL(stabilityDefaultBaseURL),
		httpClient: opts.httpClient(),
		logger:     opts.logger(),
	}
}

func (g *StabilityGenerator) Generate(ctx context.Context, image []byte, prompt string) ([]byte, error) {
	fields := []multipartField{
		textField("prompt", prompt),
		textField("output_format", "png"),
	}
	if len(image) > 0 {
		fields = append(fields,
			fileField("image", "image.png", sniffMIME(image), image),
			textField("strength", "0.7"),
			textField("mode", "image-to-image"),
		)
	} else {
		fields = append(fields, textField("mode", "text-to-image"))
	}
	body, contentType, err := encodeMultipart(fields)
	if err != nil {
		return nil, fmt.Errorf("stability: encode form: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v2beta/stable-image/generate/sd3", body)
	if err != nil {
		return nil, fmt.Errorf("stability: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Accept", "image/*")
	req.Header.Set("Content-Type", contentType)

	data, _, err := do(ctx, g.httpClient, "stability", req)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, newError("stability", KindNoOutput, "No image data returned from Stability AI", nil)
	}
	g.logger.Debug().Int("bytes", len(data)).Msg("stability: image generated")
	return data, nil
}

var _ Generator = (*StabilityGenerator)(nil)
