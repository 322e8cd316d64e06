package image

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const clipdropDefaultBaseURL = "https://clipdrop-api.co"

// ClipDropGenerator replaces the background of the uploaded image according
// to the prompt.
type ClipDropGenerator struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewClipDropGenerator(opts Options) *ClipDropGenerator {
	return &ClipDropGenerator{
		apiKey:     strings.TrimSpace(opts.Credential),
		baseURL:    opts.baseURL(clipdropDefaultBaseURL),
		httpClient: opts.httpClient(),
	}
}

func (g *ClipDropGenerator) Generate(ctx context.Context, image []byte, prompt string) ([]byte, error) {
	fields := []multipartField{textField("prompt", prompt)}
	if len(image) > 0 {
		fields = append(fields, fileField("image_file", "image.png", sniffMIME(image), image))
	}
	body, contentType, err := encodeMultipart(fields)
	if err != nil {
		return nil, fmt.Errorf("clipdrop: encode form: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/replace-background/v1", body)
	if err != nil {
		return nil, fmt.Errorf("clipdrop: build request: %w", err)
	}
	req.Header.Set("x-api-key", g.apiKey)
	req.Header.Set("Content-Type", contentType)

	data, _, err := do(ctx, g.httpClient, "clipdrop", req)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, newError("clipdrop", KindNoOutput, "No image data returned from ClipDrop", nil)
	}
	return data, nil
}

var _ Generator = (*ClipDropGenerator)(nil)
