package image

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"imagepump/internal/infra"
)

// OpenAIGenerator edits images with dall-e-2 and generates from text with
// dall-e-3.
type OpenAIGenerator struct {
	client openai.Client
	logger *infra.Logger
}

// NewOpenAIGenerator builds the adapter. SDK retries are disabled; retrying
// is owned by the pipeline.
func NewOpenAIGenerator(opts Options) *OpenAIGenerator {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(opts.Credential)),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(base))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	return &OpenAIGenerator{
		client: openai.NewClient(reqOpts...),
		logger: opts.logger(),
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, image []byte, prompt string) ([]byte, error) {
	var (
		resp *openai.ImagesResponse
		err  error
	)
	if len(image) > 0 {
		resp, err = g.client.Images.Edit(ctx, openai.ImageEditParams{
			Image: openai.ImageEditParamsImageUnion{
				OfFile: openai.File(bytes.NewReader(image), "image.png", "image/png"),
			},
			Prompt:         prompt,
			Model:          openai.ImageModelDallE2,
			N:              openai.Int(1),
			Size:           openai.ImageEditParamsSize1024x1024,
			ResponseFormat: openai.ImageEditParamsResponseFormatB64JSON,
		})
	} else {
		resp, err = g.client.Images.Generate(ctx, openai.ImageGenerateParams{
			Prompt:         prompt,
			Model:          openai.ImageModelDallE3,
			N:              openai.Int(1),
			Size:           openai.ImageGenerateParamsSize1024x1024,
			ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
		})
	}
	if err != nil {
		return nil, g.classify(ctx, err)
	}
	if resp == nil || len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, newError("openai", KindNoOutput, "No image data returned from API", nil)
	}
	g.logger.Debug().Bool("edit", len(image) > 0).Msg("openai: image generated")
	return decodeBase64Image("openai", resp.Data[0].B64JSON)
}

func (g *OpenAIGenerator) classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401:
			return &Error{Kind: KindAuth, Provider: "openai", Status: 401, Message: "Invalid API key", Err: err}
		case 429:
			return &Error{Kind: KindRateLimited, Provider: "openai", Status: 429, Message: "Rate limit exceeded", Err: err}
		}
		perr := statusError("openai", apiErr.StatusCode, apiErr.Message)
		perr.Err = err
		return perr
	}
	return transportError(ctx, "openai", err)
}

var _ Generator = (*OpenAIGenerator)(nil)
