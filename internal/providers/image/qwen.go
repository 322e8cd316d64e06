package image

import (
	"context"
	"errors"
	"net/http"

	"imagepump/internal/infra"
	"imagepump/internal/providers/qwen"
)

type qwenImageClient interface {
	GenerateImage(context.Context, qwen.ImageRequest) (*qwen.ImageAsset, error)
	HasCredentials() bool
	Model() string
}

// QwenGenerator drives DashScope's Qwen image models: qwen-image-edit when an
// image is supplied, the configured text-to-image model otherwise.
type QwenGenerator struct {
	client qwenImageClient
	logger *infra.Logger
}

// NewQwenGenerator builds a DashScope client from opts.
func NewQwenGenerator(opts Options) (*QwenGenerator, error) {
	client, err := qwen.NewClient(qwen.Options{
		APIKey:     opts.Credential,
		BaseURL:    opts.BaseURL,
		Model:      opts.Model,
		HTTPClient: opts.HTTPClient,
		Logger:     opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &QwenGenerator{client: client, logger: opts.logger()}, nil
}

func (g *QwenGenerator) Generate(ctx context.Context, image []byte, prompt string) ([]byte, error) {
	if !g.client.HasCredentials() {
		return nil, newError("qwen", KindAuth, "API key is required", qwen.ErrMissingAPIKey)
	}
	req := qwen.ImageRequest{Prompt: prompt}
	if len(image) > 0 {
		req.Image = image
		req.ImageMIME = sniffMIME(image)
	}
	asset, err := g.client.GenerateImage(ctx, req)
	if err != nil {
		return nil, g.classify(ctx, err)
	}
	if len(asset.Data) == 0 {
		return nil, newError("qwen", KindNoOutput, "No image data returned from Qwen", nil)
	}
	return asset.Data, nil
}

func (g *QwenGenerator) String() string {
	if g == nil || g.client == nil {
		return "qwen"
	}
	return g.client.Model()
}

func (g *QwenGenerator) classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var apiErr *qwen.APIError
	if errors.As(err, &apiErr) {
		perr := statusError("qwen", apiErr.StatusCode, apiErr.Message)
		perr.Err = err
		switch apiErr.Code {
		case "InvalidApiKey":
			perr.Kind = KindAuth
		case "Throttling", "Throttling.RateQuota", "Throttling.AllocationQuota":
			perr.Kind = KindRateLimited
		}
		if apiErr.StatusCode == http.StatusOK && perr.Kind == KindUnknown {
			perr.Status = 0
		}
		return perr
	}
	if errors.Is(err, qwen.ErrEmptyImage) {
		return newError("qwen", KindNoOutput, "No image URL returned from Qwen", err)
	}
	g.logger.Debug().Err(err).Msg("qwen: transport failure")
	return transportError(ctx, "qwen", err)
}

var _ Generator = (*QwenGenerator)(nil)
