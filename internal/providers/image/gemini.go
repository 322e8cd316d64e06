package image

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"imagepump/internal/clock"
	"imagepump/internal/infra"
	"imagepump/internal/providers/genai"
)

const (
	geminiMinInterval = 6 * time.Second
	geminiMaxBackoffs = 3
	geminiBackoffUnit = 10 * time.Second
)

type geminiImageClient interface {
	GenerateImage(context.Context, genai.ImageRequest) (*genai.ImageAsset, error)
	Model() string
}

// GeminiGenerator keeps calls at least six seconds apart and absorbs short
// bursts of 429s with exponential backoff before giving up.
type GeminiGenerator struct {
	client geminiImageClient
	clock  clock.Clock
	logger *infra.Logger

	mu       sync.Mutex
	lastCall time.Time
}

// NewGeminiGenerator wires a genai client with the self-throttle.
func NewGeminiGenerator(opts Options) (*GeminiGenerator, error) {
	client, err := genai.NewClient(genai.Options{
		APIKey:     opts.Credential,
		BaseURL:    opts.BaseURL,
		Model:      opts.Model,
		HTTPClient: opts.HTTPClient,
		Logger:     opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	return newGeminiGenerator(client, opts), nil
}

func newGeminiGenerator(client geminiImageClient, opts Options) *GeminiGenerator {
	return &GeminiGenerator{client: client, clock: opts.clock(), logger: opts.logger()}
}

func (g *GeminiGenerator) Generate(ctx context.Context, image []byte, prompt string) ([]byte, error) {
	req := genai.ImageRequest{Prompt: prompt}
	if len(image) > 0 {
		req.Image = image
		req.ImageMIME = sniffMIME(image)
	}
	for attempt := 0; ; attempt++ {
		if err := g.throttle(ctx); err != nil {
			return nil, err
		}
		asset, err := g.client.GenerateImage(ctx, req)
		if err == nil {
			return asset.Data, nil
		}
		perr := g.classify(ctx, err)
		if KindOf(perr) == KindRateLimited && attempt < geminiMaxBackoffs {
			wait := time.Duration(1<<(attempt+1)) * geminiBackoffUnit
			g.logger.Warn().
				Str("model", g.client.Model()).
				Int("attempt", attempt+1).
				Dur("wait", wait).
				Msg("gemini: rate limited, backing off")
			if err := g.clock.Sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}
		return nil, perr
	}
}

// throttle sleeps until geminiMinInterval has passed since the previous call.
func (g *GeminiGenerator) throttle(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.lastCall.IsZero() {
		if wait := geminiMinInterval - g.clock.Now().Sub(g.lastCall); wait > 0 {
			if err := g.clock.Sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	g.lastCall = g.clock.Now()
	return nil
}

func (g *GeminiGenerator) classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var statusErr *genai.StatusError
	if errors.As(err, &statusErr) {
		perr := statusError("google", statusErr.StatusCode, statusErr.Message)
		perr.Err = err
		if statusErr.StatusCode == http.StatusBadRequest && containsFold(statusErr.Message, "api key not valid") {
			perr.Kind = KindAuth
		}
		return perr
	}
	if errors.Is(err, genai.ErrNoImage) {
		return newError("google", KindNoOutput, "No image data returned from Google API", err)
	}
	return transportError(ctx, "google", err)
}

var _ Generator = (*GeminiGenerator)(nil)
