package image

import "context"

// MidjourneyGenerator is catalogued for completeness; Midjourney has no
// official API so every call fails.
type MidjourneyGenerator struct{}

func (MidjourneyGenerator) Generate(ctx context.Context, image []byte, prompt string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, newError("midjourney", KindUnknown,
		"Midjourney integration requires an unofficial API service. Please configure your Midjourney API endpoint.", nil)
}

var _ Generator = MidjourneyGenerator{}
