package image

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"imagepump/internal/clock"
	"imagepump/internal/infra"
)

const (
	leonardoDefaultBaseURL = "https://cloud.leonardo.ai/api/rest/v1"
	leonardoPollInterval   = 2 * time.Second
	leonardoPollAttempts   = 30
	leonardoInitStrength   = 0.5
)

// LeonardoGenerator submits an asynchronous generation job and polls it
// until an image URL appears.
type LeonardoGenerator struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	clock      clock.Clock
	logger     *infra.Logger
}

func NewLeonardoGenerator(opts Options) *LeonardoGenerator {
	return &LeonardoGenerator{
		apiKey:     strings.TrimSpace(opts.Credential),
		baseURL:    opts.baseURL(leonardoDefaultBaseURL),
		httpClient: opts.httpClient(),
		clock:      opts.clock(),
		logger:     opts.logger(),
	}
}

type leonardoGenerationRequest struct {
	Prompt       string   `json:"prompt"`
	NumImages    int      `json:"num_images"`
	Width        int      `json:"width"`
	Height       int      `json:"height"`
	InitImageID  string   `json:"init_image_id,omitempty"`
	InitStrength *float64 `json:"init_strength,omitempty"`
}

type leonardoGenerationResponse struct {
	SDGenerationJob struct {
		GenerationID string `json:"generationId"`
	} `json:"sdGenerationJob"`
}

type leonardoStatusResponse struct {
	GenerationsByPK struct {
		Status          string `json:"status"`
		GeneratedImages []struct {
			URL string `json:"url"`
		} `json:"generated_images"`
	} `json:"generations_by_pk"`
}

type leonardoInitImageResponse struct {
	UploadInitImage struct {
		URL    string          `json:"url"`
		Fields json.RawMessage `json:"fields"`
		ID     string          `json:"id"`
	} `json:"uploadInitImage"`
}

func (g *LeonardoGenerator) Generate(ctx context.Context, image []byte, prompt string) ([]byte, error) {
	payload := leonardoGenerationRequest{Prompt: prompt, NumImages: 1, Width: 1024, Height: 1024}
	if len(image) > 0 {
		initID, err := g.uploadInitImage(ctx, image)
		if err != nil {
			return nil, err
		}
		strength := leonardoInitStrength
		payload.InitImageID = initID
		payload.InitStrength = &strength
	}

	generationID, err := g.submit(ctx, payload)
	if err != nil {
		return nil, err
	}
	g.logger.Debug().Str("generation_id", generationID).Msg("leonardo: generation submitted")

	imageURL, err := g.poll(ctx, generationID)
	if err != nil {
		return nil, err
	}
	return download(ctx, g.httpClient, "leonardo", imageURL)
}

func (g *LeonardoGenerator) submit(ctx context.Context, payload leonardoGenerationRequest) (string, error) {
	body, err := jsonBody(payload)
	if err != nil {
		return "", fmt.Errorf("leonardo: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/generations", body)
	if err != nil {
		return "", fmt.Errorf("leonardo: build request: %w", err)
	}
	g.authorize(req)
	req.Header.Set("Content-Type", "application/json")
	raw, _, err := do(ctx, g.httpClient, "leonardo", req)
	if err != nil {
		return "", err
	}
	var decoded leonardoGenerationResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", newError("leonardo", KindUnknown, "Malformed generation response", err)
	}
	if decoded.SDGenerationJob.GenerationID == "" {
		return "", newError("leonardo", KindNoOutput, "No generation ID returned", nil)
	}
	return decoded.SDGenerationJob.GenerationID, nil
}

// poll waits up to leonardoPollAttempts intervals for the first image URL.
// Transient polling failures are skipped; auth failures end the loop.
func (g *LeonardoGenerator) poll(ctx context.Context, generationID string) (string, error) {
	for attempt := 0; attempt < leonardoPollAttempts; attempt++ {
		if err := g.clock.Sleep(ctx, leonardoPollInterval); err != nil {
			return "", err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/generations/"+generationID, nil)
		if err != nil {
			return "", fmt.Errorf("leonardo: build status request: %w", err)
		}
		g.authorize(req)
		raw, _, err := do(ctx, g.httpClient, "leonardo", req)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if KindOf(err) == KindAuth {
				return "", err
			}
			g.logger.Debug().Err(err).Int("attempt", attempt+1).Msg("leonardo: status check failed")
			continue
		}
		var status leonardoStatusResponse
		if err := json.Unmarshal(raw, &status); err != nil {
			continue
		}
		images := status.GenerationsByPK.GeneratedImages
		if len(images) > 0 && strings.TrimSpace(images[0].URL) != "" {
			return images[0].URL, nil
		}
		if strings.EqualFold(status.GenerationsByPK.Status, "FAILED") {
			return "", newError("leonardo", KindUnknown, "Generation failed", nil)
		}
	}
	return "", newError("leonardo", KindTimeout, "Generation timed out", nil)
}

func (g *LeonardoGenerator) uploadInitImage(ctx context.Context, image []byte) (string, error) {
	body, err := jsonBody(map[string]string{"extension": "png"})
	if err != nil {
		return "", fmt.Errorf("leonardo: encode init request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/init-image", body)
	if err != nil {
		return "", fmt.Errorf("leonardo: build init request: %w", err)
	}
	g.authorize(req)
	req.Header.Set("Content-Type", "application/json")
	raw, _, err := do(ctx, g.httpClient, "leonardo", req)
	if err != nil {
		var perr *Error
		if errors.As(err, &perr) && perr.Kind == KindUnknown {
			perr.Message = "Failed to initialize upload"
		}
		return "", err
	}
	var decoded leonardoInitImageResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", newError("leonardo", KindUnknown, "Failed to initialize upload", err)
	}
	upload := decoded.UploadInitImage
	if upload.URL == "" || upload.ID == "" {
		return "", newError("leonardo", KindUnknown, "Failed to initialize upload", nil)
	}
	fields, err := presignedFields(upload.Fields)
	if err != nil {
		return "", newError("leonardo", KindUnknown, "Failed to initialize upload", err)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	form := make([]multipartField, 0, len(fields)+1)
	for _, k := range keys {
		form = append(form, textField(k, fields[k]))
	}
	// The storage backend requires the file to be the last form part.
	form = append(form, fileField("file", "image.png", "image/png", image))
	formBody, contentType, err := encodeMultipart(form)
	if err != nil {
		return "", fmt.Errorf("leonardo: encode upload: %w", err)
	}
	uploadReq, err := http.NewRequestWithContext(ctx, http.MethodPost, upload.URL, formBody)
	if err != nil {
		return "", fmt.Errorf("leonardo: build upload request: %w", err)
	}
	uploadReq.Header.Set("Content-Type", contentType)
	if _, _, err := do(ctx, g.httpClient, "leonardo", uploadReq); err != nil {
		return "", err
	}
	return upload.ID, nil
}

func (g *LeonardoGenerator) authorize(req *http.Request) {
	key := strings.TrimSpace(strings.TrimPrefix(g.apiKey, "Bearer "))
	req.Header.Set("Authorization", "Bearer "+key)
}

// presignedFields accepts the form fields either as an object or as a JSON
// encoded string containing that object.
func presignedFields(raw json.RawMessage) (map[string]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]string{}, nil
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		raw = json.RawMessage(encoded)
	}
	fields := map[string]string{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

var _ Generator = (*LeonardoGenerator)(nil)
