package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"imagepump/internal/codec"
	"imagepump/internal/domain"
	"imagepump/internal/providers"
	"imagepump/internal/providers/image"
)

const (
	maxUploadBytes = 25 << 20
	maxMemoryBytes = 32 << 20
)

// readUpload pulls the "image" part out of a multipart request and checks
// that it is a JPEG, PNG or WebP.
func (a *App) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxMemoryBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			a.error(w, http.StatusRequestEntityTooLarge, "Image is too large")
			return nil, "", "", false
		}
		a.error(w, http.StatusBadRequest, "Image file is required")
		return nil, "", "", false
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		a.error(w, http.StatusBadRequest, "Image file is required")
		return nil, "", "", false
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil || len(data) == 0 {
		a.error(w, http.StatusBadRequest, "Image file is required")
		return nil, "", "", false
	}
	mime := codec.DetectMIME(data)
	if !codec.SupportedMIME(mime) {
		a.error(w, http.StatusBadRequest, codec.ErrUnsupportedType.Error())
		return nil, "", "", false
	}
	return data, header.Filename, mime, true
}

// Generate edits one uploaded image with the chosen provider and returns the
// raw result bytes.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	data, _, _, ok := a.readUpload(w, r)
	if !ok {
		return
	}
	prompt := strings.TrimSpace(r.FormValue("prompt"))
	if prompt == "" {
		a.error(w, http.StatusBadRequest, "Prompt is required")
		return
	}
	providerID := strings.ToLower(strings.TrimSpace(r.FormValue("provider")))
	cfg, known := providers.Lookup(providerID)
	if !known {
		a.error(w, http.StatusBadRequest, "Valid provider is required ("+strings.Join(providerIDs(), ", ")+")")
		return
	}
	apiKey := strings.TrimSpace(r.Header.Get("X-API-Key"))
	if apiKey == "" && !cfg.CredentialOptional {
		a.error(w, http.StatusBadRequest, "API key is required")
		return
	}
	if err := providers.ValidateCredential(cfg.ID, apiKey); err != nil {
		a.fail(w, err)
		return
	}
	model := ""
	if cfg.ID == providers.Google {
		model = strings.TrimSpace(r.FormValue("geminiModel"))
	}

	gen, err := a.Generators.Get(cfg.ID, apiKey, model)
	if err != nil {
		a.fail(w, err)
		return
	}
	ctx := r.Context()
	if a.Config.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Config.ProviderTimeout)
		defer cancel()
	}
	out, err := gen.Generate(ctx, data, prompt)
	if err != nil {
		a.logger().Warn().Err(err).Str("provider", cfg.ID).Str("kind", string(image.KindOf(err))).Msg("generate: provider failed")
		a.providerError(w, err)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(out))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Provider", cfg.ID)
	w.Header().Set("X-Original-Size", strconv.Itoa(len(data)))
	w.Header().Set("X-Result-Size", strconv.Itoa(len(out)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (a *App) providerError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrValidation) {
		a.fail(w, err)
		return
	}
	status := http.StatusInternalServerError
	switch image.KindOf(err) {
	case image.KindAuth:
		status = http.StatusBadRequest
	case image.KindRateLimited:
		status = http.StatusTooManyRequests
	}
	msg := err.Error()
	if msg == "" {
		msg = "Image generation failed"
	}
	a.json(w, status, map[string]string{
		"error":   msg,
		"message": image.FriendlyMessage(err),
		"kind":    string(image.KindOf(err)),
	})
}

func providerIDs() []string {
	cat := providers.Catalog()
	ids := make([]string, 0, len(cat))
	for _, p := range cat {
		ids = append(ids, p.ID)
	}
	return ids
}
