package handlers

import (
	"net/http"
	"strings"

	"imagepump/internal/codec"
	"imagepump/internal/pipeline"
	"imagepump/internal/settings"
)

type settingsPatch struct {
	SelectedProvider *string           `json:"selectedProvider"`
	APIKeys          map[string]string `json:"apiKeys"`
	GeminiModel      *string           `json:"geminiModel"`
	Mode             *pipeline.Mode    `json:"mode"`
	Compression      *struct {
		Enabled *bool          `json:"enabled"`
		Quality *codec.Quality `json:"quality"`
	} `json:"compression"`
}

// GetSettings returns the settings with API keys masked.
func (a *App) GetSettings(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, a.Settings.Get().Masked())
}

// PutSettings merges the patch into the stored settings. An empty string in
// apiKeys removes that provider's key.
func (a *App) PutSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsPatch
	if !a.decode(w, r, &req) {
		return
	}
	next, err := a.Settings.Update(r.Context(), func(s *settings.Settings) {
		if req.SelectedProvider != nil {
			s.SelectedProvider = *req.SelectedProvider
		}
		for id, key := range req.APIKeys {
			id = strings.ToLower(strings.TrimSpace(id))
			if strings.TrimSpace(key) == "" {
				delete(s.APIKeys, id)
				continue
			}
			s.APIKeys[id] = key
		}
		if req.GeminiModel != nil {
			s.GeminiModel = *req.GeminiModel
		}
		if req.Mode != nil {
			s.Mode = *req.Mode
		}
		if c := req.Compression; c != nil {
			if c.Enabled != nil {
				s.Compression.Enabled = *c.Enabled
			}
			if c.Quality != nil {
				s.Compression.Quality = *c.Quality
			}
		}
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, next.Masked())
}
