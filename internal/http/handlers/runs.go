package handlers

import (
	"net/http"
	"strings"

	"imagepump/internal/pipeline"
	"imagepump/internal/providers"
)

type runRequest struct {
	Provider string        `json:"provider"`
	Model    string        `json:"model"`
	Mode     pipeline.Mode `json:"mode"`
}

// runConfig fills blanks in req from the saved settings. An X-API-Key
// header overrides the stored credential.
func (a *App) runConfig(r *http.Request, req runRequest) pipeline.RunConfig {
	s := a.Settings.Get()
	cfg := pipeline.RunConfig{
		Provider: strings.ToLower(strings.TrimSpace(req.Provider)),
		Model:    strings.TrimSpace(req.Model),
		Mode:     req.Mode,
	}
	if cfg.Provider == "" {
		cfg.Provider = s.SelectedProvider
	}
	if cfg.Mode == "" {
		cfg.Mode = s.Mode
	}
	if cfg.Model == "" && cfg.Provider == providers.Google {
		cfg.Model = s.GeminiModel
	}
	cfg.Credential = strings.TrimSpace(r.Header.Get("X-API-Key"))
	if cfg.Credential == "" {
		cfg.Credential = s.APIKeys[cfg.Provider]
	}
	return cfg
}

// StartRun validates the queue and starts processing it in the background.
func (a *App) StartRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if r.ContentLength != 0 {
		if !a.decode(w, r, &req) {
			return
		}
	}
	cfg := a.runConfig(r, req)
	if err := a.Orchestrator.Start(r.Context(), cfg); err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusAccepted, a.Orchestrator.Status())
}

func (a *App) CurrentRun(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, a.Orchestrator.Status())
}

func (a *App) CancelRun(w http.ResponseWriter, r *http.Request) {
	if !a.Orchestrator.Cancel() {
		a.error(w, http.StatusNotFound, "no run in progress")
		return
	}
	a.json(w, http.StatusAccepted, map[string]bool{"cancelled": true})
}

type providerView struct {
	providers.ProviderConfig
	Configured bool `json:"configured"`
	Selected   bool `json:"selected"`
}

func (a *App) ListProviders(w http.ResponseWriter, r *http.Request) {
	s := a.Settings.Get()
	cat := providers.Catalog()
	out := make([]providerView, 0, len(cat))
	for _, p := range cat {
		_, hasKey := s.APIKeys[p.ID]
		out = append(out, providerView{
			ProviderConfig: p,
			Configured:     hasKey || p.CredentialOptional,
			Selected:       p.ID == s.SelectedProvider,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"providers": out})
}
