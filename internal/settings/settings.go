// Package settings holds the user preferences that survive restarts:
// selected provider, API keys, Gemini model, mode and compression.
package settings

import (
	"context"
	"strings"
	"sync"

	"imagepump/internal/codec"
	"imagepump/internal/domain"
	"imagepump/internal/pipeline"
	"imagepump/internal/providers"
	"imagepump/internal/providers/genai"
)

type Compression struct {
	Enabled bool          `json:"enabled"`
	Quality codec.Quality `json:"quality"`
}

type Settings struct {
	SelectedProvider string            `json:"selectedProvider"`
	APIKeys          map[string]string `json:"apiKeys,omitempty"`
	GeminiModel      string            `json:"geminiModel"`
	Mode             pipeline.Mode     `json:"mode"`
	Compression      Compression       `json:"compression"`
}

// Default returns the settings used before anything has been saved.
func Default() Settings {
	return Settings{
		SelectedProvider: providers.OpenAI,
		APIKeys:          map[string]string{},
		GeminiModel:      genai.DefaultModel,
		Mode:             pipeline.ModeEdit,
		Compression:      Compression{Enabled: false, Quality: codec.QualityMedium},
	}
}

// Normalize trims fields and fills blanks with defaults.
func (s Settings) Normalize() Settings {
	def := Default()
	s.SelectedProvider = strings.ToLower(strings.TrimSpace(s.SelectedProvider))
	if s.SelectedProvider == "" {
		s.SelectedProvider = def.SelectedProvider
	}
	s.GeminiModel = strings.TrimSpace(s.GeminiModel)
	if s.GeminiModel == "" {
		s.GeminiModel = def.GeminiModel
	}
	if s.Mode == "" {
		s.Mode = def.Mode
	}
	if s.Compression.Quality == "" {
		s.Compression.Quality = def.Compression.Quality
	}
	keys := make(map[string]string, len(s.APIKeys))
	for id, key := range s.APIKeys {
		id = strings.ToLower(strings.TrimSpace(id))
		if key = strings.TrimSpace(key); id != "" && key != "" {
			keys[id] = key
		}
	}
	s.APIKeys = keys
	return s
}

// Validate checks enum fields and stored key shapes.
func (s Settings) Validate() error {
	if !providers.Known(s.SelectedProvider) {
		return domain.Validationf("unknown provider %q", s.SelectedProvider)
	}
	if s.Mode != pipeline.ModeEdit && s.Mode != pipeline.ModeGenerate {
		return domain.Validationf("mode must be %q or %q", pipeline.ModeEdit, pipeline.ModeGenerate)
	}
	if s.Compression.Quality.JPEGQuality() == 0 {
		return domain.Validationf("compression quality must be low, medium or high")
	}
	for id, key := range s.APIKeys {
		if err := providers.ValidateCredential(id, key); err != nil {
			return err
		}
	}
	return nil
}

// ActiveKey returns the key for the selected provider.
func (s Settings) ActiveKey() string {
	return s.APIKeys[s.SelectedProvider]
}

// Clone deep-copies the key map.
func (s Settings) Clone() Settings {
	out := s
	out.APIKeys = make(map[string]string, len(s.APIKeys))
	for k, v := range s.APIKeys {
		out.APIKeys[k] = v
	}
	return out
}

// Store persists settings.
type Store interface {
	Load(ctx context.Context) (Settings, error)
	Save(ctx context.Context, s Settings) error
}

// Service keeps the current settings in memory, loaded once at start and
// written through to the store on every change.
type Service struct {
	store Store

	mu      sync.RWMutex
	current Settings
}

// Open loads settings from store. A nil store keeps them in memory only.
func Open(ctx context.Context, store Store) (*Service, error) {
	svc := &Service{store: store, current: Default()}
	if store == nil {
		return svc, nil
	}
	loaded, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	svc.current = loaded.Normalize()
	return svc, nil
}

// Get returns a copy of the current settings.
func (s *Service) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Update applies fn to a copy, validates it and saves it. The in-memory
// value only changes when the save succeeds.
func (s *Service) Update(ctx context.Context, fn func(*Settings)) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.current.Clone()
	fn(&next)
	next = next.Normalize()
	if err := next.Validate(); err != nil {
		return Settings{}, err
	}
	if s.store != nil {
		if err := s.store.Save(ctx, next); err != nil {
			return Settings{}, err
		}
	}
	s.current = next
	return next.Clone(), nil
}

// Masked returns settings safe to echo to clients: keys are reduced to
// their last four characters.
func (s Settings) Masked() Settings {
	out := s.Clone()
	for id, key := range out.APIKeys {
		if len(key) > 4 {
			out.APIKeys[id] = strings.Repeat("*", 4) + key[len(key)-4:]
		} else {
			out.APIKeys[id] = "****"
		}
	}
	return out
}
