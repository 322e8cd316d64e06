package image

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"imagepump/internal/clock"
	"imagepump/internal/infra"
	"imagepump/internal/providers"
)

// New builds the adapter for providerID.
func New(providerID string, opts Options) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(providerID)) {
	case providers.OpenAI:
		return NewOpenAIGenerator(opts), nil
	case providers.Google:
		return NewGeminiGenerator(opts)
	case providers.Stability:
		return NewStabilityGenerator(opts), nil
	case providers.Leonardo:
		return NewLeonardoGenerator(opts), nil
	case providers.ClipDrop:
		return NewClipDropGenerator(opts), nil
	case providers.Midjourney:
		return MidjourneyGenerator{}, nil
	case providers.LocalSD:
		return NewLocalSDGenerator(opts), nil
	case providers.TogetherAI:
		return NewTogetherGenerator(opts), nil
	case providers.Qwen:
		return NewQwenGenerator(opts)
	default:
		return nil, fmt.Errorf("image: unknown provider %q", providerID)
	}
}

// RegistryOptions holds the dependencies shared by every adapter the
// registry builds.
type RegistryOptions struct {
	HTTPClient *http.Client
	Logger     *infra.Logger
	Clock      clock.Clock
	// BaseURLs overrides the default endpoint per provider id.
	BaseURLs map[string]string
	// Factory replaces New, mainly for tests.
	Factory func(providerID string, opts Options) (Generator, error)
}

type registryKey struct {
	provider string
	credHash string
	model    string
}

// Registry caches one adapter per (provider, credential, model) so that
// stateful adapters such as the Gemini throttle persist across calls.
// Credentials are kept only as SHA-256 digests.
type Registry struct {
	opts RegistryOptions

	mu      sync.RWMutex
	entries map[registryKey]Generator
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Factory == nil {
		opts.Factory = New
	}
	return &Registry{opts: opts, entries: make(map[registryKey]Generator)}
}

// Get returns the cached adapter for the triple, building it on first use.
// Concurrent first calls may both build; the last writer wins.
func (r *Registry) Get(providerID, credential, model string) (Generator, error) {
	providerID = strings.ToLower(strings.TrimSpace(providerID))
	if !providers.Known(providerID) {
		return nil, fmt.Errorf("image: unknown provider %q", providerID)
	}
	key := registryKey{provider: providerID, credHash: hashCredential(credential), model: strings.TrimSpace(model)}

	r.mu.RLock()
	gen, ok := r.entries[key]
	r.mu.RUnlock()
	if ok {
		return gen, nil
	}

	gen, err := r.opts.Factory(providerID, Options{
		Credential: strings.TrimSpace(credential),
		BaseURL:    r.opts.BaseURLs[providerID],
		Model:      key.model,
		HTTPClient: r.opts.HTTPClient,
		Logger:     r.opts.Logger,
		Clock:      r.opts.Clock,
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.entries[key] = gen
	r.mu.Unlock()
	return gen, nil
}

// Clear evicts every cached adapter.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.entries = make(map[registryKey]Generator)
	r.mu.Unlock()
}

// Len reports the number of cached adapters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func hashCredential(credential string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(credential)))
	return hex.EncodeToString(sum[:])
}
