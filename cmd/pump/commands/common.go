// Package commands implements the pump subcommands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"imagepump/internal/bootstrap"
	"imagepump/internal/infra"
	"imagepump/internal/pipeline"
	"imagepump/internal/providers/genai"
)

// AppContext holds what every command needs.
type AppContext struct {
	Config *infra.Config
	Logger *infra.Logger
	Deps   *bootstrap.Components
}

// NewAppContext loads envFile when present, reads the configuration and
// wires the components.
func NewAppContext(ctx context.Context, envFile string, opts bootstrap.Options) (*AppContext, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg, err := infra.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	// Logs go to stderr so stdout carries only command output.
	logger := infra.NewLoggerTo(os.Stderr, cfg.AppEnv, os.Getenv("LOG_LEVEL"))
	deps, err := bootstrap.Build(ctx, cfg, &logger, opts)
	if err != nil {
		return nil, err
	}
	return &AppContext{Config: cfg, Logger: &logger, Deps: deps}, nil
}

func (ac *AppContext) Close() {
	if ac.Deps != nil {
		ac.Deps.Close()
	}
}

// runConfig resolves provider, key, model and mode from flags, falling back
// to the stored settings.
func (ac *AppContext) runConfig(provider, key, model, mode string) pipeline.RunConfig {
	s := ac.Deps.Settings.Get()
	cfg := pipeline.RunConfig{
		Provider:   strings.ToLower(strings.TrimSpace(provider)),
		Credential: strings.TrimSpace(key),
		Model:      strings.TrimSpace(model),
		Mode:       pipeline.Mode(strings.ToLower(strings.TrimSpace(mode))),
	}
	if cfg.Provider == "" {
		cfg.Provider = s.SelectedProvider
	}
	if cfg.Credential == "" {
		cfg.Credential = s.APIKeys[cfg.Provider]
	}
	if cfg.Mode == "" {
		cfg.Mode = s.Mode
	}
	if cfg.Provider == "google" && cfg.Model == "" {
		cfg.Model = s.GeminiModel
		if cfg.Model == "" || cfg.Model == genai.DefaultModel {
			cfg.Model = ac.Config.GeminiModel
		}
	}
	if cfg.Provider != "google" {
		cfg.Model = ""
	}
	return cfg
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
