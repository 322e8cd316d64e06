package settings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"imagepump/internal/codec"
	"imagepump/internal/domain"
	"imagepump/internal/pipeline"
	"imagepump/internal/providers"
)

func TestFileStoreMissingFileYieldsDefaults(t *testing.T) {
	store, _ := NewFileStore(filepath.Join(t.TempDir(), "settings.json"))
	s, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.SelectedProvider != providers.OpenAI || s.Mode != pipeline.ModeEdit || s.Compression.Quality != codec.QualityMedium {
		t.Fatalf("unexpected defaults %+v", s)
	}
}

func TestServiceUpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	store, _ := NewFileStore(path)
	ctx := context.Background()
	svc, err := Open(ctx, store)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, err = svc.Update(ctx, func(s *Settings) {
		s.SelectedProvider = " Stability "
		s.APIKeys[providers.Stability] = "  sk-stability-key "
		s.Mode = pipeline.ModeGenerate
		s.Compression = Compression{Enabled: true, Quality: codec.QualityHigh}
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	reopened, err := Open(ctx, store)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got := reopened.Get()
	if got.SelectedProvider != providers.Stability || got.ActiveKey() != "sk-stability-key" {
		t.Fatalf("unexpected settings %+v", got)
	}
	if got.Mode != pipeline.ModeGenerate || !got.Compression.Enabled || got.Compression.Quality != codec.QualityHigh {
		t.Fatalf("unexpected settings %+v", got)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestServiceUpdateRejectsInvalid(t *testing.T) {
	svc, _ := Open(context.Background(), nil)
	cases := map[string]func(*Settings){
		"provider": func(s *Settings) { s.SelectedProvider = "puter" },
		"mode":     func(s *Settings) { s.Mode = "batch" },
		"quality":  func(s *Settings) { s.Compression.Quality = "max" },
		"key":      func(s *Settings) { s.APIKeys[providers.OpenAI] = "not-a-key" },
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Update(context.Background(), fn); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if svc.Get().SelectedProvider != providers.OpenAI {
				t.Fatalf("settings changed after rejected update")
			}
		})
	}
}

func TestGetReturnsCopy(t *testing.T) {
	svc, _ := Open(context.Background(), nil)
	s := svc.Get()
	s.APIKeys["google"] = "leak"
	if _, ok := svc.Get().APIKeys["google"]; ok {
		t.Fatalf("Get exposed the internal map")
	}
}

func TestMasked(t *testing.T) {
	s := Settings{APIKeys: map[string]string{"a": "secret-1234", "b": "abc"}}
	m := s.Masked()
	if m.APIKeys["a"] != "****1234" || m.APIKeys["b"] != "****" {
		t.Fatalf("masked = %v", m.APIKeys)
	}
	if s.APIKeys["a"] != "secret-1234" {
		t.Fatalf("original mutated")
	}
}
