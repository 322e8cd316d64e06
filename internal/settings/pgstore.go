package settings

import (
	"context"
	"encoding/json"
	"fmt"

	"imagepump/internal/infra"
	"imagepump/internal/infra/credentials"
	"imagepump/internal/sqlinline"
)

const preferencesKey = "preferences"

// PGStore keeps preferences in app_settings and API keys in the
// integration token table.
type PGStore struct {
	sql   infra.SQLExecutor
	creds *credentials.Store
}

func NewPGStore(sql infra.SQLExecutor) *PGStore {
	return &PGStore{sql: sql, creds: credentials.NewStore(sql)}
}

// EnsureSchema creates both tables.
func (p *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.sql.Exec(ctx, sqlinline.QCreateAppSettings); err != nil {
		return fmt.Errorf("settings: ensure schema: %w", err)
	}
	return p.creds.EnsureSchema(ctx)
}

func (p *PGStore) Load(ctx context.Context) (Settings, error) {
	s := Default()
	var raw []byte
	err := p.sql.QueryRow(ctx, sqlinline.QSelectAppSetting, preferencesKey).Scan(&raw)
	switch {
	case infra.IsNoRows(err):
	case err != nil:
		return Settings{}, fmt.Errorf("settings: load preferences: %w", err)
	default:
		if err := json.Unmarshal(raw, &s); err != nil {
			return Settings{}, fmt.Errorf("settings: decode preferences: %w", err)
		}
	}
	keys, err := p.creds.APIKeys(ctx)
	if err != nil {
		return Settings{}, err
	}
	s.APIKeys = keys
	return s.Normalize(), nil
}

// Save writes preferences and reconciles stored keys: keys missing from s
// are deleted.
func (p *PGStore) Save(ctx context.Context, s Settings) error {
	prefs := s.Clone()
	prefs.APIKeys = nil
	raw, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("settings: encode preferences: %w", err)
	}
	if _, err := p.sql.Exec(ctx, sqlinline.QUpsertAppSetting, preferencesKey, raw); err != nil {
		return fmt.Errorf("settings: save preferences: %w", err)
	}
	existing, err := p.creds.APIKeys(ctx)
	if err != nil {
		return err
	}
	for id := range existing {
		if _, ok := s.APIKeys[id]; !ok {
			if err := p.creds.DeleteAPIKey(ctx, id); err != nil {
				return err
			}
		}
	}
	for id, key := range s.APIKeys {
		if existing[id] == key {
			continue
		}
		if err := p.creds.SetAPIKey(ctx, id, key); err != nil {
			return err
		}
	}
	return nil
}

var _ Store = (*PGStore)(nil)
