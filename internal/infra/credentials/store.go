// Package credentials persists provider API keys in Postgres.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"imagepump/internal/infra"
	"imagepump/internal/providers"
	"imagepump/internal/sqlinline"
)

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// EnsureSchema creates the token table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.sql.Exec(ctx, sqlinline.QCreateIntegrationTokens); err != nil {
		return fmt.Errorf("credentials: ensure schema: %w", err)
	}
	return nil
}

// APIKey returns the stored key for provider, or "" when none is saved.
func (s *Store) APIKey(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, normalize(provider))
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("credentials: load %s: %w", provider, err)
	}
	return strings.TrimSpace(token), nil
}

// APIKeys returns every stored key keyed by provider id.
func (s *Store) APIKeys(ctx context.Context) (map[string]string, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QListIntegrationTokens)
	if err != nil {
		return nil, fmt.Errorf("credentials: list: %w", err)
	}
	defer rows.Close()

	keys := map[string]string{}
	for rows.Next() {
		var provider, token string
		if err := rows.Scan(&provider, &token); err != nil {
			return nil, fmt.Errorf("credentials: scan: %w", err)
		}
		keys[provider] = strings.TrimSpace(token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("credentials: list: %w", err)
	}
	return keys, nil
}

// SetAPIKey validates key against the provider catalog and stores it. An
// empty key removes the stored one.
func (s *Store) SetAPIKey(ctx context.Context, provider, key string) error {
	provider = normalize(provider)
	key = strings.TrimSpace(key)
	if key == "" {
		return s.DeleteAPIKey(ctx, provider)
	}
	if err := providers.ValidateCredential(provider, key); err != nil {
		return err
	}
	return s.upsert(ctx, provider, key, nil)
}

func (s *Store) DeleteAPIKey(ctx context.Context, provider string) error {
	if _, err := s.sql.Exec(ctx, sqlinline.QDeleteIntegrationToken, normalize(provider)); err != nil {
		return fmt.Errorf("credentials: delete %s: %w", provider, err)
	}
	return nil
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw); err != nil {
		return fmt.Errorf("credentials: save %s: %w", provider, err)
	}
	return nil
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
