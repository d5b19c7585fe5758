// Package credentials resolves provider API keys stored in the
// integration_tokens table, used when the key is not supplied through the
// environment.
package credentials

import (
	"context"
	"strings"

	"github.com/Namann-14/artifex/internal/infra"
	"github.com/Namann-14/artifex/internal/sqlinline"
)

const (
	ProviderDashScope = "dashscope"
)

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Resolve returns envValue when set, otherwise the stored token for provider.
func (s *Store) Resolve(ctx context.Context, provider, envValue string) (string, error) {
	if v := strings.TrimSpace(envValue); v != "" {
		return v, nil
	}
	if s == nil || s.sql == nil {
		return "", nil
	}
	return s.Token(ctx, provider)
}

// Token reads the stored key; a missing row is not an error.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}
