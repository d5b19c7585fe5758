package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Namann-14/artifex/internal/sqlinline"
)

type stubExecutor struct {
	token   string
	err     error
	queried int
	query   string
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("not implemented")
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.queried++
	s.query = query
	return stubRow{token: s.token, err: s.err}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	token string
	err   error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) == 0 {
		return errors.New("no dest")
	}
	ptr, ok := dest[0].(*string)
	if !ok {
		return errors.New("invalid dest")
	}
	*ptr = r.token
	return nil
}

func TestToken(t *testing.T) {
	store := NewStore(&stubExecutor{token: " abc123 "})
	key, err := store.Token(context.Background(), ProviderDashScope)
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if key != "abc123" {
		t.Fatalf("expected abc123, got %q", key)
	}
}

func TestToken_NoRows(t *testing.T) {
	store := NewStore(&stubExecutor{err: pgx.ErrNoRows})
	key, err := store.Token(context.Background(), ProviderDashScope)
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if key != "" {
		t.Fatalf("expected empty key, got %q", key)
	}
}

func TestResolvePrefersEnvironment(t *testing.T) {
	exec := &stubExecutor{token: "from-db"}
	store := NewStore(exec)
	key, err := store.Resolve(context.Background(), ProviderDashScope, " from-env ")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if key != "from-env" {
		t.Fatalf("expected from-env, got %q", key)
	}
	if exec.queried != 0 {
		t.Fatalf("store should not be queried when env value is set")
	}

	key, err = store.Resolve(context.Background(), ProviderDashScope, "")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if key != "from-db" {
		t.Fatalf("expected from-db, got %q", key)
	}
	if exec.query != sqlinline.QSelectIntegrationToken {
		t.Fatalf("unexpected query: %s", exec.query)
	}
}

func TestResolveWithoutDatabase(t *testing.T) {
	var store *Store
	key, err := store.Resolve(context.Background(), ProviderDashScope, "")
	if err != nil || key != "" {
		t.Fatalf("expected empty key without error, got %q, %v", key, err)
	}
	key, _ = store.Resolve(context.Background(), ProviderDashScope, "env-key")
	if key != "env-key" {
		t.Fatalf("expected env-key, got %q", key)
	}
}
