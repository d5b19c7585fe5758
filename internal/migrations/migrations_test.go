package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsAreGooseFiles(t *testing.T) {
	entries, err := fs.ReadDir(files, dir)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	for _, entry := range entries {
		raw, err := fs.ReadFile(files, dir+"/"+entry.Name())
		require.NoError(t, err)
		body := string(raw)
		assert.True(t, strings.HasPrefix(body, "-- +goose Up"), entry.Name())
		assert.Contains(t, body, "-- +goose Down", entry.Name())
	}
}

func TestSchemaCoversQueriedTables(t *testing.T) {
	var all strings.Builder
	entries, err := fs.ReadDir(files, dir)
	require.NoError(t, err)
	for _, entry := range entries {
		raw, err := fs.ReadFile(files, dir+"/"+entry.Name())
		require.NoError(t, err)
		all.Write(raw)
	}
	for _, table := range []string{"quota_accounts", "quota_reservations", "generation_history", "integration_tokens"} {
		assert.Contains(t, all.String(), "create table if not exists "+table)
	}
}
