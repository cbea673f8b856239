package postgres

import (
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/condvault/internal/domain"
)

func TestAppendListOpts(t *testing.T) {
	since := time.Unix(100, 0)
	q, args := appendListOpts("SELECT * FROM executions WHERE vault_id = $1", []any{"v1"}, "created_at",
		domain.ListOpts{Since: &since, Limit: 10, Offset: 20})
	assert.Equal(t,
		"SELECT * FROM executions WHERE vault_id = $1 AND created_at >= $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4", q)
	assert.Equal(t, []any{"v1", since, 10, 20}, args)

	q, args = appendListOpts("SELECT * FROM audit_log WHERE 1=1", nil, "created_at", domain.ListOpts{})
	assert.Equal(t, "SELECT * FROM audit_log WHERE 1=1 ORDER BY created_at DESC", q)
	assert.Empty(t, args)
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://cv:pw@db:5432/condvault?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "condvault", User: "cv", Password: "pw"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
	assert.Equal(t, "postgres://cv:p%40ss%2Fw@db:6432/condvault?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6432, Database: "condvault", User: "cv", Password: "p@ss/w", SSLMode: "require"}))
}

func TestMigrationsCoverVaultColumns(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)
	var all strings.Builder
	for _, e := range entries {
		b, err := fs.ReadFile(migrationsFS, "migrations/"+e.Name())
		require.NoError(t, err)
		all.Write(b)
	}
	for _, col := range strings.Split(vaultSelectCols, ",") {
		assert.Contains(t, all.String(), strings.TrimSpace(col), "column %q has no migration", strings.TrimSpace(col))
	}
}
