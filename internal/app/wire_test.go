package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/blocto/solana-go-sdk/types"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/condvault/internal/config"
	"github.com/alanyoungcy/condvault/internal/store/memory"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := config.Defaults()
	cfg.Authority.PrivateKeyBase58 = base58.Encode(types.NewAccount().PrivateKey)
	cfg.Keystore.Password = "correct horse"
	cfg.Keystore.Iterations = 1000
	cfg.Oracle.BaseURL = "http://oracle.invalid"
	cfg.Redis.Addr = mr.Addr()
	return &cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWireWithoutOptionalBackends(t *testing.T) {
	cfg := testConfig(t)

	deps, cleanup, err := Wire(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &memory.ProposalStore{}, deps.ProposalStore)
	assert.IsType(t, &memory.AuditStore{}, deps.AuditStore)
	assert.Nil(t, deps.Reporter)
	assert.Nil(t, deps.Archive)
	assert.NotNil(t, deps.Proposals)
	assert.Contains(t, deps.Checks, "redis")
	assert.Contains(t, deps.Checks, "solana")
	assert.NotContains(t, deps.Checks, "postgres")
	assert.NotContains(t, deps.Checks, "s3")
	require.NoError(t, deps.Checks["redis"](context.Background()))

	n, err := deps.Proposals.Recover(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWireFailsOnBadSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"no authority", func(c *config.Config) { c.Authority.PrivateKeyBase58 = "" }},
		{"no keystore password", func(c *config.Config) { c.Keystore.Password = "" }},
		{"bad commitment", func(c *config.Config) { c.Solana.Commitment = "eventually" }},
		{"bad priority", func(c *config.Config) { c.Fees.Priority = "urgent" }},
		{"no oracle", func(c *config.Config) { c.Oracle.BaseURL = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			deps, cleanup, err := Wire(context.Background(), cfg, quietLogger())
			assert.Error(t, err)
			assert.Nil(t, deps)
			assert.Nil(t, cleanup)
		})
	}
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = "trade"
	a := New(cfg, quietLogger())
	defer a.Close()
	err := a.Run(context.Background())
	assert.ErrorContains(t, err, "unsupported mode")
}
