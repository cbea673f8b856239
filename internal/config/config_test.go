package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Authority.PrivateKeyBase58 = "5MaiiCavjCmn9Hs1o3eznqDEhRwxo7pXiAYez7keQUviUkauRiTMD8DrESdrNjN8zd9mTmVhRvBJeg5vhyvgrAhG"
	cfg.Keystore.Password = "hunter2"
	cfg.Oracle.BaseURL = "https://oracle.example"
	return cfg
}

func TestDefaultsNeedSecrets(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authority:")
	assert.Contains(t, err.Error(), "keystore:")
	assert.Contains(t, err.Error(), "oracle:")

	good := validConfig()
	assert.NoError(t, good.Validate())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "trade"
	cfg.Solana.Commitment = "max"
	cfg.Fees.Priority = "urgent"
	cfg.Oracle.SignerAddress = "abc"
	cfg.Notify.TelegramToken = "t"
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Kafka.Topic = ""

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"mode", "commitment", "priority", "signer_address", "telegram", "kafka"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "condvault.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "finalizer"

[proposal]
default_duration = "24h"

[oracle]
base_url = "https://oracle.example"

[kafka]
brokers = ["a:9092", "b:9092"]
`), 0o600))

	t.Setenv("CONDVAULT_KEYSTORE_PASSWORD", "from-env")
	t.Setenv("CONDVAULT_PROPOSAL_SWEEP_INTERVAL", "5s")
	t.Setenv("CONDVAULT_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "finalizer", cfg.Mode)
	assert.Equal(t, 24*time.Hour, cfg.Proposal.DefaultDuration.Duration)
	assert.Equal(t, 5*time.Second, cfg.Proposal.SweepInterval.Duration)
	assert.Equal(t, "from-env", cfg.Keystore.Password)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "confirmed", cfg.Solana.Commitment)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[solana]\nrpc = \"x\"\n"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "solana.rpc")
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Server.AdminSecret = "admin"
	cfg.Kafka.Brokers = []string{"a:9092"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Authority.PrivateKeyBase58)
	assert.Equal(t, "***", out.Keystore.Password)
	assert.Equal(t, "***", out.Server.AdminSecret)
	assert.Empty(t, out.Server.APIKey)

	out.Kafka.Brokers[0] = "changed"
	assert.Equal(t, "a:9092", cfg.Kafka.Brokers[0])
	assert.Equal(t, "hunter2", cfg.Keystore.Password)
}
