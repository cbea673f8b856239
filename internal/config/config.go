// Package config defines the top-level configuration for condvault and
// provides validation helpers.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CONDVAULT_* environment variables.
type Config struct {
	Solana    SolanaConfig    `toml:"solana"`
	Fees      FeesConfig      `toml:"fees"`
	Authority AuthorityConfig `toml:"authority"`
	Keystore  KeystoreConfig  `toml:"keystore"`
	Proposal  ProposalConfig  `toml:"proposal"`
	Oracle    OracleConfig    `toml:"oracle"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Kafka     KafkaConfig     `toml:"kafka"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
	// LogFile, when set, receives a rotated copy of every log line.
	LogFile string `toml:"log_file"`
}

// SolanaConfig holds the RPC endpoint and confirmation parameters.
type SolanaConfig struct {
	RPCURL          string   `toml:"rpc_url"`
	Commitment      string   `toml:"commitment"`
	MaxRetries      int      `toml:"max_retries"`
	RetryBaseDelay  duration `toml:"retry_base_delay"`
	ConfirmTimeout  duration `toml:"confirm_timeout"`
	PollInterval    duration `toml:"poll_interval"`
	BreakerFailures uint32   `toml:"breaker_failures"`
	BreakerTimeout  duration `toml:"breaker_timeout"`
}

// FeesConfig holds compute budget and priority fee settings.
type FeesConfig struct {
	// Priority is one of none, low, medium, high or dynamic.
	Priority       string `toml:"priority"`
	MaxPriorityFee uint64 `toml:"max_priority_fee"`
	// ComputeUnitLimit of 0 sizes each transaction by simulation.
	ComputeUnitLimit  uint32  `toml:"compute_unit_limit"`
	ComputeUnitMargin float64 `toml:"cu_margin"`
}

// AuthorityConfig says where the market authority key comes from.
type AuthorityConfig struct {
	PrivateKeyBase58 string `toml:"private_key_base58"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// KeystoreConfig holds the password escrow keys are sealed with.
type KeystoreConfig struct {
	Password   string `toml:"password"`
	Iterations int    `toml:"iterations"`
}

// ProposalConfig holds proposal lifecycle timing.
type ProposalConfig struct {
	DefaultDuration duration `toml:"default_duration"`
	SweepInterval   duration `toml:"sweep_interval"`
	LockTTL         duration `toml:"lock_ttl"`
}

// OracleConfig holds the outcome oracle endpoint.
type OracleConfig struct {
	BaseURL string `toml:"base_url"`
	// SignerAddress is the 0x address that must sign resolved outcomes.
	// Empty skips verification.
	SignerAddress string   `toml:"signer_address"`
	Timeout       duration `toml:"timeout"`
	MaxRetries    int      `toml:"max_retries"`
}

// PostgresConfig holds PostgreSQL connection parameters. An empty host and
// dsn selects in-memory stores.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// Enabled reports whether a database is configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.DSN) != "" || p.Host != ""
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters. An empty bucket
// disables report archiving.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// Prefix namespaces every archived key, e.g. "mainnet".
	Prefix string `toml:"prefix"`
}

// KafkaConfig holds the settlement event topic. No brokers disables it.
type KafkaConfig struct {
	Brokers         []string `toml:"brokers"`
	Topic           string   `toml:"topic"`
	Partitions      int      `toml:"partitions"`
	BatchSize       int      `toml:"batch_size"`
	LingerMs        int      `toml:"linger_ms"`
	DeliveryTimeout duration `toml:"delivery_timeout"`
	CreateTopic     bool     `toml:"create_topic"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey and AdminSecret guard proposal creation and finalization.
	APIKey          string   `toml:"api_key"`
	AdminSecret     string   `toml:"admin_secret"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Solana: SolanaConfig{
			RPCURL:          "http://localhost:8899",
			Commitment:      "confirmed",
			MaxRetries:      3,
			RetryBaseDelay:  duration{500 * time.Millisecond},
			ConfirmTimeout:  duration{60 * time.Second},
			PollInterval:    duration{time.Second},
			BreakerFailures: 5,
			BreakerTimeout:  duration{30 * time.Second},
		},
		Fees: FeesConfig{
			Priority:          "medium",
			MaxPriorityFee:    1_000_000,
			ComputeUnitMargin: 1.2,
		},
		Keystore: KeystoreConfig{
			Iterations: 210_000,
		},
		Proposal: ProposalConfig{
			DefaultDuration: duration{72 * time.Hour},
			SweepInterval:   duration{30 * time.Second},
			LockTTL:         duration{2 * time.Minute},
		},
		Oracle: OracleConfig{
			Timeout:    duration{15 * time.Second},
			MaxRetries: 3,
		},
		Postgres: PostgresConfig{
			Port:          5432,
			Database:      "condvault",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "cv:",
		},
		S3: S3Config{
			Region:         "us-east-1",
			ForcePathStyle: true,
		},
		Kafka: KafkaConfig{
			Topic:           "condvault.settlement",
			Partitions:      6,
			BatchSize:       1000,
			LingerMs:        5,
			DeliveryTimeout: duration{10 * time.Second},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"proposal.finalized", "vault.execution"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":    true,
	"finalizer": true,
	"full":      true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validCommitments = map[string]bool{
	"processed": true,
	"confirmed": true,
	"finalized": true,
}

var validTiers = map[string]bool{
	"none":    true,
	"low":     true,
	"medium":  true,
	"high":    true,
	"dynamic": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, finalizer, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Solana
	if _, err := url.ParseRequestURI(c.Solana.RPCURL); err != nil {
		errs = append(errs, fmt.Sprintf("solana: rpc_url %q is not a URL", c.Solana.RPCURL))
	}
	if !validCommitments[c.Solana.Commitment] {
		errs = append(errs, fmt.Sprintf("solana: commitment must be processed, confirmed or finalized, got %q", c.Solana.Commitment))
	}
	if c.Solana.MaxRetries < 0 {
		errs = append(errs, "solana: max_retries must be >= 0")
	}
	if c.Solana.ConfirmTimeout.Duration <= 0 || c.Solana.PollInterval.Duration <= 0 {
		errs = append(errs, "solana: confirm_timeout and poll_interval must be > 0")
	}

	// Fees
	if !validTiers[c.Fees.Priority] {
		errs = append(errs, fmt.Sprintf("fees: unknown priority %q (valid: none, low, medium, high, dynamic)", c.Fees.Priority))
	}
	if c.Fees.ComputeUnitLimit > 1_400_000 {
		errs = append(errs, "fees: compute_unit_limit must not exceed 1400000")
	}
	if c.Fees.ComputeUnitMargin < 1 {
		errs = append(errs, "fees: cu_margin must be >= 1")
	}

	// Authority and keystore are needed by every mode: the server co-signs
	// and the finalizer revokes mint authority.
	if c.Authority.PrivateKeyBase58 == "" && c.Authority.EncryptedKeyPath == "" {
		errs = append(errs, "authority: either private_key_base58 or encrypted_key_path must be set")
	}
	if c.Authority.EncryptedKeyPath != "" && c.Authority.KeyPassword == "" {
		errs = append(errs, "authority: key_password is required when encrypted_key_path is set")
	}
	if c.Keystore.Password == "" {
		errs = append(errs, "keystore: password must be set")
	}

	// Proposal
	if c.Proposal.DefaultDuration.Duration <= 0 {
		errs = append(errs, "proposal: default_duration must be > 0")
	}
	if c.Proposal.SweepInterval.Duration <= 0 {
		errs = append(errs, "proposal: sweep_interval must be > 0")
	}
	if c.Proposal.LockTTL.Duration <= 0 {
		errs = append(errs, "proposal: lock_ttl must be > 0")
	}

	// Oracle
	if c.Oracle.BaseURL == "" {
		errs = append(errs, "oracle: base_url must not be empty")
	}
	if a := c.Oracle.SignerAddress; a != "" && (len(a) != 42 || !strings.HasPrefix(a, "0x")) {
		errs = append(errs, fmt.Sprintf("oracle: signer_address %q is not a 0x address", a))
	}

	// Postgres
	if c.Postgres.Enabled() {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Bucket != "" && c.S3.Region == "" {
		errs = append(errs, "s3: region must not be empty when bucket is set")
	}

	// Kafka
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, "kafka: topic must not be empty when brokers are set")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
