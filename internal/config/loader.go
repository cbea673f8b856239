package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CONDVAULT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CONDVAULT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Solana ──
	setStr(&cfg.Solana.RPCURL, "CONDVAULT_SOLANA_RPC_URL")
	setStr(&cfg.Solana.Commitment, "CONDVAULT_SOLANA_COMMITMENT")
	setInt(&cfg.Solana.MaxRetries, "CONDVAULT_SOLANA_MAX_RETRIES")
	setDuration(&cfg.Solana.ConfirmTimeout, "CONDVAULT_SOLANA_CONFIRM_TIMEOUT")
	setDuration(&cfg.Solana.PollInterval, "CONDVAULT_SOLANA_POLL_INTERVAL")

	// ── Fees ──
	setStr(&cfg.Fees.Priority, "CONDVAULT_FEES_PRIORITY")
	setUint64(&cfg.Fees.MaxPriorityFee, "CONDVAULT_FEES_MAX_PRIORITY_FEE")
	setFloat64(&cfg.Fees.ComputeUnitMargin, "CONDVAULT_FEES_CU_MARGIN")

	// ── Authority / keystore ──
	setStr(&cfg.Authority.PrivateKeyBase58, "CONDVAULT_AUTHORITY_PRIVATE_KEY_BASE58")
	setStr(&cfg.Authority.EncryptedKeyPath, "CONDVAULT_AUTHORITY_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Authority.KeyPassword, "CONDVAULT_AUTHORITY_KEY_PASSWORD")
	setStr(&cfg.Keystore.Password, "CONDVAULT_KEYSTORE_PASSWORD")

	// ── Proposal ──
	setDuration(&cfg.Proposal.DefaultDuration, "CONDVAULT_PROPOSAL_DEFAULT_DURATION")
	setDuration(&cfg.Proposal.SweepInterval, "CONDVAULT_PROPOSAL_SWEEP_INTERVAL")

	// ── Oracle ──
	setStr(&cfg.Oracle.BaseURL, "CONDVAULT_ORACLE_BASE_URL")
	setStr(&cfg.Oracle.SignerAddress, "CONDVAULT_ORACLE_SIGNER_ADDRESS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CONDVAULT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "CONDVAULT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CONDVAULT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CONDVAULT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CONDVAULT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CONDVAULT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CONDVAULT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CONDVAULT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CONDVAULT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CONDVAULT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CONDVAULT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CONDVAULT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CONDVAULT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CONDVAULT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "CONDVAULT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "CONDVAULT_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CONDVAULT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CONDVAULT_S3_REGION")
	setStr(&cfg.S3.Bucket, "CONDVAULT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CONDVAULT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CONDVAULT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CONDVAULT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CONDVAULT_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "CONDVAULT_S3_PREFIX")

	// ── Kafka ──
	setStringSlice(&cfg.Kafka.Brokers, "CONDVAULT_KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topic, "CONDVAULT_KAFKA_TOPIC")
	setBool(&cfg.Kafka.CreateTopic, "CONDVAULT_KAFKA_CREATE_TOPIC")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CONDVAULT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CONDVAULT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CONDVAULT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CONDVAULT_SERVER_API_KEY")
	setStr(&cfg.Server.AdminSecret, "CONDVAULT_SERVER_ADMIN_SECRET")
	setInt(&cfg.Server.RateLimit, "CONDVAULT_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CONDVAULT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CONDVAULT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CONDVAULT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CONDVAULT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "CONDVAULT_MODE")
	setStr(&cfg.LogLevel, "CONDVAULT_LOG_LEVEL")
	setStr(&cfg.LogFile, "CONDVAULT_LOG_FILE")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
