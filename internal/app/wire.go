package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/blocto/solana-go-sdk/types"

	s3blob "github.com/alanyoungcy/condvault/internal/blob/s3"
	"github.com/alanyoungcy/condvault/internal/cache/redis"
	"github.com/alanyoungcy/condvault/internal/config"
	"github.com/alanyoungcy/condvault/internal/crypto"
	"github.com/alanyoungcy/condvault/internal/domain"
	"github.com/alanyoungcy/condvault/internal/events"
	"github.com/alanyoungcy/condvault/internal/execution"
	"github.com/alanyoungcy/condvault/internal/ledger"
	"github.com/alanyoungcy/condvault/internal/ledger/solana"
	"github.com/alanyoungcy/condvault/internal/mq"
	"github.com/alanyoungcy/condvault/internal/notify"
	"github.com/alanyoungcy/condvault/internal/oracle"
	"github.com/alanyoungcy/condvault/internal/server/handler"
	"github.com/alanyoungcy/condvault/internal/service"
	"github.com/alanyoungcy/condvault/internal/store/memory"
	"github.com/alanyoungcy/condvault/internal/store/postgres"
)

// Dependencies bundles everything the modes need. It is constructed by Wire
// and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	ProposalStore  domain.ProposalStore
	VaultStore     domain.VaultStore
	ExecutionStore domain.ExecutionStore
	AuditStore     domain.AuditStore

	// Caches
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	FeeCache    domain.FeeCache

	// Chain
	Ledger    ledger.Client
	Executor  *execution.Service
	Authority types.Account

	// Blob storage; nil when no bucket is configured.
	Archive  *s3blob.Archive
	Reporter *s3blob.Reporter

	Events    *events.Fanout
	Notifier  *notify.Notifier
	Proposals *service.ProposalService

	// Checks are probed by the health endpoint.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: map[string]handler.Check{}}

	// --- Keys ---
	authority, err := crypto.LoadAuthority(crypto.KeyConfig{
		PrivateKeyBase58: cfg.Authority.PrivateKeyBase58,
		EncryptedKeyPath: cfg.Authority.EncryptedKeyPath,
		KeyPassword:      cfg.Authority.KeyPassword,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: authority: %w", err))
	}
	deps.Authority = authority
	sealer, err := crypto.NewSealer(cfg.Keystore.Password, cfg.Keystore.Iterations)
	if err != nil {
		return fail(fmt.Errorf("wire: keystore: %w", err))
	}

	// --- Stores: PostgreSQL when configured, memory otherwise ---
	if cfg.Postgres.Enabled() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.ProposalStore = postgres.NewProposalStore(pool)
		deps.VaultStore = postgres.NewVaultStore(pool)
		deps.ExecutionStore = postgres.NewExecutionStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	} else {
		logger.WarnContext(ctx, "postgres not configured, using in-memory stores; state is lost on restart")
		deps.ProposalStore = memory.NewProposalStore()
		deps.VaultStore = memory.NewVaultStore()
		deps.ExecutionStore = memory.NewExecutionStore()
		deps.AuditStore = memory.NewAuditStore()
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		KeyPrefix:  cfg.Redis.KeyPrefix,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: redis: %w", err))
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.FeeCache = redis.NewFeeCache(redisClient)
	deps.Checks["redis"] = redisClient.Ping

	// --- Solana ---
	commitment, err := ledger.ParseCommitment(cfg.Solana.Commitment)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	rpc, err := solana.New(solana.ClientConfig{
		Endpoint:        cfg.Solana.RPCURL,
		Commitment:      commitment,
		BreakerFailures: cfg.Solana.BreakerFailures,
		BreakerTimeout:  cfg.Solana.BreakerTimeout.Duration,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: solana: %w", err))
	}
	deps.Ledger = rpc
	deps.Checks["solana"] = func(ctx context.Context) error {
		_, err := rpc.LatestBlockhash(ctx)
		return err
	}

	tier, err := execution.ParsePriorityTier(cfg.Fees.Priority)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps.Executor = execution.New(rpc, deps.FeeCache, execution.Config{
		Commitment:        commitment,
		Priority:          tier,
		MaxPriorityFee:    cfg.Fees.MaxPriorityFee,
		ComputeUnitLimit:  cfg.Fees.ComputeUnitLimit,
		ComputeUnitMargin: cfg.Fees.ComputeUnitMargin,
		MaxRetries:        cfg.Solana.MaxRetries,
		RetryBaseDelay:    cfg.Solana.RetryBaseDelay.Duration,
		ConfirmTimeout:    cfg.Solana.ConfirmTimeout.Duration,
		PollInterval:      cfg.Solana.PollInterval.Duration,
	}, logger)

	// --- Oracle ---
	outcomes, err := oracle.New(oracle.Config{
		BaseURL:    cfg.Oracle.BaseURL,
		Attester:   cfg.Oracle.SignerAddress,
		Timeout:    cfg.Oracle.Timeout.Duration,
		MaxRetries: cfg.Oracle.MaxRetries,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}

	// --- S3 settlement reports ---
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archive = s3blob.NewArchive(s3Client)
		deps.Reporter = s3blob.NewReporter(deps.Archive, deps.Archive, deps.ExecutionStore, deps.AuditStore)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Event fan-out: redis bus always, kafka and notifications when set ---
	deps.Events = events.NewFanout(logger, events.Sink{Name: "bus", Publisher: events.NewBusPublisher(deps.SignalBus)})
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := mq.NewProducer(mq.Config{
			Brokers:         cfg.Kafka.Brokers,
			Topic:           cfg.Kafka.Topic,
			Partitions:      cfg.Kafka.Partitions,
			BatchSize:       cfg.Kafka.BatchSize,
			LingerMs:        cfg.Kafka.LingerMs,
			DeliveryTimeout: cfg.Kafka.DeliveryTimeout.Duration,
			CreateTopic:     cfg.Kafka.CreateTopic,
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: kafka: %w", err))
		}
		closers = append(closers, func() { producer.Close(5 * time.Second) })
		deps.Events.Add(events.Sink{Name: "kafka", Publisher: producer})
	}
	if len(senders) > 0 {
		deps.Events.Add(events.Sink{Name: "notify", Publisher: deps.Notifier})
	}

	// --- Proposal registry ---
	svcDeps := service.Deps{
		Proposals:       deps.ProposalStore,
		Vaults:          deps.VaultStore,
		Executions:      deps.ExecutionStore,
		Audit:           deps.AuditStore,
		Locks:           deps.LockManager,
		Events:          deps.Events,
		Oracle:          outcomes,
		Sealer:          sealer,
		Exec:            deps.Executor,
		Ledger:          rpc,
		Authority:       authority,
		Logger:          logger,
		DefaultDuration: cfg.Proposal.DefaultDuration.Duration,
		LockTTL:         cfg.Proposal.LockTTL.Duration,
	}
	if deps.Reporter != nil {
		svcDeps.Reporter = deps.Reporter
		svcDeps.Reports = deps.Archive
	}
	proposals, err := service.NewProposalService(svcDeps)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps.Proposals = proposals

	logger.InfoContext(ctx, "dependencies wired",
		slog.String("authority", authority.PublicKey.ToBase58()),
		slog.Bool("postgres", cfg.Postgres.Enabled()),
		slog.Bool("s3", deps.Reporter != nil),
		slog.Bool("kafka", len(cfg.Kafka.Brokers) > 0),
		slog.Int("notify_senders", len(senders)),
	)
	return deps, cleanup, nil
}
