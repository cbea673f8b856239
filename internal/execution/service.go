// Package execution turns unsigned or partially signed transactions into
// confirmed ledger entries. It owns priority fees, compute budgets,
// blockhashes, bounded submission retries and confirmation polling.
package execution

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/mr-tron/base58"

	"github.com/alanyoungcy/condvault/internal/domain"
	"github.com/alanyoungcy/condvault/internal/ledger"
	"github.com/alanyoungcy/condvault/internal/token"
)

// Config controls fees, retries and confirmation.
type Config struct {
	Commitment        ledger.Commitment
	Priority          PriorityTier
	MaxPriorityFee    uint64
	ComputeUnitLimit  uint32  // 0 means simulate
	ComputeUnitMargin float64 // multiplier on simulated units
	MaxRetries        int
	RetryBaseDelay    time.Duration
	ConfirmTimeout    time.Duration
	PollInterval      time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Commitment:        ledger.CommitmentConfirmed,
		Priority:          TierMedium,
		MaxPriorityFee:    1_000_000,
		ComputeUnitMargin: 1.2,
		MaxRetries:        3,
		RetryBaseDelay:    500 * time.Millisecond,
		ConfirmTimeout:    60 * time.Second,
		PollInterval:      time.Second,
	}
}

// Service submits transactions to the ledger.
type Service struct {
	ledger ledger.Client
	fees   domain.FeeCache
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates an execution service. fees may be nil.
func New(l ledger.Client, fees domain.FeeCache, cfg Config, logger *slog.Logger) *Service {
	d := DefaultConfig()
	if cfg.Commitment == "" {
		cfg.Commitment = d.Commitment
	}
	if cfg.Priority == "" {
		cfg.Priority = d.Priority
	}
	if cfg.ComputeUnitMargin == 0 {
		cfg.ComputeUnitMargin = d.ComputeUnitMargin
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = d.RetryBaseDelay
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = d.ConfirmTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = d.PollInterval
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Service{
		ledger: l,
		fees:   fees,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "execution")),
		now:    time.Now,
	}
}

// Ledger exposes the underlying ledger for read paths.
func (s *Service) Ledger() ledger.Client { return s.ledger }

// Build composes fee instructions and ixs into an unsigned transaction with
// a fresh blockhash and the given fee payer. All instruction composition
// happens before the message is compiled.
func (s *Service) Build(ctx context.Context, feePayer common.PublicKey, ixs []types.Instruction) (types.Transaction, error) {
	if len(ixs) == 0 {
		return types.Transaction{}, fmt.Errorf("execution: build: %w: no instructions", domain.ErrInvalidTransaction)
	}
	full := s.AddFeeInstructions(ctx, ixs, feePayer)

	blockhash, err := s.ledger.LatestBlockhash(ctx)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("execution: build: blockhash: %w", err)
	}
	msg := types.NewMessage(types.NewMessageParam{
		FeePayer:        feePayer,
		Instructions:    full,
		RecentBlockhash: blockhash,
	})
	tx, err := types.NewTransaction(types.NewTransactionParam{Message: msg})
	if err != nil {
		return types.Transaction{}, fmt.Errorf("execution: build: %w", err)
	}
	return tx, nil
}

// Execute fills a missing blockhash, applies signers, submits with bounded
// retries for transport failures only and waits for confirmation. On-chain
// rejections are reported in the result; a Go error means the input could
// not be processed.
func (s *Service) Execute(ctx context.Context, tx types.Transaction, signers ...types.Account) (domain.ExecutionResult, error) {
	if tx.Message.RecentBlockHash == "" {
		blockhash, err := s.ledger.LatestBlockhash(ctx)
		if err != nil {
			return domain.ExecutionResult{}, fmt.Errorf("execution: blockhash: %w", err)
		}
		tx.Message.RecentBlockHash = blockhash
	}

	if err := Sign(&tx, signers...); err != nil {
		return domain.ExecutionResult{}, err
	}
	if err := checkSigned(tx); err != nil {
		return domain.ExecutionResult{}, err
	}

	sig := base58.Encode(tx.Signatures[0])
	res := domain.ExecutionResult{Signature: sig, Timestamp: s.now()}

	attempts := 0
	b := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(backoff.WithInitialInterval(s.cfg.RetryBaseDelay)),
			uint64(s.cfg.MaxRetries)),
		ctx)
	_, err := backoff.RetryWithData(func() (string, error) {
		attempts++
		got, err := s.ledger.SendTransaction(ctx, tx)
		if err != nil && !ledger.IsTransient(err) {
			return "", backoff.Permanent(err)
		}
		return got, err
	}, b)
	if err != nil {
		res.Status = domain.ExecutionFailed
		res.Error = err.Error()
		if ledger.IsTransient(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// The transaction may have reached a leader before the failure.
			res.Status = domain.ExecutionUnconfirmed
		}
		s.logger.WarnContext(ctx, "transaction submission failed",
			slog.String("signature", sig),
			slog.Int("attempts", attempts),
			slog.String("status", string(res.Status)),
			slog.String("error", err.Error()),
		)
		return res, nil
	}

	res = s.confirm(ctx, res)
	s.logger.InfoContext(ctx, "transaction executed",
		slog.String("signature", sig),
		slog.String("status", string(res.Status)),
		slog.Int("attempts", attempts),
	)
	return res, nil
}

// confirm polls until the target commitment, an on-chain error, or the
// confirmation deadline. Caller cancellation after submission yields an
// unconfirmed result.
func (s *Service) confirm(ctx context.Context, res domain.ExecutionResult) domain.ExecutionResult {
	deadline := time.NewTimer(s.cfg.ConfirmTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		st, err := s.ledger.SignatureStatuses(ctx, []string{res.Signature})
		if err == nil && len(st) == 1 && st[0] != nil {
			if st[0].Err != "" {
				res.Status = domain.ExecutionFailed
				res.Error = st[0].Err
				return res
			}
			if st[0].ConfirmationStatus.Reached(s.cfg.Commitment) {
				res.Status = domain.ExecutionSuccess
				return res
			}
		}

		select {
		case <-ctx.Done():
			res.Status = domain.ExecutionUnconfirmed
			res.Error = ctx.Err().Error()
			return res
		case <-deadline.C:
			res.Status = domain.ExecutionUnconfirmed
			res.Error = fmt.Sprintf("not %s after %s", s.cfg.Commitment, s.cfg.ConfirmTimeout)
			return res
		case <-ticker.C:
		}
	}
}

// Status looks up a previously submitted signature. An unknown signature is
// reported as unconfirmed.
func (s *Service) Status(ctx context.Context, signature string) (domain.ExecutionResult, error) {
	st, err := s.ledger.SignatureStatuses(ctx, []string{signature})
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("execution: status %s: %w", signature, err)
	}
	res := domain.ExecutionResult{Signature: signature, Timestamp: s.now(), Status: domain.ExecutionUnconfirmed}
	if len(st) == 1 && st[0] != nil {
		switch {
		case st[0].Err != "":
			res.Status = domain.ExecutionFailed
			res.Error = st[0].Err
		case st[0].ConfirmationStatus.Reached(s.cfg.Commitment):
			res.Status = domain.ExecutionSuccess
		}
	}
	return res, nil
}

// Encode serialises a transaction for transport to a client.
func Encode(tx types.Transaction) (domain.UnsignedTx, error) {
	raw, err := tx.Serialize()
	if err != nil {
		return domain.UnsignedTx{}, fmt.Errorf("execution: encode: %w", err)
	}
	return domain.UnsignedTx{
		Transaction:     base64.StdEncoding.EncodeToString(raw),
		Blockhash:       tx.Message.RecentBlockHash,
		FeePayer:        tx.Message.Accounts[0].ToBase58(),
		RequiredSigners: token.Base58(ledger.RequiredSigners(tx.Message)),
	}, nil
}

// Decode parses a base64 transaction received from a client.
func Decode(b64 string) (types.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("%w: base64: %v", domain.ErrInvalidTransaction, err)
	}
	tx, err := types.TransactionDeserialize(raw)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("%w: %v", domain.ErrInvalidTransaction, err)
	}
	return tx, nil
}
