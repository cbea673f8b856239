// Package solana adapts a Solana JSON-RPC endpoint to ledger.Client. Reads
// go through the blocto client; submission, simulation, status and fee
// queries use raw calls so node errors keep their code. Every call passes
// through a circuit breaker that only counts transport failures.
package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/types"
	"github.com/sony/gobreaker"

	"github.com/alanyoungcy/condvault/internal/ledger"
)

// ClientConfig holds the parameters needed to reach an RPC node.
type ClientConfig struct {
	Endpoint   string
	Commitment ledger.Commitment
	// Breaker trips after this many consecutive transport failures.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Client implements ledger.Client over JSON-RPC.
type Client struct {
	rpc        *client.Client
	commitment ledger.Commitment
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

var _ ledger.Client = (*Client)(nil)

// New creates an RPC-backed ledger client.
func New(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("solana: endpoint is required")
	}
	if cfg.Commitment == "" {
		cfg.Commitment = ledger.CommitmentConfirmed
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	l := logger.With(slog.String("component", "solana_rpc"))

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "solana-rpc",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ledger.ErrTransport)
		},
	})

	return &Client{
		rpc:        client.NewClient(cfg.Endpoint),
		commitment: cfg.Commitment,
		breaker:    cb,
		logger:     l,
	}, nil
}

// guard runs fn through the breaker and maps an open breaker to a
// transport failure.
func guard[T any](c *Client, fn func() (T, error)) (T, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		v, err := fn()
		return v, err
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %v", ledger.ErrTransport, err)
		}
		return zero, err
	}
	return out.(T), nil
}

func (c *Client) LatestBlockhash(ctx context.Context) (string, error) {
	return guard(c, func() (string, error) {
		res, err := c.rpc.GetLatestBlockhash(ctx)
		if err != nil {
			return "", fmt.Errorf("%w: get latest blockhash: %v", ledger.ErrTransport, err)
		}
		return res.Blockhash, nil
	})
}

func (c *Client) GetAccount(ctx context.Context, addr common.PublicKey) (ledger.Account, error) {
	return guard(c, func() (ledger.Account, error) {
		info, err := c.rpc.GetAccountInfo(ctx, addr.ToBase58())
		if err != nil {
			return ledger.Account{}, fmt.Errorf("%w: get account %s: %v", ledger.ErrTransport, addr.ToBase58(), err)
		}
		// The client returns a zero value for accounts that do not exist.
		if info.Owner == (common.PublicKey{}) && info.Lamports == 0 {
			return ledger.Account{}, nil
		}
		return ledger.Account{
			Exists:   true,
			Lamports: info.Lamports,
			Owner:    info.Owner,
			Data:     info.Data,
		}, nil
	})
}

func (c *Client) MinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error) {
	return guard(c, func() (uint64, error) {
		v, err := c.rpc.GetMinimumBalanceForRentExemption(ctx, size)
		if err != nil {
			return 0, fmt.Errorf("%w: rent exemption: %v", ledger.ErrTransport, err)
		}
		return v, nil
	})
}

func (c *Client) SendTransaction(ctx context.Context, tx types.Transaction) (string, error) {
	raw, err := tx.Serialize()
	if err != nil {
		return "", fmt.Errorf("solana: serialize transaction: %w", err)
	}
	return guard(c, func() (string, error) {
		var sig string
		err := c.call(ctx, &sig, "sendTransaction",
			base64.StdEncoding.EncodeToString(raw),
			map[string]any{
				"encoding":            "base64",
				"preflightCommitment": string(c.commitment),
				"maxRetries":          0,
			},
		)
		return sig, err
	})
}

type simulateResult struct {
	Value struct {
		Err           json.RawMessage `json:"err"`
		Logs          []string        `json:"logs"`
		UnitsConsumed uint64          `json:"unitsConsumed"`
	} `json:"value"`
}

func (c *Client) SimulateTransaction(ctx context.Context, tx types.Transaction) (ledger.Simulation, error) {
	raw, err := tx.Serialize()
	if err != nil {
		return ledger.Simulation{}, fmt.Errorf("solana: serialize transaction: %w", err)
	}
	return guard(c, func() (ledger.Simulation, error) {
		var res simulateResult
		err := c.call(ctx, &res, "simulateTransaction",
			base64.StdEncoding.EncodeToString(raw),
			map[string]any{
				"encoding":               "base64",
				"sigVerify":              false,
				"replaceRecentBlockhash": true,
				"commitment":             string(c.commitment),
			},
		)
		if err != nil {
			return ledger.Simulation{}, err
		}
		return ledger.Simulation{
			UnitsConsumed: res.Value.UnitsConsumed,
			Err:           rawErr(res.Value.Err),
			Logs:          res.Value.Logs,
		}, nil
	})
}

type statusesResult struct {
	Value []*struct {
		Slot               uint64          `json:"slot"`
		Err                json.RawMessage `json:"err"`
		ConfirmationStatus string          `json:"confirmationStatus"`
	} `json:"value"`
}

func (c *Client) SignatureStatuses(ctx context.Context, signatures []string) ([]*ledger.SignatureStatus, error) {
	return guard(c, func() ([]*ledger.SignatureStatus, error) {
		var res statusesResult
		err := c.call(ctx, &res, "getSignatureStatuses", signatures,
			map[string]any{"searchTransactionHistory": true})
		if err != nil {
			return nil, err
		}
		out := make([]*ledger.SignatureStatus, len(signatures))
		for i := range out {
			if i >= len(res.Value) || res.Value[i] == nil {
				continue
			}
			v := res.Value[i]
			out[i] = &ledger.SignatureStatus{
				Slot:               v.Slot,
				ConfirmationStatus: ledger.Commitment(v.ConfirmationStatus),
				Err:                rawErr(v.Err),
			}
		}
		return out, nil
	})
}

func (c *Client) RecentPrioritizationFees(ctx context.Context, accounts []common.PublicKey) ([]uint64, error) {
	addrs := make([]string, len(accounts))
	for i, a := range accounts {
		addrs[i] = a.ToBase58()
	}
	return guard(c, func() ([]uint64, error) {
		var res []struct {
			Slot              uint64 `json:"slot"`
			PrioritizationFee uint64 `json:"prioritizationFee"`
		}
		if err := c.call(ctx, &res, "getRecentPrioritizationFees", addrs); err != nil {
			return nil, err
		}
		fees := make([]uint64, len(res))
		for i, r := range res {
			fees[i] = r.PrioritizationFee
		}
		return fees, nil
	})
}

// rawErr renders a JSON error value, treating null as success.
func rawErr(m json.RawMessage) string {
	if len(m) == 0 || string(m) == "null" {
		return ""
	}
	return string(m)
}
