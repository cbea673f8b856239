// Package ledger defines the narrow view of the Solana RPC surface that the
// settlement core depends on. The production adapter lives in
// ledger/solana; ledger/ledgertest provides an in-memory ledger for tests.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/types"
)

// Commitment is a confirmation level.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

func (c Commitment) rank() int {
	switch c {
	case CommitmentProcessed:
		return 1
	case CommitmentConfirmed:
		return 2
	case CommitmentFinalized:
		return 3
	default:
		return 0
	}
}

// Reached reports whether c satisfies target.
func (c Commitment) Reached(target Commitment) bool {
	return c.rank() > 0 && c.rank() >= target.rank()
}

// ParseCommitment validates a commitment name.
func ParseCommitment(s string) (Commitment, error) {
	c := Commitment(s)
	if c.rank() == 0 {
		return "", fmt.Errorf("ledger: unknown commitment %q", s)
	}
	return c, nil
}

// Account is the raw state of a ledger account. Exists is false when the
// address has never been funded.
type Account struct {
	Exists   bool
	Lamports uint64
	Owner    common.PublicKey
	Data     []byte
}

// Simulation is the outcome of a dry-run.
type Simulation struct {
	UnitsConsumed uint64
	Err           string
	Logs          []string
}

// SignatureStatus is the confirmation state of a submitted transaction.
// A nil *SignatureStatus means the ledger has not seen the signature.
type SignatureStatus struct {
	Slot               uint64
	ConfirmationStatus Commitment
	Err                string
}

// Client is everything the core needs from the ledger.
type Client interface {
	LatestBlockhash(ctx context.Context) (string, error)
	GetAccount(ctx context.Context, addr common.PublicKey) (Account, error)
	MinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error)
	SimulateTransaction(ctx context.Context, tx types.Transaction) (Simulation, error)
	SendTransaction(ctx context.Context, tx types.Transaction) (string, error)
	SignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error)
	RecentPrioritizationFees(ctx context.Context, accounts []common.PublicKey) ([]uint64, error)
}

// ErrTransport marks failures below the JSON-RPC layer: timeouts, refused
// connections, 5xx responses. Only these are safe to retry.
var ErrTransport = errors.New("ledger: transport failure")

// RPCError is an error answered by the node itself.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Codes the node returns while it is behind or overloaded.
const (
	codeNodeUnhealthy = -32005
	codeBlockNotAvail = -32004
)

// IsTransient reports whether err is a network-level failure that may
// succeed when retried with the same input.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code == codeNodeUnhealthy || rpcErr.Code == codeBlockNotAvail
	}
	return errors.Is(err, ErrTransport)
}
