// Package vault custodies one collateral mint for one proposal. It creates a
// conditional mint per outcome branch, holds deposits in an escrow account
// controlled by a key generated for this vault alone, and drives the
// Uninitialized -> Active -> Finalized lifecycle.
//
// Three parties sign vault transactions. The end user signs deposits, burns
// and pays fees. The market authority signs mints and the final mint
// authority revocation. The escrow key signs only transfers out of escrow.
// Every build returns an unsigned transaction; the matching execute call
// re-checks the lifecycle state and the transaction's instructions before
// adding the vault-side signature.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/types"

	"github.com/alanyoungcy/condvault/internal/domain"
	"github.com/alanyoungcy/condvault/internal/token"
)

// Executor builds and submits transactions. *execution.Service implements it.
type Executor interface {
	Build(ctx context.Context, feePayer common.PublicKey, ixs []types.Instruction) (types.Transaction, error)
	Execute(ctx context.Context, tx types.Transaction, signers ...types.Account) (domain.ExecutionResult, error)
}

// Ledger is the read side the vault needs.
type Ledger interface {
	token.AccountFetcher
	MinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error)
}

// StateSource returns the persisted lifecycle state of a vault so a process
// can observe a finalization performed by another.
type StateSource interface {
	VaultState(ctx context.Context, id string) (domain.VaultState, domain.Outcome, error)
}

// Config identifies a vault.
type Config struct {
	ID          string
	ProposalID  string
	Leg         domain.Leg
	RegularMint common.PublicKey
	Decimals    uint8
	// Branches is the number of outcome branches. Defaults to 2.
	Branches int
}

// Vault is safe for concurrent use. Executes hold a read lock for the whole
// submission so Finalize cannot interleave with an in-flight split.
type Vault struct {
	mu sync.RWMutex

	cfg       Config
	exec      Executor
	ledger    Ledger
	authority types.Account
	escrow    types.Account
	source    StateSource
	logger    *slog.Logger

	escrowAccount common.PublicKey
	mints         []common.PublicKey
	state         domain.VaultState
	outcome       domain.Outcome

	// set when an initialize transaction was submitted but not confirmed
	pendingMints []common.PublicKey
	pendingSig   string
}

// New creates an uninitialized vault with a fresh escrow identity.
func New(cfg Config, authority types.Account, exec Executor, l Ledger, logger *slog.Logger) (*Vault, error) {
	return newVault(cfg, authority, types.NewAccount(), exec, l, logger)
}

func newVault(cfg Config, authority, escrow types.Account, exec Executor, l Ledger, logger *slog.Logger) (*Vault, error) {
	if cfg.Branches == 0 {
		cfg.Branches = 2
	}
	if cfg.Branches < 2 {
		return nil, fmt.Errorf("vault: %w: need at least two branches, got %d", domain.ErrInvalidBranch, cfg.Branches)
	}
	if cfg.ID == "" {
		return nil, fmt.Errorf("vault: id is required")
	}
	if cfg.RegularMint == (common.PublicKey{}) {
		return nil, fmt.Errorf("vault: %w: regular mint is required", domain.ErrInvalidAddress)
	}
	escrowAccount, err := token.AssociatedAddress(escrow.PublicKey, cfg.RegularMint)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	return &Vault{
		cfg:           cfg,
		exec:          exec,
		ledger:        l,
		authority:     authority,
		escrow:        escrow,
		logger:        logger.With(slog.String("component", "vault"), slog.String("vault_id", cfg.ID)),
		escrowAccount: escrowAccount,
		state:         domain.VaultUninitialized,
	}, nil
}

// SetStateSource installs the persisted state reader consulted before every
// execute.
func (v *Vault) SetStateSource(src StateSource) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.source = src
}

// ID returns the vault identifier.
func (v *Vault) ID() string { return v.cfg.ID }

// ProposalID returns the owning proposal.
func (v *Vault) ProposalID() string { return v.cfg.ProposalID }

// Leg reports whether this is the base or quote vault.
func (v *Vault) Leg() domain.Leg { return v.cfg.Leg }

// RegularMint returns the collateral mint.
func (v *Vault) RegularMint() common.PublicKey { return v.cfg.RegularMint }

// Decimals returns the decimals shared by the collateral and branch mints.
func (v *Vault) Decimals() uint8 { return v.cfg.Decimals }

// Branches returns the number of outcome branches.
func (v *Vault) Branches() int { return v.cfg.Branches }

// Escrow returns the escrow owner that co-signs withdrawals.
func (v *Vault) Escrow() common.PublicKey { return v.escrow.PublicKey }

// EscrowAccount returns the escrow's collateral token account.
func (v *Vault) EscrowAccount() common.PublicKey { return v.escrowAccount }

// State returns the current lifecycle state.
func (v *Vault) State() domain.VaultState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

// Outcome returns the resolved outcome, pending until finalized.
func (v *Vault) Outcome() domain.Outcome {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.outcome
}

// ConditionalMints returns the branch mints, empty before initialization.
func (v *Vault) ConditionalMints() []common.PublicKey {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]common.PublicKey, len(v.mints))
	copy(out, v.mints)
	return out
}

// refresh adopts a later persisted state. Execute paths call it before
// signing so a vault finalized elsewhere is never co-signed against.
func (v *Vault) refresh(ctx context.Context) error {
	v.mu.RLock()
	src := v.source
	v.mu.RUnlock()
	if src == nil {
		return nil
	}
	st, outcome, err := src.VaultState(ctx, v.cfg.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("vault: reload state: %w", err)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if st.After(v.state) && len(v.mints) > 0 {
		v.logger.InfoContext(ctx, "adopting persisted vault state",
			slog.String("from", string(v.state)),
			slog.String("to", string(st)),
		)
		v.state = st
		v.outcome = outcome
	}
	return nil
}

// requireActive must be called with v.mu held.
func (v *Vault) requireActive() error {
	switch v.state {
	case domain.VaultActive:
		return nil
	case domain.VaultFinalized:
		return domain.ErrVaultFinalized
	default:
		return domain.ErrVaultNotInitialized
	}
}

func (v *Vault) branchMint(branch int) (common.PublicKey, error) {
	if branch < 0 || branch >= len(v.mints) {
		return common.PublicKey{}, fmt.Errorf("%w: %d", domain.ErrInvalidBranch, branch)
	}
	return v.mints[branch], nil
}
