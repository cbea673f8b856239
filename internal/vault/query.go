package vault

import (
	"context"
	"fmt"

	"github.com/blocto/solana-go-sdk/common"

	"github.com/alanyoungcy/condvault/internal/domain"
	"github.com/alanyoungcy/condvault/internal/token"
)

// Balances is a user's position in one vault.
type Balances struct {
	Collateral uint64   `json:"collateral"`
	Branches   []uint64 `json:"branches"`
}

// Balance returns the user's collateral balance. Missing accounts read as
// zero.
func (v *Vault) Balance(ctx context.Context, user common.PublicKey) (uint64, error) {
	bal, err := token.OwnerBalance(ctx, v.ledger, user, v.cfg.RegularMint)
	if err != nil {
		return 0, fmt.Errorf("vault: balance %s: %w", v.cfg.ID, err)
	}
	return bal, nil
}

// BranchBalance returns the user's balance of one conditional token. Before
// initialization every branch reads as zero.
func (v *Vault) BranchBalance(ctx context.Context, user common.PublicKey, branch int) (uint64, error) {
	v.mu.RLock()
	uninit := len(v.mints) == 0
	mint, err := v.branchMint(branch)
	v.mu.RUnlock()

	if uninit {
		if branch < 0 || branch >= v.cfg.Branches {
			return 0, fmt.Errorf("vault: branch balance %s: %w: %d", v.cfg.ID, domain.ErrInvalidBranch, branch)
		}
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("vault: branch balance %s: %w", v.cfg.ID, err)
	}
	bal, err := token.OwnerBalance(ctx, v.ledger, user, mint)
	if err != nil {
		return 0, fmt.Errorf("vault: branch balance %s: %w", v.cfg.ID, err)
	}
	return bal, nil
}

// UserBalances returns collateral and every branch balance for user.
func (v *Vault) UserBalances(ctx context.Context, user common.PublicKey) (Balances, error) {
	col, err := v.Balance(ctx, user)
	if err != nil {
		return Balances{}, err
	}
	out := Balances{Collateral: col, Branches: make([]uint64, v.cfg.Branches)}
	for i := range out.Branches {
		if out.Branches[i], err = v.BranchBalance(ctx, user, i); err != nil {
			return Balances{}, err
		}
	}
	return out, nil
}

// TotalSupply returns the collateral held in escrow.
func (v *Vault) TotalSupply(ctx context.Context) (uint64, error) {
	bal, err := token.Balance(ctx, v.ledger, v.escrowAccount)
	if err != nil {
		return 0, fmt.Errorf("vault: total supply %s: %w", v.cfg.ID, err)
	}
	return bal, nil
}

// BranchTotalSupply returns the outstanding supply of one conditional mint.
func (v *Vault) BranchTotalSupply(ctx context.Context, branch int) (uint64, error) {
	v.mu.RLock()
	uninit := len(v.mints) == 0
	mint, err := v.branchMint(branch)
	v.mu.RUnlock()
	if uninit && branch >= 0 && branch < v.cfg.Branches {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("vault: branch supply %s: %w", v.cfg.ID, err)
	}
	supply, err := token.Supply(ctx, v.ledger, mint)
	if err != nil {
		return 0, fmt.Errorf("vault: branch supply %s: %w", v.cfg.ID, err)
	}
	return supply, nil
}
