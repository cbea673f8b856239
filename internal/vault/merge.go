package vault

import (
	"context"
	"fmt"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/types"

	"github.com/alanyoungcy/condvault/internal/domain"
	"github.com/alanyoungcy/condvault/internal/token"
)

// BuildMerge returns an unsigned transaction that burns amount of every
// conditional token held by user and pays amount of collateral back from
// escrow. Branch accounts emptied by the burn are closed to return rent.
func (v *Vault) BuildMerge(ctx context.Context, user common.PublicKey, amount uint64) (types.Transaction, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if err := v.requireActive(); err != nil {
		return types.Transaction{}, fmt.Errorf("vault: merge %s: %w", v.cfg.ID, err)
	}
	if amount == 0 {
		return types.Transaction{}, fmt.Errorf("vault: merge %s: %w", v.cfg.ID, domain.ErrInvalidAmount)
	}
	if v.isVaultKey(user) {
		return types.Transaction{}, fmt.Errorf("vault: merge %s: %w: vault key as user", v.cfg.ID, domain.ErrInvalidAddress)
	}

	accounts := make([]common.PublicKey, len(v.mints))
	balances := make([]uint64, len(v.mints))
	for i, mint := range v.mints {
		ata, err := token.AssociatedAddress(user, mint)
		if err != nil {
			return types.Transaction{}, fmt.Errorf("vault: merge %s: %w", v.cfg.ID, err)
		}
		bal, err := token.Balance(ctx, v.ledger, ata)
		if err != nil {
			return types.Transaction{}, fmt.Errorf("vault: merge %s: %w", v.cfg.ID, err)
		}
		if bal < amount {
			return types.Transaction{}, fmt.Errorf("vault: merge %s: %w", v.cfg.ID,
				&domain.InsufficientBranchBalanceError{Branch: i, Requested: amount, Available: bal})
		}
		accounts[i] = ata
		balances[i] = bal
	}

	createDest, dest, err := token.CreateAssociatedIdempotent(user, user, v.cfg.RegularMint)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("vault: merge %s: %w", v.cfg.ID, err)
	}
	ixs := []types.Instruction{createDest}
	for i, mint := range v.mints {
		ixs = append(ixs, token.Burn(accounts[i], mint, user, amount))
	}
	ixs = append(ixs, token.Transfer(v.escrowAccount, dest, v.escrow.PublicKey, amount))
	for i := range v.mints {
		if balances[i] == amount {
			ixs = append(ixs, token.CloseAccount(accounts[i], user, user))
		}
	}

	tx, err := v.exec.Build(ctx, user, ixs)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("vault: merge %s: %w", v.cfg.ID, err)
	}
	return tx, nil
}

// ExecuteMerge co-signs the escrow payout of a user-signed merge and
// submits it.
func (v *Vault) ExecuteMerge(ctx context.Context, tx types.Transaction) (domain.ExecutionResult, error) {
	_, res, err := v.Execute(ctx, domain.OpMerge, tx)
	return res, err
}
