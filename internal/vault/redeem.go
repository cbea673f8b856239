package vault

import (
	"context"
	"fmt"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/types"

	"github.com/alanyoungcy/condvault/internal/domain"
	"github.com/alanyoungcy/condvault/internal/token"
)

// BuildRedeemWinningTokens returns an unsigned transaction that burns the
// user's whole balance of the winning conditional token, pays the same
// amount of collateral from escrow and closes the emptied account. Losing
// tokens are left untouched.
func (v *Vault) BuildRedeemWinningTokens(ctx context.Context, user common.PublicKey) (types.Transaction, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.state != domain.VaultFinalized {
		return types.Transaction{}, fmt.Errorf("vault: redeem %s: %w", v.cfg.ID, domain.ErrVaultNotFinalized)
	}
	if v.isVaultKey(user) {
		return types.Transaction{}, fmt.Errorf("vault: redeem %s: %w: vault key as user", v.cfg.ID, domain.ErrInvalidAddress)
	}
	winning, err := v.branchMint(v.outcome.Branch())
	if err != nil {
		return types.Transaction{}, fmt.Errorf("vault: redeem %s: %w", v.cfg.ID, err)
	}
	account, err := token.AssociatedAddress(user, winning)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("vault: redeem %s: %w", v.cfg.ID, err)
	}
	amount, err := token.Balance(ctx, v.ledger, account)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("vault: redeem %s: %w", v.cfg.ID, err)
	}
	if amount == 0 {
		return types.Transaction{}, fmt.Errorf("vault: redeem %s: %w", v.cfg.ID, domain.ErrNoWinningTokens)
	}

	createDest, dest, err := token.CreateAssociatedIdempotent(user, user, v.cfg.RegularMint)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("vault: redeem %s: %w", v.cfg.ID, err)
	}
	ixs := []types.Instruction{
		createDest,
		token.Burn(account, winning, user, amount),
		token.Transfer(v.escrowAccount, dest, v.escrow.PublicKey, amount),
		token.CloseAccount(account, user, user),
	}
	tx, err := v.exec.Build(ctx, user, ixs)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("vault: redeem %s: %w", v.cfg.ID, err)
	}
	return tx, nil
}

// ExecuteRedeem co-signs the escrow payout of a user-signed redemption and
// submits it.
func (v *Vault) ExecuteRedeem(ctx context.Context, tx types.Transaction) (domain.ExecutionResult, error) {
	_, res, err := v.Execute(ctx, domain.OpRedeem, tx)
	return res, err
}
