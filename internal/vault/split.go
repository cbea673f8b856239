package vault

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/types"

	"github.com/alanyoungcy/condvault/internal/domain"
	"github.com/alanyoungcy/condvault/internal/token"
)

// BuildSplit returns an unsigned transaction that deposits amount of
// collateral from user into escrow and mints amount of every conditional
// token to user. The user pays fees and signs the deposit; the authority
// signs the mints at execute time.
func (v *Vault) BuildSplit(ctx context.Context, user common.PublicKey, amount uint64) (types.Transaction, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if err := v.requireActive(); err != nil {
		return types.Transaction{}, fmt.Errorf("vault: split %s: %w", v.cfg.ID, err)
	}
	if amount == 0 {
		return types.Transaction{}, fmt.Errorf("vault: split %s: %w", v.cfg.ID, domain.ErrInvalidAmount)
	}
	if v.isVaultKey(user) {
		return types.Transaction{}, fmt.Errorf("vault: split %s: %w: vault key as user", v.cfg.ID, domain.ErrInvalidAddress)
	}

	source, err := token.AssociatedAddress(user, v.cfg.RegularMint)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("vault: split %s: %w", v.cfg.ID, err)
	}
	have, err := token.Balance(ctx, v.ledger, source)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("vault: split %s: %w", v.cfg.ID, err)
	}
	if have < amount {
		return types.Transaction{}, fmt.Errorf("vault: split %s: %w", v.cfg.ID,
			&domain.InsufficientBalanceError{Requested: amount, Available: have})
	}

	ixs := make([]types.Instruction, 0, 2*len(v.mints)+1)
	dests := make([]common.PublicKey, len(v.mints))
	for i, mint := range v.mints {
		create, ata, err := token.CreateAssociatedIdempotent(user, user, mint)
		if err != nil {
			return types.Transaction{}, fmt.Errorf("vault: split %s: %w", v.cfg.ID, err)
		}
		ixs = append(ixs, create)
		dests[i] = ata
	}
	ixs = append(ixs, token.Transfer(source, v.escrowAccount, user, amount))
	for i, mint := range v.mints {
		ixs = append(ixs, token.MintTo(mint, dests[i], v.authority.PublicKey, amount))
	}

	tx, err := v.exec.Build(ctx, user, ixs)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("vault: split %s: %w", v.cfg.ID, err)
	}
	return tx, nil
}

// ExecuteSplit co-signs a user-signed split as mint authority and submits
// it. The vault state is re-checked at this point; a vault finalized since
// the build refuses.
func (v *Vault) ExecuteSplit(ctx context.Context, tx types.Transaction) (domain.ExecutionResult, error) {
	_, res, err := v.Execute(ctx, domain.OpSplit, tx)
	return res, err
}

// Execute validates and co-signs a client transaction for kind, submits it,
// and reports what it did. The read lock is held until submission
// completes so Finalize waits for in-flight operations.
func (v *Vault) Execute(ctx context.Context, kind domain.OperationKind, tx types.Transaction) (Intent, domain.ExecutionResult, error) {
	if err := v.refresh(ctx); err != nil {
		return Intent{}, domain.ExecutionResult{}, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	var (
		intent Intent
		signer types.Account
		err    error
	)
	switch kind {
	case domain.OpSplit:
		if err = v.requireActive(); err == nil {
			intent, err = v.inspectSplit(tx)
		}
		signer = v.authority
	case domain.OpMerge:
		if err = v.requireActive(); err == nil {
			intent, err = v.inspectMerge(tx)
		}
		signer = v.escrow
	case domain.OpRedeem:
		if v.state != domain.VaultFinalized {
			err = domain.ErrVaultNotFinalized
		} else {
			intent, err = v.inspectRedeem(tx)
		}
		signer = v.escrow
	default:
		err = fmt.Errorf("%w: operation %q cannot be executed by clients", domain.ErrInvalidTransaction, kind)
	}
	if err != nil {
		return Intent{}, domain.ExecutionResult{}, fmt.Errorf("vault: %s %s: %w", kind, v.cfg.ID, err)
	}

	res, err := v.exec.Execute(ctx, tx, signer)
	if err != nil {
		return intent, domain.ExecutionResult{}, fmt.Errorf("vault: %s %s: %w", kind, v.cfg.ID, err)
	}
	v.logger.InfoContext(ctx, "vault operation executed",
		slog.String("kind", string(kind)),
		slog.String("user", intent.User.ToBase58()),
		slog.Uint64("amount", intent.Amount),
		slog.String("signature", res.Signature),
		slog.String("status", string(res.Status)),
	)
	return intent, res, nil
}
