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

// Initialize creates one conditional mint per branch, with the market
// authority as mint authority, and the escrow's collateral account. It is
// paid and signed by the authority and moves the vault to Active once the
// transaction is confirmed.
//
// If the transaction is submitted but its fate is unknown the vault stays
// Uninitialized and remembers the mints; the next call adopts them if they
// exist on the ledger instead of creating new ones.
func (v *Vault) Initialize(ctx context.Context) (domain.ExecutionResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != domain.VaultUninitialized {
		return domain.ExecutionResult{}, fmt.Errorf("vault: initialize %s: %w", v.cfg.ID, domain.ErrAlreadyInitialized)
	}

	if len(v.pendingMints) > 0 {
		landed, err := v.mintsExist(ctx, v.pendingMints)
		if err != nil {
			return domain.ExecutionResult{}, fmt.Errorf("vault: initialize %s: %w", v.cfg.ID, err)
		}
		if landed {
			v.mints = v.pendingMints
			v.pendingMints = nil
			v.state = domain.VaultActive
			v.logger.InfoContext(ctx, "adopted mints from earlier initialize", slog.String("signature", v.pendingSig))
			return domain.ExecutionResult{Signature: v.pendingSig, Status: domain.ExecutionSuccess}, nil
		}
	}

	rent, err := v.ledger.MinimumBalanceForRentExemption(ctx, token.MintSize)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("vault: initialize %s: mint rent: %w", v.cfg.ID, err)
	}

	payer := v.authority.PublicKey
	mintKeys := make([]types.Account, v.cfg.Branches)
	mints := make([]common.PublicKey, v.cfg.Branches)
	var ixs []types.Instruction
	for i := range mintKeys {
		mintKeys[i] = types.NewAccount()
		mints[i] = mintKeys[i].PublicKey
		ixs = append(ixs, token.CreateMint(payer, mints[i], v.authority.PublicKey, v.cfg.Decimals, rent)...)
	}
	createEscrow, escrowAccount, err := token.CreateAssociatedIdempotent(payer, v.escrow.PublicKey, v.cfg.RegularMint)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("vault: initialize %s: %w", v.cfg.ID, err)
	}
	if escrowAccount != v.escrowAccount {
		return domain.ExecutionResult{}, fmt.Errorf("vault: initialize %s: escrow account mismatch", v.cfg.ID)
	}
	ixs = append(ixs, createEscrow)

	tx, err := v.exec.Build(ctx, payer, ixs)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("vault: initialize %s: %w", v.cfg.ID, err)
	}
	signers := append([]types.Account{v.authority}, mintKeys...)
	res, err := v.exec.Execute(ctx, tx, signers...)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("vault: initialize %s: %w", v.cfg.ID, err)
	}

	switch res.Status {
	case domain.ExecutionSuccess:
		v.mints = mints
		v.pendingMints = nil
		v.state = domain.VaultActive
		v.logger.InfoContext(ctx, "vault initialized",
			slog.String("signature", res.Signature),
			slog.Any("mints", token.Base58(mints)),
		)
	case domain.ExecutionUnconfirmed:
		v.pendingMints = mints
		v.pendingSig = res.Signature
		v.logger.WarnContext(ctx, "vault initialize unconfirmed", slog.String("signature", res.Signature))
	default:
		v.logger.WarnContext(ctx, "vault initialize failed",
			slog.String("signature", res.Signature),
			slog.String("error", res.Error),
		)
	}
	return res, nil
}

func (v *Vault) mintsExist(ctx context.Context, mints []common.PublicKey) (bool, error) {
	for _, m := range mints {
		info, err := token.GetMintInfo(ctx, v.ledger, m)
		if err != nil {
			return false, err
		}
		if info == nil || !info.IsInitialized {
			return false, nil
		}
	}
	return true, nil
}

// Finalize records the winning branch and permanently revokes the mint
// authority of every conditional mint. The vault becomes Finalized only
// after the revocation is confirmed (or already observed on the ledger), so
// a failed or unconfirmed attempt can be repeated safely.
func (v *Vault) Finalize(ctx context.Context, outcome domain.Outcome) (domain.ExecutionResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch v.state {
	case domain.VaultUninitialized:
		return domain.ExecutionResult{}, fmt.Errorf("vault: finalize %s: %w", v.cfg.ID, domain.ErrNotInitialized)
	case domain.VaultFinalized:
		return domain.ExecutionResult{}, fmt.Errorf("vault: finalize %s: %w", v.cfg.ID, domain.ErrAlreadyFinalized)
	}
	if !outcome.IsResolved() || outcome.Branch() >= len(v.mints) {
		return domain.ExecutionResult{}, fmt.Errorf("vault: finalize %s: %w: %s", v.cfg.ID, domain.ErrInvalidOutcome, outcome)
	}

	var ixs []types.Instruction
	for _, m := range v.mints {
		info, err := token.GetMintInfo(ctx, v.ledger, m)
		if err != nil {
			return domain.ExecutionResult{}, fmt.Errorf("vault: finalize %s: %w", v.cfg.ID, err)
		}
		if info == nil {
			return domain.ExecutionResult{}, fmt.Errorf("vault: finalize %s: mint %s missing", v.cfg.ID, m.ToBase58())
		}
		if info.Authority != nil {
			ixs = append(ixs, token.RevokeMintAuthority(m, v.authority.PublicKey))
		}
	}

	if len(ixs) == 0 {
		v.state = domain.VaultFinalized
		v.outcome = outcome
		v.logger.InfoContext(ctx, "vault finalized; authorities already revoked",
			slog.String("outcome", outcome.String()))
		return domain.ExecutionResult{Status: domain.ExecutionSuccess}, nil
	}

	tx, err := v.exec.Build(ctx, v.authority.PublicKey, ixs)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("vault: finalize %s: %w", v.cfg.ID, err)
	}
	res, err := v.exec.Execute(ctx, tx, v.authority)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("vault: finalize %s: %w", v.cfg.ID, err)
	}
	if res.OK() {
		v.state = domain.VaultFinalized
		v.outcome = outcome
		v.logger.InfoContext(ctx, "vault finalized",
			slog.String("signature", res.Signature),
			slog.String("outcome", outcome.String()),
		)
	} else {
		v.logger.WarnContext(ctx, "vault finalize not confirmed",
			slog.String("signature", res.Signature),
			slog.String("status", string(res.Status)),
			slog.String("error", res.Error),
		)
	}
	return res, nil
}
