package vault

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/blocto/solana-go-sdk/types"

	"github.com/alanyoungcy/condvault/internal/domain"
	"github.com/alanyoungcy/condvault/internal/token"
)

// KeySealer encrypts the escrow key for storage.
type KeySealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// Snapshot captures the persisted form of the vault.
func (v *Vault) Snapshot(sealer KeySealer) (domain.VaultSnapshot, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	sealed, err := sealer.Seal(v.escrow.PrivateKey)
	if err != nil {
		return domain.VaultSnapshot{}, fmt.Errorf("vault: seal escrow key %s: %w", v.cfg.ID, err)
	}
	outcome := domain.ProposalPending
	if v.state == domain.VaultFinalized {
		outcome = v.outcome.Status()
	}
	mints, initSig := v.mints, ""
	if v.state == domain.VaultUninitialized {
		mints, initSig = v.pendingMints, v.pendingSig
	}
	return domain.VaultSnapshot{
		ID:               v.cfg.ID,
		ProposalID:       v.cfg.ProposalID,
		Leg:              v.cfg.Leg,
		RegularMint:      v.cfg.RegularMint.ToBase58(),
		Decimals:         v.cfg.Decimals,
		ConditionalMints: token.Base58(mints),
		InitSignature:    initSig,
		Escrow:           v.escrow.PublicKey.ToBase58(),
		EscrowAccount:    v.escrowAccount.ToBase58(),
		EscrowKeySealed:  sealed,
		State:            v.state,
		Outcome:          outcome,
		UpdatedAt:        time.Now().UTC(),
	}, nil
}

// Restore rebuilds a vault from a snapshot.
func Restore(snap domain.VaultSnapshot, sealer KeySealer, authority types.Account, exec Executor, l Ledger, logger *slog.Logger) (*Vault, error) {
	raw, err := sealer.Open(snap.EscrowKeySealed)
	if err != nil {
		return nil, fmt.Errorf("vault: open escrow key %s: %w", snap.ID, err)
	}
	escrow, err := types.AccountFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("vault: escrow key %s: %w", snap.ID, err)
	}
	if escrow.PublicKey.ToBase58() != snap.Escrow {
		return nil, fmt.Errorf("vault: escrow key %s does not match %s", snap.ID, snap.Escrow)
	}
	regular, err := token.ParsePublicKey(snap.RegularMint)
	if err != nil {
		return nil, fmt.Errorf("vault: restore %s: %w", snap.ID, err)
	}
	mints, err := token.ParsePublicKeys(snap.ConditionalMints)
	if err != nil {
		return nil, fmt.Errorf("vault: restore %s: %w", snap.ID, err)
	}

	branches := len(mints)
	if branches == 0 {
		branches = 2
	}
	v, err := newVault(Config{
		ID:          snap.ID,
		ProposalID:  snap.ProposalID,
		Leg:         snap.Leg,
		RegularMint: regular,
		Decimals:    snap.Decimals,
		Branches:    branches,
	}, authority, escrow, exec, l, logger)
	if err != nil {
		return nil, err
	}

	switch snap.State {
	case domain.VaultUninitialized:
		// mints of an unconfirmed initialize, adopted by the next Initialize
		// if they landed
		if len(mints) > 0 {
			v.pendingMints = mints
			v.pendingSig = snap.InitSignature
		}
		return v, nil
	case domain.VaultActive, domain.VaultFinalized:
		if len(mints) == 0 {
			return nil, fmt.Errorf("vault: restore %s: %s vault without mints", snap.ID, snap.State)
		}
	default:
		return nil, fmt.Errorf("vault: restore %s: unknown state %q", snap.ID, snap.State)
	}
	v.mints = mints
	v.state = snap.State
	if snap.State == domain.VaultFinalized {
		v.outcome = domain.OutcomeFromStatus(snap.Outcome)
		if !v.outcome.IsResolved() {
			return nil, fmt.Errorf("vault: restore %s: %w: finalized with %q", snap.ID, domain.ErrInvalidOutcome, snap.Outcome)
		}
	}
	return v, nil
}
