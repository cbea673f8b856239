package vault

import (
	"fmt"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/types"

	"github.com/alanyoungcy/condvault/internal/domain"
	"github.com/alanyoungcy/condvault/internal/ledger"
	"github.com/alanyoungcy/condvault/internal/token"
)

// Intent is what a client-supplied transaction does to the vault, recovered
// from its instructions before the vault co-signs it.
type Intent struct {
	Kind   domain.OperationKind
	User   common.PublicKey
	Amount uint64
}

type inspection struct {
	instructions []types.Instruction
	transfers    []token.Op
	mints        []token.Op
	burns        []token.Op
	closes       []token.Op
	feePayer     common.PublicKey
	signers      []common.PublicKey
}

func rejectf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{domain.ErrInvalidTransaction}, args...)...)
}

// decompose checks the structural rules shared by every operation: only
// compute budget, associated account and token instructions, no vault key
// paying fees or funding accounts, and only the token operations the vault
// builds. Must be called with v.mu held.
func (v *Vault) decompose(tx types.Transaction) (*inspection, error) {
	ixs, err := ledger.Decompile(tx.Message)
	if err != nil {
		return nil, rejectf("%v", err)
	}
	if len(tx.Message.Accounts) == 0 {
		return nil, rejectf("empty message")
	}
	in := &inspection{
		instructions: ixs,
		feePayer:     tx.Message.Accounts[0],
		signers:      ledger.RequiredSigners(tx.Message),
	}
	if v.isVaultKey(in.feePayer) {
		return nil, rejectf("vault key cannot pay fees")
	}

	for i, ix := range ixs {
		switch ix.ProgramID {
		case common.ComputeBudgetProgramID:
		case common.SPLAssociatedTokenAccountProgramID:
			if len(ix.Accounts) == 0 || v.isVaultKey(ix.Accounts[0].PubKey) {
				return nil, rejectf("instruction %d: vault key cannot fund accounts", i)
			}
		case common.TokenProgramID:
			op, ok := token.Decode(ix)
			if !ok {
				return nil, rejectf("instruction %d: unsupported token instruction", i)
			}
			switch op.Kind {
			case token.OpTransfer:
				in.transfers = append(in.transfers, op)
			case token.OpMintTo:
				in.mints = append(in.mints, op)
			case token.OpBurn:
				in.burns = append(in.burns, op)
			case token.OpClose:
				in.closes = append(in.closes, op)
			default:
				return nil, rejectf("instruction %d: token instruction not allowed", i)
			}
		default:
			return nil, rejectf("instruction %d: program %s not allowed", i, ix.ProgramID.ToBase58())
		}
	}
	return in, nil
}

func (v *Vault) isVaultKey(k common.PublicKey) bool {
	return k == v.authority.PublicKey || k == v.escrow.PublicKey
}

// onlyVaultSigner checks that the single vault key the operation needs is
// required and the other is not.
func (in *inspection) onlyVaultSigner(want, other common.PublicKey) error {
	var found bool
	for _, s := range in.signers {
		switch s {
		case want:
			found = true
		case other:
			return rejectf("unexpected vault signer %s", s.ToBase58())
		}
	}
	if !found {
		return rejectf("vault signer %s not required", want.ToBase58())
	}
	return nil
}

func (in *inspection) closesBy(user common.PublicKey, escrowAccount common.PublicKey) error {
	for _, c := range in.closes {
		if c.Authority != user || c.Source == escrowAccount {
			return rejectf("close of %s not owned by user", c.Source.ToBase58())
		}
	}
	return nil
}

// inspectSplit accepts exactly one deposit of A into escrow by the user and
// one mint of A per branch into the user's accounts.
func (v *Vault) inspectSplit(tx types.Transaction) (Intent, error) {
	in, err := v.decompose(tx)
	if err != nil {
		return Intent{}, err
	}
	if err := in.onlyVaultSigner(v.authority.PublicKey, v.escrow.PublicKey); err != nil {
		return Intent{}, err
	}
	if len(in.burns) > 0 || len(in.closes) > 0 {
		return Intent{}, rejectf("split cannot burn or close")
	}
	if len(in.transfers) != 1 {
		return Intent{}, rejectf("split needs one deposit, found %d transfers", len(in.transfers))
	}
	dep := in.transfers[0]
	if dep.Dest != v.escrowAccount {
		return Intent{}, rejectf("deposit must go to escrow")
	}
	if v.isVaultKey(dep.Authority) {
		return Intent{}, rejectf("deposit must be signed by the user")
	}
	if dep.Amount == 0 {
		return Intent{}, domain.ErrInvalidAmount
	}
	user := dep.Authority

	if len(in.mints) != len(v.mints) {
		return Intent{}, rejectf("split needs %d mints, found %d", len(v.mints), len(in.mints))
	}
	seen := make(map[common.PublicKey]bool, len(v.mints))
	for _, m := range in.mints {
		if seen[m.Mint] {
			return Intent{}, rejectf("mint %s minted twice", m.Mint.ToBase58())
		}
		seen[m.Mint] = true
		if m.Amount != dep.Amount {
			return Intent{}, rejectf("mint amount %d does not match deposit %d", m.Amount, dep.Amount)
		}
		if m.Authority != v.authority.PublicKey {
			return Intent{}, rejectf("mint authority mismatch")
		}
		want, err := token.AssociatedAddress(user, m.Mint)
		if err != nil {
			return Intent{}, err
		}
		if m.Dest != want {
			return Intent{}, rejectf("mint destination is not the user's account")
		}
	}
	for _, mint := range v.mints {
		if !seen[mint] {
			return Intent{}, rejectf("branch mint %s not minted", mint.ToBase58())
		}
	}
	return Intent{Kind: domain.OpSplit, User: user, Amount: dep.Amount}, nil
}

// withdrawal checks the single escrow payout of a merge or redeem and
// returns its amount.
func (v *Vault) withdrawal(in *inspection, user common.PublicKey) (uint64, error) {
	if len(in.transfers) != 1 {
		return 0, rejectf("expected one withdrawal, found %d transfers", len(in.transfers))
	}
	w := in.transfers[0]
	if w.Source != v.escrowAccount || w.Authority != v.escrow.PublicKey {
		return 0, rejectf("withdrawal must come from escrow")
	}
	dest, err := token.AssociatedAddress(user, v.cfg.RegularMint)
	if err != nil {
		return 0, err
	}
	if w.Dest != dest {
		return 0, rejectf("withdrawal must go to the user's collateral account")
	}
	return w.Amount, nil
}

// inspectMerge accepts one burn of A per branch by the same user and one
// payout of A from escrow to that user.
func (v *Vault) inspectMerge(tx types.Transaction) (Intent, error) {
	in, err := v.decompose(tx)
	if err != nil {
		return Intent{}, err
	}
	if err := in.onlyVaultSigner(v.escrow.PublicKey, v.authority.PublicKey); err != nil {
		return Intent{}, err
	}
	if len(in.mints) > 0 {
		return Intent{}, rejectf("merge cannot mint")
	}
	if len(in.burns) != len(v.mints) {
		return Intent{}, rejectf("merge needs %d burns, found %d", len(v.mints), len(in.burns))
	}
	user := in.burns[0].Authority
	amount := in.burns[0].Amount
	if v.isVaultKey(user) {
		return Intent{}, rejectf("burn must be signed by the user")
	}
	if amount == 0 {
		return Intent{}, domain.ErrInvalidAmount
	}
	seen := make(map[common.PublicKey]bool, len(v.mints))
	for _, b := range in.burns {
		if b.Authority != user || b.Amount != amount {
			return Intent{}, rejectf("burns must share user and amount")
		}
		if seen[b.Mint] {
			return Intent{}, rejectf("mint %s burned twice", b.Mint.ToBase58())
		}
		seen[b.Mint] = true
	}
	for _, mint := range v.mints {
		if !seen[mint] {
			return Intent{}, rejectf("branch mint %s not burned", mint.ToBase58())
		}
	}
	paid, err := v.withdrawal(in, user)
	if err != nil {
		return Intent{}, err
	}
	if paid != amount {
		return Intent{}, rejectf("withdrawal %d does not match burn %d", paid, amount)
	}
	if err := in.closesBy(user, v.escrowAccount); err != nil {
		return Intent{}, err
	}
	return Intent{Kind: domain.OpMerge, User: user, Amount: amount}, nil
}

// inspectRedeem accepts one burn of the winning mint and a payout of the
// same amount. Must be called after finalization.
func (v *Vault) inspectRedeem(tx types.Transaction) (Intent, error) {
	in, err := v.decompose(tx)
	if err != nil {
		return Intent{}, err
	}
	if err := in.onlyVaultSigner(v.escrow.PublicKey, v.authority.PublicKey); err != nil {
		return Intent{}, err
	}
	if len(in.mints) > 0 {
		return Intent{}, rejectf("redeem cannot mint")
	}
	winning, err := v.branchMint(v.outcome.Branch())
	if err != nil {
		return Intent{}, rejectf("no winning branch")
	}
	if len(in.burns) != 1 || in.burns[0].Mint != winning {
		return Intent{}, rejectf("redeem must burn the winning mint only")
	}
	burn := in.burns[0]
	if v.isVaultKey(burn.Authority) {
		return Intent{}, rejectf("burn must be signed by the user")
	}
	if burn.Amount == 0 {
		return Intent{}, domain.ErrNoWinningTokens
	}
	paid, err := v.withdrawal(in, burn.Authority)
	if err != nil {
		return Intent{}, err
	}
	if paid != burn.Amount {
		return Intent{}, rejectf("withdrawal %d does not match burn %d", paid, burn.Amount)
	}
	if err := in.closesBy(burn.Authority, v.escrowAccount); err != nil {
		return Intent{}, err
	}
	return Intent{Kind: domain.OpRedeem, User: burn.Authority, Amount: burn.Amount}, nil
}
