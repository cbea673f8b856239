package token

import (
	"context"
	"fmt"

	"github.com/blocto/solana-go-sdk/common"
	sdktoken "github.com/blocto/solana-go-sdk/program/token"

	"github.com/alanyoungcy/condvault/internal/ledger"
)

// AccountFetcher is the read side of the ledger.
type AccountFetcher interface {
	GetAccount(ctx context.Context, addr common.PublicKey) (ledger.Account, error)
}

// AccountInfo is the decoded state of a token account.
type AccountInfo struct {
	Address common.PublicKey
	Mint    common.PublicKey
	Owner   common.PublicKey
	Amount  uint64
}

// MintInfo is the decoded state of a mint.
type MintInfo struct {
	Address       common.PublicKey
	Authority     *common.PublicKey
	Supply        uint64
	Decimals      uint8
	IsInitialized bool
}

// GetAccountInfo reads a token account. A missing account yields nil and no
// error.
func GetAccountInfo(ctx context.Context, r AccountFetcher, addr common.PublicKey) (*AccountInfo, error) {
	acc, err := r.GetAccount(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("token: get account %s: %w", addr.ToBase58(), err)
	}
	if !acc.Exists || len(acc.Data) == 0 {
		return nil, nil
	}
	if acc.Owner != common.TokenProgramID {
		return nil, fmt.Errorf("token: account %s is not owned by the token program", addr.ToBase58())
	}
	ta, err := sdktoken.TokenAccountFromData(acc.Data)
	if err != nil {
		return nil, fmt.Errorf("token: decode account %s: %w", addr.ToBase58(), err)
	}
	return &AccountInfo{Address: addr, Mint: ta.Mint, Owner: ta.Owner, Amount: ta.Amount}, nil
}

// GetMintInfo reads a mint. A missing mint yields nil and no error.
func GetMintInfo(ctx context.Context, r AccountFetcher, mint common.PublicKey) (*MintInfo, error) {
	acc, err := r.GetAccount(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("token: get mint %s: %w", mint.ToBase58(), err)
	}
	if !acc.Exists || len(acc.Data) == 0 {
		return nil, nil
	}
	m, err := sdktoken.MintAccountFromData(acc.Data)
	if err != nil {
		return nil, fmt.Errorf("token: decode mint %s: %w", mint.ToBase58(), err)
	}
	return &MintInfo{
		Address:       mint,
		Authority:     m.MintAuthority,
		Supply:        m.Supply,
		Decimals:      m.Decimals,
		IsInitialized: m.IsInitialized,
	}, nil
}

// Balance returns the amount held by a token account, or zero if it does
// not exist.
func Balance(ctx context.Context, r AccountFetcher, addr common.PublicKey) (uint64, error) {
	info, err := GetAccountInfo(ctx, r, addr)
	if err != nil || info == nil {
		return 0, err
	}
	return info.Amount, nil
}

// OwnerBalance returns the balance of owner's associated account for mint.
func OwnerBalance(ctx context.Context, r AccountFetcher, owner, mint common.PublicKey) (uint64, error) {
	ata, err := AssociatedAddress(owner, mint)
	if err != nil {
		return 0, err
	}
	return Balance(ctx, r, ata)
}

// Supply returns the outstanding supply of mint, or zero if it does not
// exist.
func Supply(ctx context.Context, r AccountFetcher, mint common.PublicKey) (uint64, error) {
	info, err := GetMintInfo(ctx, r, mint)
	if err != nil || info == nil {
		return 0, err
	}
	return info.Supply, nil
}
