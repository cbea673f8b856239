// Package token wraps the SPL token, associated token account and system
// program builders used to custody collateral and mint conditional tokens.
// Everything here is a pure instruction builder or account parser.
package token

import (
	"fmt"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/program/associated_token_account"
	"github.com/blocto/solana-go-sdk/program/system"
	sdktoken "github.com/blocto/solana-go-sdk/program/token"
	"github.com/blocto/solana-go-sdk/types"
)

// Account sizes of the token program.
const (
	MintSize    = uint64(sdktoken.MintAccountSize)
	AccountSize = uint64(sdktoken.TokenAccountSize)
)

// CreateMint returns the two instructions that allocate and initialise a
// new mint. The mint account itself must sign, as must the payer. The mint
// has no freeze authority.
func CreateMint(payer, mint, authority common.PublicKey, decimals uint8, rentLamports uint64) []types.Instruction {
	return []types.Instruction{
		system.CreateAccount(system.CreateAccountParam{
			From:     payer,
			New:      mint,
			Owner:    common.TokenProgramID,
			Lamports: rentLamports,
			Space:    MintSize,
		}),
		sdktoken.InitializeMint2(sdktoken.InitializeMint2Param{
			Decimals: decimals,
			Mint:     mint,
			MintAuth: authority,
		}),
	}
}

// MintTo credits amount of mint to the token account to. authority must be
// the mint authority.
func MintTo(mint, to, authority common.PublicKey, amount uint64) types.Instruction {
	return sdktoken.MintTo(sdktoken.MintToParam{
		Mint:   mint,
		To:     to,
		Auth:   authority,
		Amount: amount,
	})
}

// Burn destroys amount from account. owner must own account.
func Burn(account, mint, owner common.PublicKey, amount uint64) types.Instruction {
	return sdktoken.Burn(sdktoken.BurnParam{
		Account: account,
		Mint:    mint,
		Auth:    owner,
		Amount:  amount,
	})
}

// Transfer moves amount between two token accounts of the same mint.
func Transfer(from, to, owner common.PublicKey, amount uint64) types.Instruction {
	return sdktoken.Transfer(sdktoken.TransferParam{
		From:   from,
		To:     to,
		Auth:   owner,
		Amount: amount,
	})
}

// CloseAccount closes an empty token account and sends its rent to dest.
func CloseAccount(account, dest, owner common.PublicKey) types.Instruction {
	return sdktoken.CloseAccount(sdktoken.CloseAccountParam{
		Account: account,
		To:      dest,
		Auth:    owner,
	})
}

// RevokeMintAuthority sets the mint authority of mint to none. After it
// lands, no further supply can ever be created.
func RevokeMintAuthority(mint, authority common.PublicKey) types.Instruction {
	return sdktoken.SetAuthority(sdktoken.SetAuthorityParam{
		Account:  mint,
		NewAuth:  nil,
		AuthType: sdktoken.AuthorityTypeMintTokens,
		Auth:     authority,
	})
}

// AssociatedAddress derives the associated token account of owner for mint.
func AssociatedAddress(owner, mint common.PublicKey) (common.PublicKey, error) {
	ata, _, err := common.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return common.PublicKey{}, fmt.Errorf("token: derive associated account: %w", err)
	}
	return ata, nil
}

// CreateAssociatedIdempotent returns an instruction creating the associated
// token account of owner for mint if it does not exist yet, together with
// its address.
func CreateAssociatedIdempotent(payer, owner, mint common.PublicKey) (types.Instruction, common.PublicKey, error) {
	ata, err := AssociatedAddress(owner, mint)
	if err != nil {
		return types.Instruction{}, common.PublicKey{}, err
	}
	ix := associated_token_account.CreateIdempotent(associated_token_account.CreateIdempotentParam{
		Funder:                 payer,
		Owner:                  owner,
		Mint:                   mint,
		AssociatedTokenAccount: ata,
	})
	return ix, ata, nil
}
