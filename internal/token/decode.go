package token

import (
	"encoding/binary"

	"github.com/blocto/solana-go-sdk/common"
	sdktoken "github.com/blocto/solana-go-sdk/program/token"
	"github.com/blocto/solana-go-sdk/types"
)

// OpKind is the subset of token program instructions the vault emits.
type OpKind uint8

const (
	OpUnknown OpKind = iota
	OpTransfer
	OpMintTo
	OpBurn
	OpClose
	OpSetAuthority
	OpInitializeMint
)

// Op is a decoded token program instruction.
//
//	Transfer: Source -> Dest, signed by Authority
//	MintTo:   Mint -> Dest, signed by Authority
//	Burn:     Source of Mint, signed by Authority
//	Close:    Source -> Dest (rent), signed by Authority
type Op struct {
	Kind          OpKind
	Amount        uint64
	Source        common.PublicKey
	Dest          common.PublicKey
	Mint          common.PublicKey
	Authority     common.PublicKey
	NewAuthority  *common.PublicKey // SetAuthority only; nil revokes
	AuthorityKind uint8
	Decimals      uint8
}

// Decode parses a token program instruction. ok is false for instructions of
// other programs and for token instructions the vault never builds.
func Decode(ix types.Instruction) (op Op, ok bool) {
	if ix.ProgramID != common.TokenProgramID || len(ix.Data) == 0 {
		return Op{}, false
	}
	acct := func(i int) common.PublicKey {
		if i < len(ix.Accounts) {
			return ix.Accounts[i].PubKey
		}
		return common.PublicKey{}
	}
	amount := func() (uint64, bool) {
		if len(ix.Data) < 9 {
			return 0, false
		}
		return binary.LittleEndian.Uint64(ix.Data[1:9]), true
	}

	switch sdktoken.Instruction(ix.Data[0]) {
	case sdktoken.InstructionTransfer:
		a, ok := amount()
		if !ok || len(ix.Accounts) < 3 {
			return Op{}, false
		}
		return Op{Kind: OpTransfer, Amount: a, Source: acct(0), Dest: acct(1), Authority: acct(2)}, true
	case sdktoken.InstructionMintTo:
		a, ok := amount()
		if !ok || len(ix.Accounts) < 3 {
			return Op{}, false
		}
		return Op{Kind: OpMintTo, Amount: a, Mint: acct(0), Dest: acct(1), Authority: acct(2)}, true
	case sdktoken.InstructionBurn:
		a, ok := amount()
		if !ok || len(ix.Accounts) < 3 {
			return Op{}, false
		}
		return Op{Kind: OpBurn, Amount: a, Source: acct(0), Mint: acct(1), Authority: acct(2)}, true
	case sdktoken.InstructionCloseAccount:
		if len(ix.Accounts) < 3 {
			return Op{}, false
		}
		return Op{Kind: OpClose, Source: acct(0), Dest: acct(1), Authority: acct(2)}, true
	case sdktoken.InstructionSetAuthority:
		// [6, authority type, option, new authority(32)]
		if len(ix.Data) < 3 || len(ix.Accounts) < 2 {
			return Op{}, false
		}
		op := Op{Kind: OpSetAuthority, Mint: acct(0), Authority: acct(1), AuthorityKind: ix.Data[1]}
		if ix.Data[2] == 1 && len(ix.Data) >= 35 {
			na := common.PublicKeyFromBytes(ix.Data[3:35])
			op.NewAuthority = &na
		}
		return op, true
	case sdktoken.InstructionInitializeMint2:
		// [20, decimals, mint authority(32), option, freeze authority(32)]
		if len(ix.Data) < 34 || len(ix.Accounts) < 1 {
			return Op{}, false
		}
		return Op{
			Kind:      OpInitializeMint,
			Mint:      acct(0),
			Decimals:  ix.Data[1],
			Authority: common.PublicKeyFromBytes(ix.Data[2:34]),
		}, true
	default:
		return Op{}, false
	}
}

// IsMintAuthority reports whether a SetAuthority op targets mint authority.
func (o Op) IsMintAuthority() bool {
	return o.AuthorityKind == uint8(sdktoken.AuthorityTypeMintTokens)
}
