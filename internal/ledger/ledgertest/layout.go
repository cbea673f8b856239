package ledgertest

import (
	"encoding/binary"

	"github.com/blocto/solana-go-sdk/common"
)

// SPL token account layouts.
const (
	mintSize         = 82
	tokenAccountSize = 165
)

type mintState struct {
	authority   *common.PublicKey
	supply      uint64
	decimals    uint8
	initialized bool
}

// mint: COption<authority>(4+32) supply(8) decimals(1) initialized(1) COption<freeze>(4+32)
func encodeMint(m mintState) []byte {
	b := make([]byte, mintSize)
	if m.authority != nil {
		binary.LittleEndian.PutUint32(b[0:4], 1)
		copy(b[4:36], m.authority.Bytes())
	}
	binary.LittleEndian.PutUint64(b[36:44], m.supply)
	b[44] = m.decimals
	if m.initialized {
		b[45] = 1
	}
	return b
}

func decodeMint(b []byte) mintState {
	m := mintState{
		supply:      binary.LittleEndian.Uint64(b[36:44]),
		decimals:    b[44],
		initialized: b[45] == 1,
	}
	if binary.LittleEndian.Uint32(b[0:4]) == 1 {
		a := common.PublicKeyFromBytes(b[4:36])
		m.authority = &a
	}
	return m
}

type tokenAccountState struct {
	mint   common.PublicKey
	owner  common.PublicKey
	amount uint64
}

// account: mint(32) owner(32) amount(8) COption<delegate>(4+32) state(1)
// COption<is_native>(4+8) delegated_amount(8) COption<close_authority>(4+32)
func encodeTokenAccount(t tokenAccountState) []byte {
	b := make([]byte, tokenAccountSize)
	copy(b[0:32], t.mint.Bytes())
	copy(b[32:64], t.owner.Bytes())
	binary.LittleEndian.PutUint64(b[64:72], t.amount)
	b[108] = 1 // initialized
	return b
}

func decodeTokenAccount(b []byte) tokenAccountState {
	if len(b) != tokenAccountSize {
		return tokenAccountState{}
	}
	return tokenAccountState{
		mint:   common.PublicKeyFromBytes(b[0:32]),
		owner:  common.PublicKeyFromBytes(b[32:64]),
		amount: binary.LittleEndian.Uint64(b[64:72]),
	}
}
