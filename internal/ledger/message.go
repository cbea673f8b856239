package ledger

import (
	"fmt"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/types"
)

// Decompile expands the compiled instructions of a legacy message back into
// instructions with full account metas.
func Decompile(msg types.Message) ([]types.Instruction, error) {
	n := len(msg.Accounts)
	numSigned := int(msg.Header.NumRequireSignatures)
	roSigned := int(msg.Header.NumReadonlySignedAccounts)
	roUnsigned := int(msg.Header.NumReadonlyUnsignedAccounts)
	if numSigned > n || roSigned > numSigned || roUnsigned > n-numSigned {
		return nil, fmt.Errorf("ledger: malformed message header")
	}

	meta := func(i int) types.AccountMeta {
		signer := i < numSigned
		var writable bool
		if signer {
			writable = i < numSigned-roSigned
		} else {
			writable = i < n-roUnsigned
		}
		return types.AccountMeta{PubKey: msg.Accounts[i], IsSigner: signer, IsWritable: writable}
	}

	out := make([]types.Instruction, 0, len(msg.Instructions))
	for _, ci := range msg.Instructions {
		if ci.ProgramIDIndex < 0 || ci.ProgramIDIndex >= n {
			return nil, fmt.Errorf("ledger: program index %d out of range", ci.ProgramIDIndex)
		}
		metas := make([]types.AccountMeta, 0, len(ci.Accounts))
		for _, idx := range ci.Accounts {
			if idx < 0 || idx >= n {
				return nil, fmt.Errorf("ledger: account index %d out of range", idx)
			}
			metas = append(metas, meta(idx))
		}
		out = append(out, types.Instruction{
			ProgramID: msg.Accounts[ci.ProgramIDIndex],
			Accounts:  metas,
			Data:      ci.Data,
		})
	}
	return out, nil
}

// RequiredSigners returns the accounts whose signatures the message needs,
// in signature order.
func RequiredSigners(msg types.Message) []common.PublicKey {
	n := int(msg.Header.NumRequireSignatures)
	if n > len(msg.Accounts) {
		n = len(msg.Accounts)
	}
	out := make([]common.PublicKey, n)
	copy(out, msg.Accounts[:n])
	return out
}

// WritableAccounts returns every writable account of the message.
func WritableAccounts(msg types.Message) []common.PublicKey {
	n := len(msg.Accounts)
	numSigned := int(msg.Header.NumRequireSignatures)
	var out []common.PublicKey
	for i, a := range msg.Accounts {
		if i < numSigned {
			if i < numSigned-int(msg.Header.NumReadonlySignedAccounts) {
				out = append(out, a)
			}
			continue
		}
		if i < n-int(msg.Header.NumReadonlyUnsignedAccounts) {
			out = append(out, a)
		}
	}
	return out
}
