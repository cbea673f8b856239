package execution

import (
	"fmt"

	"github.com/blocto/solana-go-sdk/types"

	"github.com/alanyoungcy/condvault/internal/domain"
)

const signatureLen = 64

// Sign adds each signer's signature over the transaction message in its
// required slot. Signatures already present for other keys are preserved.
// A signer the message does not require is rejected.
func Sign(tx *types.Transaction, signers ...types.Account) error {
	if len(signers) == 0 {
		return nil
	}
	n := int(tx.Message.Header.NumRequireSignatures)
	if n > len(tx.Message.Accounts) {
		return fmt.Errorf("execution: sign: %w: header requires %d signatures for %d accounts",
			domain.ErrInvalidTransaction, n, len(tx.Message.Accounts))
	}
	if len(tx.Signatures) != n {
		sigs := make([]types.Signature, n)
		for i := range sigs {
			if i < len(tx.Signatures) {
				sigs[i] = tx.Signatures[i]
			} else {
				sigs[i] = make([]byte, signatureLen)
			}
		}
		tx.Signatures = sigs
	}

	data, err := tx.Message.Serialize()
	if err != nil {
		return fmt.Errorf("execution: sign: %w: %v", domain.ErrInvalidTransaction, err)
	}
	for _, signer := range signers {
		idx := -1
		for i := 0; i < n; i++ {
			if tx.Message.Accounts[i] == signer.PublicKey {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("execution: sign: %w: %s is not a required signer",
				domain.ErrSigningFailed, signer.PublicKey.ToBase58())
		}
		tx.Signatures[idx] = signer.Sign(data)
	}
	return nil
}

// checkSigned fails if any required signature slot is still empty.
func checkSigned(tx types.Transaction) error {
	n := int(tx.Message.Header.NumRequireSignatures)
	if n == 0 || len(tx.Signatures) != n {
		return fmt.Errorf("execution: %w: expected %d signatures, have %d",
			domain.ErrMissingSignature, n, len(tx.Signatures))
	}
	for i, sig := range tx.Signatures {
		if isZero(sig) {
			return fmt.Errorf("execution: %w: %s", domain.ErrMissingSignature, tx.Message.Accounts[i].ToBase58())
		}
	}
	return nil
}

// MissingSigners lists required signers whose slot is still empty.
func MissingSigners(tx types.Transaction) []string {
	var out []string
	n := int(tx.Message.Header.NumRequireSignatures)
	for i := 0; i < n && i < len(tx.Message.Accounts); i++ {
		if i >= len(tx.Signatures) || isZero(tx.Signatures[i]) {
			out = append(out, tx.Message.Accounts[i].ToBase58())
		}
	}
	return out
}

func isZero(sig []byte) bool {
	if len(sig) != signatureLen {
		return true
	}
	for _, b := range sig {
		if b != 0 {
			return false
		}
	}
	return true
}
