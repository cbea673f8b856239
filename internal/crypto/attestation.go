package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// OutcomeMessage is the text an oracle signs to attest a proposal outcome.
func OutcomeMessage(proposalID, status string, resolvedAt int64) string {
	return fmt.Sprintf("condvault outcome\nproposal: %s\nstatus: %s\nresolved_at: %d", proposalID, status, resolvedAt)
}

// Attester signs outcome messages with a secp256k1 key using the
// personal_sign (EIP-191) scheme.
type Attester struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewAttester parses a hex secp256k1 private key.
func NewAttester(privateKeyHex string) (*Attester, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: attester key: %w", err)
	}
	return &Attester{key: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address is the attester's address.
func (a *Attester) Address() common.Address { return a.address }

// Sign returns a 0x-prefixed 65-byte signature with v in {27, 28}.
func (a *Attester) Sign(message string) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash([]byte(message)), a.key)
	if err != nil {
		return "", fmt.Errorf("crypto: sign attestation: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverAttester returns the address that signed message.
func RecoverAttester(message, signature string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: attestation signature: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto: attestation signature has %d bytes", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover attester: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyAttestation checks that signature over message was made by want.
func VerifyAttestation(message, signature string, want common.Address) error {
	got, err := RecoverAttester(message, signature)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("crypto: attestation signed by %s, want %s", got.Hex(), want.Hex())
	}
	return nil
}
