// Package crypto holds key handling for the settlement service: the market
// authority key, sealing of per-vault escrow keys at rest, request signing
// for the admin API and verification of oracle outcome attestations.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/blocto/solana-go-sdk/types"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultIterations is the OWASP minimum for PBKDF2-HMAC-SHA256.
	DefaultIterations = 480_000
	saltLen           = 16
	aesKeyLen         = 32
	envelopeVersion   = 1
)

// envelope is the JSON form of an encrypted secret.
type envelope struct {
	Version    int    `json:"version"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig says where the market authority key comes from.
type KeyConfig struct {
	// PrivateKeyBase58 is the 64-byte ed25519 secret key in base58, as
	// printed by the Solana CLI tooling.
	PrivateKeyBase58 string
	// EncryptedKeyPath is a file written by EncryptKey.
	EncryptedKeyPath string
	KeyPassword      string
}

func deriveKey(password string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, aesKeyLen, sha256.New)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return gcm, nil
}

// EncryptKey seals secret under password with PBKDF2-HMAC-SHA256 and
// AES-256-GCM and returns the JSON envelope.
func EncryptKey(secret []byte, password string, iterations int) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	return seal(secret, deriveKey(password, salt, iterations), salt, iterations)
}

func seal(secret, key, salt []byte, iterations int) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}
	return json.Marshal(envelope{
		Version:    envelopeVersion,
		Iterations: iterations,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, secret, nil)),
	})
}

type parsedEnvelope struct {
	iterations int
	salt       []byte
	nonce      []byte
	ciphertext []byte
}

func parseEnvelope(data []byte) (parsedEnvelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return parsedEnvelope{}, fmt.Errorf("crypto: parse envelope: %w", err)
	}
	if env.Version != envelopeVersion {
		return parsedEnvelope{}, fmt.Errorf("crypto: unsupported envelope version %d", env.Version)
	}
	var (
		p   = parsedEnvelope{iterations: env.Iterations}
		err error
	)
	if p.salt, err = base64.StdEncoding.DecodeString(env.Salt); err != nil {
		return parsedEnvelope{}, fmt.Errorf("crypto: salt: %w", err)
	}
	if p.nonce, err = base64.StdEncoding.DecodeString(env.Nonce); err != nil {
		return parsedEnvelope{}, fmt.Errorf("crypto: nonce: %w", err)
	}
	if p.ciphertext, err = base64.StdEncoding.DecodeString(env.Ciphertext); err != nil {
		return parsedEnvelope{}, fmt.Errorf("crypto: ciphertext: %w", err)
	}
	if p.iterations <= 0 {
		p.iterations = DefaultIterations
	}
	return p, nil
}

func open(p parsedEnvelope, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(p.nonce) != gcm.NonceSize() {
		return nil, errors.New("crypto: bad nonce length")
	}
	plain, err := gcm.Open(nil, p.nonce, p.ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return plain, nil
}

// DecryptKey opens an envelope produced by EncryptKey.
func DecryptKey(data []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	p, err := parseEnvelope(data)
	if err != nil {
		return nil, err
	}
	return open(p, deriveKey(password, p.salt, p.iterations))
}

// LoadAuthority resolves the market authority key. A base58 key takes
// precedence over an encrypted file.
func LoadAuthority(cfg KeyConfig) (types.Account, error) {
	var raw []byte
	switch {
	case cfg.PrivateKeyBase58 != "":
		b, err := base58.Decode(strings.TrimSpace(cfg.PrivateKeyBase58))
		if err != nil {
			return types.Account{}, fmt.Errorf("crypto: authority key is not base58: %w", err)
		}
		raw = b
	case cfg.EncryptedKeyPath != "":
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return types.Account{}, fmt.Errorf("crypto: read %s: %w", cfg.EncryptedKeyPath, err)
		}
		if raw, err = DecryptKey(data, cfg.KeyPassword); err != nil {
			return types.Account{}, err
		}
	default:
		return types.Account{}, errors.New("crypto: no authority key configured (set private_key_base58 or encrypted_key_path)")
	}

	acct, err := types.AccountFromBytes(raw)
	if err != nil {
		return types.Account{}, fmt.Errorf("crypto: authority key: %w", err)
	}
	return acct, nil
}
