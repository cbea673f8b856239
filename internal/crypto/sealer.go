package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
)

// Sealer encrypts escrow keys for the vault snapshot table. It derives one
// key per salt and caches it, so sealing on every snapshot does not pay the
// PBKDF2 cost each time.
type Sealer struct {
	password   string
	iterations int
	salt       []byte

	mu   sync.Mutex
	keys map[string][]byte
}

// NewSealer creates a Sealer. iterations <= 0 uses DefaultIterations.
func NewSealer(password string, iterations int) (*Sealer, error) {
	if password == "" {
		return nil, errors.New("crypto: keystore password must not be empty")
	}
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	return &Sealer{password: password, iterations: iterations, salt: salt, keys: map[string][]byte{}}, nil
}

func (s *Sealer) key(salt []byte, iterations int) []byte {
	id := fmt.Sprintf("%x/%d", salt, iterations)
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		return k
	}
	k := deriveKey(s.password, salt, iterations)
	s.keys[id] = k
	return k
}

// Seal encrypts plaintext.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	return seal(plaintext, s.key(s.salt, s.iterations), s.salt, s.iterations)
}

// Open decrypts a value produced by Seal or EncryptKey with the same
// password.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	p, err := parseEnvelope(sealed)
	if err != nil {
		return nil, err
	}
	return open(p, s.key(p.salt, p.iterations))
}
