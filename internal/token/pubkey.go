package token

import (
	"fmt"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/mr-tron/base58"

	"github.com/alanyoungcy/condvault/internal/domain"
)

const pubkeyLen = 32

// ParsePublicKey decodes an untrusted base58 address. common.PublicKeyFromString
// silently truncates bad input, so every address arriving over the API goes
// through here instead.
func ParsePublicKey(s string) (common.PublicKey, error) {
	data, err := base58.Decode(s)
	if err != nil {
		return common.PublicKey{}, fmt.Errorf("%w: decode %q: %v", domain.ErrInvalidAddress, s, err)
	}
	if len(data) != pubkeyLen {
		return common.PublicKey{}, fmt.Errorf("%w: got %d bytes, want %d", domain.ErrInvalidAddress, len(data), pubkeyLen)
	}
	return common.PublicKeyFromBytes(data), nil
}

// ParsePublicKeys decodes a list of addresses, failing on the first bad one.
func ParsePublicKeys(ss []string) ([]common.PublicKey, error) {
	out := make([]common.PublicKey, 0, len(ss))
	for _, s := range ss {
		pk, err := ParsePublicKey(s)
		if err != nil {
			return nil, err
		}
		out = append(out, pk)
	}
	return out, nil
}

// Base58 renders a list of keys.
func Base58(keys []common.PublicKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.ToBase58()
	}
	return out
}
