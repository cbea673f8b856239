package token

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/condvault/internal/domain"
)

// ToUI renders a raw token amount with the mint's decimals applied.
func ToUI(amount uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromUint64(amount).Shift(-int32(decimals))
}

// FromUI converts a human amount such as "1.5" into raw units. Amounts with
// more precision than the mint supports are rejected rather than rounded.
func FromUI(s string, decimals uint8) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidAmount, s)
	}
	raw := d.Shift(int32(decimals))
	if !raw.Equal(raw.Truncate(0)) {
		return 0, fmt.Errorf("%w: %q exceeds %d decimals", domain.ErrInvalidAmount, s, decimals)
	}
	if raw.Sign() <= 0 || raw.GreaterThan(decimal.NewFromUint64(^uint64(0))) {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidAmount, s)
	}
	return raw.BigInt().Uint64(), nil
}
