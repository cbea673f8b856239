package token

import (
	"context"
	"testing"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/condvault/internal/domain"
	"github.com/alanyoungcy/condvault/internal/ledger/ledgertest"
)

func TestParsePublicKey(t *testing.T) {
	acct := types.NewAccount()

	pk, err := ParsePublicKey(acct.PublicKey.ToBase58())
	require.NoError(t, err)
	assert.Equal(t, acct.PublicKey, pk)

	for _, bad := range []string{"", "0OIl", "3yZe7d"} {
		_, err := ParsePublicKey(bad)
		assert.ErrorIs(t, err, domain.ErrInvalidAddress, bad)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	mint := types.NewAccount().PublicKey
	from := types.NewAccount().PublicKey
	to := types.NewAccount().PublicKey
	owner := types.NewAccount().PublicKey

	op, ok := Decode(Transfer(from, to, owner, 42))
	require.True(t, ok)
	assert.Equal(t, Op{Kind: OpTransfer, Amount: 42, Source: from, Dest: to, Authority: owner}, op)

	op, ok = Decode(MintTo(mint, to, owner, 7))
	require.True(t, ok)
	assert.Equal(t, OpMintTo, op.Kind)
	assert.Equal(t, mint, op.Mint)
	assert.Equal(t, to, op.Dest)
	assert.EqualValues(t, 7, op.Amount)

	op, ok = Decode(Burn(from, mint, owner, 9))
	require.True(t, ok)
	assert.Equal(t, OpBurn, op.Kind)
	assert.Equal(t, from, op.Source)
	assert.EqualValues(t, 9, op.Amount)

	op, ok = Decode(CloseAccount(from, to, owner))
	require.True(t, ok)
	assert.Equal(t, OpClose, op.Kind)

	op, ok = Decode(RevokeMintAuthority(mint, owner))
	require.True(t, ok)
	assert.Equal(t, OpSetAuthority, op.Kind)
	assert.True(t, op.IsMintAuthority())
	assert.Nil(t, op.NewAuthority)

	ixs := CreateMint(owner, mint, owner, 6, 1)
	require.Len(t, ixs, 2)
	_, ok = Decode(ixs[0])
	assert.False(t, ok, "system instruction is not a token op")
	op, ok = Decode(ixs[1])
	require.True(t, ok)
	assert.Equal(t, OpInitializeMint, op.Kind)
	assert.EqualValues(t, 6, op.Decimals)
	assert.Equal(t, owner, op.Authority)
}

func TestBalancesToleratesMissingAccounts(t *testing.T) {
	ctx := context.Background()
	l := ledgertest.New()
	authority := types.NewAccount().PublicKey
	user := types.NewAccount().PublicKey
	mint := l.CreateMint(authority, 6)

	bal, err := OwnerBalance(ctx, l, user, mint)
	require.NoError(t, err)
	assert.Zero(t, bal)

	info, err := GetAccountInfo(ctx, l, types.NewAccount().PublicKey)
	require.NoError(t, err)
	assert.Nil(t, info)

	ata := l.MintTokens(mint, user, 1_500_000)
	info, err = GetAccountInfo(ctx, l, ata)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, mint, info.Mint)
	assert.Equal(t, user, info.Owner)
	assert.EqualValues(t, 1_500_000, info.Amount)

	supply, err := Supply(ctx, l, mint)
	require.NoError(t, err)
	assert.EqualValues(t, 1_500_000, supply)

	missing, err := Supply(ctx, l, common.PublicKey{})
	require.NoError(t, err)
	assert.Zero(t, missing)
}

func TestAmounts(t *testing.T) {
	assert.Equal(t, "1.5", ToUI(1_500_000, 6).String())

	raw, err := FromUI("1.000001", 6)
	require.NoError(t, err)
	assert.EqualValues(t, 1_000_001, raw)

	_, err = FromUI("0.0000001", 6)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = FromUI("-1", 6)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = FromUI("abc", 6)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}
