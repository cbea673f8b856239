package execution

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/condvault/internal/domain"
	"github.com/alanyoungcy/condvault/internal/ledger"
	"github.com/alanyoungcy/condvault/internal/ledger/ledgertest"
	"github.com/alanyoungcy/condvault/internal/token"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBaseDelay = time.Millisecond
	cfg.PollInterval = time.Millisecond
	cfg.ConfirmTimeout = 200 * time.Millisecond
	return cfg
}

func budget(t *testing.T, ixs []types.Instruction) (units uint32, price uint64) {
	t.Helper()
	require.GreaterOrEqual(t, len(ixs), 2)
	require.Equal(t, common.ComputeBudgetProgramID, ixs[0].ProgramID)
	require.Equal(t, common.ComputeBudgetProgramID, ixs[1].ProgramID)
	require.EqualValues(t, 2, ixs[0].Data[0])
	require.EqualValues(t, 3, ixs[1].Data[0])
	return binary.LittleEndian.Uint32(ixs[0].Data[1:5]), binary.LittleEndian.Uint64(ixs[1].Data[1:9])
}

type fixture struct {
	ledger *ledgertest.Ledger
	owner  types.Account
	from   common.PublicKey
	to     common.PublicKey
	mint   common.PublicKey
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	l := ledgertest.New()
	owner := types.NewAccount()
	other := types.NewAccount()
	l.Airdrop(owner.PublicKey, 1_000_000_000)
	mint := l.CreateMint(types.NewAccount().PublicKey, 6)
	from := l.MintTokens(mint, owner.PublicKey, 500)
	to := l.MintTokens(mint, other.PublicKey, 0)
	return fixture{ledger: l, owner: owner, from: from, to: to, mint: mint}
}

func TestFixedTiers(t *testing.T) {
	f := newFixture(t)
	for tier, want := range map[PriorityTier]uint64{
		TierNone: 0, TierLow: 1_000, TierMedium: 10_000, TierHigh: 100_000,
	} {
		cfg := fastConfig()
		cfg.Priority = tier
		cfg.ComputeUnitLimit = 90_000
		svc := New(f.ledger, nil, cfg, discardLogger())

		ixs := svc.AddFeeInstructions(context.Background(),
			[]types.Instruction{token.Transfer(f.from, f.to, f.owner.PublicKey, 1)}, f.owner.PublicKey)
		require.Len(t, ixs, 3)
		units, price := budget(t, ixs)
		assert.EqualValues(t, 90_000, units, tier)
		assert.Equal(t, want, price, tier)
	}
}

func TestComputeUnitsSimulatedWithMargin(t *testing.T) {
	f := newFixture(t)
	f.ledger.UnitsPerInstruction = 10_000
	cfg := fastConfig()
	cfg.ComputeUnitMargin = 1.5
	svc := New(f.ledger, nil, cfg, discardLogger())

	ixs := svc.AddFeeInstructions(context.Background(),
		[]types.Instruction{token.Transfer(f.from, f.to, f.owner.PublicKey, 1)}, f.owner.PublicKey)
	units, _ := budget(t, ixs)
	// three instructions simulated, 30k units, times 1.5
	assert.EqualValues(t, 45_000, units)

	f.ledger.UnitsPerInstruction = 1_000_000
	ixs = svc.AddFeeInstructions(context.Background(),
		[]types.Instruction{token.Transfer(f.from, f.to, f.owner.PublicKey, 1)}, f.owner.PublicKey)
	units, _ = budget(t, ixs)
	assert.Equal(t, MaxComputeUnits, units)

	f.ledger.SimulateErr = errors.New("rpc down")
	ixs = svc.AddFeeInstructions(context.Background(),
		[]types.Instruction{token.Transfer(f.from, f.to, f.owner.PublicKey, 1)}, f.owner.PublicKey)
	units, _ = budget(t, ixs)
	assert.Equal(t, DefaultComputeUnits, units)
}

func TestDynamicFee(t *testing.T) {
	f := newFixture(t)
	cfg := fastConfig()
	cfg.Priority = TierDynamic
	cfg.ComputeUnitLimit = 50_000
	cfg.MaxPriorityFee = 350
	svc := New(f.ledger, nil, cfg, discardLogger())
	ix := []types.Instruction{token.Transfer(f.from, f.to, f.owner.PublicKey, 1)}

	f.ledger.PriorityFees = []uint64{400, 100, 300, 200}
	_, price := budget(t, svc.AddFeeInstructions(context.Background(), ix, f.owner.PublicKey))
	assert.EqualValues(t, 300, price, "p75 of four samples")

	f.ledger.PriorityFees = []uint64{5_000, 9_000}
	_, price = budget(t, svc.AddFeeInstructions(context.Background(), ix, f.owner.PublicKey))
	assert.EqualValues(t, 350, price, "capped")

	f.ledger.PriorityFeesErr = errors.New("boom")
	_, price = budget(t, svc.AddFeeInstructions(context.Background(), ix, f.owner.PublicKey))
	assert.EqualValues(t, 10_000, price, "falls back to medium")
}

func TestPercentile(t *testing.T) {
	assert.EqualValues(t, 7, percentile([]uint64{7}, 75))
	assert.EqualValues(t, 3, percentile([]uint64{1, 2, 3, 4}, 75))
	assert.EqualValues(t, 8, percentile([]uint64{10, 1, 2, 3, 4, 5, 6, 7, 8, 9}, 75))
}

func TestExecuteSuccessAndRetry(t *testing.T) {
	f := newFixture(t)
	cfg := fastConfig()
	cfg.ComputeUnitLimit = 50_000
	svc := New(f.ledger, nil, cfg, discardLogger())
	ctx := context.Background()

	tx, err := svc.Build(ctx, f.owner.PublicKey, []types.Instruction{token.Transfer(f.from, f.to, f.owner.PublicKey, 200)})
	require.NoError(t, err)

	f.ledger.FailNextSends(2)
	res, err := svc.Execute(ctx, tx, f.owner)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSuccess, res.Status, res.Error)
	assert.NotEmpty(t, res.Signature)
	assert.EqualValues(t, 300, f.ledger.TokenBalance(f.from))
	assert.EqualValues(t, 200, f.ledger.TokenBalance(f.to))
	assert.Len(t, f.ledger.Sent(), 1)

	st, err := svc.Status(ctx, res.Signature)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSuccess, st.Status)
}

func TestExecuteTransportExhaustion(t *testing.T) {
	f := newFixture(t)
	cfg := fastConfig()
	cfg.ComputeUnitLimit = 50_000
	cfg.MaxRetries = 1
	svc := New(f.ledger, nil, cfg, discardLogger())
	ctx := context.Background()

	tx, err := svc.Build(ctx, f.owner.PublicKey, []types.Instruction{token.Transfer(f.from, f.to, f.owner.PublicKey, 1)})
	require.NoError(t, err)

	f.ledger.FailNextSends(5)
	res, err := svc.Execute(ctx, tx, f.owner)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionUnconfirmed, res.Status)
	assert.Contains(t, res.Error, "connection reset")
	assert.Empty(t, f.ledger.Sent())
}

func TestExecuteLogicalRejectionIsNotRetried(t *testing.T) {
	f := newFixture(t)
	cfg := fastConfig()
	cfg.ComputeUnitLimit = 50_000
	svc := New(f.ledger, nil, cfg, discardLogger())
	ctx := context.Background()

	tx, err := svc.Build(ctx, f.owner.PublicKey, []types.Instruction{token.Transfer(f.from, f.to, f.owner.PublicKey, 10_000)})
	require.NoError(t, err)

	res, err := svc.Execute(ctx, tx, f.owner)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionFailed, res.Status)
	assert.Contains(t, res.Error, "insufficient funds")
	assert.EqualValues(t, 500, f.ledger.TokenBalance(f.from))
}

func TestExecuteRejectsMissingSignature(t *testing.T) {
	f := newFixture(t)
	cfg := fastConfig()
	cfg.ComputeUnitLimit = 50_000
	svc := New(f.ledger, nil, cfg, discardLogger())
	ctx := context.Background()

	tx, err := svc.Build(ctx, f.owner.PublicKey, []types.Instruction{token.Transfer(f.from, f.to, f.owner.PublicKey, 1)})
	require.NoError(t, err)

	_, err = svc.Execute(ctx, tx)
	assert.ErrorIs(t, err, domain.ErrMissingSignature)

	_, err = svc.Execute(ctx, tx, types.NewAccount())
	assert.ErrorIs(t, err, domain.ErrSigningFailed)
}

func TestExecuteKeepsExistingBlockhash(t *testing.T) {
	f := newFixture(t)
	cfg := fastConfig()
	cfg.ComputeUnitLimit = 50_000
	svc := New(f.ledger, nil, cfg, discardLogger())
	ctx := context.Background()

	tx, err := svc.Build(ctx, f.owner.PublicKey, []types.Instruction{token.Transfer(f.from, f.to, f.owner.PublicKey, 1)})
	require.NoError(t, err)
	blockhash := tx.Message.RecentBlockHash
	require.NoError(t, Sign(&tx, f.owner))

	// Externally signed: Execute must submit it untouched.
	res, err := svc.Execute(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSuccess, res.Status, res.Error)
	require.Len(t, f.ledger.Sent(), 1)
	assert.Equal(t, blockhash, f.ledger.Sent()[0].Message.RecentBlockHash)
}

func TestExecuteUnconfirmedAtCommitment(t *testing.T) {
	f := newFixture(t)
	f.ledger.Commitment = ledger.CommitmentProcessed
	cfg := fastConfig()
	cfg.ComputeUnitLimit = 50_000
	cfg.Commitment = ledger.CommitmentFinalized
	cfg.ConfirmTimeout = 20 * time.Millisecond
	svc := New(f.ledger, nil, cfg, discardLogger())
	ctx := context.Background()

	tx, err := svc.Build(ctx, f.owner.PublicKey, []types.Instruction{token.Transfer(f.from, f.to, f.owner.PublicKey, 1)})
	require.NoError(t, err)
	res, err := svc.Execute(ctx, tx, f.owner)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionUnconfirmed, res.Status)

	f.ledger.SetConfirmation(res.Signature, ledger.CommitmentFinalized)
	st, err := svc.Status(ctx, res.Signature)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSuccess, st.Status)
}

func TestEncodeDecode(t *testing.T) {
	f := newFixture(t)
	cfg := fastConfig()
	cfg.ComputeUnitLimit = 50_000
	svc := New(f.ledger, nil, cfg, discardLogger())

	tx, err := svc.Build(context.Background(), f.owner.PublicKey,
		[]types.Instruction{token.Transfer(f.from, f.to, f.owner.PublicKey, 1)})
	require.NoError(t, err)

	wire, err := Encode(tx)
	require.NoError(t, err)
	assert.Equal(t, f.owner.PublicKey.ToBase58(), wire.FeePayer)
	assert.Equal(t, []string{f.owner.PublicKey.ToBase58()}, wire.RequiredSigners)

	back, err := Decode(wire.Transaction)
	require.NoError(t, err)
	assert.Equal(t, tx.Message.RecentBlockHash, back.Message.RecentBlockHash)
	assert.Equal(t, []string{f.owner.PublicKey.ToBase58()}, MissingSigners(back))

	_, err = Decode("!!!")
	assert.ErrorIs(t, err, domain.ErrInvalidTransaction)
}
