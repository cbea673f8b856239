package vault

import (
	"context"
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
	"github.com/alanyoungcy/condvault/internal/execution"
	"github.com/alanyoungcy/condvault/internal/ledger"
	"github.com/alanyoungcy/condvault/internal/ledger/ledgertest"
	"github.com/alanyoungcy/condvault/internal/token"
)

const sol = 1_000_000_000

type harness struct {
	t          *testing.T
	ledger     *ledgertest.Ledger
	exec       *execution.Service
	authority  types.Account
	collateral common.PublicKey
	vault      *Vault
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	l := ledgertest.New()
	cfg := execution.DefaultConfig()
	cfg.Priority = execution.TierNone
	cfg.ComputeUnitLimit = 200_000
	cfg.RetryBaseDelay = time.Millisecond
	cfg.PollInterval = time.Millisecond
	cfg.ConfirmTimeout = 100 * time.Millisecond
	svc := execution.New(l, nil, cfg, discardLogger())

	authority := types.NewAccount()
	l.Airdrop(authority.PublicKey, 10*sol)
	collateral := l.CreateMint(types.NewAccount().PublicKey, 6)

	v, err := New(Config{
		ID:          "v-base",
		ProposalID:  "p-1",
		Leg:         domain.LegBase,
		RegularMint: collateral,
		Decimals:    6,
	}, authority, svc, l, discardLogger())
	require.NoError(t, err)
	return &harness{t: t, ledger: l, exec: svc, authority: authority, collateral: collateral, vault: v}
}

func (h *harness) initialize() {
	h.t.Helper()
	res, err := h.vault.Initialize(context.Background())
	require.NoError(h.t, err)
	require.Equal(h.t, domain.ExecutionSuccess, res.Status, res.Error)
}

// user returns a funded account holding amount of collateral.
func (h *harness) user(amount uint64) types.Account {
	h.t.Helper()
	u := types.NewAccount()
	h.ledger.Airdrop(u.PublicKey, sol)
	h.ledger.MintTokens(h.collateral, u.PublicKey, amount)
	return u
}

func (h *harness) run(kind domain.OperationKind, tx types.Transaction, user types.Account) domain.ExecutionResult {
	h.t.Helper()
	require.NoError(h.t, execution.Sign(&tx, user))
	_, res, err := h.vault.Execute(context.Background(), kind, tx)
	require.NoError(h.t, err)
	require.Equal(h.t, domain.ExecutionSuccess, res.Status, res.Error)
	return res
}

func (h *harness) split(user types.Account, amount uint64) {
	h.t.Helper()
	tx, err := h.vault.BuildSplit(context.Background(), user.PublicKey, amount)
	require.NoError(h.t, err)
	h.run(domain.OpSplit, tx, user)
}

func (h *harness) merge(user types.Account, amount uint64) {
	h.t.Helper()
	tx, err := h.vault.BuildMerge(context.Background(), user.PublicKey, amount)
	require.NoError(h.t, err)
	h.run(domain.OpMerge, tx, user)
}

func (h *harness) branch(user types.Account, b int) uint64 {
	h.t.Helper()
	bal, err := h.vault.BranchBalance(context.Background(), user.PublicKey, b)
	require.NoError(h.t, err)
	return bal
}

// assertBacked checks that escrow equals the supply of every branch.
func (h *harness) assertBacked() {
	h.t.Helper()
	ctx := context.Background()
	escrow, err := h.vault.TotalSupply(ctx)
	require.NoError(h.t, err)
	for b := 0; b < h.vault.Branches(); b++ {
		supply, err := h.vault.BranchTotalSupply(ctx, b)
		require.NoError(h.t, err)
		assert.Equal(h.t, escrow, supply, "branch %d", b)
	}
}

func TestLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.user(100)

	_, err := h.vault.Finalize(ctx, domain.ResolvedOutcome(domain.BranchPass))
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
	_, err = h.vault.BuildSplit(ctx, user.PublicKey, 10)
	assert.ErrorIs(t, err, domain.ErrVaultNotInitialized)

	h.initialize()
	assert.Equal(t, domain.VaultActive, h.vault.State())
	mints := h.vault.ConditionalMints()
	require.Len(t, mints, 2)
	for _, m := range mints {
		require.NotNil(t, h.ledger.MintAuthority(m))
		assert.Equal(t, h.authority.PublicKey, *h.ledger.MintAuthority(m))
	}
	assert.True(t, h.ledger.Exists(h.vault.EscrowAccount()))

	_, err = h.vault.Initialize(ctx)
	assert.ErrorIs(t, err, domain.ErrAlreadyInitialized)

	_, err = h.vault.Finalize(ctx, domain.PendingOutcome())
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
	_, err = h.vault.Finalize(ctx, domain.ResolvedOutcome(2))
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
	assert.Equal(t, domain.VaultActive, h.vault.State())

	res, err := h.vault.Finalize(ctx, domain.ResolvedOutcome(domain.BranchPass))
	require.NoError(t, err)
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, domain.VaultFinalized, h.vault.State())
	assert.Equal(t, domain.BranchPass, h.vault.Outcome().Branch())
	for _, m := range mints {
		assert.Nil(t, h.ledger.MintAuthority(m))
	}

	_, err = h.vault.Finalize(ctx, domain.ResolvedOutcome(domain.BranchFail))
	assert.ErrorIs(t, err, domain.ErrAlreadyFinalized)
	assert.Equal(t, domain.BranchPass, h.vault.Outcome().Branch())

	_, err = h.vault.BuildSplit(ctx, user.PublicKey, 10)
	assert.ErrorIs(t, err, domain.ErrVaultFinalized)
	_, err = h.vault.BuildMerge(ctx, user.PublicKey, 10)
	assert.ErrorIs(t, err, domain.ErrVaultFinalized)
}

func TestSplitThenRedeemScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.initialize()
	user := h.user(5_000_000)

	h.split(user, 1_000_000)

	bal, err := h.vault.UserBalances(ctx, user.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, Balances{Collateral: 4_000_000, Branches: []uint64{1_000_000, 1_000_000}}, bal)
	escrow, err := h.vault.TotalSupply(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1_000_000, escrow)
	h.assertBacked()

	_, err = h.vault.Finalize(ctx, domain.ResolvedOutcome(domain.BranchPass))
	require.NoError(t, err)

	tx, err := h.vault.BuildRedeemWinningTokens(ctx, user.PublicKey)
	require.NoError(t, err)
	h.run(domain.OpRedeem, tx, user)

	bal, err = h.vault.UserBalances(ctx, user.PublicKey)
	require.NoError(t, err)
	assert.EqualValues(t, 5_000_000, bal.Collateral)
	assert.EqualValues(t, 0, bal.Branches[domain.BranchPass])
	assert.EqualValues(t, 1_000_000, bal.Branches[domain.BranchFail])

	passAccount, err := token.AssociatedAddress(user.PublicKey, h.vault.ConditionalMints()[domain.BranchPass])
	require.NoError(t, err)
	assert.False(t, h.ledger.Exists(passAccount), "winning account should be closed")

	escrow, err = h.vault.TotalSupply(ctx)
	require.NoError(t, err)
	assert.Zero(t, escrow)

	_, err = h.vault.BuildRedeemWinningTokens(ctx, user.PublicKey)
	assert.ErrorIs(t, err, domain.ErrNoWinningTokens)
}

func TestConservationAcrossUsers(t *testing.T) {
	h := newHarness(t)
	h.initialize()
	alice := h.user(1_000)
	bob := h.user(1_000)

	steps := []struct {
		user   types.Account
		merge  bool
		amount uint64
	}{
		{alice, false, 400},
		{bob, false, 250},
		{alice, true, 150},
		{bob, false, 750},
		{bob, true, 1_000},
		{alice, false, 600},
		{alice, true, 850},
	}
	for _, s := range steps {
		if s.merge {
			h.merge(s.user, s.amount)
		} else {
			h.split(s.user, s.amount)
		}
		h.assertBacked()
	}

	ctx := context.Background()
	for _, u := range []types.Account{alice, bob} {
		bal, err := h.vault.UserBalances(ctx, u.PublicKey)
		require.NoError(t, err)
		assert.Equal(t, bal.Branches[0], bal.Branches[1])
		assert.EqualValues(t, 1_000, bal.Collateral+bal.Branches[0])
	}
	escrow, err := h.vault.TotalSupply(ctx)
	require.NoError(t, err)
	assert.Zero(t, escrow)
}

func TestMergeClosesEmptiedAccounts(t *testing.T) {
	h := newHarness(t)
	h.initialize()
	user := h.user(500)
	h.split(user, 500)
	h.merge(user, 200)

	accounts := make([]common.PublicKey, 2)
	for i, m := range h.vault.ConditionalMints() {
		ata, err := token.AssociatedAddress(user.PublicKey, m)
		require.NoError(t, err)
		accounts[i] = ata
		assert.True(t, h.ledger.Exists(ata))
	}

	h.merge(user, 300)
	for _, ata := range accounts {
		assert.False(t, h.ledger.Exists(ata))
	}
	bal, err := h.vault.Balance(context.Background(), user.PublicKey)
	require.NoError(t, err)
	assert.EqualValues(t, 500, bal)
}

func TestSplitBuildMintsOnlyWhatIsDeposited(t *testing.T) {
	h := newHarness(t)
	h.initialize()
	user := h.user(1_000)

	tx, err := h.vault.BuildSplit(context.Background(), user.PublicKey, 321)
	require.NoError(t, err)
	ixs, err := ledger.Decompile(tx.Message)
	require.NoError(t, err)

	var deposited uint64
	minted := map[common.PublicKey]uint64{}
	for _, ix := range ixs {
		op, ok := token.Decode(ix)
		if !ok {
			continue
		}
		switch op.Kind {
		case token.OpTransfer:
			require.Equal(t, h.vault.EscrowAccount(), op.Dest)
			deposited += op.Amount
		case token.OpMintTo:
			minted[op.Mint] += op.Amount
		default:
			t.Fatalf("unexpected token op %d", op.Kind)
		}
	}
	assert.EqualValues(t, 321, deposited)
	require.Len(t, minted, 2)
	for _, m := range h.vault.ConditionalMints() {
		assert.Equal(t, deposited, minted[m])
	}
	assert.Equal(t, user.PublicKey, tx.Message.Accounts[0])
}

func TestBuildValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.initialize()
	user := h.user(100)

	_, err := h.vault.BuildSplit(ctx, user.PublicKey, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = h.vault.BuildMerge(ctx, user.PublicKey, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = h.vault.BuildSplit(ctx, user.PublicKey, 101)
	var short *domain.InsufficientBalanceError
	require.ErrorAs(t, err, &short)
	assert.EqualValues(t, 101, short.Requested)
	assert.EqualValues(t, 100, short.Available)

	h.split(user, 60)
	_, err = h.vault.BuildMerge(ctx, user.PublicKey, 61)
	var branchShort *domain.InsufficientBranchBalanceError
	require.ErrorAs(t, err, &branchShort)
	assert.Equal(t, 0, branchShort.Branch)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = h.vault.BuildRedeemWinningTokens(ctx, user.PublicKey)
	assert.ErrorIs(t, err, domain.ErrVaultNotFinalized)

	_, err = h.vault.BranchBalance(ctx, user.PublicKey, 2)
	assert.ErrorIs(t, err, domain.ErrInvalidBranch)
}

func TestRedeemOnlyWinningBranch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.initialize()
	winner := h.user(300)
	loser := h.user(300)
	h.split(winner, 300)
	h.split(loser, 300)

	// winner gives away pass tokens, loser gives away fail tokens
	mints := h.vault.ConditionalMints()
	move := func(from, to types.Account, mint common.PublicKey) {
		src, err := token.AssociatedAddress(from.PublicKey, mint)
		require.NoError(t, err)
		create, dst, err := token.CreateAssociatedIdempotent(from.PublicKey, to.PublicKey, mint)
		require.NoError(t, err)
		tx, err := h.exec.Build(ctx, from.PublicKey, []types.Instruction{create, token.Transfer(src, dst, from.PublicKey, 300)})
		require.NoError(t, err)
		res, err := h.exec.Execute(ctx, tx, from)
		require.NoError(t, err)
		require.True(t, res.OK(), res.Error)
	}
	move(loser, winner, mints[domain.BranchFail])
	move(winner, loser, mints[domain.BranchPass])

	_, err := h.vault.Finalize(ctx, domain.ResolvedOutcome(domain.BranchFail))
	require.NoError(t, err)

	_, err = h.vault.BuildRedeemWinningTokens(ctx, loser.PublicKey)
	assert.ErrorIs(t, err, domain.ErrNoWinningTokens)

	tx, err := h.vault.BuildRedeemWinningTokens(ctx, winner.PublicKey)
	require.NoError(t, err)
	h.run(domain.OpRedeem, tx, winner)

	bal, err := h.vault.Balance(ctx, winner.PublicKey)
	require.NoError(t, err)
	assert.EqualValues(t, 600, bal)
	escrow, err := h.vault.TotalSupply(ctx)
	require.NoError(t, err)
	assert.Zero(t, escrow)
}

func TestExecuteRejectsAfterFinalize(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.initialize()
	user := h.user(100)

	tx, err := h.vault.BuildSplit(ctx, user.PublicKey, 100)
	require.NoError(t, err)
	require.NoError(t, execution.Sign(&tx, user))

	_, err = h.vault.Finalize(ctx, domain.ResolvedOutcome(domain.BranchPass))
	require.NoError(t, err)
	sent := len(h.ledger.Sent())

	_, err = h.vault.ExecuteSplit(ctx, tx)
	assert.ErrorIs(t, err, domain.ErrVaultFinalized)
	assert.Len(t, h.ledger.Sent(), sent)

	bal, err := h.vault.Balance(ctx, user.PublicKey)
	require.NoError(t, err)
	assert.EqualValues(t, 100, bal)
}

type fixedSource struct {
	state   domain.VaultState
	outcome domain.Outcome
}

func (s fixedSource) VaultState(context.Context, string) (domain.VaultState, domain.Outcome, error) {
	return s.state, s.outcome, nil
}

func TestExecuteAdoptsPersistedFinalization(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.initialize()
	user := h.user(100)

	tx, err := h.vault.BuildSplit(ctx, user.PublicKey, 100)
	require.NoError(t, err)
	require.NoError(t, execution.Sign(&tx, user))

	h.vault.SetStateSource(fixedSource{state: domain.VaultFinalized, outcome: domain.ResolvedOutcome(domain.BranchFail)})
	_, err = h.vault.ExecuteSplit(ctx, tx)
	assert.ErrorIs(t, err, domain.ErrVaultFinalized)
	assert.Equal(t, domain.VaultFinalized, h.vault.State())
	assert.Equal(t, domain.BranchFail, h.vault.Outcome().Branch())
}

func TestExecuteRejectsTamperedTransactions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.initialize()
	user := h.user(1_000)
	h.split(user, 100)
	mints := h.vault.ConditionalMints()
	userCol, err := token.AssociatedAddress(user.PublicKey, h.collateral)
	require.NoError(t, err)
	dests := make([]common.PublicKey, 2)
	for i, m := range mints {
		dests[i], err = token.AssociatedAddress(user.PublicKey, m)
		require.NoError(t, err)
	}

	cases := map[string]struct {
		kind     domain.OperationKind
		feePayer common.PublicKey
		ixs      []types.Instruction
	}{
		"mint without deposit": {
			kind:     domain.OpSplit,
			feePayer: user.PublicKey,
			ixs: []types.Instruction{
				token.MintTo(mints[0], dests[0], h.authority.PublicKey, 50),
				token.MintTo(mints[1], dests[1], h.authority.PublicKey, 50),
			},
		},
		"mint more than deposit": {
			kind:     domain.OpSplit,
			feePayer: user.PublicKey,
			ixs: []types.Instruction{
				token.Transfer(userCol, h.vault.EscrowAccount(), user.PublicKey, 10),
				token.MintTo(mints[0], dests[0], h.authority.PublicKey, 50),
				token.MintTo(mints[1], dests[1], h.authority.PublicKey, 50),
			},
		},
		"mint one branch only": {
			kind:     domain.OpSplit,
			feePayer: user.PublicKey,
			ixs: []types.Instruction{
				token.Transfer(userCol, h.vault.EscrowAccount(), user.PublicKey, 50),
				token.MintTo(mints[0], dests[0], h.authority.PublicKey, 50),
			},
		},
		"authority pays fees": {
			kind:     domain.OpSplit,
			feePayer: h.authority.PublicKey,
			ixs: []types.Instruction{
				token.Transfer(userCol, h.vault.EscrowAccount(), user.PublicKey, 50),
				token.MintTo(mints[0], dests[0], h.authority.PublicKey, 50),
				token.MintTo(mints[1], dests[1], h.authority.PublicKey, 50),
			},
		},
		"withdraw without burn": {
			kind:     domain.OpMerge,
			feePayer: user.PublicKey,
			ixs: []types.Instruction{
				token.Burn(dests[0], mints[0], user.PublicKey, 1),
				token.Burn(dests[1], mints[1], user.PublicKey, 1),
				token.Transfer(h.vault.EscrowAccount(), userCol, h.vault.Escrow(), 100),
			},
		},
		"withdraw to someone else": {
			kind:     domain.OpMerge,
			feePayer: user.PublicKey,
			ixs: []types.Instruction{
				token.Burn(dests[0], mints[0], user.PublicKey, 10),
				token.Burn(dests[1], mints[1], user.PublicKey, 10),
				token.Transfer(h.vault.EscrowAccount(), h.vault.EscrowAccount(), h.vault.Escrow(), 10),
			},
		},
		"redeem before finalize": {
			kind:     domain.OpRedeem,
			feePayer: user.PublicKey,
			ixs: []types.Instruction{
				token.Burn(dests[0], mints[0], user.PublicKey, 10),
				token.Transfer(h.vault.EscrowAccount(), userCol, h.vault.Escrow(), 10),
			},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			tx, err := h.exec.Build(ctx, tc.feePayer, tc.ixs)
			require.NoError(t, err)
			if tc.feePayer == user.PublicKey {
				require.NoError(t, execution.Sign(&tx, user))
			}
			sent := len(h.ledger.Sent())
			_, _, err = h.vault.Execute(ctx, tc.kind, tx)
			require.Error(t, err)
			assert.True(t, domain.IsValidationError(err) || domain.IsStateError(err), err)
			assert.Len(t, h.ledger.Sent(), sent)
		})
	}
	h.assertBacked()
}

func TestInitializeUnconfirmedIsResumed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ledger.Commitment = ledger.CommitmentProcessed

	res, err := h.vault.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionUnconfirmed, res.Status)
	assert.Equal(t, domain.VaultUninitialized, h.vault.State())
	landed := len(h.ledger.Sent())

	res, err = h.vault.Initialize(ctx)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, domain.VaultActive, h.vault.State())
	assert.Len(t, h.ledger.Sent(), landed, "no second set of mints")
	for _, m := range h.vault.ConditionalMints() {
		assert.NotNil(t, h.ledger.MintAuthority(m))
	}
}

func TestInitializeUnconfirmedSurvivesRestore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ledger.Commitment = ledger.CommitmentProcessed

	res, err := h.vault.Initialize(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.ExecutionUnconfirmed, res.Status)
	landed := len(h.ledger.Sent())

	snap, err := h.vault.Snapshot(plainSealer{})
	require.NoError(t, err)
	assert.Equal(t, domain.VaultUninitialized, snap.State)
	assert.Len(t, snap.ConditionalMints, 2)
	assert.Equal(t, res.Signature, snap.InitSignature)

	restored, err := Restore(snap, plainSealer{}, h.authority, h.exec, h.ledger, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, domain.VaultUninitialized, restored.State())
	assert.Empty(t, restored.ConditionalMints())

	res, err = restored.Initialize(ctx)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, snap.InitSignature, res.Signature)
	assert.Equal(t, domain.VaultActive, restored.State())
	assert.Len(t, h.ledger.Sent(), landed, "restored vault adopts the earlier mints")
	assert.Equal(t, snap.ConditionalMints, token.Base58(restored.ConditionalMints()))

	snap, err = restored.Snapshot(plainSealer{})
	require.NoError(t, err)
	assert.Empty(t, snap.InitSignature)
}

func TestFinalizeUnconfirmedCanRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.initialize()

	h.ledger.Commitment = ledger.CommitmentProcessed
	res, err := h.vault.Finalize(ctx, domain.ResolvedOutcome(domain.BranchPass))
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionUnconfirmed, res.Status)
	assert.Equal(t, domain.VaultActive, h.vault.State())

	res, err = h.vault.Finalize(ctx, domain.ResolvedOutcome(domain.BranchPass))
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, domain.VaultFinalized, h.vault.State())
}

type plainSealer struct{}

func (plainSealer) Seal(b []byte) ([]byte, error) { return append([]byte("sealed:"), b...), nil }
func (plainSealer) Open(b []byte) ([]byte, error) {
	if len(b) < 7 {
		return nil, errors.New("short")
	}
	return b[7:], nil
}

func TestSnapshotRestore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.initialize()
	user := h.user(500)
	h.split(user, 500)

	snap, err := h.vault.Snapshot(plainSealer{})
	require.NoError(t, err)
	assert.Equal(t, domain.VaultActive, snap.State)
	assert.Equal(t, domain.ProposalPending, snap.Outcome)
	assert.Len(t, snap.ConditionalMints, 2)

	restored, err := Restore(snap, plainSealer{}, h.authority, h.exec, h.ledger, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, h.vault.Escrow(), restored.Escrow())
	assert.Equal(t, h.vault.ConditionalMints(), restored.ConditionalMints())

	h.vault = restored
	h.merge(user, 200)
	h.assertBacked()

	_, err = restored.Finalize(ctx, domain.ResolvedOutcome(domain.BranchFail))
	require.NoError(t, err)
	snap, err = restored.Snapshot(plainSealer{})
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalFailed, snap.Outcome)

	again, err := Restore(snap, plainSealer{}, h.authority, h.exec, h.ledger, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, domain.VaultFinalized, again.State())
	assert.Equal(t, domain.BranchFail, again.Outcome().Branch())

	snap.Escrow = types.NewAccount().PublicKey.ToBase58()
	_, err = Restore(snap, plainSealer{}, h.authority, h.exec, h.ledger, discardLogger())
	assert.Error(t, err)
}
