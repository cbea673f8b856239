package proposal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/blocto/solana-go-sdk/types"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/condvault/internal/cache/redis"
	"github.com/alanyoungcy/condvault/internal/domain"
	"github.com/alanyoungcy/condvault/internal/execution"
	"github.com/alanyoungcy/condvault/internal/ledger"
	"github.com/alanyoungcy/condvault/internal/ledger/ledgertest"
	"github.com/alanyoungcy/condvault/internal/store/memory"
	"github.com/alanyoungcy/condvault/internal/vault"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingProposals struct {
	*memory.ProposalStore
	cas atomic.Int32
}

func (c *countingProposals) CompareAndSetStatus(ctx context.Context, id string, from, to domain.ProposalStatus, at time.Time) (bool, error) {
	won, err := c.ProposalStore.CompareAndSetStatus(ctx, id, from, to, at)
	if won {
		c.cas.Add(1)
	}
	return won, err
}

type stubOracle struct {
	outcome domain.Outcome
	err     error
	calls   atomic.Int32
}

func (o *stubOracle) FetchOutcome(context.Context, string) (domain.Outcome, error) {
	o.calls.Add(1)
	return o.outcome, o.err
}

type plainSealer struct{}

func (plainSealer) Seal(b []byte) ([]byte, error) { return append([]byte(nil), b...), nil }
func (plainSealer) Open(b []byte) ([]byte, error) { return append([]byte(nil), b...), nil }

type recordingEvents struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingEvents) Publish(_ context.Context, ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEvents) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.EventType
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type env struct {
	ledger    *ledgertest.Ledger
	exec      *execution.Service
	authority types.Account
	store     *countingProposals
	vaults    *memory.VaultStore
	oracle    *stubOracle
	events    *recordingEvents
	locks     domain.LockManager
	now       time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	l := ledgertest.New()
	cfg := execution.DefaultConfig()
	cfg.Priority = execution.TierNone
	cfg.ComputeUnitLimit = 200_000
	cfg.RetryBaseDelay = time.Millisecond
	cfg.PollInterval = time.Millisecond
	cfg.ConfirmTimeout = 100 * time.Millisecond
	authority := types.NewAccount()
	l.Airdrop(authority.PublicKey, 100_000_000_000)

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return &env{
		ledger:    l,
		exec:      execution.New(l, nil, cfg, discardLogger()),
		authority: authority,
		store:     &countingProposals{ProposalStore: memory.NewProposalStore()},
		vaults:    memory.NewVaultStore(),
		oracle:    &stubOracle{outcome: domain.ResolvedOutcome(domain.BranchPass)},
		events:    &recordingEvents{},
		locks:     redis.NewLockManager(redis.Wrap(rdb, "test:")),
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (e *env) deps() Deps {
	return Deps{
		Store:  e.store,
		Vaults: e.vaults,
		Sealer: plainSealer{},
		Oracle: e.oracle,
		Locks:  e.locks,
		Events: e.events,
		Logger: discardLogger(),
		Now:    func() time.Time { return e.now },
	}
}

func (e *env) proposal(t *testing.T, id string) *Proposal {
	t.Helper()
	mk := func(leg domain.Leg) *vault.Vault {
		v, err := vault.New(vault.Config{
			ID:          id + "-" + string(leg),
			ProposalID:  id,
			Leg:         leg,
			RegularMint: e.ledger.CreateMint(types.NewAccount().PublicKey, 6),
			Decimals:    6,
		}, e.authority, e.exec, e.ledger, discardLogger())
		require.NoError(t, err)
		return v
	}
	p, err := New(domain.Proposal{
		ID:        id,
		Duration:  time.Hour,
		CreatedAt: e.now,
	}, mk(domain.LegBase), mk(domain.LegQuote), e.deps())
	require.NoError(t, err)
	require.NoError(t, p.Initialize(context.Background()))
	return p
}

func TestInitializePersists(t *testing.T) {
	e := newEnv(t)
	p := e.proposal(t, "p1")

	rec, err := e.store.GetByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalPending, rec.Status)
	assert.Equal(t, "p1-base", rec.BaseVault)
	assert.Equal(t, "p1-quote", rec.QuoteVault)

	for _, v := range p.Vaults() {
		assert.Equal(t, domain.VaultActive, v.State())
		snap, err := e.vaults.GetByID(context.Background(), v.ID())
		require.NoError(t, err)
		assert.Equal(t, domain.VaultActive, snap.State)
		assert.Len(t, snap.ConditionalMints, 2)
	}
	assert.Contains(t, e.events.types(), domain.EventProposalCreated)
}

func TestFinalizeBeforeExpiry(t *testing.T) {
	e := newEnv(t)
	p := e.proposal(t, "p1")

	_, err := p.Finalize(context.Background())
	assert.ErrorIs(t, err, domain.ErrProposalNotExpired)
	assert.Zero(t, e.oracle.calls.Load())
}

func TestFinalizePendingOutcome(t *testing.T) {
	e := newEnv(t)
	p := e.proposal(t, "p1")
	e.now = e.now.Add(2 * time.Hour)
	e.oracle.outcome = domain.PendingOutcome()

	_, err := p.Finalize(context.Background())
	assert.ErrorIs(t, err, domain.ErrOutcomePending)
	rec, _ := e.store.GetByID(context.Background(), "p1")
	assert.Equal(t, domain.ProposalPending, rec.Status)
}

func TestFinalizeOnce(t *testing.T) {
	e := newEnv(t)
	p := e.proposal(t, "p1")
	e.now = e.now.Add(2 * time.Hour)

	res, err := p.Finalize(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Settled)
	assert.Equal(t, domain.ProposalPassed, res.Status)
	assert.Len(t, res.Vaults, 2)

	for _, v := range p.Vaults() {
		assert.Equal(t, domain.VaultFinalized, v.State())
		for _, m := range v.ConditionalMints() {
			assert.Nil(t, e.ledger.MintAuthority(m))
		}
		snap, err := e.vaults.GetByID(context.Background(), v.ID())
		require.NoError(t, err)
		assert.Equal(t, domain.VaultFinalized, snap.State)
		assert.Equal(t, domain.ProposalPassed, snap.Outcome)
	}

	_, err = p.Finalize(context.Background())
	assert.ErrorIs(t, err, domain.ErrAlreadyFinalized)
	assert.EqualValues(t, 1, e.oracle.calls.Load())
	assert.Contains(t, e.events.types(), domain.EventProposalFinalized)
}

func TestConcurrentFinalizeSingleWinner(t *testing.T) {
	e := newEnv(t)
	p := e.proposal(t, "p1")
	e.now = e.now.Add(2 * time.Hour)

	const n = 8
	var (
		wg      sync.WaitGroup
		ok      atomic.Int32
		already atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Finalize(context.Background())
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrAlreadyFinalized):
				already.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, n-1, already.Load())
	assert.EqualValues(t, 1, e.store.cas.Load())
}

func TestFinalizeAcrossInstancesUsesStoreCAS(t *testing.T) {
	e := newEnv(t)
	p := e.proposal(t, "p1")
	e.now = e.now.Add(2 * time.Hour)

	// Another process already decided the outcome.
	won, err := e.store.CompareAndSetStatus(context.Background(), "p1", domain.ProposalPending, domain.ProposalFailed, e.now)
	require.NoError(t, err)
	require.True(t, won)

	res, err := p.Finalize(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Resumed)
	assert.True(t, res.Settled)
	assert.Equal(t, domain.ProposalFailed, res.Status)
	for _, v := range p.Vaults() {
		assert.Equal(t, domain.BranchFail, v.Outcome().Branch())
	}
	assert.Zero(t, e.oracle.calls.Load())
}

func TestFinalizeResumesUnconfirmedVault(t *testing.T) {
	e := newEnv(t)
	p := e.proposal(t, "p1")
	e.now = e.now.Add(2 * time.Hour)

	e.ledger.Commitment = ledger.CommitmentProcessed
	res, err := p.Finalize(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Settled)
	assert.False(t, p.Settled())

	res, err = p.Finalize(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Resumed)
	assert.True(t, res.Settled)
	assert.EqualValues(t, 1, e.oracle.calls.Load())

	_, err = p.Finalize(context.Background())
	assert.ErrorIs(t, err, domain.ErrAlreadyFinalized)
}

func TestFinalizeLockHeldElsewhere(t *testing.T) {
	e := newEnv(t)
	p := e.proposal(t, "p1")
	e.now = e.now.Add(2 * time.Hour)

	unlock, err := e.locks.Acquire(context.Background(), "proposal:finalize:p1", time.Minute)
	require.NoError(t, err)
	_, err = p.Finalize(context.Background())
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	unlock()

	_, err = p.Finalize(context.Background())
	require.NoError(t, err)
}

func TestExecuteSeesFinalizationFromStore(t *testing.T) {
	e := newEnv(t)
	p := e.proposal(t, "p1")
	base, err := p.Vault(domain.LegBase)
	require.NoError(t, err)

	user := types.NewAccount()
	e.ledger.Airdrop(user.PublicKey, 1_000_000_000)
	e.ledger.MintTokens(base.RegularMint(), user.PublicKey, 100)
	tx, err := base.BuildSplit(context.Background(), user.PublicKey, 100)
	require.NoError(t, err)
	require.NoError(t, execution.Sign(&tx, user))

	// A different process finalized and persisted the snapshot.
	snap, err := e.vaults.GetByID(context.Background(), base.ID())
	require.NoError(t, err)
	snap.State = domain.VaultFinalized
	snap.Outcome = domain.ProposalPassed
	require.NoError(t, e.vaults.Save(context.Background(), snap))

	_, err = base.ExecuteSplit(context.Background(), tx)
	assert.ErrorIs(t, err, domain.ErrVaultFinalized)
}

type stubRegistry struct {
	due     []string
	results map[string]error
	called  []string
}

func (s *stubRegistry) Due(context.Context, time.Time) ([]string, error) { return s.due, nil }

func (s *stubRegistry) Finalize(_ context.Context, id string) (Result, error) {
	s.called = append(s.called, id)
	if err := s.results[id]; err != nil {
		return Result{}, err
	}
	return Result{ProposalID: id, Settled: true}, nil
}

func TestSweeper(t *testing.T) {
	reg := &stubRegistry{
		due: []string{"a", "b", "c"},
		results: map[string]error{
			"b": domain.ErrOutcomePending,
			"c": errors.New("rpc down"),
		},
	}
	s := NewSweeper(reg, time.Minute, discardLogger())
	assert.Equal(t, 1, s.Sweep(context.Background()))
	assert.Equal(t, []string{"a", "b", "c"}, reg.called)
}

func TestSweeperStopsOnCancel(t *testing.T) {
	reg := &stubRegistry{}
	s := NewSweeper(reg, time.Millisecond, discardLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
