package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/condvault/internal/domain"
)

func TestProposalStoreCAS(t *testing.T) {
	s := NewProposalStore()
	ctx := context.Background()
	t0 := time.Unix(1_000, 0)
	require.NoError(t, s.Create(ctx, domain.Proposal{ID: "p1", Status: domain.ProposalPending, CreatedAt: t0, Duration: time.Hour}))
	assert.ErrorIs(t, s.Create(ctx, domain.Proposal{ID: "p1"}), domain.ErrAlreadyExists)

	due, err := s.ListExpiredPending(ctx, t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, due)
	due, err = s.ListExpiredPending(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, due, 1)

	won, err := s.CompareAndSetStatus(ctx, "p1", domain.ProposalPending, domain.ProposalPassed, t0)
	require.NoError(t, err)
	assert.True(t, won)
	won, err = s.CompareAndSetStatus(ctx, "p1", domain.ProposalPending, domain.ProposalFailed, t0)
	require.NoError(t, err)
	assert.False(t, won)

	p, err := s.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalPassed, p.Status)
	_, err = s.CompareAndSetStatus(ctx, "nope", domain.ProposalPending, domain.ProposalPassed, t0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVaultStoreKeepsFinalized(t *testing.T) {
	s := NewVaultStore()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, domain.VaultSnapshot{ID: "v", ProposalID: "p", Leg: domain.LegQuote, State: domain.VaultFinalized}))
	require.NoError(t, s.Save(ctx, domain.VaultSnapshot{ID: "v", ProposalID: "p", Leg: domain.LegQuote, State: domain.VaultActive}))
	snap, err := s.GetByID(ctx, "v")
	require.NoError(t, err)
	assert.Equal(t, domain.VaultFinalized, snap.State)

	require.NoError(t, s.Save(ctx, domain.VaultSnapshot{ID: "b", ProposalID: "p", Leg: domain.LegBase}))
	list, err := s.ListByProposal(ctx, "p")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.LegBase, list[0].Leg)
}

func TestVaultStoreRefusesEscrowSwap(t *testing.T) {
	s := NewVaultStore()
	ctx := context.Background()
	first := domain.VaultSnapshot{ID: "p-base", ProposalID: "p", Leg: domain.LegBase, Escrow: "escrow-a", State: domain.VaultUninitialized}
	require.NoError(t, s.Save(ctx, first))

	first.State = domain.VaultActive
	require.NoError(t, s.Save(ctx, first))

	other := first
	other.Escrow = "escrow-b"
	other.State = domain.VaultUninitialized
	err := s.Save(ctx, other)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	snap, err := s.GetByID(ctx, "p-base")
	require.NoError(t, err)
	assert.Equal(t, "escrow-a", snap.Escrow)
	assert.Equal(t, domain.VaultActive, snap.State)
}

func TestExecutionStoreLatestAndPaging(t *testing.T) {
	s := NewExecutionStore()
	ctx := context.Background()
	for i, st := range []domain.ExecutionStatus{domain.ExecutionUnconfirmed, domain.ExecutionSuccess} {
		require.NoError(t, s.Insert(ctx, domain.ExecutionRecord{
			ID: string(rune('a' + i)), VaultID: "v",
			Result: domain.ExecutionResult{Signature: "sig", Status: st},
		}))
	}
	require.NoError(t, s.Insert(ctx, domain.ExecutionRecord{ID: "c", VaultID: "v"}))

	rec, err := s.GetBySignature(ctx, "sig")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSuccess, rec.Result.Status)
	_, err = s.GetBySignature(ctx, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	recs, err := s.ListByVault(ctx, "v", domain.ListOpts{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "b", recs[0].ID)
}

func TestAuditStore(t *testing.T) {
	s := NewAuditStore()
	ctx := context.Background()
	require.NoError(t, s.Log(ctx, "p1", "one", nil))
	require.NoError(t, s.Log(ctx, "p2", "other", nil))
	require.NoError(t, s.Log(ctx, "p1", "two", map[string]any{"k": 1}))
	entries, err := s.List(ctx, "p1", domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "two", entries[0].Event)

	all, err := s.List(ctx, "p1", domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
