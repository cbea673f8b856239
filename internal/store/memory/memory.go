// Package memory implements the domain stores in process memory. It backs
// tests and single-node runs without a database; nothing survives a
// restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/condvault/internal/domain"
)

// ProposalStore implements domain.ProposalStore.
type ProposalStore struct {
	mu   sync.Mutex
	rows map[string]domain.Proposal
}

// NewProposalStore creates an empty ProposalStore.
func NewProposalStore() *ProposalStore {
	return &ProposalStore{rows: make(map[string]domain.Proposal)}
}

func (s *ProposalStore) Create(_ context.Context, p domain.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.rows[p.ID] = p
	return nil
}

func (s *ProposalStore) GetByID(_ context.Context, id string) (domain.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[id]
	if !ok {
		return domain.Proposal{}, domain.ErrNotFound
	}
	return p, nil
}

// List returns proposals newest first.
func (s *ProposalStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Proposal, error) {
	s.mu.Lock()
	out := make([]domain.Proposal, 0, len(s.rows))
	for _, p := range s.rows {
		if inRange(p.CreatedAt, opts) {
			out = append(out, p)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, opts), nil
}

func (s *ProposalStore) ListExpiredPending(_ context.Context, now time.Time) ([]domain.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Proposal
	for _, p := range s.rows {
		if p.Status == domain.ProposalPending && p.Expired(now) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt().Before(out[j].ExpiresAt()) })
	return out, nil
}

func (s *ProposalStore) CompareAndSetStatus(_ context.Context, id string, from, to domain.ProposalStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if p.Status != from {
		return false, nil
	}
	p.Status = to
	p.FinalizedAt = &at
	s.rows[id] = p
	return true, nil
}

// VaultStore implements domain.VaultStore. Like the database store it
// never overwrites a finalized snapshot.
type VaultStore struct {
	mu    sync.Mutex
	snaps map[string]domain.VaultSnapshot
}

// NewVaultStore creates an empty VaultStore.
func NewVaultStore() *VaultStore {
	return &VaultStore{snaps: make(map[string]domain.VaultSnapshot)}
}

// Save stores snap. A finalized snapshot is kept, and a snapshot with a
// different escrow than the stored one is refused.
func (s *VaultStore) Save(_ context.Context, snap domain.VaultSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.snaps[snap.ID]; ok {
		if cur.Escrow != snap.Escrow {
			return fmt.Errorf("memory: save vault %s: escrow %s differs from stored %s: %w", snap.ID, snap.Escrow, cur.Escrow, domain.ErrAlreadyExists)
		}
		if cur.State == domain.VaultFinalized {
			return nil
		}
	}
	snap.ConditionalMints = append([]string(nil), snap.ConditionalMints...)
	s.snaps[snap.ID] = snap
	return nil
}

func (s *VaultStore) GetByID(_ context.Context, id string) (domain.VaultSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[id]
	if !ok {
		return domain.VaultSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

// ListByProposal returns the vaults of a proposal, base leg first.
func (s *VaultStore) ListByProposal(_ context.Context, proposalID string) ([]domain.VaultSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.VaultSnapshot
	for _, snap := range s.snaps {
		if snap.ProposalID == proposalID {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Leg < out[j].Leg })
	return out, nil
}

// ExecutionStore implements domain.ExecutionStore.
type ExecutionStore struct {
	mu   sync.Mutex
	rows []domain.ExecutionRecord
}

// NewExecutionStore creates an empty ExecutionStore.
func NewExecutionStore() *ExecutionStore { return &ExecutionStore{} }

func (s *ExecutionStore) Insert(_ context.Context, r domain.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, r)
	return nil
}

// GetBySignature returns the latest record for signature.
func (s *ExecutionStore) GetBySignature(_ context.Context, signature string) (domain.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.rows) - 1; i >= 0; i-- {
		if s.rows[i].Result.Signature == signature && signature != "" {
			return s.rows[i], nil
		}
	}
	return domain.ExecutionRecord{}, domain.ErrNotFound
}

func (s *ExecutionStore) ListByVault(_ context.Context, vaultID string, opts domain.ListOpts) ([]domain.ExecutionRecord, error) {
	s.mu.Lock()
	var out []domain.ExecutionRecord
	for i := len(s.rows) - 1; i >= 0; i-- {
		if r := s.rows[i]; r.VaultID == vaultID && inRange(r.CreatedAt, opts) {
			out = append(out, r)
		}
	}
	s.mu.Unlock()
	return page(out, opts), nil
}

// AuditStore implements domain.AuditStore.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	now     func() time.Time
}

// NewAuditStore creates an empty AuditStore.
func NewAuditStore() *AuditStore { return &AuditStore{now: time.Now} }

func (s *AuditStore) Log(_ context.Context, proposalID, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:         int64(len(s.entries) + 1),
		ProposalID: proposalID,
		Event:      event,
		Detail:     detail,
		CreatedAt:  s.now().UTC(),
	})
	return nil
}

func (s *AuditStore) List(_ context.Context, proposalID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	var out []domain.AuditEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if e := s.entries[i]; e.ProposalID == proposalID && inRange(e.CreatedAt, opts) {
			out = append(out, e)
		}
	}
	s.mu.Unlock()
	return page(out, opts), nil
}

func inRange(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && t.After(*opts.Until) {
		return false
	}
	return true
}

func page[T any](rows []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(rows) {
			return nil
		}
		rows = rows[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(rows) {
		rows = rows[:opts.Limit]
	}
	return rows
}

var (
	_ domain.ProposalStore  = (*ProposalStore)(nil)
	_ domain.VaultStore     = (*VaultStore)(nil)
	_ domain.ExecutionStore = (*ExecutionStore)(nil)
	_ domain.AuditStore     = (*AuditStore)(nil)
)
