package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ProposalStore persists proposals. CompareAndSetStatus is the single-writer
// gate for finalization: it succeeds for exactly one caller.
type ProposalStore interface {
	Create(ctx context.Context, p Proposal) error
	GetByID(ctx context.Context, id string) (Proposal, error)
	List(ctx context.Context, opts ListOpts) ([]Proposal, error)
	ListExpiredPending(ctx context.Context, now time.Time) ([]Proposal, error)
	CompareAndSetStatus(ctx context.Context, id string, from, to ProposalStatus, at time.Time) (bool, error)
}

// VaultStore persists vault snapshots.
type VaultStore interface {
	Save(ctx context.Context, snap VaultSnapshot) error
	GetByID(ctx context.Context, id string) (VaultSnapshot, error)
	ListByProposal(ctx context.Context, proposalID string) ([]VaultSnapshot, error)
}

// ExecutionStore persists execute results.
type ExecutionStore interface {
	Insert(ctx context.Context, rec ExecutionRecord) error
	GetBySignature(ctx context.Context, signature string) (ExecutionRecord, error)
	ListByVault(ctx context.Context, vaultID string, opts ListOpts) ([]ExecutionRecord, error)
}

// AuditEntry is one row of a proposal's audit trail.
type AuditEntry struct {
	ID         int64          `json:"id"`
	ProposalID string         `json:"proposal_id"`
	Event      string         `json:"event"`
	Detail     map[string]any `json:"detail,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit trail keyed by proposal.
type AuditStore interface {
	Log(ctx context.Context, proposalID, event string, detail map[string]any) error
	// List returns a proposal's entries newest first.
	List(ctx context.Context, proposalID string, opts ListOpts) ([]AuditEntry, error)
}
