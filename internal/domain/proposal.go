package domain

import "time"

// ProposalStatus is the resolved status of a decision market.
type ProposalStatus string

const (
	ProposalPending ProposalStatus = "pending"
	ProposalPassed  ProposalStatus = "passed"
	ProposalFailed  ProposalStatus = "failed"
)

// Terminal reports whether the status is a final outcome.
func (s ProposalStatus) Terminal() bool {
	return s != ProposalPending && s != ""
}

// Proposal is the persisted record of a decision market owning two vaults.
type Proposal struct {
	ID          string
	Description string
	BaseMint    string
	QuoteMint   string
	BaseVault   string
	QuoteVault  string
	Status      ProposalStatus
	Duration    time.Duration
	CreatedAt   time.Time
	FinalizedAt *time.Time
}

// ExpiresAt returns the earliest time the proposal may be finalized.
func (p Proposal) ExpiresAt() time.Time {
	return p.CreatedAt.Add(p.Duration)
}

// Expired reports whether the trading window has elapsed at now.
func (p Proposal) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt())
}
