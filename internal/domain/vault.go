package domain

import (
	"fmt"
	"time"
)

// VaultState is the lifecycle state of a conditional vault.
type VaultState string

const (
	VaultUninitialized VaultState = "uninitialized"
	VaultActive        VaultState = "active"
	VaultFinalized     VaultState = "finalized"
)

// rank orders states so a persisted snapshot can only move a vault forward.
func (s VaultState) rank() int {
	switch s {
	case VaultActive:
		return 1
	case VaultFinalized:
		return 2
	default:
		return 0
	}
}

// After reports whether s is a later lifecycle state than other.
func (s VaultState) After(other VaultState) bool {
	return s.rank() > other.rank()
}

// Binary markets enumerate the pass branch first.
const (
	BranchPass = 0
	BranchFail = 1
)

// Outcome is the resolved winner of a market. The zero value is pending.
type Outcome struct {
	resolved bool
	branch   int
}

// PendingOutcome returns an unresolved outcome.
func PendingOutcome() Outcome { return Outcome{} }

// ResolvedOutcome returns an outcome whose winning branch is branch.
func ResolvedOutcome(branch int) Outcome {
	return Outcome{resolved: true, branch: branch}
}

// IsResolved reports whether the outcome names a winning branch.
func (o Outcome) IsResolved() bool { return o.resolved }

// Branch returns the winning branch index, or -1 while pending.
func (o Outcome) Branch() int {
	if !o.resolved {
		return -1
	}
	return o.branch
}

// Status maps a binary outcome to a proposal status.
func (o Outcome) Status() ProposalStatus {
	switch {
	case !o.resolved:
		return ProposalPending
	case o.branch == BranchPass:
		return ProposalPassed
	case o.branch == BranchFail:
		return ProposalFailed
	default:
		return ProposalStatus(fmt.Sprintf("branch_%d", o.branch))
	}
}

func (o Outcome) String() string { return string(o.Status()) }

// OutcomeFromStatus maps a proposal status to an outcome. Unknown and
// pending statuses map to a pending outcome.
func OutcomeFromStatus(s ProposalStatus) Outcome {
	switch s {
	case ProposalPassed:
		return ResolvedOutcome(BranchPass)
	case ProposalFailed:
		return ResolvedOutcome(BranchFail)
	default:
		var branch int
		if _, err := fmt.Sscanf(string(s), "branch_%d", &branch); err == nil && branch >= 0 {
			return ResolvedOutcome(branch)
		}
		return PendingOutcome()
	}
}

// Leg identifies which collateral a vault custodies within a proposal.
type Leg string

const (
	LegBase  Leg = "base"
	LegQuote Leg = "quote"
)

// ParseLeg validates a leg name.
func ParseLeg(s string) (Leg, error) {
	switch Leg(s) {
	case LegBase, LegQuote:
		return Leg(s), nil
	default:
		return "", fmt.Errorf("%w: unknown leg %q", ErrInvalidBranch, s)
	}
}

// VaultSnapshot is the persisted public state of a vault plus its sealed
// escrow key. For an Uninitialized vault, ConditionalMints and
// InitSignature describe an initialize transaction that was sent but not
// confirmed; they are empty if none is outstanding.
type VaultSnapshot struct {
	ID               string
	ProposalID       string
	Leg              Leg
	RegularMint      string
	Decimals         uint8
	ConditionalMints []string
	InitSignature    string
	Escrow           string
	EscrowAccount    string
	EscrowKeySealed  []byte
	State            VaultState
	Outcome          ProposalStatus
	UpdatedAt        time.Time
}
