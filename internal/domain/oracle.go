package domain

import "context"

// OutcomeOracle resolves the winning outcome of a proposal. It returns a
// pending outcome until the market's time-weighted price has settled.
type OutcomeOracle interface {
	FetchOutcome(ctx context.Context, proposalID string) (Outcome, error)
}
