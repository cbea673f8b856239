package proposal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/condvault/internal/domain"
)

// Result reports one finalize call.
type Result struct {
	ProposalID string                            `json:"proposal_id"`
	Status     domain.ProposalStatus             `json:"status"`
	Vaults     map[string]domain.ExecutionResult `json:"vaults"`
	// Resumed is set when the outcome was decided by an earlier call and
	// this call only completed vault finalization.
	Resumed bool `json:"resumed"`
	// Settled is set once both vaults are finalized.
	Settled bool `json:"settled"`
}

// Finalize resolves the proposal exactly once. The in-process mutex,
// the distributed lock and the compare-and-set on the persisted status
// each admit a single writer; every later call fails with
// domain.ErrAlreadyFinalized. If a previous call decided the outcome but
// did not finish finalizing both vaults, Finalize completes that work with
// the persisted outcome instead.
func (p *Proposal) Finalize(ctx context.Context) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.deps.Locks != nil {
		unlock, err := p.deps.Locks.Acquire(ctx, "proposal:finalize:"+p.rec.ID, p.deps.LockTTL)
		if err != nil {
			return Result{}, fmt.Errorf("proposal: finalize %s: %w", p.rec.ID, err)
		}
		defer unlock()
	}

	stored, err := p.deps.Store.GetByID(ctx, p.rec.ID)
	if err != nil {
		return Result{}, fmt.Errorf("proposal: finalize %s: %w", p.rec.ID, err)
	}
	p.rec.Status = stored.Status
	p.rec.FinalizedAt = stored.FinalizedAt

	if stored.Status.Terminal() {
		if p.settled() {
			return Result{}, fmt.Errorf("proposal: finalize %s: %w", p.rec.ID, domain.ErrAlreadyFinalized)
		}
		p.log.InfoContext(ctx, "resuming vault finalization", slog.String("status", string(stored.Status)))
		res, err := p.finalizeVaults(ctx, domain.OutcomeFromStatus(stored.Status))
		res.Resumed = true
		return res, err
	}

	now := p.deps.Now()
	if !stored.Expired(now) {
		return Result{}, fmt.Errorf("proposal: finalize %s: %w: expires at %s",
			p.rec.ID, domain.ErrProposalNotExpired, stored.ExpiresAt().UTC().Format("2006-01-02T15:04:05Z"))
	}

	outcome, err := p.deps.Oracle.FetchOutcome(ctx, p.rec.ID)
	if err != nil {
		return Result{}, fmt.Errorf("proposal: finalize %s: oracle: %w", p.rec.ID, err)
	}
	if !outcome.IsResolved() {
		return Result{}, fmt.Errorf("proposal: finalize %s: %w", p.rec.ID, domain.ErrOutcomePending)
	}
	status := outcome.Status()
	if status != domain.ProposalPassed && status != domain.ProposalFailed {
		return Result{}, fmt.Errorf("proposal: finalize %s: %w: %s", p.rec.ID, domain.ErrInvalidOutcome, status)
	}

	won, err := p.deps.Store.CompareAndSetStatus(ctx, p.rec.ID, domain.ProposalPending, status, now.UTC())
	if err != nil {
		return Result{}, fmt.Errorf("proposal: finalize %s: %w", p.rec.ID, err)
	}
	if !won {
		return Result{}, fmt.Errorf("proposal: finalize %s: %w", p.rec.ID, domain.ErrAlreadyFinalized)
	}
	at := now.UTC()
	p.rec.Status = status
	p.rec.FinalizedAt = &at
	p.log.InfoContext(ctx, "proposal outcome decided", slog.String("status", string(status)))
	p.audit(ctx, "proposal_outcome", map[string]any{"status": string(status)})

	return p.finalizeVaults(ctx, outcome)
}

// finalizeVaults finalizes every vault not yet finalized. A vault whose
// revocation is not confirmed is left for the next call. Must be called
// with p.mu held.
func (p *Proposal) finalizeVaults(ctx context.Context, outcome domain.Outcome) (Result, error) {
	res := Result{
		ProposalID: p.rec.ID,
		Status:     p.rec.Status,
		Vaults:     make(map[string]domain.ExecutionResult, 2),
	}
	var errs []error
	for _, v := range p.Vaults() {
		if v.State() == domain.VaultFinalized {
			continue
		}
		er, err := v.Finalize(ctx, outcome)
		if err != nil && !errors.Is(err, domain.ErrAlreadyFinalized) {
			errs = append(errs, err)
			continue
		}
		res.Vaults[string(v.Leg())] = er
		if perr := p.persist(ctx, v); perr != nil {
			errs = append(errs, perr)
			continue
		}
		if v.State() == domain.VaultFinalized {
			p.publish(ctx, domain.EventVaultFinalized, v.ID(), map[string]any{
				"signature": er.Signature,
				"leg":       string(v.Leg()),
				"outcome":   outcome.String(),
			})
		} else {
			p.log.WarnContext(ctx, "vault finalization pending",
				slog.String("vault_id", v.ID()),
				slog.String("status", string(er.Status)),
				slog.String("error", er.Error),
			)
		}
	}

	res.Settled = p.settled()
	if res.Settled {
		p.audit(ctx, "proposal_finalized", map[string]any{"status": string(p.rec.Status)})
		p.publish(ctx, domain.EventProposalFinalized, "", map[string]any{
			"status": string(p.rec.Status),
		})
		p.log.InfoContext(ctx, "proposal finalized", slog.String("status", string(p.rec.Status)))
	}
	if len(errs) > 0 {
		return res, fmt.Errorf("proposal: finalize %s: %w", p.rec.ID, errors.Join(errs...))
	}
	return res, nil
}

// Settled reports whether the outcome is decided and both vaults are
// finalized.
func (p *Proposal) Settled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rec.Status.Terminal() && p.settled()
}

func (p *Proposal) settled() bool {
	for _, v := range p.Vaults() {
		if v.State() != domain.VaultFinalized {
			return false
		}
	}
	return true
}
