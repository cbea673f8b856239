// Package proposal implements the decision market aggregate: one proposal
// owning a base-leg and a quote-leg vault, the only caller allowed to
// finalize them.
package proposal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/condvault/internal/domain"
	"github.com/alanyoungcy/condvault/internal/vault"
)

const defaultLockTTL = 2 * time.Minute

// Deps are the collaborators of a proposal. Locks, Audit and Events may be
// nil.
type Deps struct {
	Store  domain.ProposalStore
	Vaults domain.VaultStore
	Sealer vault.KeySealer
	Oracle domain.OutcomeOracle
	Locks  domain.LockManager
	Audit  domain.AuditStore
	Events domain.EventPublisher
	Logger *slog.Logger
	// LockTTL bounds how long a crashed finalizer can block others.
	LockTTL time.Duration
	Now     func() time.Time
}

// Proposal is safe for concurrent use.
type Proposal struct {
	mu    sync.Mutex
	rec   domain.Proposal
	base  *vault.Vault
	quote *vault.Vault
	deps  Deps
	log   *slog.Logger
}

// New wires a proposal record to its two vaults.
func New(rec domain.Proposal, base, quote *vault.Vault, deps Deps) (*Proposal, error) {
	if base == nil || quote == nil {
		return nil, fmt.Errorf("proposal: %s: both vaults are required", rec.ID)
	}
	if base.Leg() != domain.LegBase || quote.Leg() != domain.LegQuote {
		return nil, fmt.Errorf("proposal: %s: vault legs are %s/%s", rec.ID, base.Leg(), quote.Leg())
	}
	if deps.Store == nil || deps.Vaults == nil || deps.Sealer == nil || deps.Oracle == nil {
		return nil, fmt.Errorf("proposal: %s: store, vault store, sealer and oracle are required", rec.ID)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.LockTTL <= 0 {
		deps.LockTTL = defaultLockTTL
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if rec.Status == "" {
		rec.Status = domain.ProposalPending
	}
	rec.BaseVault = base.ID()
	rec.QuoteVault = quote.ID()

	src := StoreStateSource{Store: deps.Vaults}
	base.SetStateSource(src)
	quote.SetStateSource(src)

	return &Proposal{
		rec:   rec,
		base:  base,
		quote: quote,
		deps:  deps,
		log:   deps.Logger.With(slog.String("component", "proposal"), slog.String("proposal_id", rec.ID)),
	}, nil
}

// ID returns the proposal identifier.
func (p *Proposal) ID() string { return p.rec.ID }

// Record returns a copy of the proposal record.
func (p *Proposal) Record() domain.Proposal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rec
}

// Vault returns the vault of one leg.
func (p *Proposal) Vault(leg domain.Leg) (*vault.Vault, error) {
	switch leg {
	case domain.LegBase:
		return p.base, nil
	case domain.LegQuote:
		return p.quote, nil
	default:
		return nil, fmt.Errorf("proposal: %w: leg %q", domain.ErrInvalidBranch, leg)
	}
}

// Vaults returns both vaults, base first.
func (p *Proposal) Vaults() []*vault.Vault { return []*vault.Vault{p.base, p.quote} }

// Initialize initializes both vaults, persisting each snapshot, and then
// stores the proposal record. Vaults already active are skipped, so a
// partially initialized proposal can be retried.
func (p *Proposal) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, v := range p.Vaults() {
		if v.State() != domain.VaultUninitialized {
			continue
		}
		res, err := v.Initialize(ctx)
		if err != nil {
			return fmt.Errorf("proposal: initialize %s: %w", p.rec.ID, err)
		}
		if err := p.persist(ctx, v); err != nil {
			return err
		}
		if !res.OK() {
			return fmt.Errorf("proposal: initialize %s: vault %s %s: %s", p.rec.ID, v.ID(), res.Status, res.Error)
		}
		p.publish(ctx, domain.EventVaultInitialized, v.ID(), map[string]any{
			"signature": res.Signature,
			"leg":       string(v.Leg()),
		})
	}

	if err := p.deps.Store.Create(ctx, p.rec); err != nil {
		return fmt.Errorf("proposal: create %s: %w", p.rec.ID, err)
	}
	p.audit(ctx, "proposal_created", map[string]any{
		"base_vault":  p.base.ID(),
		"quote_vault": p.quote.ID(),
		"expires_at":  p.rec.ExpiresAt().Format(time.RFC3339),
	})
	p.publish(ctx, domain.EventProposalCreated, "", map[string]any{
		"expires_at": p.rec.ExpiresAt().Format(time.RFC3339),
	})
	p.log.InfoContext(ctx, "proposal created", slog.Time("expires_at", p.rec.ExpiresAt()))
	return nil
}

// persist snapshots v. Must be called with p.mu held.
func (p *Proposal) persist(ctx context.Context, v *vault.Vault) error {
	snap, err := v.Snapshot(p.deps.Sealer)
	if err != nil {
		return fmt.Errorf("proposal: %s: %w", p.rec.ID, err)
	}
	if err := p.deps.Vaults.Save(ctx, snap); err != nil {
		return fmt.Errorf("proposal: %s: save vault %s: %w", p.rec.ID, v.ID(), err)
	}
	return nil
}

func (p *Proposal) audit(ctx context.Context, event string, detail map[string]any) {
	if p.deps.Audit == nil {
		return
	}
	if err := p.deps.Audit.Log(ctx, p.rec.ID, event, detail); err != nil {
		p.log.WarnContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func (p *Proposal) publish(ctx context.Context, typ domain.EventType, vaultID string, attrs map[string]any) {
	if p.deps.Events == nil {
		return
	}
	ev := domain.Event{
		ID:         uuid.NewString(),
		Type:       typ,
		ProposalID: p.rec.ID,
		VaultID:    vaultID,
		Attributes: attrs,
		CreatedAt:  p.deps.Now().UTC(),
	}
	if err := p.deps.Events.Publish(ctx, ev); err != nil {
		p.log.WarnContext(ctx, "event publish failed", slog.String("type", string(typ)), slog.String("error", err.Error()))
	}
}

// StoreStateSource reads vault lifecycle state from persisted snapshots.
type StoreStateSource struct {
	Store domain.VaultStore
}

func (s StoreStateSource) VaultState(ctx context.Context, id string) (domain.VaultState, domain.Outcome, error) {
	snap, err := s.Store.GetByID(ctx, id)
	if err != nil {
		return "", domain.Outcome{}, err
	}
	return snap.State, domain.OutcomeFromStatus(snap.Outcome), nil
}

var _ vault.StateSource = StoreStateSource{}
