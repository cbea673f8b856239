package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/blocto/solana-go-sdk/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/condvault/internal/blob/s3"
	"github.com/alanyoungcy/condvault/internal/domain"
	"github.com/alanyoungcy/condvault/internal/execution"
	"github.com/alanyoungcy/condvault/internal/proposal"
	"github.com/alanyoungcy/condvault/internal/token"
	"github.com/alanyoungcy/condvault/internal/vault"
)

// Executor is the execution service as seen by the registry.
type Executor interface {
	vault.Executor
	Status(ctx context.Context, signature string) (domain.ExecutionResult, error)
}

// Reporter archives settlement reports.
type Reporter interface {
	Archive(ctx context.Context, rep s3blob.Report) (string, error)
}

// Deps are the collaborators of the proposal service. Locks, Audit,
// Events, Reporter and Reports may be nil.
type Deps struct {
	Proposals  domain.ProposalStore
	Vaults     domain.VaultStore
	Executions domain.ExecutionStore
	Audit      domain.AuditStore
	Locks      domain.LockManager
	Events     domain.EventPublisher
	Oracle     domain.OutcomeOracle
	Sealer     vault.KeySealer
	Exec       Executor
	Ledger     vault.Ledger
	Authority  types.Account
	Reporter   Reporter
	Reports    domain.ArchiveReader
	Logger     *slog.Logger

	DefaultDuration time.Duration
	LockTTL         time.Duration
	Now             func() time.Time
}

// ProposalService is the registry of live proposals. It creates them,
// loads them from the store after a restart, and routes client calls to
// the right vault.
type ProposalService struct {
	deps   Deps
	logger *slog.Logger

	mu       sync.Mutex
	live     map[string]*proposal.Proposal
	creating map[string]struct{}
}

// NewProposalService validates deps and creates the service.
func NewProposalService(deps Deps) (*ProposalService, error) {
	if deps.Proposals == nil || deps.Vaults == nil || deps.Executions == nil ||
		deps.Oracle == nil || deps.Sealer == nil || deps.Exec == nil || deps.Ledger == nil {
		return nil, errors.New("proposal_service: stores, oracle, sealer, executor and ledger are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.DefaultDuration <= 0 {
		deps.DefaultDuration = 72 * time.Hour
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &ProposalService{
		deps:   deps,
		logger: deps.Logger.With(slog.String("component", "proposal_service")),
		live:     make(map[string]*proposal.Proposal),
		creating: make(map[string]struct{}),
	}, nil
}

// CreateRequest describes a new decision market.
type CreateRequest struct {
	ID          string        `json:"id,omitempty"`
	Description string        `json:"description"`
	BaseMint    string        `json:"base_mint"`
	QuoteMint   string        `json:"quote_mint"`
	Duration    time.Duration `json:"-"`
}

// Create builds both vaults, initializes them on chain and stores the
// proposal. A create for an id that is already being created fails with
// domain.ErrAlreadyExists.
func (s *ProposalService) Create(ctx context.Context, req CreateRequest) (domain.Proposal, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Duration <= 0 {
		req.Duration = s.deps.DefaultDuration
	}

	// The id is reserved before any I/O so two creates never both
	// initialize vaults.
	s.mu.Lock()
	if _, busy := s.creating[req.ID]; busy {
		s.mu.Unlock()
		return domain.Proposal{}, fmt.Errorf("proposal_service: create %s: in progress: %w", req.ID, domain.ErrAlreadyExists)
	}
	s.creating[req.ID] = struct{}{}
	pending, ok := s.live[req.ID]
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.creating, req.ID)
		s.mu.Unlock()
	}()

	if _, err := s.deps.Proposals.GetByID(ctx, req.ID); err == nil {
		return domain.Proposal{}, fmt.Errorf("proposal_service: create %s: %w", req.ID, domain.ErrAlreadyExists)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Proposal{}, fmt.Errorf("proposal_service: create %s: %w", req.ID, err)
	}

	// A previous attempt that failed mid-initialization is resumed rather
	// than started over with new vaults.
	if ok {
		err := pending.Initialize(ctx)
		return pending.Record(), err
	}

	stored, err := s.storedVaults(ctx, req)
	if err != nil {
		return domain.Proposal{}, err
	}
	base := stored[domain.LegBase]
	if base == nil {
		if base, err = s.newVault(ctx, req.ID, domain.LegBase, req.BaseMint); err != nil {
			return domain.Proposal{}, err
		}
	}
	quote := stored[domain.LegQuote]
	if quote == nil {
		if quote, err = s.newVault(ctx, req.ID, domain.LegQuote, req.QuoteMint); err != nil {
			return domain.Proposal{}, err
		}
	}

	p, err := proposal.New(domain.Proposal{
		ID:          req.ID,
		Description: req.Description,
		BaseMint:    req.BaseMint,
		QuoteMint:   req.QuoteMint,
		Status:      domain.ProposalPending,
		Duration:    req.Duration,
		CreatedAt:   s.deps.Now().UTC(),
	}, base, quote, s.proposalDeps())
	if err != nil {
		return domain.Proposal{}, err
	}

	s.mu.Lock()
	s.live[req.ID] = p
	s.mu.Unlock()

	err = p.Initialize(ctx)
	return p.Record(), err
}

// storedVaults restores vaults persisted by an earlier create of the same
// id that never stored its proposal record, typically because the process
// restarted while an initialize was unconfirmed. Their escrows may already
// hold collateral, so they are reused instead of replaced.
func (s *ProposalService) storedVaults(ctx context.Context, req CreateRequest) (map[domain.Leg]*vault.Vault, error) {
	snaps, err := s.deps.Vaults.ListByProposal(ctx, req.ID)
	if err != nil {
		return nil, fmt.Errorf("proposal_service: create %s: %w", req.ID, err)
	}
	mints := map[domain.Leg]string{domain.LegBase: req.BaseMint, domain.LegQuote: req.QuoteMint}
	out := make(map[domain.Leg]*vault.Vault, len(snaps))
	for _, snap := range snaps {
		if snap.RegularMint != mints[snap.Leg] {
			return nil, fmt.Errorf("proposal_service: create %s: stored %s vault uses mint %s: %w",
				req.ID, snap.Leg, snap.RegularMint, domain.ErrAlreadyExists)
		}
		v, err := vault.Restore(snap, s.deps.Sealer, s.deps.Authority, s.deps.Exec, s.deps.Ledger, s.deps.Logger)
		if err != nil {
			return nil, fmt.Errorf("proposal_service: create %s: %w", req.ID, err)
		}
		out[snap.Leg] = v
	}
	if len(out) > 0 {
		s.logger.InfoContext(ctx, "resuming create from stored vaults",
			slog.String("proposal_id", req.ID), slog.Int("vaults", len(out)))
	}
	return out, nil
}

func (s *ProposalService) newVault(ctx context.Context, proposalID string, leg domain.Leg, mint string) (*vault.Vault, error) {
	pk, err := token.ParsePublicKey(mint)
	if err != nil {
		return nil, fmt.Errorf("proposal_service: %s mint: %w", leg, err)
	}
	info, err := token.GetMintInfo(ctx, s.deps.Ledger, pk)
	if err != nil {
		return nil, fmt.Errorf("proposal_service: %s mint: %w", leg, err)
	}
	if info == nil || !info.IsInitialized {
		return nil, fmt.Errorf("proposal_service: %s mint %s: %w", leg, mint, domain.ErrNotFound)
	}
	return vault.New(vault.Config{
		ID:          proposalID + "-" + string(leg),
		ProposalID:  proposalID,
		Leg:         leg,
		RegularMint: pk,
		Decimals:    info.Decimals,
	}, s.deps.Authority, s.deps.Exec, s.deps.Ledger, s.deps.Logger)
}

func (s *ProposalService) proposalDeps() proposal.Deps {
	return proposal.Deps{
		Store:   s.deps.Proposals,
		Vaults:  s.deps.Vaults,
		Sealer:  s.deps.Sealer,
		Oracle:  s.deps.Oracle,
		Locks:   s.deps.Locks,
		Audit:   s.deps.Audit,
		Events:  s.deps.Events,
		Logger:  s.deps.Logger,
		LockTTL: s.deps.LockTTL,
		Now:     s.deps.Now,
	}
}

// Get returns a live proposal, loading it from the store on first use.
func (s *ProposalService) Get(ctx context.Context, id string) (*proposal.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.live[id]; ok {
		return p, nil
	}
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.live[id] = p
	return p, nil
}

// load restores a proposal and its vaults. Must be called with s.mu held.
func (s *ProposalService) load(ctx context.Context, id string) (*proposal.Proposal, error) {
	rec, err := s.deps.Proposals.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("proposal_service: load %s: %w", id, err)
	}
	snaps, err := s.deps.Vaults.ListByProposal(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("proposal_service: load %s: %w", id, err)
	}
	byLeg := make(map[domain.Leg]*vault.Vault, 2)
	for _, snap := range snaps {
		v, err := vault.Restore(snap, s.deps.Sealer, s.deps.Authority, s.deps.Exec, s.deps.Ledger, s.deps.Logger)
		if err != nil {
			return nil, fmt.Errorf("proposal_service: load %s: %w", id, err)
		}
		byLeg[snap.Leg] = v
	}
	if byLeg[domain.LegBase] == nil || byLeg[domain.LegQuote] == nil {
		return nil, fmt.Errorf("proposal_service: load %s: %d of 2 vaults stored", id, len(byLeg))
	}
	return proposal.New(rec, byLeg[domain.LegBase], byLeg[domain.LegQuote], s.proposalDeps())
}

// List returns stored proposals, newest first.
func (s *ProposalService) List(ctx context.Context, opts domain.ListOpts) ([]domain.Proposal, error) {
	return s.deps.Proposals.List(ctx, opts)
}

// Audit returns the audit trail of a proposal, newest first.
func (s *ProposalService) Audit(ctx context.Context, id string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if _, err := s.deps.Proposals.GetByID(ctx, id); err != nil {
		return nil, err
	}
	if s.deps.Audit == nil {
		return nil, nil
	}
	return s.deps.Audit.List(ctx, id, opts)
}

// Recover loads every decided proposal whose vaults are not all finalized,
// so the sweeper can complete them after a crash.
func (s *ProposalService) Recover(ctx context.Context) (int, error) {
	all, err := s.deps.Proposals.List(ctx, domain.ListOpts{})
	if err != nil {
		return 0, fmt.Errorf("proposal_service: recover: %w", err)
	}
	n := 0
	for _, rec := range all {
		if !rec.Status.Terminal() {
			continue
		}
		p, err := s.Get(ctx, rec.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "recover proposal failed", slog.String("proposal_id", rec.ID), slog.String("error", err.Error()))
			continue
		}
		if !p.Settled() {
			n++
		}
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "recovered unsettled proposals", slog.Int("count", n))
	}
	return n, nil
}

// Due lists expired pending proposals and decided ones still settling.
func (s *ProposalService) Due(ctx context.Context, now time.Time) ([]string, error) {
	expired, err := s.deps.Proposals.ListExpiredPending(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("proposal_service: due: %w", err)
	}
	seen := make(map[string]bool, len(expired))
	ids := make([]string, 0, len(expired))
	for _, p := range expired {
		seen[p.ID] = true
		ids = append(ids, p.ID)
	}

	s.mu.Lock()
	live := make([]*proposal.Proposal, 0, len(s.live))
	for _, p := range s.live {
		live = append(live, p)
	}
	s.mu.Unlock()
	for _, p := range live {
		if seen[p.ID()] {
			continue
		}
		if p.Record().Status.Terminal() && !p.Settled() {
			ids = append(ids, p.ID())
		}
	}
	return ids, nil
}

// Finalize finalizes a proposal and, once settled, archives its report.
func (s *ProposalService) Finalize(ctx context.Context, id string) (proposal.Result, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return proposal.Result{}, err
	}
	res, err := p.Finalize(ctx)
	if res.Settled {
		s.archive(ctx, p, res)
	}
	return res, err
}

func (s *ProposalService) archive(ctx context.Context, p *proposal.Proposal, res proposal.Result) {
	if s.deps.Reporter == nil {
		return
	}
	rec := p.Record()
	rep := s3blob.Report{
		ProposalID:  rec.ID,
		Description: rec.Description,
		Status:      rec.Status,
		CreatedAt:   rec.CreatedAt,
		ExpiresAt:   rec.ExpiresAt(),
		FinalizedAt: rec.FinalizedAt,
		GeneratedAt: s.deps.Now().UTC(),
	}
	for _, v := range p.Vaults() {
		snap, err := s.deps.Vaults.GetByID(ctx, v.ID())
		if err != nil {
			s.logger.WarnContext(ctx, "report skipped", slog.String("proposal_id", rec.ID), slog.String("error", err.Error()))
			return
		}
		rep.Vaults = append(rep.Vaults, s3blob.NewVaultReport(snap, res.Vaults[string(v.Leg())]))
	}
	path, err := s.deps.Reporter.Archive(ctx, rep)
	if err != nil {
		s.logger.WarnContext(ctx, "report archive failed", slog.String("proposal_id", rec.ID), slog.String("error", err.Error()))
		return
	}
	s.logger.InfoContext(ctx, "settlement report archived", slog.String("proposal_id", rec.ID), slog.String("path", path))
}

// Report opens the archived settlement report of a proposal.
func (s *ProposalService) Report(ctx context.Context, id string) (io.ReadCloser, error) {
	if s.deps.Reports == nil {
		return nil, fmt.Errorf("proposal_service: reports: %w", domain.ErrNotFound)
	}
	return s.deps.Reports.Open(ctx, s3blob.ReportPath(id))
}

func (s *ProposalService) vault(ctx context.Context, id string, leg domain.Leg) (*vault.Vault, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.Vault(leg)
}

// BuildRequest asks for an unsigned split, merge or redeem transaction.
type BuildRequest struct {
	ProposalID string
	Leg        domain.Leg
	Kind       domain.OperationKind
	User       string
	// Amount is in base units; ignored for redeem.
	Amount uint64
}

// Build returns the unsigned transaction for req.
func (s *ProposalService) Build(ctx context.Context, req BuildRequest) (domain.UnsignedTx, error) {
	v, err := s.vault(ctx, req.ProposalID, req.Leg)
	if err != nil {
		return domain.UnsignedTx{}, err
	}
	user, err := token.ParsePublicKey(req.User)
	if err != nil {
		return domain.UnsignedTx{}, err
	}

	var tx types.Transaction
	switch req.Kind {
	case domain.OpSplit:
		tx, err = v.BuildSplit(ctx, user, req.Amount)
	case domain.OpMerge:
		tx, err = v.BuildMerge(ctx, user, req.Amount)
	case domain.OpRedeem:
		tx, err = v.BuildRedeemWinningTokens(ctx, user)
	default:
		return domain.UnsignedTx{}, fmt.Errorf("proposal_service: %w: operation %q", domain.ErrInvalidTransaction, req.Kind)
	}
	if err != nil {
		return domain.UnsignedTx{}, err
	}
	return execution.Encode(tx)
}

// Execute co-signs and submits a client-signed transaction, records the
// result and publishes it.
func (s *ProposalService) Execute(ctx context.Context, proposalID string, leg domain.Leg, kind domain.OperationKind, txB64 string) (domain.ExecutionResult, error) {
	v, err := s.vault(ctx, proposalID, leg)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	tx, err := execution.Decode(txB64)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	intent, res, err := v.Execute(ctx, kind, tx)
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	rec := domain.ExecutionRecord{
		ID:         uuid.NewString(),
		ProposalID: proposalID,
		VaultID:    v.ID(),
		Kind:       kind,
		User:       intent.User.ToBase58(),
		Amount:     intent.Amount,
		Result:     res,
		CreatedAt:  s.deps.Now().UTC(),
	}
	if err := s.deps.Executions.Insert(ctx, rec); err != nil {
		s.logger.ErrorContext(ctx, "record execution failed", slog.String("signature", res.Signature), slog.String("error", err.Error()))
	}
	s.publish(ctx, rec)
	return res, nil
}

func (s *ProposalService) publish(ctx context.Context, rec domain.ExecutionRecord) {
	if s.deps.Events == nil {
		return
	}
	attrs := map[string]any{
		"kind":      string(rec.Kind),
		"user":      rec.User,
		"amount":    rec.Amount,
		"signature": rec.Result.Signature,
		"status":    string(rec.Result.Status),
	}
	if rec.Result.Error != "" {
		attrs["error"] = rec.Result.Error
	}
	err := s.deps.Events.Publish(ctx, domain.Event{
		ID:         uuid.NewString(),
		Type:       domain.EventExecution,
		ProposalID: rec.ProposalID,
		VaultID:    rec.VaultID,
		Attributes: attrs,
		CreatedAt:  rec.CreatedAt,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "execution event failed", slog.String("error", err.Error()))
	}
}

// Execution returns the record for signature. An unconfirmed record is
// re-checked on the ledger and, if it has resolved, the new status is
// recorded.
func (s *ProposalService) Execution(ctx context.Context, signature string) (domain.ExecutionRecord, error) {
	rec, err := s.deps.Executions.GetBySignature(ctx, signature)
	if err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("proposal_service: execution %s: %w", signature, err)
	}
	if rec.Result.Status != domain.ExecutionUnconfirmed {
		return rec, nil
	}
	cur, err := s.deps.Exec.Status(ctx, signature)
	if err != nil {
		return rec, nil
	}
	if cur.Status == domain.ExecutionUnconfirmed {
		return rec, nil
	}
	rec.ID = uuid.NewString()
	rec.Result = cur
	rec.CreatedAt = s.deps.Now().UTC()
	if err := s.deps.Executions.Insert(ctx, rec); err != nil {
		s.logger.WarnContext(ctx, "record resolved execution failed", slog.String("signature", signature), slog.String("error", err.Error()))
	}
	s.publish(ctx, rec)
	return rec, nil
}

// BalanceView is a user's position in one vault in base units and display
// units.
type BalanceView struct {
	User         string            `json:"user"`
	Decimals     uint8             `json:"decimals"`
	Collateral   uint64            `json:"collateral"`
	Branches     []uint64          `json:"branches"`
	CollateralUI decimal.Decimal   `json:"collateral_ui"`
	BranchesUI   []decimal.Decimal `json:"branches_ui"`
	State        domain.VaultState `json:"state"`
}

// Balances returns a user's collateral and conditional balances.
func (s *ProposalService) Balances(ctx context.Context, proposalID string, leg domain.Leg, user string) (BalanceView, error) {
	v, err := s.vault(ctx, proposalID, leg)
	if err != nil {
		return BalanceView{}, err
	}
	pk, err := token.ParsePublicKey(user)
	if err != nil {
		return BalanceView{}, err
	}
	b, err := v.UserBalances(ctx, pk)
	if err != nil {
		return BalanceView{}, err
	}
	view := BalanceView{
		User:         pk.ToBase58(),
		Decimals:     v.Decimals(),
		Collateral:   b.Collateral,
		Branches:     b.Branches,
		CollateralUI: token.ToUI(b.Collateral, v.Decimals()),
		State:        v.State(),
	}
	for _, amt := range b.Branches {
		view.BranchesUI = append(view.BranchesUI, token.ToUI(amt, v.Decimals()))
	}
	return view, nil
}

// VaultView is the public state of one vault.
type VaultView struct {
	ID               string            `json:"id"`
	Leg              domain.Leg        `json:"leg"`
	State            domain.VaultState `json:"state"`
	RegularMint      string            `json:"regular_mint"`
	ConditionalMints []string          `json:"conditional_mints"`
	Escrow           string            `json:"escrow"`
	EscrowAccount    string            `json:"escrow_account"`
	Outcome          string            `json:"outcome"`
}

// Vaults describes both vaults of a proposal.
func (s *ProposalService) Vaults(ctx context.Context, id string) ([]VaultView, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var out []VaultView
	for _, v := range p.Vaults() {
		out = append(out, VaultView{
			ID:               v.ID(),
			Leg:              v.Leg(),
			State:            v.State(),
			RegularMint:      v.RegularMint().ToBase58(),
			ConditionalMints: token.Base58(v.ConditionalMints()),
			Escrow:           v.Escrow().ToBase58(),
			EscrowAccount:    v.EscrowAccount().ToBase58(),
			Outcome:          v.Outcome().String(),
		})
	}
	return out, nil
}

// ProposalView is the public form of a proposal record.
type ProposalView struct {
	ID              string                `json:"id"`
	Description     string                `json:"description"`
	BaseMint        string                `json:"base_mint"`
	QuoteMint       string                `json:"quote_mint"`
	Status          domain.ProposalStatus `json:"status"`
	DurationSeconds int64                 `json:"duration_seconds"`
	CreatedAt       time.Time             `json:"created_at"`
	ExpiresAt       time.Time             `json:"expires_at"`
	FinalizedAt     *time.Time            `json:"finalized_at,omitempty"`
	Vaults          []VaultView           `json:"vaults,omitempty"`
}

// NewProposalView renders rec without vault detail.
func NewProposalView(rec domain.Proposal) ProposalView {
	return ProposalView{
		ID:              rec.ID,
		Description:     rec.Description,
		BaseMint:        rec.BaseMint,
		QuoteMint:       rec.QuoteMint,
		Status:          rec.Status,
		DurationSeconds: int64(rec.Duration / time.Second),
		CreatedAt:       rec.CreatedAt,
		ExpiresAt:       rec.ExpiresAt(),
		FinalizedAt:     rec.FinalizedAt,
	}
}

// Describe returns a proposal with both vaults.
func (s *ProposalService) Describe(ctx context.Context, id string) (ProposalView, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return ProposalView{}, err
	}
	view := NewProposalView(p.Record())
	if view.Vaults, err = s.Vaults(ctx, id); err != nil {
		return ProposalView{}, err
	}
	return view, nil
}

// ParseAmount accepts either base units ("1500000") or a display amount
// with a decimal point ("1.5") for the vault's collateral.
func (s *ProposalService) ParseAmount(ctx context.Context, proposalID string, leg domain.Leg, raw string) (uint64, error) {
	v, err := s.vault(ctx, proposalID, leg)
	if err != nil {
		return 0, err
	}
	if strings.Contains(raw, ".") {
		return token.FromUI(raw, v.Decimals())
	}
	return token.FromUI(raw, 0)
}

var (
	_ proposal.Registry = (*ProposalService)(nil)
	_ Executor          = (*execution.Service)(nil)
)
