package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/condvault/internal/domain"
)

// ProposalStore implements domain.ProposalStore using PostgreSQL.
type ProposalStore struct {
	pool *pgxpool.Pool
}

// NewProposalStore creates a new ProposalStore backed by the given pool.
func NewProposalStore(pool *pgxpool.Pool) *ProposalStore {
	return &ProposalStore{pool: pool}
}

const proposalSelectCols = `id, description, base_mint, quote_mint, base_vault, quote_vault,
	status, duration_ms, created_at, finalized_at`

func scanProposal(row pgx.Row) (domain.Proposal, error) {
	var (
		p          domain.Proposal
		status     string
		durationMS int64
	)
	if err := row.Scan(
		&p.ID, &p.Description, &p.BaseMint, &p.QuoteMint, &p.BaseVault, &p.QuoteVault,
		&status, &durationMS, &p.CreatedAt, &p.FinalizedAt,
	); err != nil {
		return domain.Proposal{}, err
	}
	p.Status = domain.ProposalStatus(status)
	p.Duration = time.Duration(durationMS) * time.Millisecond
	return p, nil
}

func collectProposals(rows pgx.Rows) ([]domain.Proposal, error) {
	defer rows.Close()
	var out []domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Create inserts a new proposal. A duplicate id yields domain.ErrAlreadyExists.
func (s *ProposalStore) Create(ctx context.Context, p domain.Proposal) error {
	const query = `
		INSERT INTO proposals (
			id, description, base_mint, quote_mint, base_vault, quote_vault,
			status, duration_ms, created_at, expires_at, finalized_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Description, p.BaseMint, p.QuoteMint, p.BaseVault, p.QuoteVault,
		string(p.Status), p.Duration.Milliseconds(), p.CreatedAt, p.ExpiresAt(), p.FinalizedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create proposal %s: %w", p.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create proposal %s: %w", p.ID, err)
	}
	return nil
}

// GetByID returns a proposal or domain.ErrNotFound.
func (s *ProposalStore) GetByID(ctx context.Context, id string) (domain.Proposal, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+proposalSelectCols+` FROM proposals WHERE id = $1`, id)
	p, err := scanProposal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Proposal{}, domain.ErrNotFound
		}
		return domain.Proposal{}, fmt.Errorf("postgres: get proposal %s: %w", id, err)
	}
	return p, nil
}

// List returns proposals, newest first.
func (s *ProposalStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Proposal, error) {
	query, args := appendListOpts(`SELECT `+proposalSelectCols+` FROM proposals WHERE 1=1`, nil, "created_at", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list proposals: %w", err)
	}
	out, err := collectProposals(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list proposals: %w", err)
	}
	return out, nil
}

// ListExpiredPending returns pending proposals whose window closed by now.
func (s *ProposalStore) ListExpiredPending(ctx context.Context, now time.Time) ([]domain.Proposal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+proposalSelectCols+` FROM proposals
		 WHERE status = 'pending' AND expires_at <= $1
		 ORDER BY expires_at`, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: list expired proposals: %w", err)
	}
	out, err := collectProposals(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list expired proposals: %w", err)
	}
	return out, nil
}

// CompareAndSetStatus moves a proposal from one status to another in a
// single conditional update. It reports false when the row was not in the
// expected status.
func (s *ProposalStore) CompareAndSetStatus(ctx context.Context, id string, from, to domain.ProposalStatus, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE proposals SET status = $3, finalized_at = $4 WHERE id = $1 AND status = $2`,
		id, string(from), string(to), at)
	if err != nil {
		return false, fmt.Errorf("postgres: set proposal %s status: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

var _ domain.ProposalStore = (*ProposalStore)(nil)
