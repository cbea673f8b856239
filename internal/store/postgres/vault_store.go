package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/condvault/internal/domain"
)

// VaultStore implements domain.VaultStore using PostgreSQL.
type VaultStore struct {
	pool *pgxpool.Pool
}

// NewVaultStore creates a new VaultStore backed by the given pool.
func NewVaultStore(pool *pgxpool.Pool) *VaultStore {
	return &VaultStore{pool: pool}
}

const vaultSelectCols = `id, proposal_id, leg, regular_mint, decimals, conditional_mints,
	init_signature, escrow, escrow_account, escrow_key_sealed, state, outcome, updated_at`

func scanVault(row pgx.Row) (domain.VaultSnapshot, error) {
	var (
		v                   domain.VaultSnapshot
		leg, state, outcome string
		decimals            int16
	)
	if err := row.Scan(
		&v.ID, &v.ProposalID, &leg, &v.RegularMint, &decimals, &v.ConditionalMints,
		&v.InitSignature, &v.Escrow, &v.EscrowAccount, &v.EscrowKeySealed, &state, &outcome, &v.UpdatedAt,
	); err != nil {
		return domain.VaultSnapshot{}, err
	}
	v.Leg = domain.Leg(leg)
	v.Decimals = uint8(decimals)
	v.State = domain.VaultState(state)
	v.Outcome = domain.ProposalStatus(outcome)
	return v, nil
}

// Save upserts a snapshot. A stored state is never moved backwards, so a
// stale writer cannot undo a finalization, and a snapshot carrying a
// different escrow than the stored one is refused with
// domain.ErrAlreadyExists.
func (s *VaultStore) Save(ctx context.Context, v domain.VaultSnapshot) error {
	const query = `
		INSERT INTO vaults (
			id, proposal_id, leg, regular_mint, decimals, conditional_mints, init_signature,
			escrow, escrow_account, escrow_key_sealed, state, outcome, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (id) DO UPDATE SET
			conditional_mints = EXCLUDED.conditional_mints,
			init_signature    = EXCLUDED.init_signature,
			state             = EXCLUDED.state,
			outcome           = EXCLUDED.outcome,
			updated_at        = NOW()
		WHERE vaults.state <> 'finalized' AND vaults.escrow = EXCLUDED.escrow`
	tag, err := s.pool.Exec(ctx, query,
		v.ID, v.ProposalID, string(v.Leg), v.RegularMint, int16(v.Decimals), v.ConditionalMints, v.InitSignature,
		v.Escrow, v.EscrowAccount, v.EscrowKeySealed, string(v.State), string(v.Outcome),
	)
	if err != nil {
		return fmt.Errorf("postgres: save vault %s: %w", v.ID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Nothing written: either the row is finalized or it belongs to
	// another escrow.
	var escrow string
	err = s.pool.QueryRow(ctx, `SELECT escrow FROM vaults WHERE id = $1`, v.ID).Scan(&escrow)
	if err != nil {
		return fmt.Errorf("postgres: save vault %s: %w", v.ID, err)
	}
	if escrow != v.Escrow {
		return fmt.Errorf("postgres: save vault %s: escrow %s differs from stored %s: %w", v.ID, v.Escrow, escrow, domain.ErrAlreadyExists)
	}
	return nil
}

// GetByID returns a snapshot or domain.ErrNotFound.
func (s *VaultStore) GetByID(ctx context.Context, id string) (domain.VaultSnapshot, error) {
	v, err := scanVault(s.pool.QueryRow(ctx, `SELECT `+vaultSelectCols+` FROM vaults WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.VaultSnapshot{}, domain.ErrNotFound
		}
		return domain.VaultSnapshot{}, fmt.Errorf("postgres: get vault %s: %w", id, err)
	}
	return v, nil
}

// ListByProposal returns the vaults of one proposal, base leg first.
func (s *VaultStore) ListByProposal(ctx context.Context, proposalID string) ([]domain.VaultSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+vaultSelectCols+` FROM vaults WHERE proposal_id = $1 ORDER BY leg`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list vaults of %s: %w", proposalID, err)
	}
	defer rows.Close()

	var out []domain.VaultSnapshot
	for rows.Next() {
		v, err := scanVault(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan vault: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list vaults rows: %w", err)
	}
	return out, nil
}

var _ domain.VaultStore = (*VaultStore)(nil)
