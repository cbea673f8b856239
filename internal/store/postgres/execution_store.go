package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/condvault/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore backed by the given pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const executionSelectCols = `id, proposal_id, vault_id, kind, user_key, amount,
	signature, status, error, executed_at, created_at`

func scanExecution(row pgx.Row) (domain.ExecutionRecord, error) {
	var (
		r            domain.ExecutionRecord
		kind, status string
		amount       int64
	)
	if err := row.Scan(
		&r.ID, &r.ProposalID, &r.VaultID, &kind, &r.User, &amount,
		&r.Result.Signature, &status, &r.Result.Error, &r.Result.Timestamp, &r.CreatedAt,
	); err != nil {
		return domain.ExecutionRecord{}, err
	}
	r.Kind = domain.OperationKind(kind)
	r.Result.Status = domain.ExecutionStatus(status)
	r.Amount = uint64(amount)
	return r, nil
}

// Insert appends an execution record.
func (s *ExecutionStore) Insert(ctx context.Context, r domain.ExecutionRecord) error {
	const query = `
		INSERT INTO executions (
			id, proposal_id, vault_id, kind, user_key, amount,
			signature, status, error, executed_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.pool.Exec(ctx, query,
		r.ID, r.ProposalID, r.VaultID, string(r.Kind), r.User, int64(r.Amount),
		r.Result.Signature, string(r.Result.Status), r.Result.Error, r.Result.Timestamp, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", r.ID, err)
	}
	return nil
}

// GetBySignature returns the latest record for a transaction signature.
func (s *ExecutionStore) GetBySignature(ctx context.Context, signature string) (domain.ExecutionRecord, error) {
	r, err := scanExecution(s.pool.QueryRow(ctx,
		`SELECT `+executionSelectCols+` FROM executions WHERE signature = $1
		 ORDER BY created_at DESC LIMIT 1`, signature))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionRecord{}, domain.ErrNotFound
		}
		return domain.ExecutionRecord{}, fmt.Errorf("postgres: get execution %s: %w", signature, err)
	}
	return r, nil
}

// ListByVault returns the executions against one vault, newest first.
func (s *ExecutionStore) ListByVault(ctx context.Context, vaultID string, opts domain.ListOpts) ([]domain.ExecutionRecord, error) {
	query, args := appendListOpts(`SELECT `+executionSelectCols+` FROM executions WHERE vault_id = $1`,
		[]any{vaultID}, "created_at", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions of %s: %w", vaultID, err)
	}
	defer rows.Close()

	var out []domain.ExecutionRecord
	for rows.Next() {
		r, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list executions rows: %w", err)
	}
	return out, nil
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)
