package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/condvault/internal/domain"
)

// AuditStore implements domain.AuditStore on the audit_log table.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends an entry to a proposal's trail. detail is stored as JSONB.
func (s *AuditStore) Log(ctx context.Context, proposalID, event string, detail map[string]any) error {
	if detail == nil {
		detail = map[string]any{}
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: audit %s %s: marshal: %w", proposalID, event, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_log (proposal_id, event, detail) VALUES ($1, $2, $3)`,
		proposalID, event, raw)
	if err != nil {
		return fmt.Errorf("postgres: audit %s %s: %w", proposalID, event, err)
	}
	return nil
}

func (s *AuditStore) List(ctx context.Context, proposalID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := appendListOpts(
		`SELECT id, proposal_id, event, detail, created_at FROM audit_log WHERE proposal_id = $1`,
		[]any{proposalID}, "created_at", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit %s: %w", proposalID, err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AuditEntry, error) {
		var (
			e   domain.AuditEntry
			raw []byte
		)
		if err := row.Scan(&e.ID, &e.ProposalID, &e.Event, &raw, &e.CreatedAt); err != nil {
			return e, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Detail); err != nil {
				return e, fmt.Errorf("detail of entry %d: %w", e.ID, err)
			}
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit %s: %w", proposalID, err)
	}
	return entries, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
