package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/condvault/internal/domain"
)

// VaultReport is the public part of a finalized vault in a settlement
// report. The sealed escrow key is never archived.
type VaultReport struct {
	ID               string                 `json:"id"`
	Leg              domain.Leg             `json:"leg"`
	RegularMint      string                 `json:"regular_mint"`
	ConditionalMints []string               `json:"conditional_mints"`
	Escrow           string                 `json:"escrow"`
	EscrowAccount    string                 `json:"escrow_account"`
	State            domain.VaultState      `json:"state"`
	Outcome          domain.ProposalStatus  `json:"outcome"`
	Finalization     domain.ExecutionResult `json:"finalization"`
}

// Report is the settlement summary written once a proposal is settled.
type Report struct {
	ProposalID  string                `json:"proposal_id"`
	Description string                `json:"description,omitempty"`
	Status      domain.ProposalStatus `json:"status"`
	CreatedAt   time.Time             `json:"created_at"`
	ExpiresAt   time.Time             `json:"expires_at"`
	FinalizedAt *time.Time            `json:"finalized_at,omitempty"`
	Vaults      []VaultReport         `json:"vaults"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// NewVaultReport copies the public fields of a snapshot.
func NewVaultReport(s domain.VaultSnapshot, fin domain.ExecutionResult) VaultReport {
	return VaultReport{
		ID:               s.ID,
		Leg:              s.Leg,
		RegularMint:      s.RegularMint,
		ConditionalMints: s.ConditionalMints,
		Escrow:           s.Escrow,
		EscrowAccount:    s.EscrowAccount,
		State:            s.State,
		Outcome:          s.Outcome,
		Finalization:     fin,
	}
}

// Reporter archives settlement reports and the execution history of every
// vault of a settled proposal.
type Reporter struct {
	writer     domain.ArchiveWriter
	reader     domain.ArchiveReader
	executions domain.ExecutionStore
	audit      domain.AuditStore
}

// NewReporter creates a Reporter. reader and audit may be nil.
func NewReporter(writer domain.ArchiveWriter, reader domain.ArchiveReader, executions domain.ExecutionStore, audit domain.AuditStore) *Reporter {
	return &Reporter{writer: writer, reader: reader, executions: executions, audit: audit}
}

// ReportPath is the object key of a proposal's settlement summary.
func ReportPath(proposalID string) string {
	return fmt.Sprintf("reports/%s/settlement.json", proposalID)
}

func executionsPath(proposalID string) string {
	return fmt.Sprintf("reports/%s/executions.jsonl", proposalID)
}

// Archive uploads the execution history and then the report. Both objects
// are write-once, so a resumed or concurrent finalization never rewrites
// them.
func (r *Reporter) Archive(ctx context.Context, rep Report) (string, error) {
	path := ReportPath(rep.ProposalID)
	if r.reader != nil {
		ok, err := r.reader.Exists(ctx, path)
		if err != nil {
			return "", fmt.Errorf("s3blob: report %s: %w", rep.ProposalID, err)
		}
		if ok {
			return path, nil
		}
	}

	var history []domain.ExecutionRecord
	if r.executions != nil {
		for _, v := range rep.Vaults {
			recs, err := r.executions.ListByVault(ctx, v.ID, domain.ListOpts{})
			if err != nil {
				return "", fmt.Errorf("s3blob: report %s: executions of %s: %w", rep.ProposalID, v.ID, err)
			}
			history = append(history, recs...)
		}
	}
	if len(history) > 0 {
		buf, err := marshalJSONL(history)
		if err != nil {
			return "", fmt.Errorf("s3blob: report %s: %w", rep.ProposalID, err)
		}
		err = r.writer.PutOnce(ctx, executionsPath(rep.ProposalID), buf, "application/x-ndjson")
		if err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
			return "", fmt.Errorf("s3blob: report %s: %w", rep.ProposalID, err)
		}
	}

	// Summary last: its presence marks the archive complete.
	summary, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: report %s: marshal: %w", rep.ProposalID, err)
	}
	if err := r.writer.PutOnce(ctx, path, summary, "application/json"); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return path, nil
		}
		return "", fmt.Errorf("s3blob: report %s: %w", rep.ProposalID, err)
	}

	if r.audit != nil {
		if err := r.audit.Log(ctx, rep.ProposalID, "report_archived", map[string]any{
			"path":       path,
			"executions": len(history),
		}); err != nil {
			return path, fmt.Errorf("s3blob: report %s: audit: %w", rep.ProposalID, err)
		}
	}
	return path, nil
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
