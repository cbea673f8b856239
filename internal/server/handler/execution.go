package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/condvault/internal/domain"
)

// ExecutionService looks up recorded executions.
type ExecutionService interface {
	Execution(ctx context.Context, signature string) (domain.ExecutionRecord, error)
}

// ExecutionHandler serves execution lookups.
type ExecutionHandler struct {
	executions ExecutionService
	logger     *slog.Logger
}

// NewExecutionHandler creates an ExecutionHandler.
func NewExecutionHandler(executions ExecutionService, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{executions: executions, logger: logger}
}

type executionResponse struct {
	ID         string                 `json:"id"`
	ProposalID string                 `json:"proposal_id"`
	VaultID    string                 `json:"vault_id"`
	Kind       domain.OperationKind   `json:"kind"`
	User       string                 `json:"user"`
	Amount     uint64                 `json:"amount"`
	Result     domain.ExecutionResult `json:"result"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Get returns the latest record for a signature. Unconfirmed records are
// re-checked on the ledger first.
// GET /api/executions/{signature}
func (h *ExecutionHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.executions.Execution(r.Context(), r.PathValue("signature"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get execution", err)
		return
	}
	writeJSON(w, http.StatusOK, executionResponse{
		ID:         rec.ID,
		ProposalID: rec.ProposalID,
		VaultID:    rec.VaultID,
		Kind:       rec.Kind,
		User:       rec.User,
		Amount:     rec.Amount,
		Result:     rec.Result,
		CreatedAt:  rec.CreatedAt,
	})
}
