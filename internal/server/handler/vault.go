package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/condvault/internal/domain"
	"github.com/alanyoungcy/condvault/internal/service"
)

// VaultService defines the per-vault operations the handler requires.
type VaultService interface {
	ParseAmount(ctx context.Context, proposalID string, leg domain.Leg, raw string) (uint64, error)
	Build(ctx context.Context, req service.BuildRequest) (domain.UnsignedTx, error)
	Execute(ctx context.Context, proposalID string, leg domain.Leg, kind domain.OperationKind, txB64 string) (domain.ExecutionResult, error)
	Balances(ctx context.Context, proposalID string, leg domain.Leg, user string) (service.BalanceView, error)
}

// VaultHandler serves the two-phase split, merge and redeem endpoints.
type VaultHandler struct {
	vaults VaultService
	logger *slog.Logger
}

// NewVaultHandler creates a VaultHandler.
func NewVaultHandler(vaults VaultService, logger *slog.Logger) *VaultHandler {
	return &VaultHandler{vaults: vaults, logger: logger}
}

type buildRequest struct {
	User string `json:"user"`
	// Amount is base units ("1500000") or a display amount ("1.5").
	// Ignored for redeem.
	Amount string `json:"amount"`
}

// Build returns an unsigned transaction for the user to sign.
// POST /api/proposals/{id}/vaults/{leg}/{op}   op: split | merge | redeem
func (h *VaultHandler) Build(w http.ResponseWriter, r *http.Request) {
	id, leg, err := vaultPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, ok := domain.ParseOperationKind(r.PathValue("op"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown operation")
		return
	}
	var req buildRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.User == "" {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}

	var amount uint64
	if kind != domain.OpRedeem {
		if req.Amount == "" {
			writeError(w, http.StatusBadRequest, "amount is required")
			return
		}
		if amount, err = h.vaults.ParseAmount(r.Context(), id, leg, req.Amount); err != nil {
			writeServiceError(w, r, h.logger, "parse amount", err)
			return
		}
	}

	tx, err := h.vaults.Build(r.Context(), service.BuildRequest{
		ProposalID: id,
		Leg:        leg,
		Kind:       kind,
		User:       req.User,
		Amount:     amount,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "build "+string(kind), err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

type executeRequest struct {
	Kind        string `json:"kind"`
	Transaction string `json:"transaction"`
}

// Execute co-signs and submits a user-signed transaction. On-chain
// failures are reported in the body with a 200; the status field tells the
// client what happened.
// POST /api/proposals/{id}/vaults/{leg}/execute
func (h *VaultHandler) Execute(w http.ResponseWriter, r *http.Request) {
	id, leg, err := vaultPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req executeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, ok := domain.ParseOperationKind(req.Kind)
	if !ok {
		writeError(w, http.StatusBadRequest, "kind must be split, merge or redeem")
		return
	}
	if req.Transaction == "" {
		writeError(w, http.StatusBadRequest, "transaction is required")
		return
	}

	res, err := h.vaults.Execute(r.Context(), id, leg, kind, req.Transaction)
	if err != nil {
		writeServiceError(w, r, h.logger, "execute "+string(kind), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Balances returns a user's collateral and conditional balances.
// GET /api/proposals/{id}/vaults/{leg}/balances?user=...
func (h *VaultHandler) Balances(w http.ResponseWriter, r *http.Request) {
	id, leg, err := vaultPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "user query parameter required")
		return
	}
	view, err := h.vaults.Balances(r.Context(), id, leg, user)
	if err != nil {
		writeServiceError(w, r, h.logger, "get balances", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
