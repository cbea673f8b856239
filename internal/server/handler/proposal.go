package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/condvault/internal/domain"
	"github.com/alanyoungcy/condvault/internal/proposal"
	"github.com/alanyoungcy/condvault/internal/service"
)

// ProposalService defines the methods the proposal handler requires from
// the service layer.
type ProposalService interface {
	Create(ctx context.Context, req service.CreateRequest) (domain.Proposal, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.Proposal, error)
	Describe(ctx context.Context, id string) (service.ProposalView, error)
	Finalize(ctx context.Context, id string) (proposal.Result, error)
	Report(ctx context.Context, id string) (io.ReadCloser, error)
	Audit(ctx context.Context, id string, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// ProposalHandler serves proposal endpoints.
type ProposalHandler struct {
	proposals ProposalService
	logger    *slog.Logger
}

// NewProposalHandler creates a ProposalHandler.
func NewProposalHandler(proposals ProposalService, logger *slog.Logger) *ProposalHandler {
	return &ProposalHandler{proposals: proposals, logger: logger}
}

type createProposalRequest struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	BaseMint    string `json:"base_mint"`
	QuoteMint   string `json:"quote_mint"`
	// Duration is a Go duration string such as "72h". Empty uses the
	// configured default.
	Duration string `json:"duration"`
}

// Create creates a proposal with its two vaults.
// POST /api/proposals
func (h *ProposalHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createProposalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.BaseMint == "" || req.QuoteMint == "" {
		writeError(w, http.StatusBadRequest, "base_mint and quote_mint are required")
		return
	}
	var d time.Duration
	if req.Duration != "" {
		var err error
		if d, err = time.ParseDuration(req.Duration); err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "duration must be a positive Go duration such as 72h")
			return
		}
	}

	rec, err := h.proposals.Create(r.Context(), service.CreateRequest{
		ID:          req.ID,
		Description: req.Description,
		BaseMint:    req.BaseMint,
		QuoteMint:   req.QuoteMint,
		Duration:    d,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create proposal", err)
		return
	}
	writeJSON(w, http.StatusCreated, service.NewProposalView(rec))
}

// List returns proposals newest first.
// GET /api/proposals?limit=50&offset=0&since=...&until=...
func (h *ProposalHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := h.proposals.List(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list proposals", err)
		return
	}
	views := make([]service.ProposalView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, service.NewProposalView(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposals": views})
}

// Get returns one proposal with its vaults.
// GET /api/proposals/{id}
func (h *ProposalHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.proposals.Describe(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get proposal", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Finalize resolves a proposal. Repeat calls on a settled proposal return
// 409.
// POST /api/proposals/{id}/finalize
func (h *ProposalHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	res, err := h.proposals.Finalize(r.Context(), r.PathValue("id"))
	if err != nil {
		// A partial result means the outcome is decided and some vault
		// finalization is still pending.
		if res.ProposalID != "" && !errors.Is(err, domain.ErrAlreadyFinalized) {
			h.logger.WarnContext(r.Context(), "handler: finalize incomplete", slog.String("error", err.Error()))
			writeJSON(w, http.StatusAccepted, res)
			return
		}
		writeServiceError(w, r, h.logger, "finalize proposal", err)
		return
	}
	status := http.StatusOK
	if !res.Settled {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

// Report streams the archived settlement report.
// GET /api/proposals/{id}/report
func (h *ProposalHandler) Report(w http.ResponseWriter, r *http.Request) {
	body, err := h.proposals.Report(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get report", err)
		return
	}
	defer body.Close()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: report copy failed", slog.String("error", err.Error()))
	}
}

// Audit returns the proposal's audit trail.
// GET /api/proposals/{id}/audit?limit=50&offset=0
func (h *ProposalHandler) Audit(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.proposals.Audit(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "get audit", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
