// Package oracle fetches proposal outcomes from the TWAP oracle service and
// verifies its signed attestations.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/condvault/internal/crypto"
	"github.com/alanyoungcy/condvault/internal/domain"
)

// Config configures the oracle client.
type Config struct {
	BaseURL string
	// Attester, when set, is the address whose signature every resolved
	// outcome must carry.
	Attester   string
	Timeout    time.Duration
	MaxRetries int
}

// Client implements domain.OutcomeOracle over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	attester   *common.Address
	maxRetries int
	logger     *slog.Logger
}

// New creates an oracle client.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("oracle: base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	c := &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		logger:     logger.With(slog.String("component", "oracle")),
	}
	if cfg.Attester != "" {
		if !common.IsHexAddress(cfg.Attester) {
			return nil, fmt.Errorf("oracle: attester %q is not an address", cfg.Attester)
		}
		addr := common.HexToAddress(cfg.Attester)
		c.attester = &addr
	}
	return c, nil
}

// FetchOutcome returns the outcome of proposalID, pending until the oracle
// has settled it.
func (c *Client) FetchOutcome(ctx context.Context, proposalID string) (domain.Outcome, error) {
	body, err := c.get(ctx, fmt.Sprintf("/proposals/%s/outcome", url.PathEscape(proposalID)))
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("oracle: fetch %s: %w", proposalID, err)
	}
	resp, err := decodeResponse(body)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("oracle: decode %s: %w", proposalID, err)
	}

	outcome, attested, err := resp.outcome()
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("oracle: %s: %w", proposalID, err)
	}
	if !outcome.IsResolved() {
		return outcome, nil
	}
	if c.attester != nil {
		msg := crypto.OutcomeMessage(proposalID, string(outcome.Status()), attested.ResolvedAt)
		if err := crypto.VerifyAttestation(msg, attested.Signature, *c.attester); err != nil {
			return domain.Outcome{}, fmt.Errorf("oracle: %s: %w", proposalID, err)
		}
	}
	c.logger.InfoContext(ctx, "oracle outcome",
		slog.String("proposal_id", proposalID),
		slog.String("outcome", outcome.String()),
	)
	return outcome, nil
}

// get retries network failures and 5xx responses with exponential backoff.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(backoff.WithInitialInterval(200*time.Millisecond)), uint64(c.maxRetries)),
		ctx)
	return backoff.RetryWithData(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http request: %w", err)
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, backoff.Permanent(domain.ErrNotFound)
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("oracle returned %d: %s", resp.StatusCode, truncate(body, 200))
		case resp.StatusCode >= 300:
			return nil, backoff.Permanent(fmt.Errorf("oracle returned %d: %s", resp.StatusCode, truncate(body, 200)))
		}
		return body, nil
	}, b)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

var _ domain.OutcomeOracle = (*Client)(nil)

// decodeResponse parses the oracle reply into one of its variants.
func decodeResponse(body []byte) (response, error) {
	var head struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return nil, err
	}
	switch head.Kind {
	case "pending":
		return pendingResponse{}, nil
	case "resolved":
		var r resolvedResponse
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, err
		}
		return r, nil
	case "twap":
		var r twapResponse
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown response kind %q", head.Kind)
	}
}

// response is the closed set of oracle reply shapes.
type response interface {
	outcome() (domain.Outcome, attestation, error)
}

type attestation struct {
	ResolvedAt int64  `json:"resolved_at"`
	Signature  string `json:"signature"`
}

type pendingResponse struct{}

func (pendingResponse) outcome() (domain.Outcome, attestation, error) {
	return domain.PendingOutcome(), attestation{}, nil
}

// resolvedResponse names the winning branch directly.
type resolvedResponse struct {
	Branch *int `json:"branch"`
	attestation
}

func (r resolvedResponse) outcome() (domain.Outcome, attestation, error) {
	if r.Branch == nil || (*r.Branch != domain.BranchPass && *r.Branch != domain.BranchFail) {
		return domain.Outcome{}, attestation{}, fmt.Errorf("%w: resolved without a binary branch", domain.ErrInvalidOutcome)
	}
	return domain.ResolvedOutcome(*r.Branch), r.attestation, nil
}

// twapResponse reports the final time-weighted prices of both markets; the
// proposal passes when the pass price beats the fail price by more than
// the threshold.
type twapResponse struct {
	PassTWAP  decimal.Decimal `json:"pass_twap"`
	FailTWAP  decimal.Decimal `json:"fail_twap"`
	Threshold decimal.Decimal `json:"threshold"`
	attestation
}

func (r twapResponse) outcome() (domain.Outcome, attestation, error) {
	if !r.PassTWAP.IsPositive() || !r.FailTWAP.IsPositive() || r.Threshold.IsNegative() {
		return domain.Outcome{}, attestation{}, fmt.Errorf("%w: twap %s/%s threshold %s",
			domain.ErrInvalidOutcome, r.PassTWAP, r.FailTWAP, r.Threshold)
	}
	bar := r.FailTWAP.Mul(decimal.NewFromInt(1).Add(r.Threshold))
	if r.PassTWAP.GreaterThan(bar) {
		return domain.ResolvedOutcome(domain.BranchPass), r.attestation, nil
	}
	return domain.ResolvedOutcome(domain.BranchFail), r.attestation, nil
}
