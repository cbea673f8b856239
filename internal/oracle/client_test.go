package oracle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/condvault/internal/crypto"
	"github.com/alanyoungcy/condvault/internal/domain"
)

const testAttesterKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func newTestClient(t *testing.T, h http.HandlerFunc, attester string) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, Attester: attester, MaxRetries: 2},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c
}

func TestFetchPending(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/proposals/p1/outcome", r.URL.Path)
		_, _ = w.Write([]byte(`{"kind":"pending"}`))
	}, "")
	out, err := c.FetchOutcome(context.Background(), "p1")
	require.NoError(t, err)
	assert.False(t, out.IsResolved())
}

func TestFetchResolvedBranch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"kind":"resolved","branch":1,"resolved_at":1800000000}`))
	}, "")
	out, err := c.FetchOutcome(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalFailed, out.Status())
}

func TestFetchTWAP(t *testing.T) {
	cases := []struct {
		name string
		pass string
		fail string
		want domain.ProposalStatus
	}{
		{"clears threshold", "1.10", "1.00", domain.ProposalPassed},
		{"inside threshold", "1.01", "1.00", domain.ProposalFailed},
		{"below", "0.90", "1.00", domain.ProposalFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, `{"kind":"twap","pass_twap":%q,"fail_twap":%q,"threshold":"0.05","resolved_at":1}`, tc.pass, tc.fail)
			}, "")
			out, err := c.FetchOutcome(context.Background(), "p1")
			require.NoError(t, err)
			assert.Equal(t, tc.want, out.Status())
		})
	}
}

func TestFetchRejectsMalformed(t *testing.T) {
	for _, body := range []string{
		`{"kind":"resolved"}`,
		`{"kind":"resolved","branch":2}`,
		`{"kind":"twap","pass_twap":"0","fail_twap":"1","threshold":"0"}`,
		`{"kind":"maybe"}`,
		`not json`,
	} {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}, "")
		_, err := c.FetchOutcome(context.Background(), "p1")
		assert.Error(t, err, body)
	}
}

func TestFetchVerifiesAttestation(t *testing.T) {
	att, err := crypto.NewAttester(testAttesterKey)
	require.NoError(t, err)
	sig, err := att.Sign(crypto.OutcomeMessage("p1", "passed", 1800000000))
	require.NoError(t, err)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"kind":"resolved","branch":0,"resolved_at":1800000000,"signature":%q}`, sig)
	}, att.Address().Hex())
	out, err := c.FetchOutcome(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalPassed, out.Status())

	// Same signature replayed for another proposal.
	_, err = c.FetchOutcome(context.Background(), "p2")
	assert.Error(t, err)

	// Signature claims pass, body claims fail.
	forged := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"kind":"resolved","branch":1,"resolved_at":1800000000,"signature":%q}`, sig)
	}, att.Address().Hex())
	_, err = forged.FetchOutcome(context.Background(), "p1")
	assert.Error(t, err)
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"kind":"pending"}`))
	}, "")
	_, err := c.FetchOutcome(context.Background(), "p1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestFetchNotFoundIsPermanent(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}, "")
	_, err := c.FetchOutcome(context.Background(), "p1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.EqualValues(t, 1, calls.Load())
}

func TestNewValidatesAttester(t *testing.T) {
	_, err := New(Config{BaseURL: "http://x", Attester: "nope"}, slog.Default())
	assert.Error(t, err)
	_, err = New(Config{}, slog.Default())
	assert.Error(t, err)
}
