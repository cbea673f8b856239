package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/condvault/internal/domain"
)

type recordingSender struct {
	titles []string
	err    error
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}
func (r *recordingSender) Name() string { return "rec" }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifierFiltersEvents(t *testing.T) {
	rec := &recordingSender{}
	n := NewNotifier([]Sender{rec}, nil, quietLogger())
	ctx := context.Background()

	require.NoError(t, n.Publish(ctx, domain.Event{Type: domain.EventVaultInitialized, ProposalID: "p1"}))
	require.NoError(t, n.Publish(ctx, domain.Event{Type: domain.EventExecution, VaultID: "v1",
		Attributes: map[string]any{"status": "success"}}))
	require.NoError(t, n.Publish(ctx, domain.Event{Type: domain.EventExecution, VaultID: "v1",
		Attributes: map[string]any{"status": "failed"}}))
	require.NoError(t, n.Publish(ctx, domain.Event{Type: domain.EventProposalFinalized, ProposalID: "p1",
		Attributes: map[string]any{"status": "passed"}}))

	assert.Equal(t, []string{
		"Execution failed on vault v1",
		"Proposal p1 finalized: passed",
	}, rec.titles)
}

func TestNotifierContinuesAfterSenderFailure(t *testing.T) {
	bad := &recordingSender{err: errors.New("down")}
	good := &recordingSender{}
	n := NewNotifier([]Sender{bad, good}, []string{string(domain.EventProposalCreated)}, quietLogger())

	err := n.Publish(context.Background(), domain.Event{Type: domain.EventProposalCreated, ProposalID: "p1"})
	assert.Error(t, err)
	assert.Len(t, good.titles, 1)
}

func TestTelegramAndDiscordPayloads(t *testing.T) {
	var got []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got = append(got, body)
		if r.URL.Path == "/botTOKEN/sendMessage" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tg := NewTelegramSender("TOKEN", "42")
	tg.baseURL = srv.URL
	require.NoError(t, tg.Send(context.Background(), "T", "body"))
	require.NoError(t, NewDiscordSender(srv.URL+"/hook").Send(context.Background(), "T", "body"))

	require.Len(t, got, 2)
	assert.Equal(t, "42", got[0]["chat_id"])
	assert.Equal(t, "*T*\nbody", got[0]["text"])
	assert.Equal(t, "**T**\nbody", got[1]["content"])
}

func TestSenderReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()
	err := NewDiscordSender(srv.URL).Send(context.Background(), "T", "b")
	assert.ErrorContains(t, err, "403")
}
