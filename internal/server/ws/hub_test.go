package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/condvault/internal/cache/redis"
	"github.com/alanyoungcy/condvault/internal/domain"
	"github.com/alanyoungcy/condvault/internal/events"
)

func newHubEnv(t *testing.T) (*Hub, *events.BusPublisher, *httptest.Server) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	bus := redis.NewSignalBus(redis.Wrap(rdb, "cv:"))

	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "full"})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = hub.Run(ctx) }()
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(domain.ChannelSettlement)[domain.ChannelSettlement] == 1
	}, 2*time.Second, 10*time.Millisecond)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	return hub, events.NewBusPublisher(bus), srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		return len(h.clients) == n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubRoutesByProposal(t *testing.T) {
	hub, pub, srv := newHubEnv(t)
	all := dial(t, srv, "")
	onlyP2 := dial(t, srv, "?proposal=p2")
	assert.Equal(t, "hello", readJSON(t, all)["type"])
	assert.Equal(t, "hello", readJSON(t, onlyP2)["type"])
	waitClients(t, hub, 2)

	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, domain.Event{ID: "e1", Type: domain.EventProposalCreated, ProposalID: "p1"}))
	require.NoError(t, pub.Publish(ctx, domain.Event{ID: "e2", Type: domain.EventProposalCreated, ProposalID: "p2"}))

	assert.Equal(t, "e1", readJSON(t, all)["id"])
	assert.Equal(t, "e2", readJSON(t, all)["id"])
	assert.Equal(t, "e2", readJSON(t, onlyP2)["id"])
}

func TestHubReplaysFromStream(t *testing.T) {
	_, pub, srv := newHubEnv(t)
	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, domain.Event{ID: "old", Type: domain.EventProposalCreated, ProposalID: "p1"}))

	conn := dial(t, srv, "?since=0")
	assert.Equal(t, "hello", readJSON(t, conn)["type"])
	assert.Equal(t, "old", readJSON(t, conn)["id"])
}
