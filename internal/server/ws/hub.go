// Package ws pushes settlement events to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/condvault/internal/domain"
	"github.com/alanyoungcy/condvault/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
	replayLimit    = 500
)

// Config carries metadata sent to clients on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
	// AllowedOrigins restricts browser origins; empty allows all.
	AllowedOrigins []string
}

// Hub relays events from the signal bus to connected clients. Each client
// receives every event unless it narrowed its subscription to a set of
// proposals.
type Hub struct {
	bus      domain.SignalBus
	upgrader websocket.Upgrader
	cfg      Config
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a hub reading from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	h := &Hub{
		bus:     bus,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "ws")),
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// Run forwards bus messages until ctx ends, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	msgs, err := h.bus.Subscribe(ctx, domain.ChannelSettlement)
	if err != nil {
		return err
	}
	h.logger.InfoContext(ctx, "ws hub subscribed", slog.String("channel", domain.ChannelSettlement))
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case data, ok := <-msgs:
			if !ok {
				h.closeAll()
				return ctx.Err()
			}
			h.Broadcast(data)
		}
	}
}

// Broadcast delivers one encoded event to every interested client. Slow
// clients drop messages rather than block the hub.
func (h *Hub) Broadcast(data []byte) {
	ev, err := events.UnmarshalJSON(data)
	if err != nil {
		h.logger.Warn("ws: undecodable event", slog.String("error", err.Error()))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(ev.ProposalID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("ws: dropping message for slow client")
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("ws: client connected", slog.Int("total_clients", n))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// HandleWS upgrades the request. ?proposal= narrows the subscription and
// ?since= replays stream entries after that id before live events.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}
	for _, id := range r.URL.Query()["proposal"] {
		c.subs[id] = true
	}

	c.sendHello()
	if since := r.URL.Query().Get("since"); since != "" {
		c.replay(r.Context(), since)
	}
	h.add(c)

	go c.writePump()
	go c.readPump()
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]bool
}

// subscribeMsg changes the proposals a client follows.
type subscribeMsg struct {
	Action    string   `json:"action"`
	Proposals []string `json:"proposals"`
}

func (c *client) wants(proposalID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs) == 0 || c.subs[proposalID]
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, id := range msg.Proposals {
			c.subs[id] = true
		}
	case "unsubscribe":
		for _, id := range msg.Proposals {
			delete(c.subs, id)
		}
	}
}

func (c *client) sendHello() {
	msg, err := json.Marshal(map[string]any{
		"type": "hello",
		"payload": map[string]any{
			"mode":           c.hub.cfg.Mode,
			"uptime_seconds": int64(time.Since(c.hub.cfg.StartedAt).Seconds()),
		},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) replay(ctx context.Context, since string) {
	msgs, err := c.hub.bus.StreamRead(ctx, domain.StreamSettlement, since, replayLimit)
	if err != nil {
		c.hub.logger.Warn("ws: replay failed", slog.String("error", err.Error()))
		return
	}
	for _, m := range msgs {
		ev, err := events.UnmarshalJSON(m.Payload)
		if err != nil || !c.wants(ev.ProposalID) {
			continue
		}
		select {
		case c.send <- m.Payload:
		default:
			return
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

// writePump writes queued events as text frames and pings for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
