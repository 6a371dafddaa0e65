package wshub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"typerace/internal/events"
	"typerace/internal/metrics"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
	readLimit    = 64 << 10
)

// Client represents a single WebSocket connection in the hub.
type Client struct {
	PlayerID string
	Conn     *websocket.Conn
	Send     chan []byte

	// reason is set before Send is closed.
	reason string
}

// NewClient wraps an accepted connection.
func NewClient(playerID string, conn *websocket.Conn) *Client {
	if conn != nil {
		conn.SetReadLimit(readLimit)
	}
	return &Client{
		PlayerID: playerID,
		Conn:     conn,
		Send:     make(chan []byte, sendBuffer),
	}
}

// WritePump reads from the Send channel and writes to the WebSocket connection.
// When the hub closes Send the connection is closed with the recorded reason.
func (c *Client) WritePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.Send:
			if !ok {
				if c.Conn != nil {
					c.Conn.Close(websocket.StatusPolicyViolation, c.reason)
				}
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// ReadPump decodes client envelopes and hands them to handle until the
// connection fails. Frames that are not valid envelopes are passed on with
// an empty Type so the caller can reject them.
func (c *Client) ReadPump(ctx context.Context, handle func(Envelope)) error {
	for {
		typ, data, err := c.Conn.Read(ctx)
		if err != nil {
			return err
		}
		var env Envelope
		if typ != websocket.MessageText || json.Unmarshal(data, &env) != nil {
			env = Envelope{ID: env.ID}
		}
		handle(env)
	}
}

// Hub manages WebSocket connections, at most one per player.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     zerolog.Logger
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		log:     log.With().Str("component", "wshub").Logger(),
	}
}

// Register adds a client to the hub. An existing connection for the same
// player is told why and closed; it reports whether that happened.
func (h *Hub) Register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	old, displaced := h.clients[c.PlayerID]
	h.clients[c.PlayerID] = c
	metrics.Connections.Set(float64(len(h.clients)))

	if displaced && old != c {
		h.log.Info().Str("player", c.PlayerID).Msg("session taken over")
		metrics.Takeovers.Inc()
		h.sendLocked(old, events.New(events.ForcedDisconnect, events.ReasonPayload{Reason: "session opened elsewhere"}))
		h.closeLocked(old, "session opened elsewhere")
	}
	return displaced && old != c
}

// Unregister removes c if it is still the player's current connection. It
// reports false when c was already displaced or disconnected, in which case
// the player's room state must be left alone.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur, ok := h.clients[c.PlayerID]
	if !ok || cur != c {
		return false
	}
	delete(h.clients, c.PlayerID)
	h.closeLocked(c, "")
	metrics.Connections.Set(float64(len(h.clients)))
	return true
}

// Notify sends ev to playerID if connected. Non-blocking: drops if channel full.
func (h *Hub) Notify(playerID string, ev events.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.clients[playerID]; ok {
		h.sendLocked(c, ev)
	}
}

// Reply sends ev to c only while c is the player's current connection.
func (h *Hub) Reply(c *Client, ev events.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if cur, ok := h.clients[c.PlayerID]; ok && cur == c {
		h.sendLocked(c, ev)
	}
}

// Disconnect closes playerID's connection.
func (h *Hub) Disconnect(playerID, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[playerID]
	if !ok {
		return
	}
	delete(h.clients, playerID)
	h.closeLocked(c, reason)
	metrics.Connections.Set(float64(len(h.clients)))
}

// Count is the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) sendLocked(c *Client, ev events.Event) {
	data, err := ev.Encode()
	if err != nil {
		h.log.Error().Err(err).Str("type", ev.Type).Msg("marshal event")
		return
	}
	select {
	case c.Send <- data:
	default:
		metrics.BroadcastDrops.Inc()
		h.log.Warn().Str("player", c.PlayerID).Str("type", ev.Type).Msg("send buffer full, dropping")
	}
}

func (h *Hub) closeLocked(c *Client, reason string) {
	if c.reason != "" {
		return
	}
	if reason == "" {
		reason = "closed"
	}
	c.reason = reason
	close(c.Send)
}
