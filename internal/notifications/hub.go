// Package notifications streams engine change events to connected renderers.
package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"feedsync/internal/feed"
	"feedsync/internal/observability"
)

const (
	maxConnsPerUser = 8
	maxTotalConns   = 10000
)

var (
	ErrServerFull = errors.New("server connection limit reached")
	ErrUserFull   = errors.New("user connection limit reached")
	ErrHubClosed  = errors.New("hub is shut down")
)

// Hub maps userID to that user's open change-stream clients.
type Hub struct {
	mu         sync.RWMutex
	conns      map[string]map[*Client]struct{}
	totalConns int
	closed     bool
}

// Name returns a human-readable identifier for this hub.
func (h *Hub) Name() string { return "change stream hub" }

func NewHub() *Hub {
	return &Hub{conns: make(map[string]map[*Client]struct{})}
}

// Register adds conn for userID. The caller runs WritePump and ReadPump.
func (h *Hub) Register(userID string, conn Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if h.totalConns >= maxTotalConns {
		return nil, ErrServerFull
	}
	m, ok := h.conns[userID]
	if !ok {
		m = make(map[*Client]struct{})
		h.conns[userID] = m
	}
	if len(m) >= maxConnsPerUser {
		return nil, ErrUserFull
	}

	client := newClient(h, conn, userID)
	m[client] = struct{}{}
	h.totalConns++
	observability.WebSocketConnections.Inc()
	return client, nil
}

// Unregister removes client and closes its send channel. Safe to call twice.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client)
}

func (h *Hub) removeLocked(client *Client) {
	m, ok := h.conns[client.UserID]
	if !ok {
		return
	}
	if _, exists := m[client]; !exists {
		return
	}
	delete(m, client)
	close(client.send)
	h.totalConns--
	observability.WebSocketConnections.Dec()
	if len(m) == 0 {
		delete(h.conns, client.UserID)
	}
}

// Connections reports how many clients userID has open.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// Broadcast sends message to every connection of userID.
func (h *Hub) Broadcast(userID string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns[userID] {
		c.TrySend(message)
	}
}

// Forward encodes ev and broadcasts it to userID.
func (h *Hub) Forward(userID string, ev feed.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		observability.GlobalLogger.Error("encode change event", "kind", string(ev.Kind), "error", err.Error())
		return
	}
	h.Broadcast(userID, payload)
}

// Disconnect closes every connection of userID, e.g. on logout.
func (h *Hub) Disconnect(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns[userID] {
		h.removeLocked(c)
	}
}

// Shutdown closes all connections; later Register calls fail.
func (h *Hub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, clients := range h.conns {
		for c := range clients {
			h.removeLocked(c)
		}
	}
	return nil
}
