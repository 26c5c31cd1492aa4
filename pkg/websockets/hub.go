package websockets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// Hub holds in-process websocket connections for the local server. It is both
// the ConnectionManager and the Publisher for those connections.
type Hub struct {
	mu    sync.Mutex
	conns map[string]*websocket.Conn
	store ConnectionManager
}

// NewHub returns a Hub that also mirrors connection IDs into store, if set.
func NewHub(store ConnectionManager) *Hub {
	return &Hub{conns: make(map[string]*websocket.Conn), store: store}
}

var _ Publisher = (*Hub)(nil)

// Register attaches a live connection under id.
func (h *Hub) Register(ctx context.Context, id string, conn *websocket.Conn) error {
	h.mu.Lock()
	h.conns[id] = conn
	h.mu.Unlock()
	return h.AddConnection(ctx, id)
}

func (h *Hub) AddConnection(ctx context.Context, connectionID string) error {
	if h.store == nil {
		return nil
	}
	return h.store.AddConnection(ctx, connectionID)
}

func (h *Hub) RemoveConnection(ctx context.Context, connectionID string) error {
	h.mu.Lock()
	delete(h.conns, connectionID)
	h.mu.Unlock()
	if h.store == nil {
		return nil
	}
	return h.store.RemoveConnection(ctx, connectionID)
}

// Len reports the number of live connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) Publish(ctx context.Context, message Message) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.conns {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			slog.Info("dropping local connection", "connectionId", id, "error", err)
			_ = conn.Close()
			delete(h.conns, id)
		}
	}
	return nil
}
