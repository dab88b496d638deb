package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const writeWait = 5 * time.Second

// Hydrator returns the messages a new connection receives before any
// broadcast, typically the current session state and login status.
type Hydrator func() []any

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex // gorilla connections allow one concurrent writer
}

func (c *client) sendJSON(v any) error {
	msg, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Manager tracks active WebSocket connections and broadcasts events.
type Manager struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	hydrate Hydrator
	logger  *slog.Logger
}

// NewManager creates a new WebSocket manager. hydrate may be nil.
func NewManager(hydrate Hydrator, logger *slog.Logger) *Manager {
	return &Manager{clients: make(map[*client]struct{}), hydrate: hydrate, logger: logger}
}

// HandleWS upgrades an HTTP connection to WebSocket and registers it.
func (m *Manager) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	c := &client{conn: conn}

	if m.hydrate != nil {
		for _, msg := range m.hydrate() {
			if err := c.sendJSON(msg); err != nil {
				conn.Close()
				return
			}
		}
	}

	m.mu.Lock()
	m.clients[c] = struct{}{}
	m.mu.Unlock()

	defer m.remove(c)

	// Keep connection alive, read messages (we ignore them)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (m *Manager) remove(c *client) {
	m.mu.Lock()
	_, ok := m.clients[c]
	delete(m.clients, c)
	m.mu.Unlock()
	if ok {
		c.conn.Close()
	}
}

// Broadcast sends a typed message to all connected WebSocket clients.
// Clients that fail to receive it are dropped.
func (m *Manager) Broadcast(typ string, payload any) {
	msg := map[string]any{"type": typ, "data": payload}

	m.mu.RLock()
	clients := make([]*client, 0, len(m.clients))
	for c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.RUnlock()

	for _, c := range clients {
		if err := c.sendJSON(msg); err != nil {
			m.logger.Debug("websocket client dropped", "err", err)
			m.remove(c)
		}
	}
}

// Count returns the number of connected clients.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}
