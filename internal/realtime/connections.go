// Package realtime serves listing conversations over WebSocket.
package realtime

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// ConnManager tracks the live socket of each conversation. A seller may
// hold one socket per session; a newer socket replaces the older one.
type ConnManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewConnManager creates an empty manager.
func NewConnManager() *ConnManager {
	return &ConnManager{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// GetActive returns the socket bound to a seller's session.
func (m *ConnManager) GetActive(sellerID, sessionID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sessions, ok := m.active[sellerID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Register binds conn to a seller's session, closing any socket it replaces.
func (m *ConnManager) Register(sellerID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[sellerID]; !exists {
		m.active[sellerID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := m.active[sellerID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}

	m.active[sellerID][sessionID] = conn
	slog.Info("Chat socket registered", "seller_id", sellerID, "session_id", sessionID)
}

// Unregister removes conn if it is still the current socket for the session.
func (m *ConnManager) Unregister(sellerID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[sellerID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, sellerID)
			}
			slog.Info("Chat socket unregistered", "seller_id", sellerID, "session_id", sessionID)
		}
	}
}

// CloseAll closes every socket, used on shutdown.
func (m *ConnManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sellerID, sessions := range m.active {
		for _, conn := range sessions {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(m.active, sellerID)
	}
}

// Count returns the number of live sockets.
func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}
