package ws

import "sync"

// Manager tracks gateway connections.
type Manager struct {
	mu          sync.Mutex
	connections map[string]*Connection
}

// NewManager builds connection manager.
func NewManager() *Manager {
	return &Manager{connections: make(map[string]*Connection)}
}

// Add registers conn, closing any previous connection of the same gateway.
func (m *Manager) Add(conn *Connection) {
	m.mu.Lock()
	prev := m.connections[conn.GatewayID()]
	m.connections[conn.GatewayID()] = conn
	m.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

// Remove drops conn if it is still the registered one for its gateway.
func (m *Manager) Remove(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connections[conn.GatewayID()] == conn {
		delete(m.connections, conn.GatewayID())
	}
}

// Count returns the number of connected gateways.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.connections)
}

// CloseAll disconnects every gateway.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}
