package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/scrumdeck/scrumdeck/go/internal/poker/events"
)

// ConnectionManager owns every live WebSocket connection and the per-session
// room pools used to address broadcasts. It implements the registry's
// Notifier port.
type ConnectionManager struct {
	mu    sync.RWMutex
	conns map[string]*Connection
	// Room pools organized by session ID
	rooms map[string]map[string]*Connection

	upgrader websocket.Upgrader
	config   ConnectionConfig

	// Set by the owning Service before any connection is accepted.
	onMessage    func(conn *Connection, raw []byte)
	onDisconnect func(connID string)
}

// Connection represents a WebSocket connection to a client.
type Connection struct {
	ID      string
	Name    string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	// Connection metadata
	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  16 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		conns: make(map[string]*Connection),
		rooms: make(map[string]map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// JoinRoom registers a connection into a session's broadcast group.
func (cm *ConnectionManager) JoinRoom(sessionID, connID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	conn, ok := cm.conns[connID]
	if !ok {
		return
	}
	if cm.rooms[sessionID] == nil {
		cm.rooms[sessionID] = make(map[string]*Connection)
	}
	cm.rooms[sessionID][connID] = conn

	log.Debug().
		Str("session_id", sessionID).
		Str("conn_id", connID).
		Int("room_size", len(cm.rooms[sessionID])).
		Msg("connection joined room")
}

// LeaveRoom removes a connection from a session's broadcast group.
func (cm *ConnectionManager) LeaveRoom(sessionID, connID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if room, exists := cm.rooms[sessionID]; exists {
		delete(room, connID)
		if len(room) == 0 {
			delete(cm.rooms, sessionID)
		}
	}
}

// CloseRoom drops a session's broadcast group entirely. The underlying
// connections stay open; they are just no longer grouped.
func (cm *ConnectionManager) CloseRoom(sessionID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.rooms, sessionID)
}

// SendToConn delivers an event to a single connection, best-effort. Slow
// clients whose send buffer is full are evicted rather than blocking the
// caller.
func (cm *ConnectionManager) SendToConn(connID string, event *events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(event.Type)).Msg("failed to marshal event")
		return
	}

	// Send channels are only closed under the write lock, so sending under
	// the read lock cannot race a close.
	var evict *Connection
	cm.mu.RLock()
	if conn, ok := cm.conns[connID]; ok {
		select {
		case conn.Send <- data:
		default:
			evict = conn
		}
	}
	cm.mu.RUnlock()

	if evict != nil {
		log.Warn().
			Str("conn_id", evict.ID).
			Msg("connection send buffer full, closing connection")
		cm.dropConnection(evict)
	}
}

// BroadcastAll delivers an event to every live connection, session member or
// not. Used for global queue updates.
func (cm *ConnectionManager) BroadcastAll(event *events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(event.Type)).Msg("failed to marshal event")
		return
	}

	var evict []*Connection
	cm.mu.RLock()
	sent := len(cm.conns)
	for _, conn := range cm.conns {
		select {
		case conn.Send <- data:
		default:
			evict = append(evict, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range evict {
		log.Warn().
			Str("conn_id", conn.ID).
			Msg("connection send buffer full, closing connection")
		cm.dropConnection(conn)
	}

	log.Debug().
		Str("event_type", string(event.Type)).
		Int("connections", sent).
		Msg("event broadcasted")
}

// Stats returns counts of live connections and rooms.
func (cm *ConnectionManager) Stats() (connections, rooms int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.conns), len(cm.rooms)
}

// registerConnection adds a connection to the manager.
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.conns[conn.ID] = conn

	log.Info().
		Str("conn_id", conn.ID).
		Str("name", conn.Name).
		Int("total_connections", len(cm.conns)).
		Msg("connection registered")
}

// unregisterConnection removes a connection and its room memberships.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.conns[conn.ID]; !exists {
		return false
	}
	delete(cm.conns, conn.ID)
	close(conn.Send)

	for sessionID, room := range cm.rooms {
		delete(room, conn.ID)
		if len(room) == 0 {
			delete(cm.rooms, sessionID)
		}
	}

	log.Info().
		Str("conn_id", conn.ID).
		Str("name", conn.Name).
		Msg("connection unregistered")
	return true
}

// dropConnection evicts a connection without waiting for its pumps.
func (cm *ConnectionManager) dropConnection(conn *Connection) {
	if cm.unregisterConnection(conn) && conn.Conn != nil {
		conn.Conn.Close()
	}
}

// writePump handles sending messages to the WebSocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("conn_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("conn_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump handles reading messages from the WebSocket connection. When the
// connection drops, the disconnect hook runs the same leave semantics as an
// explicit leave.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
		if c.Manager.onDisconnect != nil {
			c.Manager.onDisconnect(c.ID)
		}
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("conn_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		if c.Manager.onMessage != nil {
			c.Manager.onMessage(c, message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
