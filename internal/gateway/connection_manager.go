package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ConnectionManager owns every WebSocket connection to the session and fans
// outbound events to them. Inbound client messages are handed to the Router;
// a closed connection is reported as a disconnect.
type ConnectionManager struct {
	connections map[string]*Connection
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	router   *Router

	broadcastCh chan broadcastMessage
}

// Connection is one WebSocket client. Send is never closed; teardown is
// signalled through done so a broadcast racing a disconnect can never hit a
// closed channel.
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time

	done     chan struct{}
	doneOnce sync.Once
}

// ConnectionConfig holds WebSocket transport tuning.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type broadcastMessage struct {
	event  *Event
	connID string // directed when non-empty
}

// DefaultConnectionConfig returns the default transport tuning.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Origin filtering happens at the CORS layer.
			return true
		},
	}
}

// NewConnectionManager creates a manager with the given transport tuning.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, 1000),
	}
}

// SetRouter wires the inbound action router. Must be called before any
// connection is accepted.
func (cm *ConnectionManager) SetRouter(router *Router) {
	cm.router = router
}

// Start processes queued broadcasts until the context is cancelled. Running
// a single consumer preserves the router's event ordering on the wire.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.deliver(message)
		}
	}
}

// BroadcastAll queues an event for every connection.
func (cm *ConnectionManager) BroadcastAll(event *Event) {
	select {
	case cm.broadcastCh <- broadcastMessage{event: event}:
	default:
		log.Warn().Str("event_type", string(event.Type)).Msg("broadcast channel full, dropping message")
	}
}

// SendTo queues an event for a single connection.
func (cm *ConnectionManager) SendTo(connID string, event *Event) {
	select {
	case cm.broadcastCh <- broadcastMessage{event: event, connID: connID}:
	default:
		log.Warn().
			Str("event_type", string(event.Type)).
			Str("conn_id", connID).
			Msg("broadcast channel full, dropping directed message")
	}
}

// UpgradeConnection upgrades an HTTP request to a WebSocket and starts its
// read/write pumps. Each connection gets a fresh server-assigned identity.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.NewString(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
		done:        make(chan struct{}),
	}

	cm.register(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().Str("conn_id", connection.ID).Msg("WebSocket connection established")
	return nil
}

func (cm *ConnectionManager) register(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[conn.ID] = conn

	log.Debug().
		Str("conn_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

// unregister removes a connection and reports the disconnect to the router
// exactly once. The send channel stays open: deliver may hold a snapshot of
// this connection and still be sending, so teardown is signalled through the
// done channel and the write pump owns closing the socket.
func (cm *ConnectionManager) unregister(conn *Connection) {
	cm.mu.Lock()
	_, exists := cm.connections[conn.ID]
	if exists {
		delete(cm.connections, conn.ID)
	}
	cm.mu.Unlock()

	if !exists {
		return
	}
	conn.doneOnce.Do(func() { close(conn.done) })

	log.Info().Str("conn_id", conn.ID).Msg("connection unregistered")
	if cm.router != nil {
		cm.router.Disconnect(conn.ID)
	}
}

func (cm *ConnectionManager) deliver(message broadcastMessage) {
	cm.mu.RLock()
	var targets []*Connection
	if message.connID != "" {
		if conn, ok := cm.connections[message.connID]; ok {
			targets = append(targets, conn)
		}
	} else {
		targets = make([]*Connection, 0, len(cm.connections))
		for _, conn := range cm.connections {
			targets = append(targets, conn)
		}
	}
	cm.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(message.event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		select {
		case conn.Send <- data:
		default:
			// Slow or dead connection; drop it rather than block the fan-out.
			// The write pump closes the socket once it sees the done signal.
			log.Warn().Str("conn_id", conn.ID).Msg("send buffer full, closing connection")
			cm.unregister(conn)
		}
	}

	log.Debug().
		Str("event_type", string(message.event.Type)).
		Int("connections", len(targets)).
		Msg("event delivered")
}

// ConnectionCount returns the number of live connections.
func (cm *ConnectionManager) ConnectionCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.Lock()
	conns := make([]*Connection, 0, len(cm.connections))
	for _, conn := range cm.connections {
		conns = append(conns, conn)
	}
	cm.mu.Unlock()

	for _, conn := range conns {
		conn.Conn.Close()
	}
}

// writePump drains the send channel to the socket and keeps the connection
// alive with periodic pings.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregister(c)
	}()

	for {
		select {
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("conn_id", c.ID).Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("conn_id", c.ID).Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump feeds inbound client actions into the router until the socket
// closes.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregister(c)
		c.Conn.Close()
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
				log.Error().Err(err).Str("conn_id", c.ID).Msg("unexpected WebSocket close error")
			}
			break
		}

		if c.Manager.router != nil {
			c.Manager.router.Dispatch(c.ID, message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
