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

// ConnectionManager fans clock frames out to overlay connections. Every
// overlay sees the same stream, so there is a single pool.
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[*Connection]struct{}
	// last render frame, replayed to overlays as they join
	latest []byte

	upgrader websocket.Upgrader
	config   ConnectionConfig

	frames chan BroadcastMessage
}

// Connection is one overlay. Send is owned by the manager and closed when
// the overlay is dropped.
type Connection struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan []byte
	Manager     *ConnectionManager
	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	// frames queued per overlay before it counts as slow and is closed
	SendBufferSize int
	CheckOrigin    func(r *http.Request) bool
}

// BroadcastMessage is an encoded frame queued for every connection
type BroadcastMessage struct {
	Type FrameType
	Data []byte
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  64,
		CheckOrigin: func(r *http.Request) bool {
			// overlays are served from arbitrary local origins
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = 64
	}
	return &ConnectionManager{
		connections: make(map[*Connection]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
		// ten render frames a second; a few seconds of slack
		frames: make(chan BroadcastMessage, 100),
	}
}

// Start fans queued frames out until ctx is cancelled, then drops every
// overlay.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	defer log.Info().Msg("connection manager shutting down")

	for {
		select {
		case <-ctx.Done():
			for _, conn := range cm.snapshot() {
				cm.drop(conn)
			}
			return
		case message := <-cm.frames:
			cm.fanOut(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection and joins it to the pool.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	ws, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	conn := &Connection{
		ID:          uuid.New().String(),
		Conn:        ws,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}
	total := cm.join(conn)

	go conn.writeLoop()
	go conn.discardLoop()

	log.Info().
		Str("connection_id", conn.ID).
		Str("remote_addr", r.RemoteAddr).
		Int("total_connections", total).
		Msg("overlay connected")
	return nil
}

// join registers conn and queues the latest clock face so the overlay
// paints immediately instead of waiting for the next tick.
func (cm *ConnectionManager) join(conn *Connection) int {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.connections[conn] = struct{}{}
	if cm.latest != nil {
		conn.Send <- cm.latest
	}
	return len(cm.connections)
}

// drop removes conn from the pool and closes its socket. Safe to call from
// both pumps and the fan-out; only the first call does anything.
func (cm *ConnectionManager) drop(conn *Connection) {
	cm.mu.Lock()
	_, ok := cm.connections[conn]
	if ok {
		delete(cm.connections, conn)
		close(conn.Send)
	}
	cm.mu.Unlock()

	if !ok {
		return
	}
	conn.Conn.Close()
	log.Info().
		Str("connection_id", conn.ID).
		Dur("connected_for", time.Since(conn.ConnectedAt)).
		Msg("overlay disconnected")
}

func (cm *ConnectionManager) snapshot() []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	conns := make([]*Connection, 0, len(cm.connections))
	for conn := range cm.connections {
		conns = append(conns, conn)
	}
	return conns
}

// Broadcast encodes a frame and queues it for every connection. It never
// blocks; frames are dropped when the queue is full.
func (cm *ConnectionManager) Broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Str("type", string(frame.Type)).Msg("failed to marshal frame for broadcast")
		return
	}

	select {
	case cm.frames <- BroadcastMessage{Type: frame.Type, Data: data}:
	default:
		log.Warn().Str("type", string(frame.Type)).Msg("broadcast channel full, dropping frame")
	}
}

// fanOut hands one frame to every overlay. An overlay whose send buffer is
// full has fallen behind the clock and is dropped rather than waited on.
func (cm *ConnectionManager) fanOut(message BroadcastMessage) {
	var slow []*Connection

	cm.mu.Lock()
	if message.Type == FrameTypeRender {
		cm.latest = message.Data
	}
	for conn := range cm.connections {
		select {
		case conn.Send <- message.Data:
		default:
			slow = append(slow, conn)
		}
	}
	cm.mu.Unlock()

	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Msg("connection send buffer full, closing connection")
		cm.drop(conn)
	}
}

// ConnectionStats summarizes the overlay pool
type ConnectionStats struct {
	TotalConnections int  `json:"total_connections"`
	HasFrame         bool `json:"has_frame"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	return ConnectionStats{
		TotalConnections: len(cm.connections),
		HasFrame:         cm.latest != nil,
	}
}

// writeLoop drains Send onto the socket and pings between frames.
func (c *Connection) writeLoop() {
	ping := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ping.Stop()
		c.Manager.drop(c)
	}()

	for {
		var err error
		select {
		case data, open := <-c.Send:
			if !open {
				_ = c.write(websocket.CloseMessage, nil)
				return
			}
			err = c.write(websocket.TextMessage, data)
		case <-ping.C:
			err = c.write(websocket.PingMessage, nil)
		}
		if err != nil {
			log.Debug().Err(err).Str("connection_id", c.ID).Msg("overlay write failed")
			return
		}
	}
}

func (c *Connection) write(messageType int, data []byte) error {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout)); err != nil {
		return err
	}
	return c.Conn.WriteMessage(messageType, data)
}

// discardLoop reads until the overlay goes away. Overlays send nothing
// useful, but reading is what processes pongs and close frames.
func (c *Connection) discardLoop() {
	defer c.Manager.drop(c)

	timeout := c.Manager.config.ReadTimeout
	extend := func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(timeout))
	}
	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetPongHandler(extend)
	_ = extend("")

	for {
		// unread payloads are skipped by the next NextReader call
		if _, _, err := c.Conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("connection_id", c.ID).Msg("unexpected WebSocket close error")
			}
			return
		}
		_ = extend("")
	}
}
