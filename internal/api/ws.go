package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"reminder-service/internal/logging"
	"reminder-service/internal/models"
)

const (
	maxConnections = 100
	writeWait      = 5 * time.Second
)

// Hub pushes a RunReport to every connected websocket client after each
// scheduled pass.
type Hub struct {
	connections map[*websocket.Conn]bool
	mutex       sync.Mutex
	upgrader    websocket.Upgrader
	logger      *logging.Logger
}

func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		connections: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeRuns upgrades the request and keeps the connection until the client
// goes away.
func (m *Hub) ServeRuns(c *gin.Context) {
	conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		m.logger.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	if !m.AddConnection(conn) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"))
		_ = conn.Close()
		return
	}

	// Reads only detect the close; clients never send anything useful.
	go func() {
		defer m.RemoveConnection(conn)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
}

// AddConnection adds a WebSocket connection
func (m *Hub) AddConnection(conn *websocket.Conn) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if len(m.connections) >= maxConnections {
		m.logger.Warnf("Max websocket connections reached (%d)", maxConnections)
		return false
	}
	m.connections[conn] = true
	m.logger.Infof("Added WebSocket connection (total: %d)", len(m.connections))
	return true
}

// RemoveConnection removes a WebSocket connection
func (m *Hub) RemoveConnection(conn *websocket.Conn) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.connections[conn]; ok {
		delete(m.connections, conn)
		_ = conn.Close()
		m.logger.Infof("Removed WebSocket connection (remaining: %d)", len(m.connections))
	}
}

// RunFinished broadcasts the report to all clients.
func (m *Hub) RunFinished(report models.RunReport) {
	message, err := json.Marshal(report)
	if err != nil {
		m.logger.Errorf("Failed to encode run report: %v", err)
		return
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	for conn := range m.connections {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			m.logger.Errorf("Failed to send WebSocket message: %v", err)
			delete(m.connections, conn)
			_ = conn.Close()
		}
	}
}

// Close drops every connection.
func (m *Hub) Close() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for conn := range m.connections {
		_ = conn.Close()
		delete(m.connections, conn)
	}
}

func (m *Hub) count() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.connections)
}
