package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"calldash-server/pkg/live"
	"calldash-server/pkg/metrics"
)

// MetricsHub fans live dashboard snapshots out to WebSocket clients.
type MetricsHub struct {
	logger       *logrus.Logger
	upgrader     websocket.Upgrader
	clients      map[*hubClient]bool
	clientsMu    sync.RWMutex
	register     chan *hubClient
	unregister   chan *hubClient
	broadcast    chan *HubMessage
	stop         chan struct{}
	stopOnce     sync.Once
	pingInterval time.Duration
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *MetricsHub
}

// HubMessage is one frame pushed to dashboard clients.
type HubMessage struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Snapshot  *live.Snapshot `json:"snapshot,omitempty"`
	Event     interface{}    `json:"event,omitempty"`
}

// NewMetricsHub creates a new hub. Call Start to begin broadcasting.
func NewMetricsHub(logger *logrus.Logger) *MetricsHub {
	return &MetricsHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients:      make(map[*hubClient]bool),
		register:     make(chan *hubClient),
		unregister:   make(chan *hubClient),
		broadcast:    make(chan *HubMessage, 256),
		stop:         make(chan struct{}),
		pingInterval: 54 * time.Second,
	}
}

// Start begins the hub's event loop.
func (h *MetricsHub) Start() {
	go h.run()
}

func (h *MetricsHub) run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			h.closeAll()
			return

		case client := <-h.register:
			h.clientsMu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.clientsMu.Unlock()
			metrics.SetWSClients(count)
			h.logger.Debug("Dashboard WebSocket client registered")

		case client := <-h.unregister:
			h.cleanupClients([]*hubClient{client})

		case message := <-h.broadcast:
			stale := h.broadcastMessage(message)
			if len(stale) > 0 {
				h.cleanupClients(stale)
			}

		case <-ticker.C:
			stale := h.sendPingToAll()
			if len(stale) > 0 {
				h.cleanupClients(stale)
			}
		}
	}
}

func (h *MetricsHub) broadcastMessage(message *HubMessage) []*hubClient {
	if message == nil {
		return nil
	}

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal hub message")
		return nil
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	var stale []*hubClient
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			stale = append(stale, client)
		}
	}
	return stale
}

func (h *MetricsHub) sendPingToAll() []*hubClient {
	data, _ := json.Marshal(&HubMessage{Type: "ping", Timestamp: time.Now()})

	h.clientsMu.RLock()
	clients := make([]*hubClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clientsMu.RUnlock()

	var stale []*hubClient
	for _, client := range clients {
		select {
		case client.send <- data:
		default:
			stale = append(stale, client)
		}
	}
	return stale
}

func (h *MetricsHub) cleanupClients(clients []*hubClient) {
	if len(clients) == 0 {
		return
	}

	h.clientsMu.Lock()
	for _, client := range clients {
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client.send)
			h.logger.Debug("Dashboard WebSocket client unregistered")
		}
	}
	count := len(h.clients)
	h.clientsMu.Unlock()
	metrics.SetWSClients(count)
}

func (h *MetricsHub) closeAll() {
	h.clientsMu.Lock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.clientsMu.Unlock()
	metrics.SetWSClients(0)
}

// ServeHTTP upgrades the connection and attaches the client to the hub.
func (h *MetricsHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	client := &hubClient{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}

	h.register <- client

	welcome := &HubMessage{
		Type:      "connected",
		Timestamp: time.Now(),
		Event:     map[string]interface{}{"features": []string{"snapshots", "connection_events"}},
	}
	if data, err := json.Marshal(welcome); err == nil {
		client.send <- data
	}

	go client.writePump()
	go client.readPump()
}

// BroadcastSnapshot pushes a stabilized dashboard snapshot to every
// connected client.
func (h *MetricsHub) BroadcastSnapshot(snap live.Snapshot) {
	message := &HubMessage{
		Type:      "metrics_update",
		Timestamp: time.Now(),
		Snapshot:  &snap,
	}
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("Hub broadcast channel full, dropping snapshot")
	}
}

// BroadcastEvent pushes an out-of-band event, such as a connection
// state change, to every connected client.
func (h *MetricsHub) BroadcastEvent(eventType string, event interface{}) {
	message := &HubMessage{
		Type:      eventType,
		Timestamp: time.Now(),
		Event:     event,
	}
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("Hub broadcast channel full, dropping event")
	}
}

// ClientCount returns the number of connected clients.
func (h *MetricsHub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Stop shuts the hub down and disconnects every client.
func (h *MetricsHub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (c *hubClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.WithError(err).Debug("WebSocket read error")
			}
			break
		}
	}
}

func (c *hubClient) writePump() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Fold queued messages into the same frame.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
