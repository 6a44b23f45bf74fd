// Package opsws serves the ops dashboard's live WebSocket feed: a thin hub
// broadcasting signal/trade/risk/connection events pulled off internal/events'
// EventBus to every connected dashboard client. It carries no per-account
// subscription model since the dashboard always wants the full feed.
package opsws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MessageType identifies the kind of payload carried by a dashboard message.
type MessageType string

const (
	MsgTypeSignalCreated    MessageType = "signal_created"
	MsgTypeTradeUpdate      MessageType = "trade_update"
	MsgTypeRiskAlert        MessageType = "risk_alert"
	MsgTypeConnectionHealth MessageType = "connection_health"
	MsgTypeHeartbeat        MessageType = "heartbeat"
)

// Message is one WebSocket frame pushed to dashboard clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Client is one connected dashboard WebSocket.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub manages connected dashboard clients and fans out broadcasts to all of
// them; it carries no per-channel subscription model, unlike the EA control
// plane, since the dashboard always wants the full event feed.
type Hub struct {
	logger     *zap.Logger
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

// NewHub builds a Hub. Call Run in its own goroutine before accepting
// connections.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger.Named("opsws"),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run is the hub's event loop; it blocks forever. It is driven by internal
// channels only and has no stop method, so it is stopped by simply
// abandoning it at process shutdown alongside the owning *http.Server.
func (h *Hub) Run() {
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("dashboard client connected", zap.String("id", client.id))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()

		case <-heartbeat.C:
			h.publish(MsgTypeHeartbeat, nil)
		}
	}
}

// ClientCount returns the number of connected dashboard clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) publish(msgType MessageType, data interface{}) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			h.logger.Error("marshaling dashboard payload failed", zap.Error(err))
			return
		}
		raw = b
	}
	msg := Message{Type: msgType, Data: raw, Timestamp: time.Now().UnixMilli()}
	b, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshaling dashboard message failed", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- b:
	default:
		h.logger.Warn("dashboard broadcast channel full, dropping message")
	}
}

// BroadcastSignalCreated pushes a signal_created event to every client.
func (h *Hub) BroadcastSignalCreated(data interface{}) { h.publish(MsgTypeSignalCreated, data) }

// BroadcastTradeUpdate pushes a trade_update event to every client.
func (h *Hub) BroadcastTradeUpdate(data interface{}) { h.publish(MsgTypeTradeUpdate, data) }

// BroadcastRiskAlert pushes a risk_alert event to every client.
func (h *Hub) BroadcastRiskAlert(data interface{}) { h.publish(MsgTypeRiskAlert, data) }

// BroadcastConnectionHealth pushes a connection_health event to every client.
func (h *Hub) BroadcastConnectionHealth(data interface{}) { h.publish(MsgTypeConnectionHealth, data) }

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades an HTTP request to a dashboard WebSocket connection and
// registers the client with the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &Client{id: r.RemoteAddr, hub: h, conn: conn, send: make(chan []byte, 256)}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		// Dashboard clients are read-only subscribers; any inbound frame
		// (e.g. a browser's pong text frame) is simply discarded.
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
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
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
