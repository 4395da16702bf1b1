// Package server exposes the operator dashboard: an HTTP+WS surface
// broadcasting Registry/Dispatcher/Coordinator/Oscillator state to
// connected browsers, plus the register, submit and vote endpoints that
// fleetctl calls.
package server

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocketBufferSize is the buffer size for the hub's broadcast channel
// and each client's send channel, allowing bursts to queue before
// blocking.
const WebSocketBufferSize = 256

// MessageType tags the payload carried by a WSMessage.
type MessageType string

const (
	MessageTypeSnapshot   MessageType = "snapshot"
	MessageTypeAlert      MessageType = "alert"
	MessageTypeGovernance MessageType = "governance"
)

// WSMessage is the envelope every broadcast frame carries.
type WSMessage struct {
	Type MessageType `json:"type"`
	Data interface{} `json:"data"`
}

// Client represents a WebSocket client (browser).
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub manages WebSocket clients and fans broadcast frames out to all of
// them.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, WebSocketBufferSize),
	}
}

// Run starts the hub's main loop. Meant to run in its own goroutine for
// the lifetime of the process.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a client.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// BroadcastJSON sends a JSON message to all clients.
func (h *Hub) BroadcastJSON(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.broadcast <- data
}

// BroadcastSnapshot sends a full fleet state snapshot to all clients.
func (h *Hub) BroadcastSnapshot(snapshot *Snapshot) {
	h.BroadcastJSON(WSMessage{Type: MessageTypeSnapshot, Data: snapshot})
}

// BroadcastAlert sends an operator-facing alert to all clients.
func (h *Hub) BroadcastAlert(alert string) {
	h.BroadcastJSON(WSMessage{Type: MessageTypeAlert, Data: map[string]string{"message": alert}})
}

// BroadcastGovernance sends a roundtable/role-switch decision to all
// clients.
func (h *Hub) BroadcastGovernance(decision interface{}) {
	h.BroadcastJSON(WSMessage{Type: MessageTypeGovernance, Data: decision})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads (and discards) messages from the WebSocket; the
// dashboard is read-only, so only the close/error path matters.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// writePump writes queued broadcast frames to the WebSocket.
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
