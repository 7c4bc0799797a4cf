// Package websocket keeps the set of connected chat clients and pumps
// messages between their connections and the chat handler.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	inboundBuffer  = 16
)

var (
	ErrHubClosed    = errors.New("websocket hub closed")
	ErrClientClosed = errors.New("websocket client closed")
	ErrSendBuffer   = errors.New("websocket send buffer full")
)

type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
	mu         sync.RWMutex
}

type Client struct {
	Hub            *Hub
	Conn           *websocket.Conn
	Send           chan []byte
	ClientID       string
	UserID         string
	MessageHandler func(*Client, []byte) // Called for every inbound frame, in order

	conversationID string
	inbound        chan []byte
	closed         bool
	mu             sync.RWMutex
}

// Message is an inbound frame from the browser.
type Message struct {
	Type     string                 `json:"type"` // "chat", "ping", "end_conversation"
	Content  string                 `json:"content,omitempty"`
	Language string                 `json:"language,omitempty"`
	Context  map[string]interface{} `json:"context,omitempty"`
}

// Outbound is a frame sent to the browser.
type Outbound struct {
	Type      string      `json:"type"` // "chat_response", "pong", "conversation_ended", "error"
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte),
		done:       make(chan struct{}),
	}
}

// Run serves registrations and broadcasts until ctx ends, then closes every
// client's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
			slog.Info("WebSocket hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			slog.Info("Client registered", "client_id", client.ClientID, "user_id", client.UserID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
			slog.Info("Client unregistered", "client_id", client.ClientID, "user_id", client.UserID)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if err := client.trySend(message); err != nil {
					delete(h.clients, client)
					client.close()
				}
			}
			h.mu.Unlock()
		}
	}
}

// RegisterClient adds a connection to the hub. userID is empty for
// anonymous clients.
func (h *Hub) RegisterClient(conn *websocket.Conn, clientID, userID string) (*Client, error) {
	client := &Client{
		Hub:      h,
		Conn:     conn,
		Send:     make(chan []byte, 256),
		ClientID: clientID,
		UserID:   userID,
		inbound:  make(chan []byte, inboundBuffer),
	}

	select {
	case h.register <- client:
		return client, nil
	case <-h.done:
		return nil, ErrHubClosed
	}
}

// Broadcast queues message for every connected client.
func (h *Hub) Broadcast(message []byte) error {
	select {
	case h.broadcast <- message:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (c *Client) ConversationID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conversationID
}

func (c *Client) SetConversationID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversationID = id
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

func (c *Client) trySend(message []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.Send <- message:
		return nil
	default:
		return ErrSendBuffer
	}
}

// SendJSON queues an outbound frame without blocking.
func (c *Client) SendJSON(msg Outbound) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.trySend(data)
}

func (c *Client) SendError(detail string) error {
	return c.SendJSON(Outbound{Type: "error", Error: detail})
}

// ReadPump reads frames until the connection fails and hands them to the
// message handler in arrival order.
func (c *Client) ReadPump() {
	go c.dispatch()
	defer func() {
		close(c.inbound)
		c.Hub.remove(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "error", err, "client_id", c.ClientID)
			}
			break
		}
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))

		select {
		case c.inbound <- messageBytes:
		default:
			slog.Warn("Dropping message, client is busy", "client_id", c.ClientID)
			_ = c.SendError("Too many messages in flight, please wait for a reply")
		}
	}
}

func (c *Client) dispatch() {
	for messageBytes := range c.inbound {
		if c.MessageHandler == nil {
			slog.Warn("No message handler for client", "client_id", c.ClientID)
			continue
		}
		c.MessageHandler(c, messageBytes)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
