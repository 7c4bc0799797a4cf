package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/morvo-ai/morvo/backend/models"
	ws "github.com/morvo-ai/morvo/backend/websocket"
)

const wsMessageTimeout = 2 * time.Minute

type WebSocketHandler struct {
	baseCtx  context.Context
	chat     *ChatService
	tracker  *ConversationTracker
	hub      *ws.Hub
	upgrader websocket.Upgrader
}

// NewWebSocketHandler serves chat over websockets. Message processing is
// bound to ctx so that shutdown cancels in-flight replies.
func NewWebSocketHandler(ctx context.Context, chat *ChatService, tracker *ConversationTracker, hub *ws.Hub, allowedOrigins string) *WebSocketHandler {
	return &WebSocketHandler{
		baseCtx: ctx,
		chat:    chat,
		tracker: tracker,
		hub:     hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return CheckOrigin(r, allowedOrigins)
			},
		},
	}
}

// ServeHTTP upgrades GET /v1/ws?client_id=... and starts the client pumps.
// Authentication is optional; anonymous clients are not persisted.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimSpace(r.URL.Query().Get("client_id"))
	if clientID == "" || len(clientID) > maxClientIDLength {
		writeError(w, http.StatusBadRequest, "client_id query parameter is required")
		return
	}
	user, _ := UserFromContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	userID := ""
	if user != nil {
		userID = user.ID
	}
	client, err := h.hub.RegisterClient(conn, clientID, userID)
	if err != nil {
		slog.Warn("WebSocket connection refused", "client_id", clientID, "error", err)
		conn.Close()
		return
	}
	client.MessageHandler = func(c *ws.Client, messageBytes []byte) {
		h.HandleMessage(c, user, messageBytes)
	}

	slog.Info("WebSocket connection established", "client_id", clientID, "user_id", userID)
	go client.WritePump()
	go client.ReadPump()
}

// HandleMessage processes one inbound frame of client. user is nil for
// anonymous connections.
func (h *WebSocketHandler) HandleMessage(client *ws.Client, user *models.User, messageBytes []byte) {
	var msg ws.Message
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		slog.Error("Failed to unmarshal WebSocket message", "error", err, "client_id", client.ClientID)
		h.send(client, ws.Outbound{Type: "error", Error: "Invalid message format"})
		return
	}

	slog.Debug("WebSocket message received", "type", msg.Type, "client_id", client.ClientID)

	switch msg.Type {
	case "chat":
		h.handleChat(client, user, msg)
	case "ping":
		h.send(client, ws.Outbound{Type: "pong"})
	case "end_conversation":
		h.handleEnd(client)
	default:
		slog.Warn("Unknown message type", "type", msg.Type, "client_id", client.ClientID)
		h.send(client, ws.Outbound{Type: "error", Error: "Unknown message type: " + msg.Type})
	}
}

func (h *WebSocketHandler) handleChat(client *ws.Client, user *models.User, msg ws.Message) {
	ctx, cancel := context.WithTimeout(h.baseCtx, wsMessageTimeout)
	defer cancel()

	resp, err := h.chat.ProcessMessage(ctx, ChatMessage{
		ClientID:    client.ClientID,
		Content:     msg.Content,
		Context:     msg.Context,
		Language:    msg.Language,
		MessageType: "text",
	}, user)
	switch {
	case err == nil:
	case IsValidationError(err):
		h.send(client, ws.Outbound{Type: "error", Error: err.Error()})
		return
	case errors.Is(err, context.Canceled):
		return
	default:
		slog.Error("WebSocket chat failed", "client_id", client.ClientID, "error", err)
		h.send(client, ws.Outbound{Type: "error", Error: unexpectedErrorDetail})
		return
	}

	if user != nil {
		client.SetConversationID(resp.ConversationID)
	}
	h.send(client, ws.Outbound{Type: "chat_response", Data: resp})
}

func (h *WebSocketHandler) handleEnd(client *ws.Client) {
	conversationID := client.ConversationID()
	if conversationID != "" && h.tracker != nil {
		ctx, cancel := context.WithTimeout(h.baseCtx, wsMessageTimeout)
		defer cancel()
		if err := h.tracker.Conclude(ctx, conversationID, CompletionReasonUserEnded); err != nil {
			slog.Error("Failed to end conversation", "conversation_id", conversationID, "error", err)
		}
		client.SetConversationID("")
	}
	h.chat.Forget(client.ClientID)

	h.send(client, ws.Outbound{Type: "conversation_ended", Data: map[string]string{
		"conversation_id": conversationID,
		"message":         "Thank you for your time. Your consultation has been saved.",
	}})
}

func (h *WebSocketHandler) send(client *ws.Client, msg ws.Outbound) {
	if err := client.SendJSON(msg); err != nil {
		slog.Warn("Failed to send WebSocket message", "type", msg.Type, "client_id", client.ClientID, "error", err)
	}
}

func (h *WebSocketHandler) Connections() int {
	return h.hub.ClientCount()
}

// CheckOrigin validates the origin of WebSocket connections against a
// comma-separated allow-list. "*" allows any origin.
func CheckOrigin(r *http.Request, allowedOriginsStr string) bool {
	origin := r.Header.Get("Origin")

	if allowedOriginsStr == "" {
		slog.Warn("WebSocket connection rejected: no allowed origins configured", "origin", origin)
		return false
	}

	for _, allowed := range strings.Split(allowedOriginsStr, ",") {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	slog.Warn("WebSocket connection rejected: origin not allowed", "origin", origin, "allowed_origins", allowedOriginsStr)
	return false
}
