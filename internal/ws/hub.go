package ws

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"llm-chat-service/internal/logging"
	"llm-chat-service/internal/models"
	"llm-chat-service/internal/observability"
)

const (
	EventTurn        = "turn"
	EventChatDeleted = "chat_deleted"

	writeWait = 10 * time.Second
)

type client struct {
	conn *websocket.Conn
	info ConnInfo
	// gorilla connections allow one concurrent writer.
	writeMu sync.Mutex
	// evicted is set before the hub closes the connection itself.
	evicted atomic.Bool
}

// evict closes the connection on behalf of the hub. The reader then sees a
// closed network connection, which is not a client failure.
func (cl *client) evict() {
	cl.evicted.Store(true)
	_ = cl.conn.Close()
}

func (cl *client) write(payload []byte) error {
	cl.writeMu.Lock()
	defer cl.writeMu.Unlock()
	_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return cl.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub maintains one websocket room per chat.
type Hub struct {
	rooms map[string]map[*websocket.Conn]*client
	mu    sync.RWMutex
	log   logging.Logger
}

// NewHub creates an empty hub.
func NewHub(log logging.Logger) *Hub {
	if log == nil {
		log = logging.Nop()
	}
	return &Hub{
		rooms: make(map[string]map[*websocket.Conn]*client),
		log:   log.With("component", "ws"),
	}
}

// AddClient registers a websocket connection to a chat room.
func (h *Hub) AddClient(chatID string, conn *websocket.Conn, info ConnInfo) *client {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[chatID]; !ok {
		h.rooms[chatID] = make(map[*websocket.Conn]*client)
	}
	cl := &client{conn: conn, info: info}
	h.rooms[chatID][conn] = cl
	return cl
}

// RemoveClient removes a chat websocket connection.
func (h *Hub) RemoveClient(chatID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[chatID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.rooms, chatID)
		}
	}
}

// ClientCount returns the number of subscribers of chatID.
func (h *Hub) ClientCount(chatID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[chatID])
}

// BroadcastTurn sends a newly stored turn to every subscriber of the chat.
func (h *Hub) BroadcastTurn(chatID string, turn models.Turn) {
	h.broadcast(chatID, models.ChatEvent{Type: EventTurn, ChatID: chatID, Turn: &turn})
}

// BroadcastChatDeleted tells subscribers the chat is gone and closes their
// connections.
func (h *Hub) BroadcastChatDeleted(chatID string) {
	clients := h.broadcast(chatID, models.ChatEvent{Type: EventChatDeleted, ChatID: chatID})
	for _, cl := range clients {
		cl.writeMu.Lock()
		_ = cl.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "chat deleted"),
			time.Now().Add(writeWait))
		cl.writeMu.Unlock()
		cl.evict()
		h.RemoveClient(chatID, cl.conn)
	}
}

// broadcast returns the clients that received the event.
func (h *Hub) broadcast(chatID string, event models.ChatEvent) []*client {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.rooms[chatID]))
	for _, cl := range h.rooms[chatID] {
		clients = append(clients, cl)
	}
	h.mu.RUnlock()
	if len(clients) == 0 {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error(context.Background(), "websocket marshal failed", "chat_id", chatID, "error", err)
		return nil
	}

	delivered := clients[:0]
	for _, cl := range clients {
		if err := cl.write(payload); err != nil {
			h.log.Warn(context.Background(), "websocket write error", "chat_id", chatID, "conn_id", cl.info.ConnID, "error", err)
			cl.evict()
			h.RemoveClient(chatID, cl.conn)
			publishWSEvent(context.Background(), "ws_error", chatID, cl.info, err.Error())
			continue
		}
		observability.IncWSEvent("chat", event.Type)
		delivered = append(delivered, cl)
	}
	return delivered
}

func publishWSEvent(ctx context.Context, name, chatID string, info ConnInfo, reason string) {
	duration := int64(0)
	if name != "ws_connect" {
		duration = time.Since(info.ConnectedAt).Milliseconds()
	}
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        "chat",
			"resource_id": chatID,
			"event":       name,
			"conn_id":     info.ConnID,
			"duration_ms": duration,
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"username":   info.Username,
			"user_agent": info.UserAgent,
			"ip":         info.IP,
		},
	}

	_ = observability.PublishEvent(ctx, "ws_events.chats", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: name,
		Payload:   payload,
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
	observability.IncWSEvent("chat", name)
}
