package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"llm-chat-service/internal/observability"
)

// TokenResolver maps a bearer token to a username.
type TokenResolver interface {
	Resolve(token string) (string, error)
}

// ChatAuthorizer decides whether a user may subscribe to a chat.
type ChatAuthorizer interface {
	OwnsChat(ctx context.Context, username, chatID string) (bool, error)
}

// ChatWebSocketHandler streams stored turns of one chat to its owner.
type ChatWebSocketHandler struct {
	hub      *Hub
	chats    ChatAuthorizer
	resolver TokenResolver
}

// NewChatWebSocketHandler constructs a ChatWebSocketHandler.
func NewChatWebSocketHandler(hub *Hub, chats ChatAuthorizer, resolver TokenResolver) *ChatWebSocketHandler {
	return &ChatWebSocketHandler{hub: hub, chats: chats, resolver: resolver}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and registers client. Browsers cannot set
// headers on websocket requests, so the token may also come as ?token=.
func (h *ChatWebSocketHandler) Handle(c *gin.Context) {
	chatID := c.Param("chat_id")

	ctx, span := otel.Tracer("llm-chat-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	span.SetAttributes(attribute.String("chat.id", chatID))
	c.Request = c.Request.WithContext(ctx)

	token, ok := observability.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}

	username, err := h.resolver.Resolve(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	owns, err := h.chats.OwnsChat(ctx, username, chatID)
	if err != nil || !owns {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for chat"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	info := ConnInfo{
		ConnID:      newConnID(),
		Username:    username,
		UserAgent:   observability.UserAgentFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	cl := h.hub.AddClient(chatID, conn, info)

	observability.IncWSActive("chat")
	publishWSEvent(ctx, "ws_connect", chatID, info, "")

	// The request context ends with this handler; the reader outlives it.
	bg := context.WithoutCancel(ctx)
	go func() {
		var closeReason string
		defer func() {
			h.hub.RemoveClient(chatID, conn)
			observability.DecWSActive("chat")
			publishWSEvent(bg, "ws_disconnect", chatID, info, closeReason)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeReason = err.Error()
				if cl.evicted.Load() {
					closeReason = "closed by server"
					return
				}
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					publishWSEvent(bg, "ws_error", chatID, info, closeReason)
				}
				return
			}
		}
	}()
}
