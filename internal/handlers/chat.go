package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"llm-chat-service/internal/llm"
	"llm-chat-service/internal/logging"
	"llm-chat-service/internal/service"
	"llm-chat-service/internal/telemetry"
)

const (
	defaultHistoryLimit  = 10
	defaultHistoryOffset = 0
)

// ChatHandler manages assistant chat endpoints.
type ChatHandler struct {
	sessions service.Sessions
	audit    *telemetry.AuditEmitter
	log      logging.Logger
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(sessions service.Sessions, emitter *telemetry.AuditEmitter, log logging.Logger) *ChatHandler {
	if log == nil {
		log = logging.Nop()
	}
	return &ChatHandler{sessions: sessions, audit: emitter, log: log}
}

// ListChats returns the chats of the authenticated user.
func (h *ChatHandler) ListChats(c *gin.Context) {
	chats, err := h.sessions.ListChats(c.Request.Context(), usernameFromContext(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// CreateChat starts an empty chat. The body and its title are optional.
func (h *ChatHandler) CreateChat(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	ref, err := h.sessions.CreateChat(c.Request.Context(), usernameFromContext(c), req.Title)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	audit(c, h.audit, telemetry.AuditRecord{Action: "chat_created", Text: ref.Title, ChatID: ref.ID})
	c.JSON(http.StatusOK, gin.H{"chat_id": ref.ID, "title": ref.Title})
}

// GetChatHistory returns one page of a chat, newest turns first by page.
func (h *ChatHandler) GetChatHistory(c *gin.Context) {
	chatID := c.Query("chat_id")
	if chatID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chat_id is required"})
		return
	}
	limit, ok := intQuery(c, "limit", defaultHistoryLimit)
	if !ok {
		return
	}
	offset, ok := intQuery(c, "offset", defaultHistoryOffset)
	if !ok {
		return
	}

	page, err := h.sessions.History(c.Request.Context(), usernameFromContext(c), chatID, limit, offset)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"chat_id":           page.ChatID,
		"title":             page.Title,
		"total_messages":    page.Total,
		"messages_returned": len(page.Messages),
		"messages":          page.Messages,
	})
}

// SendMessage forwards a user message to the assistant and returns the reply.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	chatID := c.Query("chat_id")
	if chatID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chat_id is required"})
		return
	}

	// role is ignored; turns stored here are always user turns.
	var req struct {
		Role    string `json:"role"`
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reply, err := h.sessions.SendMessage(c.Request.Context(), usernameFromContext(c), chatID, req.Message)
	if err != nil {
		var upstream *llm.UpstreamError
		if errors.As(err, &upstream) {
			audit(c, h.audit, telemetry.AuditRecord{
				Level:  telemetry.LevelError,
				Action: "upstream_failed",
				Text:   "completion endpoint answered " + strconv.Itoa(upstream.Status),
				ChatID: chatID,
			})
		}
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reply": reply})
}

// RenameChat changes a chat title.
func (h *ChatHandler) RenameChat(c *gin.Context) {
	chatID := c.Param("chat_id")
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ref, err := h.sessions.RenameChat(c.Request.Context(), usernameFromContext(c), chatID, req.Title)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	audit(c, h.audit, telemetry.AuditRecord{Action: "chat_renamed", Text: ref.Title, ChatID: ref.ID})
	c.JSON(http.StatusOK, gin.H{"detail": "chat renamed", "chat_id": ref.ID, "new_title": ref.Title})
}

// DeleteChat removes a chat and its history.
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	chatID := c.Param("chat_id")
	if err := h.sessions.DeleteChat(c.Request.Context(), usernameFromContext(c), chatID); err != nil {
		writeError(c, h.log, err)
		return
	}

	audit(c, h.audit, telemetry.AuditRecord{Action: "chat_deleted", ChatID: chatID})
	c.JSON(http.StatusOK, gin.H{"detail": "chat deleted"})
}

func intQuery(c *gin.Context, key string, fallback int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, true
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key})
		return 0, false
	}
	return val, true
}
