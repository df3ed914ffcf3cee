package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"llm-chat-service/internal/middleware"
	"llm-chat-service/internal/observability"
	"llm-chat-service/internal/telemetry"
)

const requestIDContextKey = "request_id"

// RequestIDMiddleware assigns every request an id and echoes it back.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header(observability.RequestIDHeader, requestIDFromContext(c))
		c.Next()
	}
}

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := observability.RequestIDFromRequest(c.Request)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func usernameFromContext(c *gin.Context) string {
	return c.GetString(middleware.UsernameKey)
}

func audit(c *gin.Context, emitter *telemetry.AuditEmitter, rec telemetry.AuditRecord) {
	rec.RequestID = requestIDFromContext(c)
	if rec.Username == "" {
		rec.Username = usernameFromContext(c)
	}
	emitter.Emit(c.Request.Context(), rec)
}

// RegisterDebugRoutes exposes GET /debug/audit, which sends one audit record
// through emitter and answers with the request id it was tagged with.
func RegisterDebugRoutes(router gin.IRouter, emitter *telemetry.AuditEmitter, enabled bool) {
	if !enabled {
		return
	}
	router.GET("/debug/audit", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		audit(c, emitter, telemetry.AuditRecord{Action: "audit_check", Text: "audit pipeline check"})
		c.JSON(http.StatusOK, gin.H{"status": "ok", "request_id": requestIDFromContext(c)})
	})
}
