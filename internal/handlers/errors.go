package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"llm-chat-service/internal/llm"
	"llm-chat-service/internal/logging"
	"llm-chat-service/internal/repositories"
	"llm-chat-service/internal/service"
)

// statusClientClosedRequest is sent when the caller went away mid request.
const statusClientClosedRequest = 499

// writeError maps service errors to HTTP answers. Upstream completion
// failures are passed through with the upstream status and body.
func writeError(c *gin.Context, log logging.Logger, err error) {
	var upstream *llm.UpstreamError
	switch {
	case errors.As(err, &upstream):
		status := upstream.Status
		if status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"error": upstream.Body})
	case errors.Is(err, service.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrUserNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "user not found"})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": service.ErrForbidden.Error()})
	case errors.Is(err, service.ErrNotFound), errors.Is(err, repositories.ErrInvalidChatID):
		c.JSON(http.StatusNotFound, gin.H{"error": service.ErrNotFound.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "completion timed out"})
	case errors.Is(err, context.Canceled):
		log.Debug(c.Request.Context(), "request canceled", "route", c.FullPath())
		c.JSON(statusClientClosedRequest, gin.H{"error": "request canceled"})
	case errors.Is(err, llm.ErrEmptyCompletion):
		c.JSON(http.StatusBadGateway, gin.H{"error": "empty completion"})
	default:
		log.Error(c.Request.Context(), "request failed", "route", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
