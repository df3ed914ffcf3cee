package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"llm-chat-service/internal/auth"
	"llm-chat-service/internal/logging"
	"llm-chat-service/internal/middleware"
	"llm-chat-service/internal/observability"
	"llm-chat-service/internal/telemetry"
)

// Authenticator issues and revokes bearer tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (string, error)
	Logout(token string)
}

// AuthHandler serves login and logout.
type AuthHandler struct {
	auth  Authenticator
	audit *telemetry.AuditEmitter
	log   logging.Logger
}

// NewAuthHandler builds an AuthHandler.
func NewAuthHandler(authenticator Authenticator, emitter *telemetry.AuditEmitter, log logging.Logger) *AuthHandler {
	if log == nil {
		log = logging.Nop()
	}
	return &AuthHandler{auth: authenticator, audit: emitter, log: log}
}

// Login exchanges username and password for a token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := h.auth.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			observability.IncLoginAttempt("invalid")
			audit(c, h.audit, telemetry.AuditRecord{
				Level:    telemetry.LevelWarn,
				Action:   "login_failed",
				Text:     "invalid credentials",
				Username: req.Username,
			})
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
			return
		}
		observability.IncLoginAttempt("error")
		h.log.Error(c.Request.Context(), "login failed", "username", req.Username, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	observability.IncLoginAttempt("success")
	audit(c, h.audit, telemetry.AuditRecord{Action: "login", Text: "login succeeded", Username: req.Username})
	c.JSON(http.StatusOK, gin.H{"token": token, "message": "login successful"})
}

// Logout revokes the caller's token. It runs behind AuthMiddleware.
func (h *AuthHandler) Logout(c *gin.Context) {
	h.auth.Logout(c.GetString(middleware.TokenKey))
	audit(c, h.audit, telemetry.AuditRecord{Action: "logout", Text: "token revoked"})
	c.JSON(http.StatusOK, gin.H{"detail": "logged out"})
}
