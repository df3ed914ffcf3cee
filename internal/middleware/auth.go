package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"llm-chat-service/internal/auth"
	"llm-chat-service/internal/observability"
)

// Context keys set by AuthMiddleware.
const (
	UsernameKey = "username"
	TokenKey    = "token"
)

// TokenResolver maps a bearer token to a username.
type TokenResolver interface {
	Resolve(token string) (string, error)
}

// AuthMiddleware validates the Authorization header against the token store.
func AuthMiddleware(resolver TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		token, ok := observability.BearerToken(header)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		username, err := resolver.Resolve(token)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, auth.ErrMissingToken) {
				msg = "missing authorization"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		c.Set(UsernameKey, username)
		c.Set(TokenKey, token)
		c.Next()
	}
}
