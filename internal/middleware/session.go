package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const userIDContextKey = "userID"

// SessionReader exposes the signed-in user id, if any.
type SessionReader interface {
	CurrentUserID() (string, bool)
}

func UserIDFromContext(c *gin.Context) (string, bool) {
	userID, ok := c.Get(userIDContextKey)
	if !ok {
		return "", false
	}
	value, ok := userID.(string)
	return value, ok && value != ""
}

// RequireSession rejects requests made while no user is signed in.
func RequireSession(s SessionReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := s.CurrentUserID()
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			c.Abort()
			return
		}

		c.Set(userIDContextKey, userID)
		c.Next()
	}
}
