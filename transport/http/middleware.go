package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pivot-protocol/walletcore/ports"
)

// AuthMiddleware validates the bearer token and exposes the authenticated
// address to downstream handlers.
func AuthMiddleware(tokenizer ports.Tokenizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")

		if len(auth) < 8 || auth[:7] != "Bearer " {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
			return
		}

		session, err := tokenizer.TokenToSession(auth[7:])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		if session.Expired(time.Now()) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token expired"})
			return
		}

		c.Set("userAddress", session.Address)
		c.Next()
	}
}
