package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ownerKey = "owner"

// RequireAuth rejects requests without a valid bearer token and stores the
// token's user id for Owner.
func RequireAuth(tokens *Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
			return
		}
		claims, err := tokens.Parse(strings.TrimSpace(raw))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
			return
		}
		c.Set(ownerKey, claims.UserID)
		c.Next()
	}
}

// Owner returns the authenticated user id, or "" outside RequireAuth.
func Owner(c *gin.Context) string {
	return c.GetString(ownerKey)
}
