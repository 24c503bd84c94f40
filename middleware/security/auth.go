package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	sec "ChatSync/tools/security"
)

// CtxUserKey is where the middleware stores the authenticated user ID;
// handlers read it back with UserID(c).
const CtxUserKey = "authUserId"

// Middleware verifies the Authorization: Bearer token and binds its subject
// to the request context.
func Middleware(opts sec.Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader("Authorization"))
		if strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = strings.TrimSpace(token[len("bearer "):])
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		userID, err := sec.VerifySubject(opts, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(CtxUserKey, userID)
		c.Next()
	}
}

// UserID reads the authenticated identity from the request context.
func UserID(c *gin.Context) string {
	return c.GetString(CtxUserKey)
}
