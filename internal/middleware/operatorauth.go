package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// OperatorAuth guards the /admin/* routes with a static bearer token,
// grounded on the teacher's ExtractToken/ManagementAuthConfig pattern in
// internal/server/management_auth.go, scoped down to the single operator
// token this spec's catalog-reset/status surface needs.
func OperatorAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "operator token not configured"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(extractToken(c)), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
	}
	return c.GetHeader("X-Operator-Token")
}
