package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// APIKeyMiddleware guards write endpoints with a static key set supplied via
// X-API-Key. In production this would typically come from IAM or a secret
// manager.
func APIKeyMiddleware(keys []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			allowed[k] = true
		}
	}

	return func(c *gin.Context) {
		apiKey := strings.TrimSpace(c.GetHeader("X-API-Key"))
		if !allowed[apiKey] {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
