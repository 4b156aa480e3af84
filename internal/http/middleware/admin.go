package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AdminKey guards the mutating endpoints (import, analysis run, report
// delivery). An empty required key disables the check, the dev default.
func AdminKey(required string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if required == "" {
			c.Next()
			return
		}
		if c.GetHeader("X-Admin-Key") != required {
			// Same envelope shape as handlers.writeError.
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "UNAUTHORIZED",
					"message": "Invalid admin key",
					"details": nil,
				},
			})
			return
		}
		c.Next()
	}
}
