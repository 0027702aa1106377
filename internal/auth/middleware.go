package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"eco-referral/internal/logger"
)

const (
	subjectIDKey = "subject_id"
	roleKey      = "role"
)

// Middleware validates bearer tokens and protects routes
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")

		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required",
			})
			return
		}

		// Extract token from "Bearer <token>" format
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid authorization header format. Expected: Bearer <token>",
			})
			return
		}

		claims, err := m.ValidateToken(parts[1])
		if err != nil {
			logger.DebugCtx(c.Request.Context(), "Token validation failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			return
		}

		c.Set(subjectIDKey, claims.SubjectID)
		c.Set(roleKey, claims.Role)

		c.Next()
	}
}

// RequireRole rejects requests whose token role is not one of roles
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(roleKey)
		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "Insufficient permissions",
		})
	}
}

// GetSubjectID retrieves the subject ID from the context
func GetSubjectID(c *gin.Context) (string, bool) {
	subjectID := c.GetString(subjectIDKey)
	return subjectID, subjectID != ""
}

// GetRole retrieves the token role from the context
func GetRole(c *gin.Context) string {
	return c.GetString(roleKey)
}
