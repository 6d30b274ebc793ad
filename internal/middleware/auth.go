package middleware

import (
	"net/http"
	"strings"

	"task-lifecycle-api/internal/auth"

	"github.com/gin-gonic/gin"
)

// Context keys set by JWTAuthMiddleware.
const (
	UserIDKey   = "user_id"
	UsernameKey = "username"
)

// TokenValidator verifies a bearer token.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// JWTAuthMiddleware validates JWT token in Authorization header
func JWTAuthMiddleware(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		tokenString := ""
		if authHeader != "" {
			// Extract token from "Bearer <token>"
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
		// Browsers cannot set headers on a websocket upgrade, so accept ?token= as well
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization token is required",
				"code":  "unauthorized",
			})
			return
		}

		claims, err := tokens.ValidateToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
				"code":  "unauthorized",
			})
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(UsernameKey, claims.Username)
		c.Next()
	}
}

// CurrentUserID returns the authenticated user id stored by JWTAuthMiddleware.
func CurrentUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
