package auth

import (
	"net/http"
	"strings"

	"github.com/KevinKickass/OpenSupMCU/internal/types"
	"github.com/gin-gonic/gin"
)

const principalKey = "principal"

// AuthMiddleware validates tokens and enforces authentication
func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.NewErrorResponse(types.CodeUnauthorized, "missing authorization header", nil))
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.NewErrorResponse(types.CodeUnauthorized, "invalid authorization header format", nil))
			return
		}

		principal, err := a.ValidateToken(c.Request.Context(), parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.NewErrorResponse(types.CodeUnauthorized, "invalid or expired token", nil))
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// RequirePermission checks if caller has required permission
func RequirePermission(required Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := GetPrincipal(c)
		if p == nil {
			c.AbortWithStatusJSON(http.StatusForbidden, types.NewErrorResponse(types.CodeForbidden, "no permissions found", nil))
			return
		}
		if !p.Has(required) {
			c.AbortWithStatusJSON(http.StatusForbidden, types.NewErrorResponse(types.CodeForbidden, "insufficient permissions", gin.H{"required": string(required)}))
			return
		}
		c.Next()
	}
}

// GetPrincipal extracts the authenticated caller from the gin context
func GetPrincipal(c *gin.Context) *Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*Principal)
	return p
}
