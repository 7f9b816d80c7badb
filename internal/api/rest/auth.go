package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenSupMCU/internal/auth"
	"github.com/KevinKickass/OpenSupMCU/internal/types"
	"github.com/gin-gonic/gin"
)

// Login request/response types
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"` // seconds
}

// POST /api/v1/auth/login
func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadAuth, "Invalid request body", err.Error()))
		return
	}

	token, expires, err := s.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrAccountLocked) {
			c.JSON(http.StatusLocked, types.NewErrorResponse(types.CodeLocked, "Account locked", err.Error()))
			return
		}
		c.JSON(http.StatusUnauthorized, types.NewErrorResponse(types.CodeUnauthorized, "Invalid credentials", nil))
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(time.Until(expires).Seconds()),
	})
}

// GET /api/v1/auth/me
func (s *Server) getCurrentUser(c *gin.Context) {
	p := auth.GetPrincipal(c)
	if p == nil {
		c.JSON(http.StatusUnauthorized, types.NewErrorResponse(types.CodeUnauthorized, "Not authenticated", nil))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"subject":     p.Subject,
		"role":        p.Role,
		"service":     p.Service,
		"permissions": p.Permissions,
	})
}
