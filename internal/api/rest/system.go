package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// GET /api/v1/system/status
func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.GetCurrentStatus())
}

// POST /api/v1/system/shutdown
func (s *Server) shutdown(c *gin.Context) {
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Shutdown initiated",
	})

	// eigener Context, der Request ist gleich vorbei
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.lm.Config().Server.ShutdownTimeout+time.Second)
		defer cancel()
		s.lm.Shutdown(ctx)
	}()
}
