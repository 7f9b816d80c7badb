package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenSupMCU/internal/api/websocket"
	"github.com/KevinKickass/OpenSupMCU/internal/auth"
	"github.com/KevinKickass/OpenSupMCU/internal/interfaces"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.AuthService
}

func NewServer(lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, authService *auth.AuthService) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		lm:          lm,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", lm.Config().Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.healthCheck)

		// ==================== AUTH (PUBLIC) ====================
		v1.POST("/auth/login", s.login)

		authProtected := v1.Group("/auth")
		authProtected.Use(s.authService.AuthMiddleware())
		{
			authProtected.GET("/me", s.getCurrentUser)
		}

		// ==================== SYSTEM (OPERATOR+) ====================
		system := v1.Group("/system")
		system.Use(s.authService.AuthMiddleware())
		system.Use(auth.RequirePermission(auth.PermOperator))
		{
			system.GET("/status", s.getSystemStatus)
			system.POST("/shutdown", auth.RequirePermission(auth.PermAdmin), s.shutdown)
		}

		// ==================== BUSES & MODULES ====================
		buses := v1.Group("/buses")
		buses.Use(s.authService.AuthMiddleware())
		{
			// Read operations: Operator+
			buses.GET("", auth.RequirePermission(auth.PermOperator), s.listBuses)
			buses.GET("/:bus/modules", auth.RequirePermission(auth.PermOperator), s.listModules)
			buses.GET("/:bus/modules/:ref", auth.RequirePermission(auth.PermOperator), s.getModule)
			buses.GET("/:bus/modules/:ref/telemetry/:type/:index", auth.RequirePermission(auth.PermOperator), s.readTelemetry)
			buses.GET("/:bus/modules/:ref/telemetry/by-name/:name", auth.RequirePermission(auth.PermOperator), s.readTelemetryByName)
			buses.GET("/:bus/modules/:ref/latest", auth.RequirePermission(auth.PermOperator), s.latestSamples)

			// Write operations: Commander+
			buses.PUT("/:bus/modules/:ref/telemetry/:type/:index", auth.RequirePermission(auth.PermCommander), s.writeTelemetry)
			buses.POST("/:bus/modules/:ref/commands", auth.RequirePermission(auth.PermCommander), s.sendCommand)

			// Bus changes: Admin only
			buses.POST("/:bus/modules/discover", auth.RequirePermission(auth.PermAdmin), s.discoverModule)
			buses.POST("/:bus/modules/:ref/poll", auth.RequirePermission(auth.PermAdmin), s.startPolling)
		}

		// ==================== WEBSOCKET (PUBLIC - Auth via first message) ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.authService.AuthMiddleware(), auth.RequirePermission(auth.PermOperator), s.wsStatus)
		}
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

// LoggerMiddleware logs every request with zap.
func LoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("HTTP request", fields...)
			return
		}
		logger.Debug("HTTP request", fields...)
	}
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
