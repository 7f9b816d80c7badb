package system

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	grpcapi "github.com/KevinKickass/OpenSupMCU/internal/api/grpc"
	"github.com/KevinKickass/OpenSupMCU/internal/api/rest"
	"github.com/KevinKickass/OpenSupMCU/internal/api/websocket"
	"github.com/KevinKickass/OpenSupMCU/internal/auth"
	"github.com/KevinKickass/OpenSupMCU/internal/config"
	"github.com/KevinKickass/OpenSupMCU/internal/devices"
	"github.com/KevinKickass/OpenSupMCU/internal/interfaces"
	"github.com/KevinKickass/OpenSupMCU/internal/storage"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const statusInterval = 10 * time.Second

type LifecycleManager struct {
	config        *config.Config
	storage       *storage.PostgresClient
	sampleWriter  *storage.SampleWriter
	authService   *auth.AuthService
	deviceManager *devices.Manager
	wsHub         *websocket.Hub
	telemetrySvc  *grpcapi.Service
	logger        *zap.Logger

	restServer *rest.Server
	grpcServer *grpc.Server

	stateMu      sync.RWMutex
	currentState SystemState
	lastError    string
	startedAt    time.Time

	listenersMu     sync.RWMutex
	statusListeners []chan SystemStatus

	cancel       context.CancelFunc
	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycleManager wires all components. db may be nil when
// persistence is disabled; users then come from the config only.
func NewLifecycleManager(ctx context.Context, cfg *config.Config, db *storage.PostgresClient, logger *zap.Logger) (*LifecycleManager, error) {
	staticStore, err := auth.NewStaticStore(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to load auth config: %w", err)
	}

	var store auth.Store = staticStore
	if db != nil {
		if err := db.Migrate(ctx); err != nil {
			return nil, err
		}
		if err := db.SeedAuth(ctx, staticStore.Users(), staticStore.ServiceTokens()); err != nil {
			return nil, err
		}
		store = db
	}
	authService := auth.NewAuthService(store, cfg.Auth, logger)

	deviceManager, err := devices.NewManager(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create device manager: %w", err)
	}

	hub := websocket.NewHub(logger, authService)
	telemetrySvc := grpcapi.NewService(deviceManager, logger)

	deviceManager.AddSampleSink(hub)
	deviceManager.AddSampleSink(telemetrySvc)
	deviceManager.AddModuleListener(hub)

	lm := &LifecycleManager{
		config:        cfg,
		storage:       db,
		authService:   authService,
		deviceManager: deviceManager,
		wsHub:         hub,
		telemetrySvc:  telemetrySvc,
		logger:        logger,
		currentState:  StateInitializing,
		shutdownChan:  make(chan struct{}),
	}

	if db != nil {
		deviceManager.SetDefinitionStore(db)
		lm.sampleWriter = storage.NewSampleWriter(db, 100, time.Second, logger)
		deviceManager.AddSampleSink(lm.sampleWriter)
	}

	return lm, nil
}

// Start starts the entire system
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting OpenSupMCU")

	runCtx, cancel := context.WithCancel(context.Background())
	lm.cancel = cancel
	lm.startedAt = time.Now()

	go lm.wsHub.Run(runCtx)

	// Buses öffnen, Module aus Cache laden oder discovern
	if err := lm.deviceManager.Start(ctx); err != nil {
		lm.setError(fmt.Errorf("failed to start buses: %w", err))
		return err
	}

	if err := lm.startGRPCServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start gRPC: %w", err))
		return err
	}

	if err := lm.startRESTServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	lm.setState(StateRunning)
	go lm.statusLoop(runCtx)

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Int("buses", len(lm.deviceManager.ListBuses())),
		zap.Bool("persistence", lm.storage != nil))

	return nil
}

func (lm *LifecycleManager) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lm.broadcastStatus()
		}
	}
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		if lm.cancel != nil {
			lm.cancel()
		}
		if lm.sampleWriter != nil {
			lm.sampleWriter.Close()
		}

		lm.setState(StateStopped)
		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown has finished, e.g. after POST /system/shutdown.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 3)

	// 1. REST API Server graceful shutdown
	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	// 2. gRPC Server graceful stop
	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			lm.grpcServer.GracefulStop()
		}()
	}

	// 3. Pollers stoppen, Transports schließen
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := lm.deviceManager.StopAll(ctx); err != nil {
			errChan <- fmt.Errorf("device manager stop failed: %w", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		select {
		case err := <-errChan:
			return err
		default:
		}
		lm.logger.Info("Graceful shutdown completed")
		return nil
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		if lm.grpcServer != nil {
			lm.grpcServer.Stop()
		}
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer(grpcapi.ServerOptions(lm.authService)...)
	lm.telemetrySvc.Register(lm.grpcServer)

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.Int("port", lm.config.Server.GRPCPort),
			zap.String("services", grpcapi.ServiceName))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm, lm.logger, lm.wsHub, lm.authService)
	return lm.restServer.Start()
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Unexpected state change", zap.Error(err))
	}
	lm.currentState = state
	lm.stateMu.Unlock()

	lm.broadcastStatus()
}

func (lm *LifecycleManager) setError(err error) {
	lm.stateMu.Lock()
	lm.currentState = StateError
	lm.lastError = err.Error()
	lm.stateMu.Unlock()

	lm.logger.Error("System error", zap.Error(err))
	lm.broadcastStatus()
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state := lm.currentState
	startedAt := lm.startedAt
	lm.stateMu.RUnlock()

	status := interfaces.SystemStatus{
		State:       state.String(),
		Clients:     lm.wsHub.GetClientCount(),
		Persistence: lm.storage != nil,
	}
	for _, bus := range lm.deviceManager.ListBuses() {
		status.Buses++
		status.Modules += bus.Modules
		status.Pollers += bus.Polling
	}
	if !startedAt.IsZero() {
		status.UptimeSeconds = int64(time.Since(startedAt).Seconds())
	}
	return status
}

func (lm *LifecycleManager) getStatusInternal() SystemStatus {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()

	return SystemStatus{
		State:     lm.currentState,
		Timestamp: time.Now().Unix(),
		Error:     lm.lastError,
	}
}

func (lm *LifecycleManager) broadcastStatus() {
	status := lm.getStatusInternal()

	lm.wsHub.Broadcast(websocket.NewSystemStatusMessage(lm.GetCurrentStatus()))

	lm.listenersMu.RLock()
	defer lm.listenersMu.RUnlock()

	for _, listener := range lm.statusListeners {
		select {
		case listener <- status:
		default:
			// Channel full, skip
		}
	}
}

// SubscribeStatus subscribes to status updates
func (lm *LifecycleManager) SubscribeStatus() chan SystemStatus {
	ch := make(chan SystemStatus, 10)

	lm.listenersMu.Lock()
	lm.statusListeners = append(lm.statusListeners, ch)
	lm.listenersMu.Unlock()

	return ch
}

// UnsubscribeStatus unsubscribes from status updates
func (lm *LifecycleManager) UnsubscribeStatus(ch chan SystemStatus) {
	lm.listenersMu.Lock()
	defer lm.listenersMu.Unlock()

	for i, listener := range lm.statusListeners {
		if listener == ch {
			lm.statusListeners = append(lm.statusListeners[:i], lm.statusListeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// DeviceManager returns the device manager
func (lm *LifecycleManager) DeviceManager() *devices.Manager {
	return lm.deviceManager
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}
