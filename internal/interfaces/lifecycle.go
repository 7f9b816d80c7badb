package interfaces

import (
	"context"

	"github.com/KevinKickass/OpenSupMCU/internal/config"
	"github.com/KevinKickass/OpenSupMCU/internal/devices"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State         string `json:"state"`
	Buses         int    `json:"buses"`
	Modules       int    `json:"modules"`
	Pollers       int    `json:"pollers"`
	Clients       int    `json:"websocket_clients"`
	Persistence   bool   `json:"persistence"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type LifecycleManager interface {
	Config() *config.Config
	DeviceManager() *devices.Manager
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
