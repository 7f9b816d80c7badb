package devices

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSupMCU/internal/config"
	"github.com/KevinKickass/OpenSupMCU/internal/supmcu"
	"github.com/KevinKickass/OpenSupMCU/internal/transport"
	"github.com/KevinKickass/OpenSupMCU/internal/transport/sim"
	"github.com/KevinKickass/OpenSupMCU/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrUnknownBus = errors.New("unknown bus")

// DefinitionStore persists definitions next to the file cache, e.g.
// storage.PostgresClient.
type DefinitionStore interface {
	SaveModuleDefinition(ctx context.Context, bus string, def *types.ModuleDefinition) error
	LoadModuleDefinition(ctx context.Context, bus string, address uint16) (*types.ModuleDefinition, error)
}

// ModuleListener is told about every module that becomes available.
type ModuleListener interface {
	HandleModule(bus string, def *types.ModuleDefinition)
}

type busEntry struct {
	id         uuid.UUID
	cfg        config.BusConfig
	transport  transport.Transport
	dispatcher *supmcu.Dispatcher
	pollers    map[uint16]*supmcu.Poller
}

// BusInfo is the public view of an open bus.
type BusInfo struct {
	ID            uuid.UUID     `json:"id"`
	Name          string        `json:"name"`
	Kind          string        `json:"kind"`
	Device        string        `json:"device,omitempty"`
	ResponseDelay time.Duration `json:"response_delay"`
	Modules       int           `json:"modules"`
	Polling       int           `json:"polling"`
}

type Manager struct {
	cfg       *config.Config
	loader    *Loader
	store     DefinitionStore
	buses     map[string]*busEntry
	sinks     []supmcu.SampleSink
	listeners []ModuleListener
	mu        sync.RWMutex
	logger    *zap.Logger
}

func NewManager(cfg *config.Config, logger *zap.Logger) (*Manager, error) {
	loader, err := NewLoader(cfg.SupMCU.DefinitionPaths)
	if err != nil {
		return nil, fmt.Errorf("failed to create definition loader: %w", err)
	}

	return &Manager{
		cfg:    cfg,
		loader: loader,
		buses:  make(map[string]*busEntry),
		logger: logger,
	}, nil
}

func (m *Manager) Loader() *Loader { return m.loader }

// SetDefinitionStore enables database persistence of definitions.
func (m *Manager) SetDefinitionStore(store DefinitionStore) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store = store
}

// AddSampleSink registers a receiver for samples of all pollers.
func (m *Manager) AddSampleSink(sink supmcu.SampleSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, sink)
}

func (m *Manager) AddModuleListener(l ModuleListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// HandleSample fans samples out to the registered sinks. Every poller the
// manager starts reports here.
func (m *Manager) HandleSample(s supmcu.Sample) {
	m.mu.RLock()
	sinks := m.sinks
	m.mu.RUnlock()
	for _, sink := range sinks {
		sink.HandleSample(s)
	}
}

func (m *Manager) notifyModule(bus string, def *types.ModuleDefinition) {
	m.mu.RLock()
	listeners := m.listeners
	m.mu.RUnlock()
	for _, l := range listeners {
		l.HandleModule(bus, def)
	}
}

// Start opens all configured buses and attaches their modules. A module
// that cannot be attached is logged and skipped.
func (m *Manager) Start(ctx context.Context) error {
	for _, busCfg := range m.cfg.Buses {
		if err := m.OpenBus(busCfg); err != nil {
			return err
		}
		for _, modCfg := range busCfg.Modules {
			def, err := m.AttachModule(ctx, busCfg.Name, modCfg)
			if err != nil {
				m.logger.Error("Failed to attach module",
					zap.String("bus", busCfg.Name),
					zap.Uint16("address", modCfg.Address),
					zap.Error(err))
				continue
			}
			if modCfg.Poll {
				if err := m.StartPoller(busCfg.Name, def.CmdName, m.cfg.SupMCU.PollInterval); err != nil {
					m.logger.Error("Failed to start poller",
						zap.String("bus", busCfg.Name),
						zap.String("module", def.CmdName),
						zap.Error(err))
				}
			}
		}
	}
	return nil
}

// OpenBus builds transport, bus and dispatcher for one configured bus.
// On sim buses a demo module is attached at every configured address.
func (m *Manager) OpenBus(cfg config.BusConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.buses[cfg.Name]; exists {
		return fmt.Errorf("bus %s already open", cfg.Name)
	}

	tr, err := transport.Open(transport.Config{
		Kind:        cfg.Kind,
		Device:      cfg.Device,
		BaudRate:    cfg.BaudRate,
		ReadTimeout: cfg.ReadTimeout,
	}, m.logger)
	if err != nil {
		return fmt.Errorf("bus %s: %w", cfg.Name, err)
	}

	if simBus, ok := tr.(*sim.Bus); ok {
		for _, mod := range cfg.Modules {
			simBus.Attach(mod.Address, sim.DemoModule(mod.CmdName))
		}
	}

	bus := supmcu.NewBus(cfg.Name, tr, m.cfg.ResponseDelayFor(cfg), m.logger)
	dispatcher := supmcu.NewDispatcher(bus, m.logger)
	if m.cfg.SupMCU.StringReplyLength > 0 {
		dispatcher.Discoverer().SetStringReplyLength(m.cfg.SupMCU.StringReplyLength)
	}

	m.buses[cfg.Name] = &busEntry{
		id:         uuid.New(),
		cfg:        cfg,
		transport:  tr,
		dispatcher: dispatcher,
		pollers:    make(map[uint16]*supmcu.Poller),
	}

	m.logger.Info("Bus opened",
		zap.String("bus", cfg.Name),
		zap.String("kind", cfg.Kind),
		zap.String("device", cfg.Device))
	return nil
}

func (m *Manager) entry(bus string) (*busEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.buses[bus]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBus, bus)
	}
	return e, nil
}

// Dispatcher returns the dispatcher of a bus.
func (m *Manager) Dispatcher(bus string) (*supmcu.Dispatcher, error) {
	e, err := m.entry(bus)
	if err != nil {
		return nil, err
	}
	return e.dispatcher, nil
}

// AttachModule registers the module from the definition cache, the
// database or, failing both, by discovery. Discovered definitions are
// saved for the next start.
func (m *Manager) AttachModule(ctx context.Context, bus string, cfg config.ModuleConfig) (*types.ModuleDefinition, error) {
	e, err := m.entry(bus)
	if err != nil {
		return nil, err
	}

	if !cfg.Rediscover {
		if def := m.cachedDefinition(ctx, bus, cfg); def != nil {
			if err := e.dispatcher.Register(def); err != nil {
				return nil, err
			}
			m.notifyModule(bus, def)
			return def, nil
		}
	}

	return m.Discover(ctx, bus, cfg.Address, supmcu.ModuleHint{CmdName: cfg.CmdName, Name: cfg.Name})
}

func (m *Manager) cachedDefinition(ctx context.Context, bus string, cfg config.ModuleConfig) *types.ModuleDefinition {
	if cfg.CmdName != "" {
		def, err := m.loader.Load(DefinitionName(cfg.CmdName, cfg.Address))
		switch {
		case err == nil && def.Address == cfg.Address:
			m.logger.Debug("Definition loaded from cache",
				zap.String("bus", bus),
				zap.String("module", def.CmdName))
			return def
		case err != nil && !errors.Is(err, os.ErrNotExist):
			m.logger.Warn("Ignoring broken cached definition", zap.String("bus", bus), zap.Error(err))
		}
	}

	m.mu.RLock()
	store := m.store
	m.mu.RUnlock()
	if store == nil {
		return nil
	}
	def, err := store.LoadModuleDefinition(ctx, bus, cfg.Address)
	if err != nil {
		return nil
	}
	if cfg.CmdName != "" && def.CmdName != cfg.CmdName {
		return nil
	}
	return def
}

// Discover runs discovery at addr and persists the result.
func (m *Manager) Discover(ctx context.Context, bus string, addr uint16, hint supmcu.ModuleHint) (*types.ModuleDefinition, error) {
	e, err := m.entry(bus)
	if err != nil {
		return nil, err
	}

	def, err := e.dispatcher.Discover(ctx, addr, hint)
	if err != nil {
		return nil, err
	}

	if path, err := m.loader.Save(def, m.cfg.SupMCU.DefinitionFormat); err != nil {
		m.logger.Warn("Failed to cache definition", zap.String("module", def.CmdName), zap.Error(err))
	} else {
		m.logger.Info("Definition cached", zap.String("module", def.CmdName), zap.String("path", path))
	}

	m.mu.RLock()
	store := m.store
	m.mu.RUnlock()
	if store != nil {
		if err := store.SaveModuleDefinition(ctx, bus, def); err != nil {
			m.logger.Warn("Failed to store definition", zap.String("module", def.CmdName), zap.Error(err))
		}
	}

	m.notifyModule(bus, def)
	return def, nil
}

// StartPoller starts polling one module's telemetry.
func (m *Manager) StartPoller(bus, ref string, interval time.Duration) error {
	e, err := m.entry(bus)
	if err != nil {
		return err
	}
	def, err := e.dispatcher.Resolve(ref)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if _, running := e.pollers[def.Address]; running {
		m.mu.Unlock()
		return nil
	}
	poller := supmcu.NewPoller(e.dispatcher, def.CmdName, interval, m.logger, m)
	e.pollers[def.Address] = poller
	m.mu.Unlock()

	if err := poller.Start(); err != nil {
		m.mu.Lock()
		delete(e.pollers, def.Address)
		m.mu.Unlock()
		return fmt.Errorf("failed to start poller: %w", err)
	}
	return nil
}

// Poller returns the running poller of a module.
func (m *Manager) Poller(bus, ref string) (*supmcu.Poller, bool) {
	e, err := m.entry(bus)
	if err != nil {
		return nil, false
	}
	def, err := e.dispatcher.Resolve(ref)
	if err != nil {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := e.pollers[def.Address]
	return p, ok
}

// FindModule resolves ref on every bus. The bus name is returned with it.
func (m *Manager) FindModule(ref string) (string, *types.ModuleDefinition, error) {
	var lastErr error = &supmcu.UnknownModuleError{Ref: ref}
	for _, info := range m.ListBuses() {
		e, err := m.entry(info.Name)
		if err != nil {
			continue
		}
		def, err := e.dispatcher.Resolve(ref)
		if err == nil {
			return info.Name, def, nil
		}
		lastErr = err
	}
	return "", nil, lastErr
}

// ListBuses returns all open buses sorted by name.
func (m *Manager) ListBuses() []BusInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]BusInfo, 0, len(m.buses))
	for _, e := range m.buses {
		out = append(out, BusInfo{
			ID:            e.id,
			Name:          e.cfg.Name,
			Kind:          e.cfg.Kind,
			Device:        e.cfg.Device,
			ResponseDelay: e.dispatcher.Bus().ResponseDelay(),
			Modules:       e.dispatcher.Registry().Len(),
			Polling:       len(e.pollers),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// StopAll stops all pollers and closes all transports
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	buses := m.buses
	m.buses = make(map[string]*busEntry)
	m.mu.Unlock()

	var errs []error
	for name, e := range buses {
		for _, poller := range e.pollers {
			poller.Stop()
		}
		if err := e.transport.Close(); err != nil {
			m.logger.Error("Failed to close bus",
				zap.String("bus", name),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("bus %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
