package supmcu

import (
	"context"
	"fmt"
	"strings"

	"github.com/KevinKickass/OpenSupMCU/internal/metrics"
	"github.com/KevinKickass/OpenSupMCU/internal/types"
	"go.uber.org/zap"
)

// Dispatcher resolves module references on one bus and runs telemetry
// reads, telemetry writes and raw command sends against them.
type Dispatcher struct {
	bus        *Bus
	registry   *ModuleRegistry
	discoverer *Discoverer
	logger     *zap.Logger
}

func NewDispatcher(bus *Bus, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		bus:        bus,
		registry:   NewModuleRegistry(),
		discoverer: NewDiscoverer(bus, logger),
		logger:     logger,
	}
}

func (d *Dispatcher) Bus() *Bus { return d.bus }

func (d *Dispatcher) Registry() *ModuleRegistry { return d.registry }

func (d *Dispatcher) Discoverer() *Discoverer { return d.discoverer }

func (d *Dispatcher) Modules() []*types.ModuleDefinition { return d.registry.List() }

// Register adds a definition loaded from elsewhere (cache, database).
func (d *Dispatcher) Register(def *types.ModuleDefinition) error {
	if err := d.registry.Register(def); err != nil {
		return err
	}
	metrics.DiscoveredModules.Inc()
	d.logger.Info("Module registered",
		zap.String("bus", d.bus.Name()),
		zap.String("module", def.Name),
		zap.String("cmd_name", def.CmdName),
		zap.Uint16("address", def.Address))
	return nil
}

// Discover queries the module at addr and registers the result, replacing
// an earlier definition at the same address.
func (d *Dispatcher) Discover(ctx context.Context, addr uint16, hint ModuleHint) (*types.ModuleDefinition, error) {
	def, err := d.discoverer.DiscoverModule(ctx, addr, hint)
	if err != nil {
		return nil, fmt.Errorf("discovery at 0x%02X failed: %w", addr, err)
	}
	if _, exists := d.registry.ByAddress(addr); exists {
		if err := d.registry.Replace(def); err != nil {
			return nil, err
		}
		return def, nil
	}
	if err := d.Register(def); err != nil {
		return nil, err
	}
	return def, nil
}

func (d *Dispatcher) Resolve(ref string) (*types.ModuleDefinition, error) {
	return d.registry.Resolve(ref)
}

// SendCommand writes an arbitrary SCPI command to the module. Nothing is
// read back.
func (d *Dispatcher) SendCommand(ctx context.Context, ref, command string) error {
	def, err := d.registry.Resolve(ref)
	if err != nil {
		return err
	}
	d.logger.Debug("Sending command",
		zap.String("module", def.CmdName),
		zap.String("command", strings.TrimSpace(command)))
	return d.bus.Send(ctx, def.Address, command)
}

func (d *Dispatcher) definition(ref string, t types.TelemetryType, index int) (*types.ModuleDefinition, types.TelemetryDefinition, error) {
	def, err := d.registry.Resolve(ref)
	if err != nil {
		return nil, types.TelemetryDefinition{}, err
	}
	item, ok := def.Telemetry(t)[index]
	if !ok {
		return nil, types.TelemetryDefinition{}, &UnknownTelemetryError{Module: def.CmdName, Type: t, Index: index}
	}
	return def, item, nil
}

// TelemetryDefinition returns the registered definition of one item.
func (d *Dispatcher) TelemetryDefinition(ref string, t types.TelemetryType, index int) (types.TelemetryDefinition, error) {
	_, item, err := d.definition(ref, t, index)
	return item, err
}

// RequestTelemetry reads and decodes one telemetry item.
func (d *Dispatcher) RequestTelemetry(ctx context.Context, ref string, t types.TelemetryType, index int) (*types.Telemetry, error) {
	def, item, err := d.definition(ref, t, index)
	if err != nil {
		return nil, err
	}

	command := fmt.Sprintf("%s:TEL? %d", t.Prefix(def.CmdName), index)
	var tel *types.Telemetry
	err = d.bus.Query(ctx, def.Address, command, item.TelemetryLength, func(raw []byte) (err error) {
		tel, err = ParseDefinition(raw, item)
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(tel.Unknown) > 0 {
		d.logger.Warn("Unknown format characters skipped",
			zap.String("module", def.CmdName),
			zap.String("telemetry", item.Name),
			zap.String("format", item.Format),
			zap.ByteString("unknown", tel.Unknown))
	}
	return tel, nil
}

// RequestTelemetryByName looks the item up by name in both namespaces.
func (d *Dispatcher) RequestTelemetryByName(ctx context.Context, ref, name string) (types.TelemetryType, *types.Telemetry, error) {
	def, err := d.registry.Resolve(ref)
	if err != nil {
		return "", nil, err
	}
	t, item, ok := def.FindTelemetry(name)
	if !ok {
		return "", nil, &UnknownTelemetryError{Module: def.CmdName, Name: name}
	}
	tel, err := d.RequestTelemetry(ctx, def.CmdName, t, item.Index)
	return t, tel, err
}

// SetValues writes items to a telemetry item: "<PFX>:TEL <idx>,<v1>,...".
// There is no read-back.
func (d *Dispatcher) SetValues(ctx context.Context, ref string, t types.TelemetryType, index int, items []types.TelemetryDataItem) error {
	def, _, err := d.definition(ref, t, index)
	if err != nil {
		return err
	}
	command := fmt.Sprintf("%s:TEL %d,%s", t.Prefix(def.CmdName), index, FormatValues(items))
	d.logger.Debug("Setting telemetry values",
		zap.String("module", def.CmdName),
		zap.String("command", command))
	return d.bus.Send(ctx, def.Address, command)
}

// BuildItems converts raw values into items typed by the definition's
// format, e.g. for values received as JSON.
func BuildItems(item types.TelemetryDefinition, values []any) ([]types.TelemetryDataItem, error) {
	var dataTypes []types.DataType
	for i := 0; i < len(item.Format); i++ {
		if dt, ok := types.DataTypeFromChar(item.Format[i]); ok {
			dataTypes = append(dataTypes, dt)
		}
	}
	if len(values) != len(dataTypes) {
		return nil, fmt.Errorf("telemetry %q takes %d values, got %d", item.Name, len(dataTypes), len(values))
	}
	items := make([]types.TelemetryDataItem, len(values))
	for i, v := range values {
		di, err := types.NewDataItem(dataTypes[i], v)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		items[i] = di
	}
	return items, nil
}

// CommandIndex returns the index of a named command.
func (d *Dispatcher) CommandIndex(ref, name string) (int, error) {
	def, err := d.registry.Resolve(ref)
	if err != nil {
		return 0, err
	}
	cmd, ok := def.FindCommand(name)
	if !ok {
		return 0, &UnknownCommandError{Module: def.CmdName, Name: name}
	}
	return cmd.Index, nil
}
