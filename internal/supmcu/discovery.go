package supmcu

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/OpenSupMCU/internal/metrics"
	"github.com/KevinKickass/OpenSupMCU/internal/types"
	"go.uber.org/zap"
)

const (
	// DefaultStringReplyLength is the payload buffer read for string
	// queries (FORMAT, NAME, version).
	DefaultStringReplyLength = 128

	versionIndex      = 0
	countIndex        = 14
	commandCountIndex = 17
)

// ModuleHint carries optional identity known before discovery.
type ModuleHint struct {
	CmdName string
	Name    string
}

type Discoverer struct {
	bus         *Bus
	stringReply int
	logger      *zap.Logger
}

func NewDiscoverer(bus *Bus, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{
		bus:         bus,
		stringReply: DefaultStringReplyLength,
		logger:      logger,
	}
}

// SetStringReplyLength changes the payload buffer for string queries.
func (d *Discoverer) SetStringReplyLength(n int) {
	if n > 0 {
		d.stringReply = n
	}
}

// CmdNameFromVersion derives the SCPI prefix from a firmware version
// string: first token, cut at '-'. GPSRM firmware answers to GPS.
func CmdNameFromVersion(version string) string {
	fields := strings.Fields(version)
	if len(fields) == 0 {
		return ""
	}
	name, _, _ := strings.Cut(fields[0], "-")
	if name == "GPSRM" {
		return "GPS"
	}
	return name
}

// ModuleNameFromVersion returns the leading words of the version string,
// stopping at the "(on ...)" marker or a vX.Y token. Falls back to cmdName.
func ModuleNameFromVersion(version, cmdName string) string {
	head, _, _ := strings.Cut(version, "(")
	var words []string
	for _, w := range strings.Fields(head) {
		if len(w) > 1 && (w[0] == 'v' || w[0] == 'V') && w[1] >= '0' && w[1] <= '9' {
			break
		}
		words = append(words, w)
	}
	if len(words) == 0 {
		return cmdName
	}
	return strings.Join(words, " ")
}

// IsSimulatable reports whether the firmware supports simulated values.
func IsSimulatable(version string) bool {
	return strings.Contains(version, "(on STM)") || strings.Contains(version, "(on QSM)")
}

func (d *Discoverer) queryString(ctx context.Context, addr uint16, command string) (string, error) {
	var s string
	err := d.bus.Query(ctx, addr, command, HeaderSize+d.stringReply+FooterSize, func(raw []byte) error {
		tel, err := ParseTelemetry(raw, "S")
		if err != nil {
			return err
		}
		s = tel.Items[0].Value.(string)
		return nil
	})
	return s, err
}

// queryUint16s reads a reply of count UInt16 values.
func (d *Discoverer) queryUint16s(ctx context.Context, addr uint16, command string, count int) ([]uint16, error) {
	format := strings.TrimSuffix(strings.Repeat("s,", count), ",")
	var values []uint16
	err := d.bus.Query(ctx, addr, command, HeaderSize+2*count+FooterSize, func(raw []byte) error {
		tel, err := ParseTelemetry(raw, format)
		if err != nil {
			return err
		}
		for _, item := range tel.Items {
			values = append(values, item.Value.(uint16))
		}
		return nil
	})
	return values, err
}

// DiscoveryStep is the position of one telemetry item in its discovery.
type DiscoveryStep int

const (
	StepBasic DiscoveryStep = iota
	StepSimulatableFlag
	StepDefaults
	StepDone
)

func (s DiscoveryStep) String() string {
	switch s {
	case StepBasic:
		return "STEP_BASIC"
	case StepSimulatableFlag:
		return "STEP_SIMULATABLE_FLAG"
	case StepDefaults:
		return "STEP_DEFAULTS"
	case StepDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// itemDiscovery accumulates what is known about one telemetry index.
type itemDiscovery struct {
	addr              uint16
	prefix            string
	index             int
	moduleSimulatable bool

	state       DiscoveryStep
	format      string
	name        string
	length      int
	simulatable bool
	defaults    []types.TelemetryDataItem
}

func newItemDiscovery(addr uint16, prefix string, index int, moduleSimulatable bool) *itemDiscovery {
	return &itemDiscovery{
		addr:              addr,
		prefix:            prefix,
		index:             index,
		moduleSimulatable: moduleSimulatable,
		state:             StepBasic,
	}
}

func (p *itemDiscovery) command(suffix string) string {
	if suffix == "" {
		return fmt.Sprintf("%s:TEL? %d", p.prefix, p.index)
	}
	return fmt.Sprintf("%s:TEL? %d,%s", p.prefix, p.index, suffix)
}

// step advances p by one state, issuing the queries that state needs.
func (d *Discoverer) step(ctx context.Context, p *itemDiscovery) error {
	switch p.state {
	case StepBasic:
		format, err := d.queryString(ctx, p.addr, p.command("FORMAT"))
		if err != nil {
			return err
		}
		name, err := d.queryString(ctx, p.addr, p.command("NAME"))
		if err != nil {
			return err
		}
		length, err := d.queryUint16s(ctx, p.addr, p.command("LENGTH"), 1)
		if err != nil {
			return err
		}
		p.format, p.name = format, name
		p.length = HeaderSize + int(length[0]) + FooterSize
		if p.moduleSimulatable {
			p.state = StepSimulatableFlag
		} else {
			p.state = StepDone
		}

	case StepSimulatableFlag:
		flag, err := d.queryUint16s(ctx, p.addr, p.command("SIMULATABLE"), 1)
		if err != nil {
			return err
		}
		p.simulatable = flag[0] != 0
		if p.simulatable {
			p.state = StepDefaults
		} else {
			p.state = StepDone
		}

	case StepDefaults:
		err := d.bus.Query(ctx, p.addr, p.command(""), p.length, func(raw []byte) error {
			tel, err := ParseTelemetry(raw, p.format)
			if err != nil {
				return err
			}
			p.defaults = tel.Items
			return nil
		})
		if err != nil {
			return err
		}
		p.state = StepDone

	case StepDone:
	}
	return nil
}

// DiscoverTelemetry builds the definition of one telemetry index.
func (d *Discoverer) DiscoverTelemetry(ctx context.Context, addr uint16, prefix string, index int, moduleSimulatable bool) (types.TelemetryDefinition, error) {
	p := newItemDiscovery(addr, prefix, index, moduleSimulatable)
	for p.state != StepDone {
		if err := d.step(ctx, p); err != nil {
			return types.TelemetryDefinition{}, fmt.Errorf("%s telemetry %d: %w", prefix, index, err)
		}
	}
	def, err := types.NewTelemetryDefinition(p.name, p.length, p.index, p.format, p.simulatable, p.defaults)
	if err != nil {
		return types.TelemetryDefinition{}, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return def, nil
}

// DiscoverCommand reads the name of command index.
func (d *Discoverer) DiscoverCommand(ctx context.Context, addr uint16, index int) (types.Command, error) {
	command := fmt.Sprintf("%s:COM? %d", types.SupMCUPrefix, index)
	var cmd types.Command
	err := d.bus.Query(ctx, addr, command, HeaderSize+CommandNameLength+FooterSize, func(raw []byte) error {
		resp, err := ParseCommand(raw)
		if err != nil {
			return err
		}
		cmd = types.Command{Name: resp.CommandName, Index: index}
		return nil
	})
	if err != nil {
		return types.Command{}, fmt.Errorf("command %d: %w", index, err)
	}
	return cmd, nil
}

// DiscoverModule queries a module at addr for its complete definition.
// Any failure, including a not-ready reply, aborts the whole discovery.
func (d *Discoverer) DiscoverModule(ctx context.Context, addr uint16, hint ModuleHint) (*types.ModuleDefinition, error) {
	start := time.Now()

	version, err := d.queryString(ctx, addr, fmt.Sprintf("%s:TEL? %d", types.SupMCUPrefix, versionIndex))
	if err != nil {
		return nil, fmt.Errorf("firmware version: %w", err)
	}

	cmdName := hint.CmdName
	if cmdName == "" {
		cmdName = CmdNameFromVersion(version)
	}
	if cmdName == "" {
		return nil, fmt.Errorf("%w: cannot derive cmd_name from version %q", ErrInvalidDefinition, version)
	}
	name := hint.Name
	if name == "" {
		name = ModuleNameFromVersion(version, cmdName)
	}
	simulatable := IsSimulatable(version)

	d.logger.Info("Discovering module",
		zap.String("bus", d.bus.Name()),
		zap.Uint16("address", addr),
		zap.String("cmd_name", cmdName),
		zap.String("version", version),
		zap.Bool("simulatable", simulatable))

	counts, err := d.queryUint16s(ctx, addr, fmt.Sprintf("%s:TEL? %d", types.SupMCUPrefix, countIndex), 2)
	if err != nil {
		return nil, fmt.Errorf("telemetry counts: %w", err)
	}

	def := types.NewModuleDefinition(name, cmdName, addr)
	def.Version = version
	def.Simulatable = simulatable

	namespaces := []struct {
		prefix string
		count  int
		into   map[int]types.TelemetryDefinition
	}{
		{types.SupMCUPrefix, int(counts[0]), def.SupMCUTelemetry},
		{cmdName, int(counts[1]), def.ModuleTelemetry},
	}
	for _, ns := range namespaces {
		for idx := 0; idx < ns.count; idx++ {
			item, err := d.DiscoverTelemetry(ctx, addr, ns.prefix, idx, simulatable)
			if err != nil {
				return nil, err
			}
			ns.into[idx] = item
			d.logger.Debug("Telemetry discovered",
				zap.String("prefix", ns.prefix),
				zap.Int("index", idx),
				zap.String("name", item.Name),
				zap.String("format", item.Format))
		}
	}

	cmdCount, err := d.queryUint16s(ctx, addr, fmt.Sprintf("%s:TEL? %d", types.SupMCUPrefix, commandCountIndex), 1)
	if err != nil {
		return nil, fmt.Errorf("command count: %w", err)
	}
	for idx := 0; idx < int(cmdCount[0]); idx++ {
		cmd, err := d.DiscoverCommand(ctx, addr, idx)
		if err != nil {
			return nil, err
		}
		def.Commands[idx] = cmd
	}

	metrics.DiscoveryDuration.Observe(time.Since(start).Seconds())
	d.logger.Info("Module discovery complete",
		zap.String("cmd_name", cmdName),
		zap.Uint16("address", addr),
		zap.Int("supmcu_telemetry", len(def.SupMCUTelemetry)),
		zap.Int("module_telemetry", len(def.ModuleTelemetry)),
		zap.Int("commands", len(def.Commands)),
		zap.Duration("duration", time.Since(start)))

	return def, nil
}
