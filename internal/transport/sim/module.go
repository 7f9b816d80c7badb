// Package sim simulates SupMCU modules behind a BusTransport. It answers
// the discovery queries, telemetry reads and writes of the real firmware
// and is used for demo buses and as test fixture.
package sim

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenSupMCU/internal/supmcu"
	"github.com/KevinKickass/OpenSupMCU/internal/types"
)

var (
	ErrNoDevice       = errors.New("sim: no device at address")
	ErrNoPendingReply = errors.New("sim: read without pending reply")
	ErrBadCommand     = errors.New("sim: command not understood")
)

const commandNameLength = supmcu.CommandNameLength

// Item is one simulated telemetry item.
type Item struct {
	Name        string
	Format      string
	Values      []any
	Simulatable bool
}

// Module answers like SupMCU firmware. SupMCU index 0, 14 and 17 are
// served from Version, the item counts and Commands.
type Module struct {
	Version  string
	CmdName  string
	SupMCU   []Item
	Module   []Item
	Commands []string

	mu        sync.Mutex
	notReady  map[string]bool
	timestamp uint32
}

// SetNotReady makes the module answer command with ready=false.
func (m *Module) SetNotReady(command string, notReady bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.notReady == nil {
		m.notReady = make(map[string]bool)
	}
	m.notReady[strings.TrimSpace(command)] = notReady
}

// Values returns a copy of the current values of an item.
func (m *Module) Values(t types.TelemetryType, index int) []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items(t)
	if index < 0 || index >= len(items) {
		return nil
	}
	return append([]any(nil), items[index].Values...)
}

func (m *Module) items(t types.TelemetryType) []Item {
	if t == types.TelemetrySupMCU {
		return m.SupMCU
	}
	return m.Module
}

// namespace maps a command prefix to the telemetry namespace.
func (m *Module) namespace(prefix string) (types.TelemetryType, bool) {
	switch {
	case strings.EqualFold(prefix, types.SupMCUPrefix):
		return types.TelemetrySupMCU, true
	case strings.EqualFold(prefix, m.CmdName):
		return types.TelemetryModule, true
	}
	return "", false
}

// handle executes one command. reply is nil for writes.
func (m *Module) handle(command string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	command = strings.TrimSpace(command)
	prefix, rest, ok := strings.Cut(command, ":")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBadCommand, command)
	}
	t, ok := m.namespace(prefix)
	if !ok {
		return nil, fmt.Errorf("%w: unknown prefix %q", ErrBadCommand, prefix)
	}

	switch {
	case strings.HasPrefix(rest, "TEL? "):
		payload, err := m.query(t, strings.TrimPrefix(rest, "TEL? "))
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrBadCommand, command, err)
		}
		return m.frame(command, payload), nil

	case strings.HasPrefix(rest, "COM? ") && t == types.TelemetrySupMCU:
		idx, err := strconv.Atoi(strings.TrimPrefix(rest, "COM? "))
		if err != nil || idx < 0 || idx >= len(m.Commands) {
			return nil, fmt.Errorf("%w: %q", ErrBadCommand, command)
		}
		payload := make([]byte, commandNameLength)
		copy(payload[:commandNameLength-1], m.Commands[idx])
		return m.frame(command, payload), nil

	case strings.HasPrefix(rest, "TEL "):
		if err := m.set(t, strings.TrimPrefix(rest, "TEL ")); err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrBadCommand, command, err)
		}
		return nil, nil
	}

	// Sonstige SCPI-Kommandos werden quittungslos angenommen
	return nil, nil
}

func (m *Module) frame(command string, payload []byte) []byte {
	m.timestamp++
	header := types.TelemetryHeader{Ready: !m.notReady[command], Timestamp: m.timestamp}
	return supmcu.BuildResponse(header, payload)
}

func (m *Module) query(t types.TelemetryType, args string) ([]byte, error) {
	idxStr, suffix, _ := strings.Cut(args, ",")
	idx, err := strconv.Atoi(strings.TrimSpace(idxStr))
	if err != nil {
		return nil, err
	}

	if t == types.TelemetrySupMCU && suffix == "" {
		switch idx {
		case 0:
			return append([]byte(m.Version), 0), nil
		case 14:
			return encode("s,s", []any{len(m.SupMCU), len(m.Module)})
		case 17:
			return encode("s", []any{len(m.Commands)})
		}
	}

	items := m.items(t)
	if idx < 0 || idx >= len(items) {
		return nil, fmt.Errorf("index %d out of range", idx)
	}
	item := items[idx]

	switch strings.ToUpper(suffix) {
	case "":
		return encode(item.Format, item.Values)
	case "FORMAT":
		return append([]byte(item.Format), 0), nil
	case "NAME":
		return append([]byte(item.Name), 0), nil
	case "LENGTH":
		payload, err := encode(item.Format, item.Values)
		if err != nil {
			return nil, err
		}
		return encode("s", []any{len(payload)})
	case "SIMULATABLE":
		flag := 0
		if item.Simulatable {
			flag = 1
		}
		return encode("s", []any{flag})
	}
	return nil, fmt.Errorf("unknown query %q", suffix)
}

func (m *Module) set(t types.TelemetryType, args string) error {
	parts := strings.Split(args, ",")
	idx, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return err
	}
	items := m.items(t)
	if idx < 0 || idx >= len(items) {
		return fmt.Errorf("index %d out of range", idx)
	}
	dataTypes := formatTypes(items[idx].Format)
	raw := parts[1:]
	if len(raw) != len(dataTypes) {
		return fmt.Errorf("expected %d values, got %d", len(dataTypes), len(raw))
	}
	values := make([]any, len(raw))
	for i, s := range raw {
		v, err := types.NormalizeValue(dataTypes[i], s)
		if err != nil {
			return err
		}
		values[i] = v
	}
	items[idx].Values = values
	return nil
}

func formatTypes(format string) []types.DataType {
	var out []types.DataType
	for i := 0; i < len(format); i++ {
		if dt, ok := types.DataTypeFromChar(format[i]); ok {
			out = append(out, dt)
		}
	}
	return out
}

func encode(format string, values []any) ([]byte, error) {
	dataTypes := formatTypes(format)
	if len(dataTypes) != len(values) {
		return nil, fmt.Errorf("format %q takes %d values, have %d", format, len(dataTypes), len(values))
	}
	var out []byte
	for i, dt := range dataTypes {
		b, err := supmcu.EncodeValue(dt, values[i])
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}
