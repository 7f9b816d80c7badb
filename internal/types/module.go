package types

import (
	"fmt"
	"sort"
	"strings"
)

type Command struct {
	Name  string `json:"name" yaml:"name"`
	Index int    `json:"index" yaml:"index"`
}

// ModuleDefinition is the complete discovered description of one SupMCU
// module. Address is the 7-bit I2C address (routing key on serial buses).
type ModuleDefinition struct {
	Name            string                      `json:"name" yaml:"name"`
	CmdName         string                      `json:"cmd_name" yaml:"cmd_name"`
	Address         uint16                      `json:"address" yaml:"address"`
	Version         string                      `json:"version,omitempty" yaml:"version,omitempty"`
	Simulatable     bool                        `json:"simulatable" yaml:"simulatable"`
	SupMCUTelemetry map[int]TelemetryDefinition `json:"supmcu_telemetry" yaml:"supmcu_telemetry"`
	ModuleTelemetry map[int]TelemetryDefinition `json:"module_telemetry" yaml:"module_telemetry"`
	Commands        map[int]Command             `json:"commands" yaml:"commands"`
}

func NewModuleDefinition(name, cmdName string, address uint16) *ModuleDefinition {
	return &ModuleDefinition{
		Name:            name,
		CmdName:         cmdName,
		Address:         address,
		SupMCUTelemetry: make(map[int]TelemetryDefinition),
		ModuleTelemetry: make(map[int]TelemetryDefinition),
		Commands:        make(map[int]Command),
	}
}

// Telemetry returns the definitions of one namespace.
func (m *ModuleDefinition) Telemetry(t TelemetryType) map[int]TelemetryDefinition {
	if t == TelemetrySupMCU {
		return m.SupMCUTelemetry
	}
	return m.ModuleTelemetry
}

// FindTelemetry searches both namespaces by item name (case-insensitive).
// Module items win over SupMCU items of the same name.
func (m *ModuleDefinition) FindTelemetry(name string) (TelemetryType, TelemetryDefinition, bool) {
	for _, t := range []TelemetryType{TelemetryModule, TelemetrySupMCU} {
		for _, def := range m.Telemetry(t) {
			if strings.EqualFold(def.Name, name) {
				return t, def, true
			}
		}
	}
	return "", TelemetryDefinition{}, false
}

func (m *ModuleDefinition) FindCommand(name string) (Command, bool) {
	for _, cmd := range m.Commands {
		if strings.EqualFold(cmd.Name, name) {
			return cmd, true
		}
	}
	return Command{}, false
}

// SortedIndices returns the registered indices of a namespace in order.
func (m *ModuleDefinition) SortedIndices(t TelemetryType) []int {
	defs := m.Telemetry(t)
	indices := make([]int, 0, len(defs))
	for idx := range defs {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices
}

// Validate checks identity fields and every telemetry definition.
func (m *ModuleDefinition) Validate() error {
	if m.CmdName == "" {
		return fmt.Errorf("module at 0x%02X: empty cmd_name", m.Address)
	}
	if m.Name == "" {
		return fmt.Errorf("module %s: empty name", m.CmdName)
	}
	for _, t := range []TelemetryType{TelemetrySupMCU, TelemetryModule} {
		for idx, def := range m.Telemetry(t) {
			if idx != def.Index {
				return fmt.Errorf("module %s: %s telemetry keyed %d has index %d", m.CmdName, t, idx, def.Index)
			}
			if err := def.Validate(); err != nil {
				return fmt.Errorf("module %s: %w", m.CmdName, err)
			}
		}
	}
	return nil
}

// NormalizeDefaults restores native value types of simulatable defaults
// after the definition went through JSON or YAML, which decode numbers
// into float64/int.
func (m *ModuleDefinition) NormalizeDefaults() error {
	for _, t := range []TelemetryType{TelemetrySupMCU, TelemetryModule} {
		defs := m.Telemetry(t)
		for idx, def := range defs {
			for i := range def.Defaults {
				item := &def.Defaults[i]
				// StringValue keeps full precision for 64-bit integers
				var src any = item.StringValue
				if item.StringValue == "" {
					src = item.Value
				}
				if err := item.SetValue(src); err != nil {
					return fmt.Errorf("module %s: %s[%d] default %d: %w", m.CmdName, t, idx, i, err)
				}
			}
			defs[idx] = def
		}
	}
	return nil
}
