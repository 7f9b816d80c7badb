package sim

import "strings"

// DefaultSupMCUItems returns the SupMCU namespace every module shares.
func DefaultSupMCUItems(version string) []Item {
	return []Item{
		{Name: "Firmware Version", Format: "S", Values: []any{version}},
		{Name: "Uptime", Format: "l", Values: []any{uint64(86400)}},
		{Name: "CPU Selftests", Format: "n,n", Values: []any{int16(0), int16(0)}},
		{Name: "Time", Format: "i", Values: []any{uint32(1700000000)}},
		{Name: "Context Switches", Format: "i", Values: []any{uint32(129938)}},
	}
}

// NewDemoModule returns a battery module for demo buses.
func NewDemoModule() *Module {
	const version = "BM2-RevC (on STM) v2.1.0 Oct 19 2026"
	return &Module{
		Version: version,
		CmdName: "BM2",
		SupMCU:  DefaultSupMCUItems(version),
		Module: []Item{
			{Name: "Battery Voltage", Format: "s", Values: []any{uint16(7412)}, Simulatable: true},
			{Name: "Battery Current", Format: "n", Values: []any{int16(-230)}, Simulatable: true},
			{Name: "Cell Temperatures", Format: "f,f,f,f", Values: []any{float32(21.5), float32(21.75), float32(22), float32(21.25)}},
			{Name: "Status Flags", Format: "z", Values: []any{uint16(0x0102)}},
			{Name: "Heater State", Format: "u", Values: []any{uint8(0)}, Simulatable: true},
			{Name: "Serial Number", Format: "S", Values: []any{"BM2-000417"}},
		},
		Commands: []string{"SUP:LED", "SUP:RES", "BM2:HEAT", "BM2:BAL"},
	}
}

// NewDemoPowerModule returns an EPS module for demo buses.
func NewDemoPowerModule() *Module {
	const version = "EPS-Rev2 (on STM) v1.4.2 Oct 19 2026"
	return &Module{
		Version: version,
		CmdName: "EPS",
		SupMCU:  DefaultSupMCUItems(version),
		Module: []Item{
			{Name: "Bus Voltages", Format: "s,s,s", Values: []any{uint16(3300), uint16(5000), uint16(12000)}},
			{Name: "Channel Enable", Format: "x", Values: []any{uint8(0x1F)}, Simulatable: true},
			{Name: "Board Temperature", Format: "F", Values: []any{float64(24.125)}},
			{Name: "Boot Count", Format: "i", Values: []any{uint32(17)}},
		},
		Commands: []string{"SUP:LED", "SUP:RES", "EPS:CHAN"},
	}
}

// DemoModule picks a demo module by command name. Unknown names get the
// battery module.
func DemoModule(cmdName string) *Module {
	if strings.EqualFold(cmdName, "EPS") {
		return NewDemoPowerModule()
	}
	return NewDemoModule()
}
