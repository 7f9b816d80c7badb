package websocket

import (
	"time"

	"github.com/KevinKickass/OpenSupMCU/internal/supmcu"
	"github.com/KevinKickass/OpenSupMCU/internal/types"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Telemetry messages
	MessageTypeTelemetrySample MessageType = "telemetry_sample"
	MessageTypePollError       MessageType = "poll_error"

	// Module messages
	MessageTypeModuleDiscovered MessageType = "module_discovered"

	// System messages
	MessageTypeSystemStatus MessageType = "system_status"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`

	// routing, not sent
	bus    string
	module string
}

// ModuleData is the payload of module_discovered.
type ModuleData struct {
	Bus        string                  `json:"bus"`
	Definition *types.ModuleDefinition `json:"definition"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewSampleMessage wraps a poll sample. Failed polls become poll_error.
func NewSampleMessage(s supmcu.Sample) Message {
	msgType := MessageTypeTelemetrySample
	if s.Err != "" {
		msgType = MessageTypePollError
	}
	return Message{
		Type:      msgType,
		Timestamp: s.Time,
		Data:      s,
		bus:       s.Bus,
		module:    s.Module,
	}
}

func NewModuleMessage(bus string, def *types.ModuleDefinition) Message {
	msg := NewMessage(MessageTypeModuleDiscovered, ModuleData{Bus: bus, Definition: def})
	msg.bus = bus
	msg.module = def.CmdName
	return msg
}

func NewSystemStatusMessage(status interface{}) Message {
	return NewMessage(MessageTypeSystemStatus, status)
}
