package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Fixed framing of every SupMCU telemetry response.
const (
	HeaderSize = 5
	FooterSize = 8
)

// TelemetryHeader is the 5-byte prefix of every response.
// Ready=false means the module has not produced the value yet.
type TelemetryHeader struct {
	Ready     bool   `json:"ready"`
	Timestamp uint32 `json:"timestamp"`
}

type TelemetryDataItem struct {
	DataType    DataType `json:"data_type" yaml:"data_type"`
	Value       any      `json:"value" yaml:"value"`
	StringValue string   `json:"string_value" yaml:"string_value"`
}

// MarshalJSON writes NaN and Inf floats as their display string ("NaN",
// "+Inf", "-Inf"), which encoding/json cannot represent as numbers.
// NormalizeValue parses that form back.
func (t TelemetryDataItem) MarshalJSON() ([]byte, error) {
	type plain TelemetryDataItem
	out := plain(t)
	if !isFinite(t.Value) {
		out.Value = FormatValue(t.DataType, t.Value)
	}
	return json.Marshal(out)
}

func isFinite(v any) bool {
	switch f := v.(type) {
	case float32:
		return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
	case float64:
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return true
}

// NewDataItem builds an item for a write request.
func NewDataItem(dt DataType, v any) (TelemetryDataItem, error) {
	item := TelemetryDataItem{DataType: dt}
	if err := item.SetValue(v); err != nil {
		return TelemetryDataItem{}, err
	}
	return item, nil
}

// SetValue replaces the value and re-renders StringValue.
func (t *TelemetryDataItem) SetValue(v any) error {
	normalized, err := NormalizeValue(t.DataType, v)
	if err != nil {
		return err
	}
	t.Value = normalized
	t.StringValue = FormatValue(t.DataType, normalized)
	return nil
}

// Telemetry is one decoded response.
type Telemetry struct {
	Header TelemetryHeader     `json:"header"`
	Items  []TelemetryDataItem `json:"items"`
	// Unknown holds format characters that were neither a decodable type
	// nor a separator. They are skipped during parsing.
	Unknown []byte `json:"unknown,omitempty"`
}

type CommandResponse struct {
	Header      TelemetryHeader `json:"header"`
	CommandName string          `json:"command_name"`
}

// TelemetryDefinition describes one telemetry item of a module.
// TelemetryLength includes the 5 byte header and the 8 byte footer.
type TelemetryDefinition struct {
	Name            string              `json:"name" yaml:"name"`
	TelemetryLength int                 `json:"telemetry_length" yaml:"telemetry_length"`
	Index           int                 `json:"index" yaml:"index"`
	Format          string              `json:"format" yaml:"format"`
	Simulatable     bool                `json:"simulatable" yaml:"simulatable"`
	Defaults        []TelemetryDataItem `json:"defaults,omitempty" yaml:"defaults,omitempty"`
}

// NewTelemetryDefinition validates the length against the format.
// Formats containing a String cannot be checked statically and are trusted.
func NewTelemetryDefinition(name string, length, index int, format string, simulatable bool, defaults []TelemetryDataItem) (TelemetryDefinition, error) {
	def := TelemetryDefinition{
		Name:            name,
		TelemetryLength: length,
		Index:           index,
		Format:          format,
		Simulatable:     simulatable,
		Defaults:        defaults,
	}
	if err := def.Validate(); err != nil {
		return TelemetryDefinition{}, err
	}
	return def, nil
}

func (d TelemetryDefinition) Validate() error {
	if d.TelemetryLength < HeaderSize+FooterSize {
		return fmt.Errorf("telemetry %q: length %d shorter than framing", d.Name, d.TelemetryLength)
	}
	if d.HasString() {
		return nil
	}
	payload, err := FormatPayloadSize(d.Format)
	if err != nil {
		return fmt.Errorf("telemetry %q: %w", d.Name, err)
	}
	if want := HeaderSize + payload + FooterSize; want != d.TelemetryLength {
		return fmt.Errorf("telemetry %q: format %q needs %d bytes, definition says %d",
			d.Name, d.Format, want, d.TelemetryLength)
	}
	return nil
}

func (d TelemetryDefinition) HasString() bool {
	return strings.IndexByte(d.Format, DataTypeString.Char()) >= 0
}

// PayloadLength is the number of bytes between header and footer.
func (d TelemetryDefinition) PayloadLength() int {
	return d.TelemetryLength - HeaderSize - FooterSize
}

// FormatPayloadSize sums the fixed widths of every type character in
// format, skipping separators. It fails for formats containing a String.
func FormatPayloadSize(format string) (int, error) {
	total := 0
	for i := 0; i < len(format); i++ {
		dt, ok := DataTypeFromChar(format[i])
		if !ok {
			continue
		}
		size, fixed := dt.Size()
		if !fixed {
			return 0, fmt.Errorf("format %q contains a variable length string", format)
		}
		total += size
	}
	return total, nil
}

// TelemetryType selects the telemetry namespace of a module.
type TelemetryType string

const (
	TelemetrySupMCU TelemetryType = "supmcu"
	TelemetryModule TelemetryType = "module"
)

// SupMCUPrefix is the command prefix of the SupMCU namespace.
const SupMCUPrefix = "SUP"

// Prefix returns the SCPI prefix used for the namespace.
func (t TelemetryType) Prefix(cmdName string) string {
	if t == TelemetrySupMCU {
		return SupMCUPrefix
	}
	return cmdName
}

func ParseTelemetryType(s string) (TelemetryType, error) {
	switch strings.ToLower(s) {
	case "supmcu", "sup":
		return TelemetrySupMCU, nil
	case "module", "mod":
		return TelemetryModule, nil
	}
	return "", fmt.Errorf("unknown telemetry type %q", s)
}
