package supmcu

import (
	"encoding/binary"
	"strings"

	"github.com/KevinKickass/OpenSupMCU/internal/types"
)

// Response layout: ready(1) + timestamp(4, LE) + payload + footer(8).
const (
	HeaderSize = types.HeaderSize
	FooterSize = types.FooterSize

	// CommandNameLength is the fixed string payload of a COM? reply.
	CommandNameLength = 33
)

// ParseHeader decodes the 5 byte header and returns the bytes after it.
func ParseHeader(b []byte) (types.TelemetryHeader, []byte, error) {
	if len(b) < HeaderSize {
		return types.TelemetryHeader{}, nil, framingErrorf("header needs %d bytes, have %d", HeaderSize, len(b))
	}
	h := types.TelemetryHeader{
		Ready:     b[0] != 0,
		Timestamp: binary.LittleEndian.Uint32(b[1:5]),
	}
	return h, b[HeaderSize:], nil
}

// EncodeHeader is the inverse of ParseHeader.
func EncodeHeader(h types.TelemetryHeader) []byte {
	b := make([]byte, HeaderSize)
	if h.Ready {
		b[0] = 1
	}
	binary.LittleEndian.PutUint32(b[1:5], h.Timestamp)
	return b
}

// BuildResponse frames payload with a header and a zeroed footer.
func BuildResponse(h types.TelemetryHeader, payload []byte) []byte {
	out := make([]byte, 0, HeaderSize+len(payload)+FooterSize)
	out = append(out, EncodeHeader(h)...)
	out = append(out, payload...)
	return append(out, make([]byte, FooterSize)...)
}

// FormatToLength returns the payload size of a fixed-width format.
// Formats containing a String fail with ErrDynamicLength.
func FormatToLength(format string) (int, error) {
	if strings.IndexByte(format, types.DataTypeString.Char()) >= 0 {
		return 0, ErrDynamicLength
	}
	return types.FormatPayloadSize(format)
}

// isSeparator reports the punctuation that may sit between format
// characters without meaning anything.
func isSeparator(c byte) bool {
	return c == ',' || c == ' '
}

// ParseTelemetry decodes a full response (header, payload, footer) using
// a format string. Separators are skipped; any other character without a
// decoder is skipped too but recorded in Telemetry.Unknown.
func ParseTelemetry(b []byte, format string) (*types.Telemetry, error) {
	header, rest, err := ParseHeader(b)
	if err != nil {
		return nil, err
	}
	// Fixed-width formats: size check first, Actual may be negative
	if expected, err := FormatToLength(format); err == nil {
		if actual := len(rest) - FooterSize; actual != expected {
			return nil, &LengthMismatchError{Format: format, Expected: expected, Actual: actual}
		}
	}
	if len(rest) < FooterSize {
		return nil, framingErrorf("response of %d bytes has no room for the %d byte footer", len(b), FooterSize)
	}
	payload := rest[:len(rest)-FooterSize]

	tel := &types.Telemetry{
		Header: header,
		Items:  make([]types.TelemetryDataItem, 0, len(format)),
	}
	for i := 0; i < len(format); i++ {
		c := format[i]
		dt, ok := types.DataTypeFromChar(c)
		if !ok {
			if !isSeparator(c) {
				tel.Unknown = append(tel.Unknown, c)
			}
			continue
		}
		item, n, err := DecodeItem(dt, payload)
		if err != nil {
			return nil, err
		}
		payload = payload[n:]
		tel.Items = append(tel.Items, item)
	}
	return tel, nil
}

// ParseDefinition decodes a response for a known telemetry item. When the
// format is fixed-width the declared length has to match the bytes read.
func ParseDefinition(b []byte, def types.TelemetryDefinition) (*types.Telemetry, error) {
	if !def.HasString() && len(b) != def.TelemetryLength {
		return nil, &LengthMismatchError{
			Format:   def.Format,
			Expected: def.PayloadLength(),
			Actual:   len(b) - HeaderSize - FooterSize,
		}
	}
	return ParseTelemetry(b, def.Format)
}

// ParseCommand decodes a COM? reply: header followed by one String.
func ParseCommand(b []byte) (*types.CommandResponse, error) {
	header, rest, err := ParseHeader(b)
	if err != nil {
		return nil, err
	}
	v, _, err := decoders[types.DataTypeString](rest)
	if err != nil {
		return nil, err
	}
	return &types.CommandResponse{Header: header, CommandName: v.(string)}, nil
}

// FormatValues joins the display values for a TEL write.
func FormatValues(items []types.TelemetryDataItem) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = item.StringValue
	}
	return strings.Join(parts, ",")
}
