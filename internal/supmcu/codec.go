package supmcu

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/KevinKickass/OpenSupMCU/internal/types"
	"golang.org/x/exp/constraints"
)

// decoder reads one value from the front of b and reports how many bytes
// it consumed.
type decoder func(b []byte) (value any, n int, err error)

// DataType -> decoder, immutable after init
var decoders = map[types.DataType]decoder{
	types.DataTypeString: decodeString,
	types.DataTypeChar: fixed(1, func(b []byte) any {
		return string([]byte{clampASCII(b[0])})
	}),
	types.DataTypeUint8:   fixed(1, func(b []byte) any { return readLE[uint8](b, 1) }),
	types.DataTypeInt8:    fixed(1, func(b []byte) any { return readLE[int8](b, 1) }),
	types.DataTypeUint16:  fixed(2, func(b []byte) any { return readLE[uint16](b, 2) }),
	types.DataTypeInt16:   fixed(2, func(b []byte) any { return readLE[int16](b, 2) }),
	types.DataTypeUint32:  fixed(4, func(b []byte) any { return readLE[uint32](b, 4) }),
	types.DataTypeInt32:   fixed(4, func(b []byte) any { return readLE[int32](b, 4) }),
	types.DataTypeUint64:  fixed(8, func(b []byte) any { return readLE[uint64](b, 8) }),
	types.DataTypeInt64:   fixed(8, func(b []byte) any { return readLE[int64](b, 8) }),
	types.DataTypeFloat32: fixed(4, func(b []byte) any { return math.Float32frombits(binary.LittleEndian.Uint32(b)) }),
	types.DataTypeFloat64: fixed(8, func(b []byte) any { return math.Float64frombits(binary.LittleEndian.Uint64(b)) }),
	types.DataTypeHex8:    fixed(1, func(b []byte) any { return readLE[uint8](b, 1) }),
	types.DataTypeHex16:   fixed(2, func(b []byte) any { return readLE[uint16](b, 2) }),
}

func fixed(size int, conv func([]byte) any) decoder {
	return func(b []byte) (any, int, error) {
		if len(b) < size {
			return nil, 0, framingErrorf("need %d bytes, have %d", size, len(b))
		}
		return conv(b[:size]), size, nil
	}
}

func readLE[T constraints.Integer](b []byte, size int) T {
	var v uint64
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return T(v)
}

// Some firmware emits bytes with the high bit set inside strings.
func clampASCII(c byte) byte {
	if c >= 0x80 {
		return 0x7F
	}
	return c
}

func decodeString(b []byte) (any, int, error) {
	end := bytes.IndexByte(b, 0)
	if end < 0 {
		return nil, 0, framingErrorf("string of %d bytes has no NUL terminator", len(b))
	}
	s := make([]byte, end)
	for i, c := range b[:end] {
		s[i] = clampASCII(c)
	}
	return string(s), end + 1, nil
}

// DecodeItem decodes one value of type dt from the front of b.
func DecodeItem(dt types.DataType, b []byte) (types.TelemetryDataItem, int, error) {
	dec, ok := decoders[dt]
	if !ok {
		return types.TelemetryDataItem{}, 0, fmt.Errorf("supmcu: no decoder for %s", dt)
	}
	v, n, err := dec(b)
	if err != nil {
		return types.TelemetryDataItem{}, 0, err
	}
	return types.TelemetryDataItem{
		DataType:    dt,
		Value:       v,
		StringValue: types.FormatValue(dt, v),
	}, n, nil
}

// EncodeValue serializes v as dt in wire format (little-endian,
// NUL-terminated strings).
func EncodeValue(dt types.DataType, v any) ([]byte, error) {
	normalized, err := types.NormalizeValue(dt, v)
	if err != nil {
		return nil, err
	}
	switch n := normalized.(type) {
	case string:
		if dt == types.DataTypeChar {
			return []byte{n[0]}, nil
		}
		return append([]byte(n), 0), nil
	case uint8:
		return []byte{n}, nil
	case int8:
		return []byte{byte(n)}, nil
	case uint16:
		return binary.LittleEndian.AppendUint16(nil, n), nil
	case int16:
		return binary.LittleEndian.AppendUint16(nil, uint16(n)), nil
	case uint32:
		return binary.LittleEndian.AppendUint32(nil, n), nil
	case int32:
		return binary.LittleEndian.AppendUint32(nil, uint32(n)), nil
	case uint64:
		return binary.LittleEndian.AppendUint64(nil, n), nil
	case int64:
		return binary.LittleEndian.AppendUint64(nil, uint64(n)), nil
	case float32:
		return binary.LittleEndian.AppendUint32(nil, math.Float32bits(n)), nil
	case float64:
		return binary.LittleEndian.AppendUint64(nil, math.Float64bits(n)), nil
	}
	return nil, fmt.Errorf("supmcu: cannot encode %T as %s", normalized, dt)
}

// EncodeItems serializes items back to back.
func EncodeItems(items []types.TelemetryDataItem) ([]byte, error) {
	var out []byte
	for i, item := range items {
		b, err := EncodeValue(item.DataType, item.Value)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, b...)
	}
	return out, nil
}
