package types

import (
	"fmt"
	"math"
	"strconv"
)

// NormalizeValue converts v into the native Go type used for dt:
// string for String and Char, the sized integer for integer and hex types,
// float32/float64 for floats. JSON numbers (float64) and numeric strings
// are accepted so that API callers can submit values loosely.
func NormalizeValue(dt DataType, v any) (any, error) {
	switch dt {
	case DataTypeString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s: expected string, got %T", dt, v)
		}
		return s, nil
	case DataTypeChar:
		switch c := v.(type) {
		case string:
			if len(c) != 1 {
				return nil, fmt.Errorf("%s: expected single character, got %q", dt, c)
			}
			return c, nil
		case byte:
			return string([]byte{c}), nil
		case rune:
			if c < 0 || c > 0x7F {
				return nil, fmt.Errorf("%s: rune %q out of ASCII range", dt, c)
			}
			return string([]byte{byte(c)}), nil
		}
		return nil, fmt.Errorf("%s: expected character, got %T", dt, v)
	case DataTypeFloat32:
		f, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", dt, err)
		}
		return float32(f), nil
	case DataTypeFloat64:
		f, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", dt, err)
		}
		return f, nil
	case DataTypeInt8, DataTypeInt16, DataTypeInt32, DataTypeInt64:
		size, _ := dt.Size()
		i, err := toInt(v, size*8)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", dt, err)
		}
		switch dt {
		case DataTypeInt8:
			return int8(i), nil
		case DataTypeInt16:
			return int16(i), nil
		case DataTypeInt32:
			return int32(i), nil
		}
		return i, nil
	case DataTypeUint8, DataTypeUint16, DataTypeUint32, DataTypeUint64, DataTypeHex8, DataTypeHex16:
		size, _ := dt.Size()
		u, err := toUint(v, size*8)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", dt, err)
		}
		switch size {
		case 1:
			return uint8(u), nil
		case 2:
			return uint16(u), nil
		case 4:
			return uint32(u), nil
		}
		return u, nil
	}
	return nil, fmt.Errorf("unsupported data type %s", dt)
}

// FormatValue renders a normalized value the way the device displays it.
// Hex types are uppercase and zero padded (0x0A, 0x00FF).
func FormatValue(dt DataType, v any) string {
	switch dt {
	case DataTypeHex8:
		return fmt.Sprintf("0x%02X", v)
	case DataTypeHex16:
		return fmt.Sprintf("0x%04X", v)
	case DataTypeFloat32:
		if f, ok := v.(float32); ok {
			return strconv.FormatFloat(float64(f), 'g', -1, 32)
		}
	case DataTypeFloat64:
		if f, ok := v.(float64); ok {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
	}
	return fmt.Sprint(v)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	}
	if i, err := toInt(v, 64); err == nil {
		return float64(i), nil
	}
	if u, err := toUint(v, 64); err == nil {
		return float64(u), nil
	}
	return 0, fmt.Errorf("expected number, got %T", v)
}

func toInt(v any, bits int) (int64, error) {
	var i int64
	switch n := v.(type) {
	case int:
		i = int64(n)
	case int8:
		i = int64(n)
	case int16:
		i = int64(n)
	case int32:
		i = int64(n)
	case int64:
		i = n
	case uint8:
		i = int64(n)
	case uint16:
		i = int64(n)
	case uint32:
		i = int64(n)
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, fmt.Errorf("value %d out of range", n)
		}
		i = int64(n)
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("value %d out of range", n)
		}
		i = int64(n)
	case float64:
		if n != math.Trunc(n) || n < math.MinInt64 || n >= math.MaxInt64 {
			return 0, fmt.Errorf("value %v is not an integer", n)
		}
		i = int64(n)
	case string:
		parsed, err := strconv.ParseInt(n, 0, bits)
		if err != nil {
			return 0, err
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
	if bits < 64 {
		lo, hi := int64(-1)<<(bits-1), int64(1)<<(bits-1)-1
		if i < lo || i > hi {
			return 0, fmt.Errorf("value %d out of range for %d bits", i, bits)
		}
	}
	return i, nil
}

func toUint(v any, bits int) (uint64, error) {
	var u uint64
	switch n := v.(type) {
	case uint:
		u = uint64(n)
	case uint8:
		u = uint64(n)
	case uint16:
		u = uint64(n)
	case uint32:
		u = uint64(n)
	case uint64:
		u = n
	case int, int8, int16, int32, int64:
		i, _ := toInt(n, 64)
		if i < 0 {
			return 0, fmt.Errorf("value %d is negative", i)
		}
		u = uint64(i)
	case float64:
		if n != math.Trunc(n) || n < 0 || n >= math.MaxUint64 {
			return 0, fmt.Errorf("value %v is not an unsigned integer", n)
		}
		u = uint64(n)
	case string:
		parsed, err := strconv.ParseUint(n, 0, bits)
		if err != nil {
			return 0, err
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("expected unsigned integer, got %T", v)
	}
	if bits < 64 && u > uint64(1)<<bits-1 {
		return 0, fmt.Errorf("value %d out of range for %d bits", u, bits)
	}
	return u, nil
}
