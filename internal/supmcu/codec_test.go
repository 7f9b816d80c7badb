package supmcu

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/KevinKickass/OpenSupMCU/internal/types"
)

func TestRoundTripFixedWidth(t *testing.T) {
	tests := []struct {
		dt     types.DataType
		values []any
	}{
		{types.DataTypeChar, []any{"A", "\x00", "\x7f"}},
		{types.DataTypeUint8, []any{uint8(0), uint8(42), uint8(math.MaxUint8)}},
		{types.DataTypeInt8, []any{int8(math.MinInt8), int8(-1), int8(math.MaxInt8)}},
		{types.DataTypeUint16, []any{uint16(0), uint16(0x1234), uint16(math.MaxUint16)}},
		{types.DataTypeInt16, []any{int16(math.MinInt16), int16(-230), int16(math.MaxInt16)}},
		{types.DataTypeUint32, []any{uint32(0), uint32(1700000000), uint32(math.MaxUint32)}},
		{types.DataTypeInt32, []any{int32(math.MinInt32), int32(-7), int32(math.MaxInt32)}},
		{types.DataTypeUint64, []any{uint64(0), uint64(86400), uint64(math.MaxUint64)}},
		{types.DataTypeInt64, []any{int64(math.MinInt64), int64(-1), int64(math.MaxInt64)}},
		{types.DataTypeFloat32, []any{float32(0), float32(-21.75), float32(math.MaxFloat32), float32(math.SmallestNonzeroFloat32)}},
		{types.DataTypeFloat64, []any{float64(0), -1e-300, math.MaxFloat64, math.Inf(1)}},
		{types.DataTypeHex8, []any{uint8(0), uint8(0x0A), uint8(0xFF)}},
		{types.DataTypeHex16, []any{uint16(0), uint16(0x00FF), uint16(0xFFFF)}},
	}

	for _, tt := range tests {
		t.Run(tt.dt.String(), func(t *testing.T) {
			size, _ := tt.dt.Size()
			for _, v := range tt.values {
				b, err := EncodeValue(tt.dt, v)
				if err != nil {
					t.Fatalf("EncodeValue(%v): %v", v, err)
				}
				if len(b) != size {
					t.Fatalf("EncodeValue(%v) = %d bytes, want %d", v, len(b), size)
				}
				item, n, err := DecodeItem(tt.dt, b)
				if err != nil {
					t.Fatalf("DecodeItem: %v", err)
				}
				if n != size {
					t.Errorf("consumed %d bytes, want %d", n, size)
				}
				if item.Value != v {
					t.Errorf("round trip %v (%T) -> %v (%T)", v, v, item.Value, item.Value)
				}
			}
		})
	}
}

func TestDecodeStringClampsHighBit(t *testing.T) {
	item, n, err := DecodeItem(types.DataTypeString, []byte{'O', 'K', 0xFF, 0x80, 0x00, 'x'})
	if err != nil {
		t.Fatalf("DecodeItem: %v", err)
	}
	if n != 5 {
		t.Errorf("consumed %d bytes, want 5", n)
	}
	if got := item.Value.(string); got != "OK\x7f\x7f" {
		t.Errorf("got %q, want %q", got, "OK\x7f\x7f")
	}
}

func TestDecodeStringWithoutTerminator(t *testing.T) {
	_, _, err := DecodeItem(types.DataTypeString, []byte("no terminator"))
	if !errors.Is(err, ErrFraming) {
		t.Fatalf("err = %v, want ErrFraming", err)
	}
}

func TestDecodeShortBuffer(t *testing.T) {
	_, _, err := DecodeItem(types.DataTypeUint32, []byte{1, 2, 3})
	var fe *FramingError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *FramingError", err)
	}
}

func TestHexRendering(t *testing.T) {
	tests := []struct {
		dt   types.DataType
		raw  []byte
		want string
	}{
		{types.DataTypeHex8, []byte{0x0A}, "0x0A"},
		{types.DataTypeHex8, []byte{0xFF}, "0xFF"},
		{types.DataTypeHex8, []byte{0x00}, "0x00"},
		{types.DataTypeHex16, []byte{0xFF, 0x00}, "0x00FF"},
		{types.DataTypeHex16, []byte{0xCD, 0xAB}, "0xABCD"},
		{types.DataTypeUint16, []byte{0x0A, 0x00}, "10"},
		{types.DataTypeInt8, []byte{0xFE}, "-2"},
	}
	for _, tt := range tests {
		item, _, err := DecodeItem(tt.dt, tt.raw)
		if err != nil {
			t.Fatalf("DecodeItem(%s, % X): %v", tt.dt, tt.raw, err)
		}
		if item.StringValue != tt.want {
			t.Errorf("%s % X: got %q, want %q", tt.dt, tt.raw, item.StringValue, tt.want)
		}
	}
}

func TestEncodeStringTerminates(t *testing.T) {
	b, err := EncodeValue(types.DataTypeString, "BM2")
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "BM2\x00" {
		t.Errorf("got %q", b)
	}
}

func TestEncodeRejectsOutOfRange(t *testing.T) {
	if _, err := EncodeValue(types.DataTypeUint8, 256); err == nil {
		t.Error("uint8 256: expected error")
	}
	if _, err := EncodeValue(types.DataTypeInt16, "-40000"); err == nil {
		t.Error("int16 -40000: expected error")
	}
}

func TestNonFiniteFloatsMarshalJSON(t *testing.T) {
	var payload []byte
	for _, v := range []struct {
		dt types.DataType
		v  any
	}{
		{types.DataTypeFloat32, float32(math.NaN())},
		{types.DataTypeFloat64, math.Inf(1)},
		{types.DataTypeFloat32, float32(math.Inf(-1))},
		{types.DataTypeFloat32, float32(1.5)},
	} {
		b, err := EncodeValue(v.dt, v.v)
		if err != nil {
			t.Fatal(err)
		}
		payload = append(payload, b...)
	}

	tel, err := ParseTelemetry(BuildResponse(types.TelemetryHeader{Ready: true}, payload), "f,F,f,f")
	if err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(tel)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded struct {
		Items []struct {
			DataType types.DataType `json:"data_type"`
			Value    any            `json:"value"`
		} `json:"items"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	want := []any{"NaN", "+Inf", "-Inf", 1.5}
	for i, item := range decoded.Items {
		if item.Value != want[i] {
			t.Errorf("item %d value = %#v, want %#v", i, item.Value, want[i])
		}
	}

	// the string form normalizes back to the float
	v, err := types.NormalizeValue(types.DataTypeFloat32, decoded.Items[0].Value)
	if err != nil {
		t.Fatal(err)
	}
	if f, ok := v.(float32); !ok || !math.IsNaN(float64(f)) {
		t.Errorf("normalized = %#v, want float32 NaN", v)
	}
}
