package supmcu

import (
	"bytes"
	"errors"
	"testing"

	"github.com/KevinKickass/OpenSupMCU/internal/types"
)

func response(payload ...byte) []byte {
	return BuildResponse(types.TelemetryHeader{Ready: true, Timestamp: 0x01020304}, payload)
}

func TestParseHeaderTooShort(t *testing.T) {
	for n := 0; n < HeaderSize; n++ {
		_, _, err := ParseHeader(make([]byte, n))
		var fe *FramingError
		if !errors.As(err, &fe) {
			t.Errorf("%d bytes: err = %v, want *FramingError", n, err)
		}
	}
}

func TestParseHeaderExact(t *testing.T) {
	h, rest, err := ParseHeader([]byte{1, 0x04, 0x03, 0x02, 0x01})
	if err != nil {
		t.Fatal(err)
	}
	if !h.Ready || h.Timestamp != 0x01020304 {
		t.Errorf("header = %+v", h)
	}
	if len(rest) != 0 {
		t.Errorf("remainder = % X, want empty", rest)
	}
}

func TestParseTelemetryTwoUint16(t *testing.T) {
	tel, err := ParseTelemetry(response(0x05, 0x00, 0x0A, 0x00), "s,s")
	if err != nil {
		t.Fatal(err)
	}
	if len(tel.Items) != 2 {
		t.Fatalf("got %d items, want 2", len(tel.Items))
	}
	want := []struct {
		value uint16
		str   string
	}{{5, "5"}, {10, "10"}}
	for i, w := range want {
		item := tel.Items[i]
		if item.Value != w.value || item.StringValue != w.str {
			t.Errorf("item %d = %v/%q, want %d/%q", i, item.Value, item.StringValue, w.value, w.str)
		}
	}
	if len(tel.Unknown) != 0 {
		t.Errorf("unknown = %q, want none", tel.Unknown)
	}
	if tel.Header.Timestamp != 0x01020304 {
		t.Errorf("timestamp = %#x", tel.Header.Timestamp)
	}
}

func TestParseTelemetryLengthMismatch(t *testing.T) {
	_, err := ParseTelemetry(response(0x05, 0x00, 0x0A), "s,s")
	var lm *LengthMismatchError
	if !errors.As(err, &lm) {
		t.Fatalf("err = %v, want *LengthMismatchError", err)
	}
	if lm.Expected != 4 || lm.Actual != 3 {
		t.Errorf("expected/actual = %d/%d, want 4/3", lm.Expected, lm.Actual)
	}
	if !errors.Is(err, ErrLengthMismatch) {
		t.Error("errors.Is(ErrLengthMismatch) = false")
	}
}

func TestParseTelemetryLengthHolds(t *testing.T) {
	formats := []string{"u", "s,s", "f,f,f,f", "k", "c,x,z", "t n d i l F"}
	for _, format := range formats {
		n, err := FormatToLength(format)
		if err != nil {
			t.Fatalf("FormatToLength(%q): %v", format, err)
		}
		raw := response(make([]byte, n)...)
		if _, err := ParseTelemetry(raw, format); err != nil {
			t.Errorf("ParseTelemetry(%q): %v", format, err)
		}
		if n+HeaderSize+FooterSize != len(raw) {
			t.Errorf("%q: %d+13 != %d", format, n, len(raw))
		}
	}
}

func TestFormatToLength(t *testing.T) {
	tests := []struct {
		format string
		want   int
	}{
		{"", 0},
		{"s", 2},
		{"s,s", 4},
		{"u,t,c,x", 4},
		{"n z", 4},
		{"i,d,f", 12},
		{"l,k,F", 24},
	}
	for _, tt := range tests {
		got, err := FormatToLength(tt.format)
		if err != nil {
			t.Fatalf("FormatToLength(%q): %v", tt.format, err)
		}
		if got != tt.want {
			t.Errorf("FormatToLength(%q) = %d, want %d", tt.format, got, tt.want)
		}
	}

	if _, err := FormatToLength("s,S"); !errors.Is(err, ErrDynamicLength) {
		t.Errorf("string format: err = %v, want ErrDynamicLength", err)
	}
}

func TestParseTelemetryWithString(t *testing.T) {
	payload := append([]byte("BM2-RevC\x00"), 0x2A, 0x00)
	tel, err := ParseTelemetry(response(payload...), "S,s")
	if err != nil {
		t.Fatal(err)
	}
	if tel.Items[0].Value != "BM2-RevC" || tel.Items[1].Value != uint16(42) {
		t.Errorf("items = %+v", tel.Items)
	}
}

func TestParseTelemetryRecordsUnknownCharacters(t *testing.T) {
	tel, err := ParseTelemetry(response(0x01, 0x02), "u;u")
	if err != nil {
		t.Fatal(err)
	}
	if len(tel.Items) != 2 {
		t.Errorf("got %d items, want 2", len(tel.Items))
	}
	if !bytes.Equal(tel.Unknown, []byte{';'}) {
		t.Errorf("unknown = %q, want \";\"", tel.Unknown)
	}
}

func TestParseTelemetryMissingFooter(t *testing.T) {
	// String formats have no static size, a short buffer is a framing error
	_, err := ParseTelemetry([]byte{1, 0, 0, 0, 0, 'A', 0}, "S")
	if !errors.Is(err, ErrFraming) {
		t.Fatalf("err = %v, want ErrFraming", err)
	}
}

func TestParseTelemetryShortFixedWidthIsLengthMismatch(t *testing.T) {
	tests := []struct {
		name   string
		raw    []byte
		format string
		actual int
	}{
		{"no footer", []byte{1, 0, 0, 0, 0, 5, 0, 10, 0}, "s,s", -4},
		{"header only", []byte{1, 0, 0, 0, 0}, "u", -8},
		{"partial footer", []byte{1, 0, 0, 0, 0, 0x05, 0, 0}, "u", -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTelemetry(tt.raw, tt.format)
			var lm *LengthMismatchError
			if !errors.As(err, &lm) {
				t.Fatalf("err = %v, want LengthMismatchError", err)
			}
			expected, _ := FormatToLength(tt.format)
			if lm.Expected != expected || lm.Actual != tt.actual {
				t.Errorf("expected/actual = %d/%d, want %d/%d", lm.Expected, lm.Actual, expected, tt.actual)
			}
			if errors.Is(err, ErrFraming) {
				t.Error("length mismatch must not be reported as framing error")
			}
		})
	}
}

func TestParseDefinitionChecksDeclaredLength(t *testing.T) {
	def, err := types.NewTelemetryDefinition("Voltage", 15, 0, "s", false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseDefinition(response(0x10, 0x00), def); err != nil {
		t.Errorf("valid response: %v", err)
	}
	_, err = ParseDefinition(response(0x10, 0x00, 0x00), def)
	var lm *LengthMismatchError
	if !errors.As(err, &lm) || lm.Expected != 2 || lm.Actual != 3 {
		t.Errorf("err = %v, want length mismatch 2/3", err)
	}
}

func TestParseCommand(t *testing.T) {
	payload := make([]byte, CommandNameLength)
	copy(payload, "SUP:LED")
	resp, err := ParseCommand(response(payload...))
	if err != nil {
		t.Fatal(err)
	}
	if resp.CommandName != "SUP:LED" {
		t.Errorf("name = %q", resp.CommandName)
	}
}

func TestFormatValues(t *testing.T) {
	a, _ := types.NewDataItem(types.DataTypeUint16, 5)
	b, _ := types.NewDataItem(types.DataTypeHex8, 10)
	c, _ := types.NewDataItem(types.DataTypeFloat32, 1.5)
	if got := FormatValues([]types.TelemetryDataItem{a, b, c}); got != "5,0x0A,1.5" {
		t.Errorf("got %q", got)
	}
}
