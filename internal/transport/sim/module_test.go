package sim

import (
	"errors"
	"testing"

	"github.com/KevinKickass/OpenSupMCU/internal/supmcu"
	"github.com/KevinKickass/OpenSupMCU/internal/types"
)

func query(t *testing.T, b *Bus, addr uint16, command string, n int, format string) *types.Telemetry {
	t.Helper()
	if err := b.Write(addr, []byte(command+"\n")); err != nil {
		t.Fatalf("Write(%q): %v", command, err)
	}
	raw, err := b.Read(addr, n)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	tel, err := supmcu.ParseTelemetry(raw, format)
	if err != nil {
		t.Fatalf("ParseTelemetry(%q): %v", command, err)
	}
	return tel
}

func TestDemoModuleAnswers(t *testing.T) {
	b := NewBus()
	b.Attach(0x2A, NewDemoModule())

	counts := query(t, b, 0x2A, "SUP:TEL? 14", 17, "s,s")
	if counts.Items[0].Value != uint16(5) || counts.Items[1].Value != uint16(6) {
		t.Errorf("counts = %+v", counts.Items)
	}

	format := query(t, b, 0x2A, "BM2:TEL? 2,FORMAT", 141, "S")
	if format.Items[0].Value != "f,f,f,f" {
		t.Errorf("format = %v", format.Items[0].Value)
	}
	length := query(t, b, 0x2A, "BM2:TEL? 2,LENGTH", 15, "s")
	if length.Items[0].Value != uint16(16) {
		t.Errorf("length = %v", length.Items[0].Value)
	}
	status := query(t, b, 0x2A, "BM2:TEL? 3", 15, "z")
	if status.Items[0].StringValue != "0x0102" {
		t.Errorf("status = %v", status.Items[0].StringValue)
	}
}

func TestModuleSetValues(t *testing.T) {
	m := NewDemoModule()
	b := NewBus()
	b.Attach(0x2A, m)

	if err := b.Write(0x2A, []byte("BM2:TEL 4,1\n")); err != nil {
		t.Fatal(err)
	}
	if v := m.Values(types.TelemetryModule, 4); v[0] != uint8(1) {
		t.Errorf("heater = %v", v)
	}
	if _, err := b.Read(0x2A, 15); !errors.Is(err, ErrNoPendingReply) {
		t.Errorf("read after write-only command: err = %v", err)
	}
}

func TestModuleNotReadyHeader(t *testing.T) {
	m := NewDemoModule()
	m.SetNotReady("BM2:TEL? 0", true)
	b := NewBus()
	b.Attach(0x2A, m)

	_ = b.Write(0x2A, []byte("BM2:TEL? 0\n"))
	raw, _ := b.Read(0x2A, 15)
	h, _, err := supmcu.ParseHeader(raw)
	if err != nil || h.Ready {
		t.Errorf("header = %+v, err = %v", h, err)
	}
}

func TestBusUnknownAddress(t *testing.T) {
	b := NewBus()
	if err := b.Write(0x10, []byte("SUP:TEL? 0\n")); !errors.Is(err, ErrNoDevice) {
		t.Errorf("err = %v", err)
	}
	if len(b.Writes()) != 1 || b.Calls() != 1 {
		t.Errorf("recorded %d writes", len(b.Writes()))
	}
}
