package sim

import (
	"fmt"
	"sync"
)

// Write is one recorded transport write.
type Write struct {
	Addr    uint16
	Command string
}

// Bus is a BusTransport with simulated modules attached by address.
// Every write and read is recorded.
type Bus struct {
	mu      sync.Mutex
	modules map[uint16]*Module
	pending map[uint16][]byte
	writes  []Write
	reads   int
}

func NewBus() *Bus {
	return &Bus{
		modules: make(map[uint16]*Module),
		pending: make(map[uint16][]byte),
	}
}

func (b *Bus) Attach(addr uint16, m *Module) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.modules[addr] = m
}

func (b *Bus) Write(addr uint16, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.writes = append(b.writes, Write{Addr: addr, Command: string(data)})

	m, ok := b.modules[addr]
	if !ok {
		return fmt.Errorf("%w 0x%02X", ErrNoDevice, addr)
	}
	reply, err := m.handle(string(data))
	if err != nil {
		return err
	}
	if reply != nil {
		b.pending[addr] = reply
	}
	return nil
}

// Read returns the pending reply padded with zeros or cut to n bytes.
func (b *Bus) Read(addr uint16, n int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.reads++

	if _, ok := b.modules[addr]; !ok {
		return nil, fmt.Errorf("%w 0x%02X", ErrNoDevice, addr)
	}
	reply, ok := b.pending[addr]
	if !ok {
		return nil, ErrNoPendingReply
	}
	delete(b.pending, addr)

	out := make([]byte, n)
	copy(out, reply)
	return out, nil
}

// Writes returns all recorded writes in order.
func (b *Bus) Writes() []Write {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Write(nil), b.writes...)
}

func (b *Bus) Reads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads
}

// Calls is the number of writes plus reads seen so far.
func (b *Bus) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.writes) + b.reads
}

func (b *Bus) ResetRecording() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = nil
	b.reads = 0
}

func (b *Bus) Close() error { return nil }
