package transport

import (
	"fmt"
	"io"

	"tinygo.org/x/drivers"
)

// I2C adapts a tinygo drivers.I2C bus master. Write and Read are separate
// transactions because the module needs the settle delay in between.
type I2C struct {
	bus drivers.I2C
}

func NewI2C(bus drivers.I2C) *I2C {
	return &I2C{bus: bus}
}

func (t *I2C) Write(addr uint16, data []byte) error {
	if err := t.bus.Tx(addr, data, nil); err != nil {
		return fmt.Errorf("i2c write 0x%02X: %w", addr, err)
	}
	return nil
}

func (t *I2C) Read(addr uint16, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := t.bus.Tx(addr, nil, buf); err != nil {
		return nil, fmt.Errorf("i2c read 0x%02X: %w", addr, err)
	}
	return buf, nil
}

// Close closes the underlying bus if it holds an OS handle.
func (t *I2C) Close() error {
	if c, ok := t.bus.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
