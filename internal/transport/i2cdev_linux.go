//go:build linux

package transport

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
	"tinygo.org/x/drivers"
)

// from linux/i2c-dev.h
const i2cSlave = 0x0703

// I2CDev is a Linux /dev/i2c-N bus master implementing drivers.I2C.
type I2CDev struct {
	path string
	fd   int
	addr int
	mu   sync.Mutex
}

var _ drivers.I2C = (*I2CDev)(nil)

func OpenI2CDev(path string) (*I2CDev, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &I2CDev{path: path, fd: fd, addr: -1}, nil
}

func (d *I2CDev) selectSlave(addr uint16) error {
	if d.addr == int(addr) {
		return nil
	}
	if err := unix.IoctlSetInt(d.fd, i2cSlave, int(addr)); err != nil {
		return fmt.Errorf("I2C_SLAVE 0x%02X on %s: %w", addr, d.path, err)
	}
	d.addr = int(addr)
	return nil
}

// Tx writes w, then reads len(r) bytes, as two plain transfers.
func (d *I2CDev) Tx(addr uint16, w, r []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fd < 0 {
		return fmt.Errorf("%s closed", d.path)
	}
	if err := d.selectSlave(addr); err != nil {
		return err
	}
	if len(w) > 0 {
		n, err := unix.Write(d.fd, w)
		if err != nil {
			return err
		}
		if n != len(w) {
			return fmt.Errorf("short write: %d/%d bytes", n, len(w))
		}
	}
	if len(r) > 0 {
		n, err := unix.Read(d.fd, r)
		if err != nil {
			return err
		}
		if n != len(r) {
			return fmt.Errorf("short read: %d/%d bytes", n, len(r))
		}
	}
	return nil
}

func (d *I2CDev) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}
