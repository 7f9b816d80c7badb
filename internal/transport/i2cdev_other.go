//go:build !linux

package transport

import (
	"errors"

	"tinygo.org/x/drivers"
)

type I2CDev struct{}

var _ drivers.I2C = (*I2CDev)(nil)

func OpenI2CDev(path string) (*I2CDev, error) {
	return nil, errors.New("i2c-dev is only available on linux")
}

func (d *I2CDev) Tx(addr uint16, w, r []byte) error {
	return errors.New("i2c-dev is only available on linux")
}

func (d *I2CDev) Close() error { return nil }
