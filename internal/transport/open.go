package transport

import (
	"fmt"
	"io"
	"time"

	"github.com/KevinKickass/OpenSupMCU/internal/supmcu"
	"github.com/KevinKickass/OpenSupMCU/internal/transport/sim"
	"go.uber.org/zap"
)

// Kinds of bus transports.
const (
	KindSerial = "serial"
	KindI2C    = "i2c"
	KindSim    = "sim"
)

// Transport is a BusTransport that owns an OS resource.
type Transport interface {
	supmcu.BusTransport
	io.Closer
}

type Config struct {
	Kind        string
	Device      string
	BaudRate    int
	ReadTimeout time.Duration
}

// Open builds the transport for cfg.Kind. A sim transport starts empty;
// modules are attached by the caller.
func Open(cfg Config, logger *zap.Logger) (Transport, error) {
	switch cfg.Kind {
	case KindSerial:
		s, err := OpenSerial(cfg.Device, cfg.BaudRate, cfg.ReadTimeout, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindI2C:
		dev, err := OpenI2CDev(cfg.Device)
		if err != nil {
			return nil, err
		}
		return NewI2C(dev), nil
	case KindSim:
		return sim.NewBus(), nil
	}
	return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
}
