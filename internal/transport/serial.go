package transport

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

const (
	DefaultBaudRate    = 115200
	DefaultReadTimeout = time.Second
)

// Serial is a point-to-point SupMCU link (USB or UART debug port). One
// module sits on the line; the address is only used for logging.
type Serial struct {
	path        string
	port        serial.Port
	readTimeout time.Duration
	mu          sync.Mutex
	logger      *zap.Logger
}

// OpenSerial opens the port 8N1 at the given baud rate.
func OpenSerial(path string, baudRate int, readTimeout time.Duration, logger *zap.Logger) (*Serial, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	// Kurzer Timeout, readExact schleift bis zur Deadline
	if err := port.SetReadTimeout(50 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", path, err)
	}

	logger.Info("Serial port opened",
		zap.String("device", path),
		zap.Int("baud_rate", baudRate))

	return &Serial{
		path:        path,
		port:        port,
		readTimeout: readTimeout,
		logger:      logger,
	}, nil
}

func (s *Serial) Write(addr uint16, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return fmt.Errorf("serial port %s closed", s.path)
	}
	// Reste alter Antworten verwerfen
	if err := s.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("reset input buffer: %w", err)
	}
	if _, err := s.port.Write(data); err != nil {
		return err
	}
	return nil
}

func (s *Serial) Read(addr uint16, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil, fmt.Errorf("serial port %s closed", s.path)
	}
	buf := make([]byte, n)
	if err := s.readExact(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// readExact reads exactly len(buf) bytes within the read timeout.
func (s *Serial) readExact(buf []byte) error {
	deadline := time.Now().Add(s.readTimeout)
	got := 0
	for got < len(buf) && time.Now().Before(deadline) {
		n, err := s.port.Read(buf[got:])
		if err != nil && n == 0 {
			return fmt.Errorf("read error after %d/%d bytes: %w", got, len(buf), err)
		}
		got += n
	}
	if got < len(buf) {
		s.logger.Debug("Incomplete serial read",
			zap.String("device", s.path),
			zap.Int("got", got),
			zap.Int("want", len(buf)))
		return fmt.Errorf("incomplete: got %d bytes, want %d", got, len(buf))
	}
	return nil
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
