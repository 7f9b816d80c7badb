package supmcu

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSupMCU/internal/metrics"
	"go.uber.org/zap"
)

// DefaultResponseDelay is the settle time a SupMCU needs between receiving
// a query and having the reply ready.
const DefaultResponseDelay = 100 * time.Millisecond

// RequestState tracks one request cycle on the bus.
type RequestState int

const (
	StateIdle RequestState = iota
	StateSent
	StateWaiting
	StateReadBack
	StateParsed
	StateFailed
)

func (s RequestState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSent:
		return "SENT"
	case StateWaiting:
		return "WAITING"
	case StateReadBack:
		return "READBACK"
	case StateParsed:
		return "PARSED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Bus serializes request cycles on one transport. The lock is held across
// write, settle delay and read so that replies never interleave.
type Bus struct {
	name      string
	transport BusTransport
	mu        sync.Mutex
	delay     time.Duration
	logger    *zap.Logger
}

func NewBus(name string, transport BusTransport, responseDelay time.Duration, logger *zap.Logger) *Bus {
	if responseDelay <= 0 {
		responseDelay = DefaultResponseDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		name:      name,
		transport: transport,
		delay:     responseDelay,
		logger:    logger,
	}
}

func (b *Bus) Name() string { return b.name }

func (b *Bus) ResponseDelay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.delay
}

// SetResponseDelay changes the settle time, e.g. after a NotReadyError.
func (b *Bus) SetResponseDelay(d time.Duration) {
	if d <= 0 {
		return
	}
	b.mu.Lock()
	b.delay = d
	b.mu.Unlock()
}

func terminate(command string) string {
	if strings.HasSuffix(command, "\n") {
		return command
	}
	return command + "\n"
}

// Send writes a command without reading a reply.
func (b *Bus) Send(ctx context.Context, addr uint16, command string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	command = terminate(command)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.transport.Write(addr, []byte(command)); err != nil {
		return fmt.Errorf("write %q to 0x%02X: %w", strings.TrimSpace(command), addr, err)
	}
	metrics.Sends.WithLabelValues(b.name).Inc()
	return nil
}

// Query runs one full cycle: write the command, wait the response delay,
// read exactly length bytes and hand them to parse. A reply whose header
// is not ready fails with NotReadyError; it is never retried here.
func (b *Bus) Query(ctx context.Context, addr uint16, command string, length int, parse func(raw []byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	command = terminate(command)
	display := strings.TrimSpace(command)

	b.mu.Lock()
	defer b.mu.Unlock()

	start := time.Now()
	state := StateIdle
	outcome := "ok"
	defer func() {
		metrics.Requests.WithLabelValues(b.name, outcome).Inc()
		metrics.RequestDuration.WithLabelValues(b.name).Observe(time.Since(start).Seconds())
		b.logger.Debug("Request finished",
			zap.String("bus", b.name),
			zap.Uint16("address", addr),
			zap.String("command", display),
			zap.Stringer("state", state),
			zap.String("outcome", outcome))
	}()

	// Request senden
	if err := b.transport.Write(addr, []byte(command)); err != nil {
		state, outcome = StateFailed, "transport"
		return fmt.Errorf("write %q to 0x%02X: %w", display, addr, err)
	}
	state = StateSent
	b.logger.Debug("Request sent",
		zap.String("bus", b.name),
		zap.Uint16("address", addr),
		zap.String("command", display),
		zap.Stringer("state", state))

	// Modul braucht Zeit, bis die Antwort bereitliegt
	state = StateWaiting
	timer := time.NewTimer(b.delay)
	select {
	case <-ctx.Done():
		timer.Stop()
		state, outcome = StateFailed, "cancelled"
		return ctx.Err()
	case <-timer.C:
	}

	// Response lesen
	raw, err := b.transport.Read(addr, length)
	if err != nil {
		state, outcome = StateFailed, "transport"
		return fmt.Errorf("read %d bytes from 0x%02X after %q: %w", length, addr, display, err)
	}
	state = StateReadBack

	header, _, err := ParseHeader(raw)
	if err != nil {
		state, outcome = StateFailed, "framing"
		return err
	}
	if !header.Ready {
		state, outcome = StateFailed, "not_ready"
		return &NotReadyError{Command: display}
	}

	if parse != nil {
		if err := parse(raw); err != nil {
			state, outcome = StateFailed, outcomeOf(err)
			return err
		}
	}
	state = StateParsed
	return nil
}

// outcomeOf maps a parse error onto the metrics outcome label.
func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrLengthMismatch):
		return "length"
	case errors.Is(err, ErrFraming):
		return "framing"
	default:
		return "parse"
	}
}
