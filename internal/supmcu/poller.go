package supmcu

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSupMCU/internal/metrics"
	"github.com/KevinKickass/OpenSupMCU/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sample is one polled telemetry value. Err is set instead of Telemetry
// when the poll failed.
type Sample struct {
	ID        uuid.UUID           `json:"id"`
	Bus       string              `json:"bus"`
	Module    string              `json:"module"`
	Address   uint16              `json:"address"`
	Type      types.TelemetryType `json:"type"`
	Index     int                 `json:"index"`
	Name      string              `json:"name"`
	Telemetry *types.Telemetry    `json:"telemetry,omitempty"`
	Err       string              `json:"error,omitempty"`
	Time      time.Time           `json:"time"`
}

// SampleSink receives every sample a poller produces. Implementations must
// not block for long; they run on the poll goroutine.
type SampleSink interface {
	HandleSample(s Sample)
}

type pollKey struct {
	t     types.TelemetryType
	index int
}

// Poller reads the module telemetry of one module on a fixed interval.
// Items that are not ready are skipped until the next tick.
type Poller struct {
	dispatcher *Dispatcher
	module     string
	interval   time.Duration
	logger     *zap.Logger
	sinks      []SampleSink
	stopChan   chan struct{}
	done       chan struct{} // closed when the current poll loop exits
	running    bool
	mu         sync.Mutex
	lastValues map[pollKey]Sample
}

func NewPoller(dispatcher *Dispatcher, module string, interval time.Duration, logger *zap.Logger, sinks ...SampleSink) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		dispatcher: dispatcher,
		module:     module,
		interval:   interval,
		logger:     logger,
		sinks:      sinks,
		lastValues: make(map[pollKey]Sample),
	}
}

func (p *Poller) Module() string { return p.module }

// Start startet das zyklische Polling
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	if p.interval <= 0 {
		return fmt.Errorf("invalid poll interval %s", p.interval)
	}
	if _, err := p.dispatcher.Resolve(p.module); err != nil {
		return err
	}

	p.running = true
	p.stopChan = make(chan struct{})
	p.done = make(chan struct{})

	go p.pollLoop(p.stopChan, p.done)

	p.logger.Info("Poller started",
		zap.String("module", p.module),
		zap.Duration("interval", p.interval))

	return nil
}

// Stop stoppt das Polling und wartet, bis der Loop beendet ist.
// Safe to call concurrently; only the first call closes the stop channel.
func (p *Poller) Stop() {
	p.mu.Lock()
	done := p.done
	if !p.running {
		p.mu.Unlock()
		if done != nil {
			<-done
		}
		return
	}
	p.running = false
	close(p.stopChan)
	p.stopChan = nil
	p.mu.Unlock()

	<-done

	p.logger.Info("Poller stopped", zap.String("module", p.module))
}

func (p *Poller) pollLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce reads every module telemetry item once and fans the samples
// out to the sinks.
func (p *Poller) PollOnce(ctx context.Context) {
	def, err := p.dispatcher.Resolve(p.module)
	if err != nil {
		p.logger.Error("Poll failed", zap.String("module", p.module), zap.Error(err))
		return
	}

	// Alle Module-Telemetrien pollen
	for _, idx := range def.SortedIndices(types.TelemetryModule) {
		if ctx.Err() != nil {
			return
		}
		item := def.ModuleTelemetry[idx]
		sample := Sample{
			ID:      uuid.New(),
			Bus:     p.dispatcher.Bus().Name(),
			Module:  def.CmdName,
			Address: def.Address,
			Type:    types.TelemetryModule,
			Index:   idx,
			Name:    item.Name,
		}

		tel, err := p.dispatcher.RequestTelemetry(ctx, def.CmdName, types.TelemetryModule, idx)
		sample.Time = time.Now()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			reason := pollReason(err)
			metrics.PollErrors.WithLabelValues(def.CmdName, reason).Inc()
			if reason == "not_ready" {
				p.logger.Debug("Telemetry not ready, skipped",
					zap.String("module", def.CmdName),
					zap.String("telemetry", item.Name))
			} else {
				p.logger.Error("Poll failed",
					zap.String("module", def.CmdName),
					zap.String("telemetry", item.Name),
					zap.Error(err))
			}
			sample.Err = err.Error()
			p.publish(sample)
			continue
		}

		sample.Telemetry = tel
		p.mu.Lock()
		p.lastValues[pollKey{types.TelemetryModule, idx}] = sample
		p.mu.Unlock()
		p.publish(sample)
	}
}

func (p *Poller) publish(s Sample) {
	for _, sink := range p.sinks {
		sink.HandleSample(s)
	}
}

func pollReason(err error) string {
	switch {
	case errors.Is(err, ErrNotReady):
		return "not_ready"
	case errors.Is(err, ErrLengthMismatch):
		return "length"
	case errors.Is(err, ErrFraming):
		return "framing"
	default:
		return "transport"
	}
}

// LastSample returns the most recent successful sample of an item.
func (p *Poller) LastSample(t types.TelemetryType, index int) (Sample, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.lastValues[pollKey{t, index}]
	return s, ok
}

// IsRunning gibt an ob Poller läuft
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
