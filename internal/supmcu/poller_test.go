package supmcu_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSupMCU/internal/supmcu"
	"github.com/KevinKickass/OpenSupMCU/internal/types"
	"go.uber.org/zap/zaptest"
)

type collectingSink struct {
	mu      sync.Mutex
	samples []supmcu.Sample
}

func (c *collectingSink) HandleSample(s supmcu.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, s)
}

func (c *collectingSink) Samples() []supmcu.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]supmcu.Sample(nil), c.samples...)
}

func TestPollOnceSkipsNotReady(t *testing.T) {
	m, _, d := newDiscoveredDispatcher(t)
	m.SetNotReady("TST:TEL? 1", true)

	sink := &collectingSink{}
	p := supmcu.NewPoller(d, "TST", time.Second, zaptest.NewLogger(t), sink)
	p.PollOnce(context.Background())

	samples := sink.Samples()
	if len(samples) != 5 {
		t.Fatalf("got %d samples, want 5", len(samples))
	}
	for _, s := range samples {
		if s.Module != "TST" || s.Bus != "test" || s.Address != testAddr {
			t.Errorf("sample identity = %+v", s)
		}
		if s.Index == 1 {
			if s.Err == "" || s.Telemetry != nil {
				t.Errorf("not ready sample = %+v", s)
			}
			continue
		}
		if s.Err != "" || s.Telemetry == nil {
			t.Errorf("sample %d failed: %s", s.Index, s.Err)
		}
	}

	if _, ok := p.LastSample(types.TelemetryModule, 1); ok {
		t.Error("not ready item should have no last value")
	}
	last, ok := p.LastSample(types.TelemetryModule, 0)
	if !ok || last.Telemetry.Items[0].Value != uint16(3300) {
		t.Errorf("last sample = %+v", last)
	}
}

func TestPollerStartStop(t *testing.T) {
	_, _, d := newDiscoveredDispatcher(t)

	sink := &collectingSink{}
	p := supmcu.NewPoller(d, "TST", 20*time.Millisecond, zaptest.NewLogger(t), sink)
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	if !p.IsRunning() {
		t.Fatal("poller not running")
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(sink.Samples()) < 5 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	p.Stop()

	if p.IsRunning() {
		t.Error("poller still running after Stop")
	}
	if len(sink.Samples()) < 5 {
		t.Errorf("got %d samples before deadline", len(sink.Samples()))
	}

	// restart after stop
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	p.Stop()
}

func TestPollerConcurrentStop(t *testing.T) {
	_, _, d := newDiscoveredDispatcher(t)
	p := supmcu.NewPoller(d, "TST", 5*time.Millisecond, zaptest.NewLogger(t))

	for round := 0; round < 3; round++ {
		if err := p.Start(); err != nil {
			t.Fatal(err)
		}
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.Stop()
			}()
		}
		wg.Wait()
		if p.IsRunning() {
			t.Fatalf("round %d: poller still running", round)
		}
	}
	// Stop on a stopped poller is a no-op
	p.Stop()
}

func TestPollerUnknownModule(t *testing.T) {
	_, _, d := newDiscoveredDispatcher(t)
	p := supmcu.NewPoller(d, "NOPE", time.Second, zaptest.NewLogger(t))
	if err := p.Start(); err == nil {
		t.Error("Start should fail for an unknown module")
	}
}
