package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSupMCU/internal/supmcu"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// InsertSamples writes a batch of poll samples in one round trip.
func (p *PostgresClient) InsertSamples(ctx context.Context, samples []supmcu.Sample) error {
	batch := &pgx.Batch{}
	for _, s := range samples {
		var (
			telemetryJSON []byte
			ready         bool
			timestamp     int64
			errText       *string
		)
		if s.Telemetry != nil {
			var err error
			if telemetryJSON, err = json.Marshal(s.Telemetry); err != nil {
				return fmt.Errorf("failed to marshal telemetry: %w", err)
			}
			ready = s.Telemetry.Header.Ready
			timestamp = int64(s.Telemetry.Header.Timestamp)
		}
		if s.Err != "" {
			e := s.Err
			errText = &e
		}
		batch.Queue(`
			INSERT INTO telemetry_samples
				(id, bus, module, address, telemetry_type, idx, name, ready, device_timestamp, telemetry, error, sampled_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, s.ID, s.Bus, s.Module, int(s.Address), string(s.Type), s.Index, s.Name, ready, timestamp, telemetryJSON, errText, s.Time)
	}

	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert samples: %w", err)
	}
	return nil
}

type sampleInserter interface {
	InsertSamples(ctx context.Context, samples []supmcu.Sample) error
}

// SampleWriter is a supmcu.SampleSink that persists samples in batches
// off the poll goroutine. Samples are dropped when the queue is full.
type SampleWriter struct {
	db        sampleInserter
	logger    *zap.Logger
	queue     chan supmcu.Sample
	batchSize int
	interval  time.Duration
	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.Mutex
	dropped   int
}

func NewSampleWriter(db sampleInserter, batchSize int, interval time.Duration, logger *zap.Logger) *SampleWriter {
	if batchSize <= 0 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = time.Second
	}
	w := &SampleWriter{
		db:        db,
		logger:    logger,
		queue:     make(chan supmcu.Sample, batchSize*10),
		batchSize: batchSize,
		interval:  interval,
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *SampleWriter) HandleSample(s supmcu.Sample) {
	select {
	case w.queue <- s:
	default:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
	}
}

func (w *SampleWriter) Dropped() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

func (w *SampleWriter) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	batch := make([]supmcu.Sample, 0, w.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := w.db.InsertSamples(ctx, batch); err != nil {
			w.logger.Error("failed to persist samples", zap.Int("count", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case s, ok := <-w.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, s)
			if len(batch) >= w.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Close flushes queued samples. HandleSample must not be called afterwards.
func (w *SampleWriter) Close() {
	w.closeOnce.Do(func() {
		close(w.queue)
		w.wg.Wait()
	})
}
