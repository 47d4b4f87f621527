package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrBufferFull is returned by BatchRecorder.Record when the queue is full.
var ErrBufferFull = errors.New("audit buffer is full")

// ErrStopped is returned by BatchRecorder.Record after Stop.
var ErrStopped = errors.New("audit recorder is stopped")

// BatchRecorderConfig holds configuration for the BatchRecorder.
type BatchRecorderConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	InsertTimeout time.Duration
}

// NewBatchRecorderDefaults returns a config with sensible defaults.
func NewBatchRecorderDefaults() BatchRecorderConfig {
	return BatchRecorderConfig{
		BatchSize:     50,
		FlushInterval: 5 * time.Second,
		InsertTimeout: 30 * time.Second,
	}
}

// BatchRecorder buffers entries and writes them to a RowInserter in batches,
// flushing when a batch is full, on an interval, and on Stop.
type BatchRecorder struct {
	cfg      BatchRecorderConfig
	inserter RowInserter
	logger   zerolog.Logger
	input    chan *Entry
	wg       sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewBatchRecorder creates a BatchRecorder. Call Start before recording.
func NewBatchRecorder(cfg BatchRecorderConfig, inserter RowInserter, logger zerolog.Logger) (*BatchRecorder, error) {
	if inserter == nil {
		return nil, errors.New("row inserter cannot be nil")
	}
	defaults := NewBatchRecorderDefaults()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
	if cfg.InsertTimeout <= 0 {
		cfg.InsertTimeout = defaults.InsertTimeout
	}
	return &BatchRecorder{
		cfg:      cfg,
		inserter: inserter,
		logger:   logger.With().Str("component", "AuditBatchRecorder").Logger(),
		input:    make(chan *Entry, cfg.BatchSize*2),
	}, nil
}

// Start launches the flush worker; ctx bounds its lifetime.
func (b *BatchRecorder) Start(ctx context.Context) {
	b.logger.Info().
		Int("batch_size", b.cfg.BatchSize).
		Dur("flush_interval", b.cfg.FlushInterval).
		Msg("Starting audit batch worker...")
	b.wg.Add(1)
	go b.worker(ctx)
}

// Record queues e without blocking.
func (b *BatchRecorder) Record(_ context.Context, e Entry) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return ErrStopped
	}
	select {
	case b.input <- &e:
		return nil
	default:
		return ErrBufferFull
	}
}

// Stop flushes what is queued and closes the inserter, waiting at most until
// ctx is done.
func (b *BatchRecorder) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	close(b.input)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for audit worker to stop.")
		return ctx.Err()
	}

	if err := b.inserter.Close(); err != nil {
		b.logger.Error().Err(err).Msg("Error closing audit inserter.")
	}
	b.logger.Info().Msg("Audit batch recorder stopped.")
	return nil
}

func (b *BatchRecorder) worker(ctx context.Context) {
	defer b.wg.Done()
	batch := make([]*Entry, 0, b.cfg.BatchSize)
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.flush(context.Background(), batch)
			return
		case e, ok := <-b.input:
			if !ok {
				b.flush(context.Background(), batch)
				return
			}
			batch = append(batch, e)
			if len(batch) >= b.cfg.BatchSize {
				b.flush(ctx, batch)
				batch = make([]*Entry, 0, b.cfg.BatchSize)
				ticker.Reset(b.cfg.FlushInterval)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(ctx, batch)
				batch = make([]*Entry, 0, b.cfg.BatchSize)
			}
		}
	}
}

func (b *BatchRecorder) flush(ctx context.Context, batch []*Entry) {
	if len(batch) == 0 {
		return
	}
	insertCtx, cancel := context.WithTimeout(ctx, b.cfg.InsertTimeout)
	defer cancel()
	if err := b.inserter.InsertBatch(insertCtx, batch); err != nil {
		b.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to write audit batch, entries dropped.")
		return
	}
	b.logger.Debug().Int("batch_size", len(batch)).Msg("Audit batch written.")
}
