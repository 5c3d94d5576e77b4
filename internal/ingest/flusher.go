package ingest

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pulselink/pulselink/internal/oximeter"
)

// DefaultFlushInterval is how often buffered readings are written out.
const DefaultFlushInterval = 5 * time.Second

// finalFlushTimeout bounds the shutdown flush; by then the run's own context
// is already cancelled.
const finalFlushTimeout = 5 * time.Second

// BatchWriter persists one drained batch. *store.Store satisfies this.
type BatchWriter interface {
	InsertReadings(ctx context.Context, readings []oximeter.Reading) error
}

// Flusher periodically drains the buffer and submits the batch as one
// insert. A failed batch is logged and dropped, not re-buffered.
type Flusher struct {
	buffer   *Buffer
	writer   BatchWriter
	interval time.Duration
	logger   *logrus.Logger
}

// NewFlusher creates a Flusher. A zero interval uses DefaultFlushInterval.
func NewFlusher(buffer *Buffer, writer BatchWriter, interval time.Duration, logger *logrus.Logger) *Flusher {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Flusher{
		buffer:   buffer,
		writer:   writer,
		interval: interval,
		logger:   logger,
	}
}

// Run flushes on the interval until ctx is cancelled, then performs a final
// flush so readings accumulated since the last tick are not lost.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
			f.flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
			f.flush(ctx)
		}
	}
}

func (f *Flusher) flush(ctx context.Context) {
	batch := f.buffer.DrainAll()
	if len(batch) == 0 {
		return
	}

	if err := f.writer.InsertReadings(ctx, batch); err != nil {
		f.logger.WithError(err).WithField("rows", len(batch)).Error("Failed to persist batch, readings dropped")
		return
	}
	f.logger.WithField("rows", len(batch)).Info("Persisted batch")
}
