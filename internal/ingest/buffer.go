package ingest

import (
	"sync"

	"github.com/pulselink/pulselink/internal/oximeter"
)

// Buffer accumulates decoded readings between flushes. Appends come from the
// frame consumer goroutine and drains from the flusher, so one mutex guards
// both operations: a drain takes every reading present at that instant and
// leaves the buffer empty, with no reading lost or seen by two drains.
type Buffer struct {
	mu       sync.Mutex
	readings []oximeter.Reading
}

// NewBuffer creates an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append adds a reading to the end of the buffer.
func (b *Buffer) Append(r oximeter.Reading) {
	b.mu.Lock()
	b.readings = append(b.readings, r)
	b.mu.Unlock()
}

// DrainAll atomically removes and returns all buffered readings in append
// order. Returns nil when the buffer is empty.
func (b *Buffer) DrainAll() []oximeter.Reading {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.readings
	b.readings = nil
	return out
}

// Len returns the number of buffered readings.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.readings)
}
