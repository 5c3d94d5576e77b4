// Package ringchan provides a bounded channel with overwrite-oldest
// semantics, used to decouple BLE notification delivery from frame
// consumers: the radio event source must never block, so when the consumer
// falls behind the oldest unread frame is discarded.
package ringchan

import "sync/atomic"

// RingChannel wraps a buffered channel. Producers use Send and never block;
// consumers range over C() like a normal channel.
type RingChannel[T any] struct {
	ch      chan T
	dropped atomic.Int64
}

// New creates a RingChannel with the given capacity. Panics if capacity <= 0.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. Consumers can range over it until Close.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, discarding the oldest buffered element if the channel is
// full. Returns true if an element was dropped to make room.
func (rc *RingChannel[T]) Send(v T) bool {
	select {
	case rc.ch <- v:
		return false
	default:
	}

	dropped := false
	select {
	case <-rc.ch:
		rc.dropped.Add(1)
		dropped = true
	default:
		// Consumer drained between the two selects; nothing to evict.
	}
	rc.ch <- v
	return dropped
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Dropped returns how many elements have been evicted by Send.
func (rc *RingChannel[T]) Dropped() int64 {
	return rc.dropped.Load()
}

// Close closes the channel. Send must not be called after Close.
func (rc *RingChannel[T]) Close() {
	close(rc.ch)
}
