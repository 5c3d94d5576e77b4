package link

import (
	"sync"

	"github.com/pulselink/pulselink/internal/ringchan"
)

// frameChannel wraps the drop-oldest ring channel with idempotent close.
// Notifications can still be in flight on the radio goroutine when the
// disconnect monitor or Disconnect closes the channel, so sends after close
// are silently discarded rather than panicking.
type frameChannel struct {
	ring *ringchan.RingChannel[[]byte]
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newFrameChannel(capacity int) *frameChannel {
	return &frameChannel{
		ring: ringchan.New[[]byte](capacity),
		done: make(chan struct{}),
	}
}

// send forwards a frame to the ring channel. Returns true if an older frame
// was evicted to make room.
func (fc *frameChannel) send(frame []byte) bool {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	if fc.closed {
		return false
	}
	return fc.ring.Send(frame)
}

// closeOnce closes the ring channel exactly once.
func (fc *frameChannel) closeOnce() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.closed {
		return
	}
	fc.closed = true
	close(fc.done)
	fc.ring.Close()
}
