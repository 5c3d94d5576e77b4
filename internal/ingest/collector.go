// Package ingest runs the telemetry ingestion pipeline: it acquires a
// session, subscribes to the oximeter's notify characteristic, decodes
// frames into readings, buffers them, and flushes the buffer to the store on
// a fixed cadence until the run is cancelled.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pulselink/pulselink/internal/groutine"
	"github.com/pulselink/pulselink/internal/link"
	"github.com/pulselink/pulselink/internal/oximeter"
)

// ErrConnectionLost indicates the peripheral dropped the connection during
// steady-state ingestion.
var ErrConnectionLost = errors.New("connection lost")

// SessionIssuer obtains a new session key. *session.Client satisfies this.
type SessionIssuer interface {
	NewSession(ctx context.Context) (string, error)
}

// SessionResolver maps a session key to its internal id. *store.Store
// satisfies this.
type SessionResolver interface {
	SessionIDByKey(ctx context.Context, sessionKey string) (int64, error)
}

// Options configures a Collector.
type Options struct {
	// DeviceName is the advertised name of the target peripheral.
	DeviceName string

	// FlushInterval is the flush cadence; zero means DefaultFlushInterval.
	FlushInterval time.Duration

	// OnSessionReady, when non-nil, is called once with the session key
	// after setup succeeds, before steady-state ingestion begins.
	OnSessionReady func(sessionKey string)

	// Now supplies reading timestamps; nil means time.Now. Injectable for
	// tests.
	Now func() time.Time
}

// Collector owns the run's state: the session identity, the buffer, and the
// radio link. Nothing is shared through package-level variables.
type Collector struct {
	issuer   SessionIssuer
	resolver SessionResolver
	writer   BatchWriter
	link     link.Link
	opts     Options
	logger   *logrus.Logger

	buffer *Buffer
}

// NewCollector wires a Collector. DeviceName must be set.
func NewCollector(issuer SessionIssuer, resolver SessionResolver, writer BatchWriter, lnk link.Link, opts Options, logger *logrus.Logger) *Collector {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Collector{
		issuer:   issuer,
		resolver: resolver,
		writer:   writer,
		link:     lnk,
		opts:     opts,
		logger:   logger,
		buffer:   NewBuffer(),
	}
}

// Run executes the ingestion pipeline until ctx is cancelled or the link
// drops. Setup failures (issuance, resolution, discovery, no notify
// characteristic) abort the run before any subscription exists; there is no
// retry loop.
func (c *Collector) Run(ctx context.Context) error {
	if strings.TrimSpace(c.opts.DeviceName) == "" {
		return fmt.Errorf("device name is empty")
	}

	sessionKey, err := c.issuer.NewSession(ctx)
	if err != nil {
		return fmt.Errorf("acquire session: %w", err)
	}

	sessionID, err := c.resolver.SessionIDByKey(ctx, sessionKey)
	if err != nil {
		return fmt.Errorf("resolve session %q: %w", sessionKey, err)
	}
	c.logger.WithFields(logrus.Fields{
		"session":    sessionKey,
		"session_id": sessionID,
	}).Info("Session resolved")

	address, err := c.link.Discover(ctx, c.opts.DeviceName)
	if err != nil {
		return fmt.Errorf("discover %q: %w", c.opts.DeviceName, err)
	}

	charUUID, err := c.link.FindNotifyCharacteristic(ctx, address)
	if err != nil {
		return fmt.Errorf("find notify characteristic: %w", err)
	}

	frames, err := c.link.Subscribe(ctx, address, charUUID)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	if c.opts.OnSessionReady != nil {
		c.opts.OnSessionReady(sessionKey)
	}

	// Flush task runs until teardown; its context is cancelled separately so
	// the final flush happens after the frame consumer stops appending.
	flushCtx, stopFlusher := context.WithCancel(context.Background())
	flusher := NewFlusher(c.buffer, c.writer, c.opts.FlushInterval, c.logger)
	var wg sync.WaitGroup
	wg.Add(1)
	groutine.Go(flushCtx, "flush-task", func(ctx context.Context) {
		defer wg.Done()
		flusher.Run(ctx)
	})

	runErr := c.consume(ctx, frames, sessionKey, sessionID)

	// Teardown order: unsubscribe, stop the flush task (final flush), then
	// disconnect.
	if err := c.link.Unsubscribe(); err != nil && !errors.Is(err, link.ErrNotConnected) {
		c.logger.WithError(err).Warn("Unsubscribe failed during teardown")
	}
	stopFlusher()
	wg.Wait()
	if err := c.link.Disconnect(); err != nil {
		c.logger.WithError(err).Warn("Disconnect failed during teardown")
	}

	c.logger.WithField("session", sessionKey).Info("Session stopped")
	return runErr
}

// consume decodes incoming frames and appends readings tagged with the
// session id. Returns nil on cancellation, ErrConnectionLost when the frame
// channel closes underneath us.
func (c *Collector) consume(ctx context.Context, frames <-chan []byte, sessionKey string, sessionID int64) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-frames:
			if !ok {
				return ErrConnectionLost
			}
			reading, ok := oximeter.DecodeFrame(frame)
			if !ok {
				// Short frames and no-signal sentinels are normal traffic.
				continue
			}
			reading.SessionID = sessionID
			reading.Timestamp = c.opts.Now().Unix()
			c.buffer.Append(reading)
			c.logger.WithFields(logrus.Fields{
				"session": sessionKey,
				"hr":      reading.Pulse,
				"spo2":    reading.SpO2,
			}).Debug("Reading buffered")
		}
	}
}
