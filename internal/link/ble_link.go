package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/pulselink/pulselink/internal/groutine"
)

const (
	// DefaultFrameBuffer is the frame channel capacity. Oximeters notify at
	// tens of hertz; a consumer stalled longer than a second or two starts
	// losing the oldest frames instead of stalling the radio.
	DefaultFrameBuffer = 128

	// DefaultScanTimeout bounds discovery scans.
	DefaultScanTimeout = 10 * time.Second

	// DefaultConnectTimeout bounds connection attempts.
	DefaultConnectTimeout = 30 * time.Second
)

// Options tunes the BLE link.
type Options struct {
	ScanTimeout    time.Duration
	ConnectTimeout time.Duration
	FrameBuffer    int
}

// DefaultOptions returns the link defaults.
func DefaultOptions() *Options {
	return &Options{
		ScanTimeout:    DefaultScanTimeout,
		ConnectTimeout: DefaultConnectTimeout,
		FrameBuffer:    DefaultFrameBuffer,
	}
}

// BLELink is the go-ble backed Link implementation.
type BLELink struct {
	logger *logrus.Logger
	opts   *Options

	mu     sync.Mutex
	client ble.Client
	char   *ble.Characteristic
	frames *frameChannel
}

var _ Link = (*BLELink)(nil)

// NewBLELink creates a Link over the platform's BLE stack. A nil opts uses
// DefaultOptions; a nil logger gets a default one.
func NewBLELink(logger *logrus.Logger, opts *Options) *BLELink {
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.FrameBuffer <= 0 {
		opts.FrameBuffer = DefaultFrameBuffer
	}
	return &BLELink{logger: logger, opts: opts}
}

// Discover scans until a peripheral advertising the given name shows up.
func (l *BLELink) Discover(ctx context.Context, name string) (string, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return "", fmt.Errorf("create BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)

	scanCtx := ctx
	if l.opts.ScanTimeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, l.opts.ScanTimeout)
		defer cancel()
	}
	scanCtx, stopScan := context.WithCancel(scanCtx)
	defer stopScan()

	l.logger.WithFields(logrus.Fields{
		"name":    name,
		"timeout": l.opts.ScanTimeout,
	}).Info("Scanning for peripheral")

	// The advertisement handler runs on the radio's delivery goroutine.
	var mu sync.Mutex
	var address string
	err = dev.Scan(scanCtx, false, func(adv ble.Advertisement) {
		if adv.LocalName() != name {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if address == "" {
			address = adv.Addr().String()
			l.logger.WithFields(logrus.Fields{
				"device":  name,
				"address": address,
				"rssi":    adv.RSSI(),
			}).Info("Found peripheral")
			stopScan()
		}
	})

	mu.Lock()
	found := address
	mu.Unlock()
	if found != "" {
		return found, nil
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return "", fmt.Errorf("scan failed: %w", err)
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return "", &NotFoundError{Resource: "device", Target: name}
}

// FindNotifyCharacteristic connects transiently and returns the UUID of the
// first notifiable characteristic in the GATT tree.
func (l *BLELink) FindNotifyCharacteristic(ctx context.Context, address string) (string, error) {
	client, profile, err := l.dial(ctx, address)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := client.CancelConnection(); err != nil {
			l.logger.WithError(err).Warn("Failed to close transient connection")
		}
	}()

	char := firstNotifiable(profile)
	if char == nil {
		return "", &NotFoundError{Resource: "characteristic", Target: address}
	}

	uuid := char.UUID.String()
	l.logger.WithFields(logrus.Fields{
		"address":        address,
		"characteristic": uuid,
	}).Info("Found notify characteristic")
	return uuid, nil
}

// Subscribe opens a persistent connection and starts notification delivery.
func (l *BLELink) Subscribe(ctx context.Context, address, charUUID string) (<-chan []byte, error) {
	l.mu.Lock()
	if l.client != nil {
		l.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	l.mu.Unlock()

	client, profile, err := l.dial(ctx, address)
	if err != nil {
		return nil, err
	}

	char := findCharacteristic(profile, charUUID)
	if char == nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			l.logger.WithError(cancelErr).Warn("Failed to cancel connection after lookup failure")
		}
		return nil, &NotFoundError{Resource: "characteristic", Target: charUUID}
	}

	frames := newFrameChannel(l.opts.FrameBuffer)
	err = client.Subscribe(char, false, func(data []byte) {
		// go-ble may reuse the notification buffer; hand consumers a copy.
		frame := make([]byte, len(data))
		copy(frame, data)
		if frames.send(frame) {
			l.logger.WithField("characteristic", charUUID).Warn("Frame consumer behind, dropped oldest frame")
		}
	})
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			l.logger.WithError(cancelErr).Warn("Failed to cancel connection after subscribe failure")
		}
		return nil, fmt.Errorf("subscribe to %s: %w", charUUID, err)
	}

	l.mu.Lock()
	l.client = client
	l.char = char
	l.frames = frames
	l.mu.Unlock()

	// Surface mid-session link drops by closing the frame channel.
	groutine.Go(context.Background(), "link-disconnect-monitor", func(context.Context) {
		select {
		case <-client.Disconnected():
			l.logger.WithField("address", address).Warn("Peripheral connection lost")
			frames.closeOnce()
		case <-frames.done:
		}
	})

	l.logger.WithFields(logrus.Fields{
		"address":        address,
		"characteristic": charUUID,
	}).Info("Subscribed to notifications")
	return frames.ring.C(), nil
}

// Unsubscribe stops notification delivery on the live connection.
func (l *BLELink) Unsubscribe() error {
	l.mu.Lock()
	client, char := l.client, l.char
	l.mu.Unlock()

	if client == nil || char == nil {
		return ErrNotConnected
	}
	if err := client.Unsubscribe(char, false); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	l.logger.Debug("Unsubscribed from notifications")
	return nil
}

// Disconnect tears the connection down and closes the frame channel.
func (l *BLELink) Disconnect() error {
	l.mu.Lock()
	client, frames := l.client, l.frames
	l.client = nil
	l.char = nil
	l.frames = nil
	l.mu.Unlock()

	if client == nil {
		l.logger.Debug("Disconnect called but already disconnected")
		return nil
	}

	if frames != nil {
		frames.closeOnce()
		if dropped := frames.ring.Dropped(); dropped > 0 {
			l.logger.WithField("dropped_frames", dropped).Warn("Frames were dropped during the session")
		}
	}

	err := client.CancelConnection()
	if err != nil {
		l.logger.WithError(err).Warn("Disconnected with errors")
		return err
	}
	l.logger.Info("Disconnected from peripheral")
	return nil
}

// dial connects with the configured timeout and discovers the GATT profile.
func (l *BLELink) dial(ctx context.Context, address string) (ble.Client, *ble.Profile, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, nil, fmt.Errorf("create BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)

	dialCtx := ctx
	if l.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, l.opts.ConnectTimeout)
		defer cancel()
	}

	l.logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": l.opts.ConnectTimeout,
	}).Debug("Dialing peripheral")

	client, err := ble.Dial(dialCtx, ble.NewAddr(address))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %q: %w", address, err)
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			l.logger.WithError(cancelErr).Warn("Failed to cancel connection after discovery failure")
		}
		return nil, nil, fmt.Errorf("discover profile: %w", err)
	}

	l.logger.WithFields(logrus.Fields{
		"address":  address,
		"services": len(profile.Services),
	}).Debug("Profile discovered")
	return client, profile, nil
}

// firstNotifiable walks the profile in discovery order and returns the first
// characteristic with the notify property, or nil.
func firstNotifiable(profile *ble.Profile) *ble.Characteristic {
	for _, svc := range profile.Services {
		for _, char := range svc.Characteristics {
			if char.Property&ble.CharNotify != 0 {
				return char
			}
		}
	}
	return nil
}

// findCharacteristic locates a characteristic by normalized UUID.
func findCharacteristic(profile *ble.Profile, uuid string) *ble.Characteristic {
	want := NormalizeUUID(uuid)
	for _, svc := range profile.Services {
		for _, char := range svc.Characteristics {
			if NormalizeUUID(char.UUID.String()) == want {
				return char
			}
		}
	}
	return nil
}
