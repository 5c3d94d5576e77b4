package link

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
)

// Scanner collects advertising peripherals. Advertisements arrive on the
// radio's delivery goroutine, so discovered devices go into a concurrent map.
type Scanner struct {
	logger *logrus.Logger
}

// NewScanner creates a Scanner. A nil logger gets a default one.
func NewScanner(logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{logger: logger}
}

// Scan discovers peripherals for the given duration (indefinitely when zero,
// until ctx is cancelled) and returns them sorted by RSSI, strongest first.
func (s *Scanner) Scan(ctx context.Context, duration time.Duration) ([]DeviceInfo, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("create BLE device: %w", err)
	}

	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	s.logger.WithField("duration", duration).Info("Starting BLE scan")

	devices := hashmap.New[string, DeviceInfo]()
	err = dev.Scan(ctx, false, func(adv ble.Advertisement) {
		addr := adv.Addr().String()
		info := DeviceInfo{
			Name:        adv.LocalName(),
			Address:     addr,
			RSSI:        adv.RSSI(),
			Connectable: adv.Connectable(),
		}
		if _, seen := devices.Get(addr); !seen {
			s.logger.WithFields(logrus.Fields{
				"device":  info.Name,
				"address": info.Address,
				"rssi":    info.RSSI,
			}).Debug("Discovered device")
		}
		devices.Set(addr, info)
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	result := make([]DeviceInfo, 0, devices.Len())
	devices.Range(func(_ string, info DeviceInfo) bool {
		result = append(result, info)
		return true
	})
	sort.Slice(result, func(i, j int) bool {
		return result[i].RSSI > result[j].RSSI
	})

	s.logger.WithField("device_count", len(result)).Info("BLE scan completed")
	return result, nil
}
