// Package link manages discovery of and the radio connection to a single
// BLE peripheral. A Link moves through Disconnected -> Scanning ->
// Connected(subscribed) -> Disconnected; a notify characteristic handle is
// only valid while connected.
package link

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NotFoundError reports a discovery miss: the named peripheral never showed
// up in a scan, or a connected peripheral exposes no notify characteristic.
type NotFoundError struct {
	Resource string // "device", "characteristic"
	Target   string // device name or address searched for
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Target)
}

// Is allows errors.Is comparison by Resource, so callers can match against
// the sentinel values below without caring about the Target.
func (e *NotFoundError) Is(target error) bool {
	t, ok := target.(*NotFoundError)
	if !ok {
		return false
	}
	return t.Target == "" && e.Resource == t.Resource
}

var (
	// ErrDeviceNotFound is matched by any NotFoundError for a device.
	ErrDeviceNotFound = &NotFoundError{Resource: "device"}

	// ErrNoNotifyCharacteristic is matched by any NotFoundError for a
	// characteristic.
	ErrNoNotifyCharacteristic = &NotFoundError{Resource: "characteristic"}

	// ErrNotConnected is returned by operations that require a live
	// connection.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected is returned by Subscribe when the link already
	// holds a connection.
	ErrAlreadyConnected = errors.New("already connected")
)

// DeviceInfo describes one advertising peripheral seen during a scan.
type DeviceInfo struct {
	Name        string `json:"name"`
	Address     string `json:"address"`
	RSSI        int    `json:"rssi"`
	Connectable bool   `json:"connectable"`
}

// Link is the radio boundary of the ingestion pipeline.
//
// Subscribe delivers raw notification frames on the returned channel. The
// channel is bounded with drop-oldest semantics so the radio event source is
// never blocked; it is closed when the peripheral drops the connection or
// when Disconnect is called.
type Link interface {
	// Discover scans for a peripheral whose advertised name equals name and
	// returns its address. Returns a NotFoundError (matching
	// ErrDeviceNotFound) if the scan window closes without a match.
	Discover(ctx context.Context, name string) (string, error)

	// FindNotifyCharacteristic connects transiently, walks the GATT tree and
	// returns the UUID of the first characteristic advertising notify
	// support. The connection is torn down before returning.
	FindNotifyCharacteristic(ctx context.Context, address string) (string, error)

	// Subscribe opens a persistent connection and subscribes to charUUID.
	Subscribe(ctx context.Context, address, charUUID string) (<-chan []byte, error)

	// Unsubscribe stops notification delivery. Safe to call during teardown
	// even if the peripheral already vanished.
	Unsubscribe() error

	// Disconnect closes the connection and the frame channel. Teardown order
	// is Unsubscribe then Disconnect.
	Disconnect() error
}

// NormalizeUUID lowercases a UUID and strips dashes so 16-bit shorthand and
// 128-bit forms compare consistently regardless of the platform backend.
func NormalizeUUID(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}
