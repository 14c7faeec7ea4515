// Package bluetooth wraps the host BLE adapter behind small capability
// interfaces so the acquisition engine can be exercised without radio
// hardware.
package bluetooth

import (
	"context"
	"time"
)

// Advertisement is the subset of a BLE advertisement the daemon inspects.
type Advertisement interface {
	Addr() string
	LocalName() string
	Services() []string
	RSSI() int
}

// Transport is the adapter-level capability surface: timed discovery plus
// connection establishment. Every operation carries an explicit timeout so a
// stuck adapter call cannot starve other tasks forever.
type Transport interface {
	// Scan runs a discovery window, invoking h for each advertisement seen.
	// Returns nil when the window elapses normally.
	Scan(ctx context.Context, window time.Duration, allowDup bool, h func(Advertisement)) error

	// Dial connects to a peripheral and discovers its GATT profile.
	Dial(ctx context.Context, addr string, timeout time.Duration) (Client, error)
}

// Client is one connected GATT peripheral. Characteristics are addressed by
// UUID in any standard form; short 16-bit forms are accepted.
type Client interface {
	Address() string
	ReadCharacteristic(uuid string) ([]byte, error)
	WriteCharacteristic(uuid string, value []byte, withResponse bool) error

	// Subscribe registers h for notifications on the characteristic. The
	// data slice is only valid for the duration of the callback.
	Subscribe(uuid string, h func(data []byte)) error

	Connected() bool
	// Disconnected is closed when the underlying link drops.
	Disconnected() <-chan struct{}
	Disconnect() error
}
