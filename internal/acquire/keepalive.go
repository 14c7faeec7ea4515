package acquire

import (
	"sync"
	"time"
)

// dataEffect is how an arriving notification influences the keepalive
// schedule.
type dataEffect int

const (
	// dataDefersKeepalive treats incoming data as a fresh send: the device
	// streams unprompted and only needs a nudge when it goes quiet.
	dataDefersKeepalive dataEffect = iota

	// dataTriggersKeepalive clears the schedule so the next poll sends a
	// new request: the device is strictly request/response.
	dataTriggersKeepalive
)

// keepalive tracks when the next refresh write is due for one connection.
// Notification delivery and the poll loop touch it from different
// goroutines.
type keepalive struct {
	mu       sync.Mutex
	window   time.Duration
	effect   dataEffect
	lastSent time.Time
	hasSent  bool

	now func() time.Time
}

func newKeepalive(window time.Duration, effect dataEffect) *keepalive {
	return &keepalive{window: window, effect: effect, now: time.Now}
}

// due reports whether a refresh should be sent: nothing sent yet, or the
// window has elapsed since the last send.
func (k *keepalive) due() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return !k.hasSent || k.now().Sub(k.lastSent) > k.window
}

// markSent records a successful refresh write.
func (k *keepalive) markSent() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.hasSent = true
	k.lastSent = k.now()
}

// markData records an arriving notification, per the configured effect.
func (k *keepalive) markData() {
	k.mu.Lock()
	defer k.mu.Unlock()
	switch k.effect {
	case dataDefersKeepalive:
		k.hasSent = true
		k.lastSent = k.now()
	case dataTriggersKeepalive:
		k.hasSent = false
	}
}

// clear makes the next check due immediately (used after a failed write).
func (k *keepalive) clear() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.hasSent = false
}
