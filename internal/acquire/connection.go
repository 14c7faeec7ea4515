package acquire

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"solarpi/internal/bluetooth"
)

// State is the connection lifecycle state. Idle is both the initial state
// and where every fault ends up; a role is never permanently dead, it just
// waits for the scanner to rediscover it.
type State int

const (
	StateIdle State = iota
	StateDiscovered
	StateConnecting
	StateSubscribing
	StateStreaming
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscovered:
		return "discovered"
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Connection runs the acquisition lifecycle for one device role:
// discovered -> connecting -> subscribing -> streaming, with every failure
// funneled through a fault that returns to idle after a cool-down.
type Connection struct {
	profile   Profile
	transport bluetooth.Transport
	gate      *bluetooth.RadioGate
	errCount  *ErrorCounter
	onData    func([]byte)
	logger    *logrus.Entry

	// onSessionStart, when set, runs at the start of every connect attempt
	// before any data can arrive.
	onSessionStart func()

	keep *keepalive

	// idlePoll paces the run loop between sessions; coolDown is the pause
	// after a fault so failures cannot spin-loop.
	idlePoll time.Duration
	coolDown time.Duration

	mu     sync.Mutex
	state  State
	addr   string
	client bluetooth.Client
}

// NewConnection creates the state machine for one role. onData receives raw
// notification payloads while streaming.
func NewConnection(profile Profile, transport bluetooth.Transport, gate *bluetooth.RadioGate,
	errCount *ErrorCounter, onData func([]byte), logger *logrus.Logger) *Connection {
	if logger == nil {
		logger = logrus.New()
	}
	return &Connection{
		profile:   profile,
		transport: transport,
		gate:      gate,
		errCount:  errCount,
		onData:    onData,
		logger:    logger.WithField("role", profile.Role.String()),
		keep:      newKeepalive(profile.KeepaliveWindow, profile.DataEffect),
		idlePoll:  time.Second,
		coolDown:  5 * time.Second,
	}
}

// Role returns the device role this connection serves.
func (c *Connection) Role() Role { return c.profile.Role }

// OnSessionStart registers fn to run at the start of every connect attempt.
// Used to drop per-link stream state, like a half-assembled frame from a
// previous session. Must be called before Run.
func (c *Connection) OnSessionStart(fn func()) {
	c.onSessionStart = fn
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Address returns the bound device address, empty while idle.
func (c *Connection) Address() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

// Bound reports whether the role currently owns a device. A bound role is
// never re-matched by the scanner.
func (c *Connection) Bound() bool {
	return c.State() != StateIdle
}

// Bind attaches a discovered address to an idle connection. Returns false
// if the connection is not idle.
func (c *Connection) Bind(addr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return false
	}
	c.addr = addr
	c.state = StateDiscovered
	return true
}

// Reset force-disconnects and returns to idle, discarding the binding. Used
// when the adapter is power-cycled.
func (c *Connection) Reset() {
	c.disconnectClient()
	c.unbind()
}

// Run drives the lifecycle until ctx is cancelled, then disconnects
// best-effort.
func (c *Connection) Run(ctx context.Context) {
	defer c.disconnectClient()

	for {
		if !sleepCtx(ctx, c.idlePoll) {
			return
		}
		if c.State() != StateDiscovered {
			continue
		}
		if err := c.session(ctx); err != nil {
			c.fault(ctx, err)
		}
	}
}

// session takes the connection from discovered through streaming. It
// returns nil only on a clean shutdown; any error is a fault.
func (c *Connection) session(ctx context.Context) error {
	addr := c.Address()
	c.setState(StateConnecting)
	if c.onSessionStart != nil {
		c.onSessionStart()
	}

	var client bluetooth.Client
	err := c.gate.Do("connect "+c.profile.Role.String(), func() error {
		cl, err := c.transport.Dial(ctx, addr, c.profile.ConnectTimeout)
		if err != nil {
			return err
		}

		// The model string is logged for the operator; its absence means
		// the GATT table is not what this role expects.
		model, err := cl.ReadCharacteristic(deviceModelCharUUID)
		if err != nil {
			_ = cl.Disconnect()
			return bluetooth.NewOpError(bluetooth.FailConnect, err)
		}
		c.logger.WithField("model", string(model)).Info("Device model")

		c.setState(StateSubscribing)
		if err := cl.Subscribe(c.profile.DataCharUUID, c.handleNotification); err != nil {
			_ = cl.Disconnect()
			return err
		}

		if c.profile.RefreshAfterSubscribe {
			if err := cl.WriteCharacteristic(c.profile.KeepaliveCharUUID,
				c.profile.KeepaliveCommand, c.profile.KeepaliveWithResponse); err != nil {
				_ = cl.Disconnect()
				return err
			}
		}

		client = cl
		return nil
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.client = client
	c.state = StateStreaming
	c.mu.Unlock()

	// The battery monitor was just refreshed; re-requesting too soon
	// destabilizes the link. The charger instead wants its first request
	// on the next poll.
	if c.profile.RefreshAfterSubscribe {
		c.keep.markSent()
	} else {
		c.keep.clear()
	}

	c.logger.WithField("address", addr).Info("Streaming")
	return c.stream(ctx, client)
}

// stream watches the link and issues keepalive refreshes until the
// connection drops, a write fails beyond tolerance, or ctx is cancelled.
func (c *Connection) stream(ctx context.Context, client bluetooth.Client) error {
	ticker := time.NewTicker(c.profile.PollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-client.Disconnected():
			return bluetooth.NewOpError(bluetooth.FailDisconnect, errors.New("link reported disconnected"))
		case <-ticker.C:
			if !client.Connected() {
				return bluetooth.NewOpError(bluetooth.FailDisconnect, errors.New("link reported disconnected"))
			}
			if !c.keep.due() {
				continue
			}

			err := c.gate.Do("keepalive "+c.profile.Role.String(), func() error {
				return client.WriteCharacteristic(c.profile.KeepaliveCharUUID,
					c.profile.KeepaliveCommand, c.profile.KeepaliveWithResponse)
			})
			if err != nil {
				failures++
				c.keep.clear()
				c.logger.WithError(err).WithField("failures", failures).Warn("Keepalive write failed")
				if failures > c.profile.MaxKeepaliveFailures {
					return err
				}
				continue
			}
			failures = 0
			c.keep.markSent()
		}
	}
}

// handleNotification is the notification delivery path: decode, then update
// the keepalive schedule.
func (c *Connection) handleNotification(data []byte) {
	c.onData(data)
	c.keep.markData()
}

// fault records the failure, disconnects best-effort, returns to idle and
// sleeps the cool-down so the scanner can rediscover the device.
func (c *Connection) fault(ctx context.Context, err error) {
	c.setState(StateFaulted)
	count := c.errCount.Inc()
	c.logger.WithError(err).WithField("error_count", count).Error("Connection fault")

	c.disconnectClient()
	c.unbind()
	sleepCtx(ctx, c.coolDown)
}

func (c *Connection) disconnectClient() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client == nil || !client.Connected() {
		return
	}
	if err := c.gate.Do("disconnect "+c.profile.Role.String(), client.Disconnect); err != nil {
		c.logger.WithError(err).Warn("Failed to disconnect cleanly")
	}
}

func (c *Connection) unbind() {
	c.mu.Lock()
	c.addr = ""
	c.state = StateIdle
	c.mu.Unlock()
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	c.logger.WithFields(logrus.Fields{"from": prev.String(), "to": s.String()}).Debug("State transition")
}

// sleepCtx sleeps for d, returning false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
